package concurrency

import (
	"sync/atomic"
	"testing"

	"risk_engine/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func TestWorkerPool_ForEach(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 16}, &noopLogger{})
	defer pool.Stop()

	var sum int64
	pool.ForEach(100, func(i int) {
		atomic.AddInt64(&sum, int64(i))
	})
	assert.Equal(t, int64(4950), atomic.LoadInt64(&sum))
}

func TestWorkerPool_PanicDoesNotStopOthers(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 2, MaxCapacity: 8}, &noopLogger{})
	defer pool.Stop()

	var done int64
	pool.ForEach(5, func(i int) {
		if i == 2 {
			panic("boom")
		}
		atomic.AddInt64(&done, 1)
	})
	assert.Equal(t, int64(4), atomic.LoadInt64(&done))
}

func TestWorkerPool_SubmitAndWait(t *testing.T) {
	pool := NewWorkerPool(PoolConfig{Name: "test"}, &noopLogger{})
	defer pool.Stop()

	ran := false
	pool.SubmitAndWait(func() { ran = true })
	assert.True(t, ran)

	stats := pool.Stats()
	require.Contains(t, stats, "submitted_tasks")
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(PoolConfig{
		Name:        "BenchmarkPool",
		MaxWorkers:  10,
		MaxCapacity: 1000,
	}, &noopLogger{})
	defer pool.Stop()

	b.ResetTimer()
	var counter int64
	for i := 0; i < b.N; i++ {
		_ = pool.Submit(func() {
			atomic.AddInt64(&counter, 1)
		})
	}
}
