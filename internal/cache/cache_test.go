package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"risk_engine/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryCache_TTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(0).WithClock(clock.Now)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	entry, err := c.Set(ctx, "u1", core.RiskAssessment{UserID: "u1", RiskScore: 42})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultTTL), entry.ExpiresAt)

	clock.Advance(299 * time.Second)
	got, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42.0, got.Assessment.RiskScore)

	clock.Advance(time.Second)
	_, ok, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestMemoryCache_DeleteAndIsolation(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, err := c.Set(ctx, "u1", core.RiskAssessment{UserID: "u1"})
	require.NoError(t, err)
	_, err = c.Set(ctx, "u2", core.RiskAssessment{UserID: "u2"})
	require.NoError(t, err)

	cleared, err := c.Delete(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cleared)

	cleared, err = c.Delete(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, cleared)

	_, ok, _ := c.Get(ctx, "u2")
	assert.True(t, ok)
}

func TestMemoryCache_EntriesAreNotShared(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	in := core.RiskAssessment{
		UserID:          "u1",
		PositionRisks:   []core.RiskExposure{{PositionID: "p1", RiskScore: 30}},
		Recommendations: []string{"hold"},
	}
	_, err := c.Set(ctx, "u1", in)
	require.NoError(t, err)
	in.PositionRisks[0].RiskScore = 99

	got, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30.0, got.Assessment.PositionRisks[0].RiskScore)

	got.Assessment.PositionRisks[0].RiskScore = 77
	got.Assessment.Recommendations[0] = "sell"

	again, _, _ := c.Get(ctx, "u1")
	assert.Equal(t, 30.0, again.Assessment.PositionRisks[0].RiskScore)
	assert.Equal(t, "hold", again.Assessment.Recommendations[0])
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Set(ctx, "u1", core.RiskAssessment{RiskScore: float64(i)})
			_, _, _ = c.Get(ctx, "u1")
			if i%10 == 0 {
				_, _ = c.Delete(ctx, "u1")
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 1)
}

func TestRedisCache_Key(t *testing.T) {
	assert.Equal(t, "risk:assessment:u1", Key("u1"))
}

func TestRedisCache_UnreachableServerReportsError(t *testing.T) {
	c := NewRedisCache(RedisOptions{Addr: "127.0.0.1:1"}, &mockLogger{})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, ok, err := c.Get(ctx, "u1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.CheckHealth(ctx))
}
