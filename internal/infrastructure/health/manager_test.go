package health

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) CheckHealth(ctx context.Context) error { return p.err }

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)
	ctx := context.Background()

	assert.True(t, hm.IsHealthy(ctx), "empty health manager should be healthy")

	hm.Register("comp1", func(context.Context) error { return nil })
	assert.True(t, hm.IsHealthy(ctx))

	hm.RegisterChecker("comp2", pinger{err: fmt.Errorf("failed")})
	assert.False(t, hm.IsHealthy(ctx))

	status := hm.GetStatus(ctx)
	assert.Equal(t, "Healthy", status["comp1"])
	assert.Equal(t, "Unhealthy: failed", status["comp2"])
	assert.Equal(t, []string{"comp1", "comp2"}, hm.Components())
}

func TestHealthManager_SlowCheckTimesOut(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.timeout = 20 * time.Millisecond
	hm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	status := hm.GetStatus(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, status["slow"], "Unhealthy")
}
