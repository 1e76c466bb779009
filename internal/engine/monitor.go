package engine

import (
	"context"
	"fmt"
	"time"

	"risk_engine/internal/core"

	"github.com/robfig/cron/v3"
)

// Monitor periodically sweeps every user that has risk limits
type Monitor struct {
	service  *Service
	users    core.ILimitStore
	schedule string
	logger   core.ILogger
}

// NewMonitor creates a monitor running on a standard cron schedule (e.g. "@every 1m")
func NewMonitor(service *Service, users core.ILimitStore, schedule string, logger core.ILogger) *Monitor {
	return &Monitor{
		service:  service,
		users:    users,
		schedule: schedule,
		logger:   logger.WithField("component", "limit_monitor"),
	}
}

// Run blocks until ctx is cancelled, then waits for a running sweep to finish
func (m *Monitor) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(m.schedule, func() { m.Tick(ctx) }); err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", m.schedule, err)
	}

	m.logger.Info("Limit monitor started", "schedule", m.schedule)
	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		m.logger.Warn("Timed out waiting for running sweep")
	}
	m.logger.Info("Limit monitor stopped")
	return nil
}

// Tick runs one sweep over every user with limits
func (m *Monitor) Tick(ctx context.Context) *SweepReport {
	users, err := m.users.ListLimitUsers(ctx)
	if err != nil {
		m.logger.Error("Cannot list users for sweep", "error", err)
		return nil
	}
	if len(users) == 0 {
		return &SweepReport{}
	}
	return m.service.SweepUsers(ctx, users)
}
