// Package alert delivers risk alerts to chat webhooks, Kafka and websocket subscribers
package alert

import (
	"context"
	"sync"
	"time"

	"risk_engine/internal/core"
)

const sendTimeout = 10 * time.Second

// Channel is one delivery target for alerts
type Channel interface {
	Send(ctx context.Context, alert core.RiskAlert) error
	Name() string
}

var severityRank = map[core.AlertSeverity]int{
	core.SeverityInfo:     0,
	core.SeverityWarning:  1,
	core.SeverityError:    2,
	core.SeverityCritical: 3,
}

// AlertManager fans alerts out to every registered channel. It implements core.INotifier.
type AlertManager struct {
	channels    []Channel
	minSeverity core.AlertSeverity
	logger      core.ILogger
	mu          sync.RWMutex
	inflight    sync.WaitGroup
}

// NewAlertManager creates a manager that drops alerts below minSeverity
func NewAlertManager(minSeverity core.AlertSeverity, logger core.ILogger) *AlertManager {
	if !minSeverity.Valid() {
		minSeverity = core.SeverityInfo
	}
	return &AlertManager{
		channels:    make([]Channel, 0),
		minSeverity: minSeverity,
		logger:      logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch Channel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Notify delivers the alert asynchronously. Each channel gets its own timeout.
func (am *AlertManager) Notify(ctx context.Context, alert core.RiskAlert) {
	if severityRank[alert.Severity] < severityRank[am.minSeverity] {
		return
	}

	am.logger.Info("Triggering alert", "title", alert.Title, "severity", alert.Severity, "user_id", alert.UserID)

	am.mu.RLock()
	channels := make([]Channel, len(am.channels))
	copy(channels, am.channels)
	am.mu.RUnlock()

	// Delivery outlives the request that raised the alert.
	base := context.WithoutCancel(ctx)
	for _, ch := range channels {
		am.inflight.Add(1)
		go func(c Channel) {
			defer am.inflight.Done()
			timeoutCtx, cancel := context.WithTimeout(base, sendTimeout)
			defer cancel()

			if err := c.Send(timeoutCtx, alert); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "alert_id", alert.ID, "error", err)
			}
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish
func (am *AlertManager) Wait() {
	am.inflight.Wait()
}
