// Package feed provides position and trade-activity sources for the risk engine
package feed

import (
	"context"
	"sync"
	"time"

	"risk_engine/internal/core"
)

// MemoryProvider serves positions held in memory. Used by tests and the demo config.
type MemoryProvider struct {
	mu        sync.RWMutex
	positions map[string][]core.Position
	err       error
}

// NewMemoryProvider creates an empty MemoryProvider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{positions: make(map[string][]core.Position)}
}

// SetPositions replaces the open positions of a user
func (p *MemoryProvider) SetPositions(userID string, positions []core.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]core.Position, len(positions))
	copy(cp, positions)
	p.positions[userID] = cp
}

// SetError makes every subsequent GetPositions fail with err (nil clears it)
func (p *MemoryProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *MemoryProvider) GetPositions(ctx context.Context, userID string) ([]core.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, p.err
	}
	src := p.positions[userID]
	out := make([]core.Position, len(src))
	copy(out, src)
	return out, nil
}

// Users lists users that currently have positions
func (p *MemoryProvider) Users() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]string, 0, len(p.positions))
	for u := range p.positions {
		users = append(users, u)
	}
	return users
}

// CheckHealth always succeeds
func (p *MemoryProvider) CheckHealth(ctx context.Context) error {
	return nil
}

// MemoryLedger records realized activity per user and UTC day
type MemoryLedger struct {
	mu   sync.RWMutex
	days map[string]core.DailyActivity
}

// NewMemoryLedger creates an empty MemoryLedger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{days: make(map[string]core.DailyActivity)}
}

func ledgerKey(userID string, day time.Time) string {
	return userID + "|" + day.UTC().Format("2006-01-02")
}

// RecordFill adds a fill's notional and realized P&L to the day's totals.
// Only negative realized P&L counts toward the loss.
func (l *MemoryLedger) RecordFill(userID string, at time.Time, notional, realizedPnL float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(userID, at)
	act := l.days[key]
	if notional < 0 {
		notional = -notional
	}
	act.TradedNotional += notional
	if realizedPnL < 0 {
		act.RealizedLoss += -realizedPnL
	}
	l.days[key] = act
}

func (l *MemoryLedger) DailyActivity(ctx context.Context, userID string, day time.Time) (core.DailyActivity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.days[ledgerKey(userID, day)], nil
}
