package risk

import (
	"fmt"
	"sync"

	"risk_engine/internal/core"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (m *mockLogger) Debug(msg string, f ...interface{}) {}
func (m *mockLogger) Info(msg string, f ...interface{})  {}
func (m *mockLogger) Warn(msg string, f ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, fmt.Sprintf("%s %v", msg, f))
}
func (m *mockLogger) Error(msg string, f ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, fmt.Sprintf("%s %v", msg, f))
}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func pos(id, symbol string, side core.PositionSide, size, entry, current, leverage, margin, pnl float64) core.Position {
	return core.Position{
		ID:            id,
		UserID:        "u1",
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    entry,
		CurrentPrice:  current,
		Leverage:      leverage,
		MarginUsed:    margin,
		UnrealizedPnL: pnl,
	}
}

func btcLong() core.Position {
	return pos("p-btc", "BTCUSDT", core.SideLong, 1, 45000, 46000, 1, 45000, 1000)
}
