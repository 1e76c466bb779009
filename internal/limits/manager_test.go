package limits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"risk_engine/internal/core"
	"risk_engine/internal/store"
	apperrors "risk_engine/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
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

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) DailyActivity(ctx context.Context, userID string, day time.Time) (core.DailyActivity, error) {
	args := m.Called(ctx, userID, day)
	return args.Get(0).(core.DailyActivity), args.Error(1)
}

func newManager() (*Manager, *store.MemoryStore) {
	s := store.NewMemoryStore()
	return NewManager(s, nil, &mockLogger{}), s
}

func btc(size, price, leverage, pnl float64) core.Position {
	return core.Position{ID: "p1", UserID: "u1", Symbol: "BTCUSDT", Side: core.SideLong, Size: size,
		EntryPrice: price, CurrentPrice: price, Leverage: leverage, MarginUsed: size * price / leverage, UnrealizedPnL: pnl}
}

func ptr[T any](v T) *T { return &v }

func TestManager_CreateRejectsDuplicateActive(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	first, err := m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeExposure, LimitValue: 50000})
	require.NoError(t, err)
	assert.Equal(t, core.LimitStatusActive, first.Status)

	_, err = m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeExposure, LimitValue: 60000})
	require.Error(t, err)
	var conflict *apperrors.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, first.ID, conflict.ExistingID)

	// other user, other type, other symbol are independent
	_, err = m.Create(ctx, "u2", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeExposure, LimitValue: 1})
	assert.NoError(t, err)
	_, err = m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeLeverage, LimitValue: 3})
	assert.NoError(t, err)
	_, err = m.Create(ctx, "u1", CreateRequest{Symbol: "ETHUSDT", LimitType: core.LimitTypeExposure, LimitValue: 3})
	assert.NoError(t, err)
}

func TestManager_CreateConcurrentDuplicates(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeExposure, LimitValue: 1})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if errors.Is(err, apperrors.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 19, conflicts)
}

func TestManager_CreateValidation(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"zero value", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeExposure, LimitValue: 0}, "limit_value"},
		{"negative value", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeExposure, LimitValue: -5}, "limit_value"},
		{"bad type", CreateRequest{Symbol: "BTCUSDT", LimitType: "notional", LimitValue: 5}, "limit_type"},
		{"missing symbol", CreateRequest{LimitType: core.LimitTypeExposure, LimitValue: 5}, "symbol"},
		{"long symbol", CreateRequest{Symbol: "ABCDEFGHIJKLMNOPQRSTUVWXYZ", LimitType: core.LimitTypeExposure, LimitValue: 5}, "symbol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Create(ctx, "u1", tt.req)
			var verr *apperrors.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestManager_UpdateRoundTrip(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	l, err := m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypePositionSize, LimitValue: 10000})
	require.NoError(t, err)

	updated, err := m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, LimitValue: ptr(12345.67), AutoClose: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 12345.67, updated.LimitValue)
	assert.True(t, updated.AutoClose)

	list, err := m.List(ctx, "u1", core.LimitFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 12345.67, list[0].LimitValue)
}

func TestManager_UpdateOwnershipAndValidation(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	l, err := m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeExposure, LimitValue: 10})
	require.NoError(t, err)

	_, err = m.Update(ctx, "intruder", UpdateRequest{LimitID: l.ID, LimitValue: ptr(20.0)})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.NotContains(t, err.Error(), "u1")

	_, err = m.Update(ctx, "u1", UpdateRequest{LimitID: "missing", LimitValue: ptr(20.0)})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, LimitValue: ptr(-1.0)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, LimitValue: ptr(0.0)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = m.Delete(ctx, "intruder", l.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	_, err = m.Delete(ctx, "u1", "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	deleted, err := m.Delete(ctx, "u1", l.ID)
	require.NoError(t, err)
	assert.Equal(t, l.ID, deleted.ID)

	list, err := m.List(ctx, "u1", core.LimitFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManager_StatusTransitions(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	l, err := m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeExposure, LimitValue: 100})
	require.NoError(t, err)

	// manual breach and manual disable of an active limit are not allowed
	_, err = m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, Status: ptr(core.LimitStatusBreached)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, Status: ptr(core.LimitStatusDisabled)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	// same status is a no-op
	_, err = m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, Status: ptr(core.LimitStatusActive)})
	assert.NoError(t, err)

	res, err := m.Check(ctx, "u1", []core.Position{btc(1, 500, 1, 1)}, core.LimitFilter{})
	require.NoError(t, err)
	require.Len(t, res.NewlyBreached, 1)

	// a replacement active limit blocks reactivation of the breached one
	replacement, err := m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeExposure, LimitValue: 1000})
	require.NoError(t, err)
	_, err = m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, Status: ptr(core.LimitStatusActive)})
	var conflict *apperrors.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, replacement.ID, conflict.ExistingID)

	_, err = m.Delete(ctx, "u1", replacement.ID)
	require.NoError(t, err)
	reset, err := m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, Status: ptr(core.LimitStatusActive), LimitValue: ptr(1000.0)})
	require.NoError(t, err)
	assert.Equal(t, core.LimitStatusActive, reset.Status)

	res, err = m.Check(ctx, "u1", []core.Position{btc(1, 5000, 1, 1)}, core.LimitFilter{})
	require.NoError(t, err)
	require.Len(t, res.NewlyBreached, 1)

	disabled, err := m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, Status: ptr(core.LimitStatusDisabled)})
	require.NoError(t, err)
	assert.Equal(t, core.LimitStatusDisabled, disabled.Status)

	_, err = m.Update(ctx, "u1", UpdateRequest{LimitID: l.ID, Status: ptr(core.LimitStatusActive)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestManager_CheckIsIdempotent(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	l, err := m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypePositionSize, LimitValue: 40000})
	require.NoError(t, err)

	positions := []core.Position{btc(1, 46000, 1, 1000)}

	first, err := m.Check(ctx, "u1", positions, core.LimitFilter{})
	require.NoError(t, err)
	require.Len(t, first.NewlyBreached, 1)
	require.Len(t, first.Breached, 1)
	assert.Equal(t, l.ID, first.Breached[0].ID)
	assert.Equal(t, 46000.0, first.Breached[0].CurrentValue)

	second, err := m.Check(ctx, "u1", positions, core.LimitFilter{})
	require.NoError(t, err)
	assert.Empty(t, second.NewlyBreached)
	require.Len(t, second.Limits, 1)
	assert.Equal(t, core.LimitStatusBreached, second.Limits[0].Status)
	assert.Equal(t, 46000.0, second.Limits[0].CurrentValue)

	// breached limits keep tracking the latest snapshot
	third, err := m.Check(ctx, "u1", []core.Position{btc(2, 46000, 1, 1000)}, core.LimitFilter{})
	require.NoError(t, err)
	assert.Equal(t, 92000.0, third.Limits[0].CurrentValue)
}

func TestManager_CheckFilter(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	_, err := m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeLeverage, LimitValue: 2})
	require.NoError(t, err)
	_, err = m.Create(ctx, "u1", CreateRequest{Symbol: "ETHUSDT", LimitType: core.LimitTypeLeverage, LimitValue: 2})
	require.NoError(t, err)

	res, err := m.Check(ctx, "u1", []core.Position{btc(1, 100, 5, 1)}, core.LimitFilter{Symbol: "ETHUSDT"})
	require.NoError(t, err)
	require.Len(t, res.Limits, 1)
	assert.Equal(t, "ETHUSDT", res.Limits[0].Symbol)
	assert.Empty(t, res.Breached)
	// the BTC limit is still checked even though it is filtered out of the listing
	require.Len(t, res.NewlyBreached, 1)
	assert.Equal(t, "BTCUSDT", res.NewlyBreached[0].Symbol)
}

func TestCurrentValue(t *testing.T) {
	positions := []core.Position{
		{Symbol: "BTCUSDT", Size: 1, CurrentPrice: 40000, Leverage: 3, UnrealizedPnL: -500},
		{Symbol: "BTCUSDT", Size: 0.5, CurrentPrice: 40000, Leverage: 5, UnrealizedPnL: 200},
		{Symbol: "ETHUSDT", Side: core.SideShort, Size: 10, CurrentPrice: 2000, Leverage: 2, UnrealizedPnL: -100},
	}

	tests := []struct {
		limitType core.LimitType
		symbol    string
		activity  *core.DailyActivity
		want      float64
	}{
		{core.LimitTypePositionSize, "BTCUSDT", nil, 60000},
		{core.LimitTypeExposure, "ANY", nil, 80000},
		{core.LimitTypeLeverage, "BTCUSDT", nil, 5},
		{core.LimitTypeLeverage, "SOLUSDT", nil, 0},
		{core.LimitTypeDailyLoss, "BTCUSDT", nil, 800},
		{core.LimitTypeDailyLoss, "BTCUSDT", &core.DailyActivity{RealizedLoss: 321}, 321},
		{core.LimitTypeDailyVolume, "BTCUSDT", nil, 0},
		{core.LimitTypeDailyVolume, "BTCUSDT", &core.DailyActivity{TradedNotional: 9999}, 9999},
	}

	for _, tt := range tests {
		t.Run(string(tt.limitType)+"/"+tt.symbol, func(t *testing.T) {
			got, err := CurrentValue(core.RiskLimit{Symbol: tt.symbol, LimitType: tt.limitType}, positions, tt.activity)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := CurrentValue(core.RiskLimit{LimitType: "bogus"}, positions, nil)
	assert.ErrorIs(t, err, apperrors.ErrCalculation)
}

func TestManager_LedgerBackedDailyLoss(t *testing.T) {
	s := store.NewMemoryStore()
	ledger := &mockLedger{}
	ledger.On("DailyActivity", mock.Anything, "u1", mock.Anything).
		Return(core.DailyActivity{RealizedLoss: 750, TradedNotional: 1e6}, nil).Once()

	m := NewManager(s, ledger, &mockLogger{})
	ctx := context.Background()

	_, err := m.Create(ctx, "u1", CreateRequest{Symbol: "BTCUSDT", LimitType: core.LimitTypeDailyLoss, LimitValue: 500})
	require.NoError(t, err)

	res, err := m.Check(ctx, "u1", []core.Position{btc(1, 100, 1, 1)}, core.LimitFilter{})
	require.NoError(t, err)
	require.Len(t, res.NewlyBreached, 1)
	assert.Equal(t, 750.0, res.NewlyBreached[0].CurrentValue)
	ledger.AssertExpectations(t)
}
