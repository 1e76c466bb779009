// Package limits owns the risk limit lifecycle and breach detection
package limits

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"risk_engine/internal/core"
	apperrors "risk_engine/pkg/errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// CreateRequest is the input of Manager.Create
type CreateRequest struct {
	Symbol     string         `json:"symbol" validate:"required,min=1,max=20"`
	LimitType  core.LimitType `json:"limit_type" validate:"required,oneof=position_size exposure leverage daily_loss daily_volume"`
	LimitValue float64        `json:"limit_value" validate:"gt=0"`
	AutoClose  bool           `json:"auto_close"`
}

// UpdateRequest is the input of Manager.Update. Nil fields are left unchanged.
type UpdateRequest struct {
	LimitID    string            `json:"limit_id" validate:"required"`
	LimitValue *float64          `json:"limit_value,omitempty" validate:"omitempty,gt=0"`
	Status     *core.LimitStatus `json:"status,omitempty" validate:"omitempty,oneof=active breached disabled"`
	AutoClose  *bool             `json:"auto_close,omitempty"`
}

// CheckResult is the outcome of a breach check
type CheckResult struct {
	// Limits are the filtered limits with refreshed current values
	Limits []core.RiskLimit
	// Breached are the filtered limits currently in breached state
	Breached []core.RiskLimit
	// NewlyBreached are the limits this check moved from active to breached
	NewlyBreached []core.RiskLimit
}

// Manager coordinates limit CRUD and breach detection over an injected store
type Manager struct {
	store    core.ILimitStore
	ledger   core.ITradeLedger
	logger   core.ILogger
	validate *validator.Validate
	locks    sync.Map // user id -> *sync.Mutex
	now      func() time.Time
}

// NewManager creates a new Manager. ledger may be nil.
func NewManager(store core.ILimitStore, ledger core.ITradeLedger, logger core.ILogger) *Manager {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Manager{
		store:    store,
		ledger:   ledger,
		logger:   logger.WithField("component", "limit_manager"),
		validate: v,
		now:      time.Now,
	}
}

func (m *Manager) lockUser(userID string) func() {
	mu, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	l := mu.(*sync.Mutex)
	l.Lock()
	return l.Unlock
}

// List returns the user's limits matching filter
func (m *Manager) List(ctx context.Context, userID string, filter core.LimitFilter) ([]core.RiskLimit, error) {
	all, err := m.store.ListLimits(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]core.RiskLimit, 0, len(all))
	for _, l := range all {
		if filter.Matches(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

// Create adds a new active limit. A second active limit for the same
// (user, symbol, limit_type) is rejected with a ConflictError.
func (m *Manager) Create(ctx context.Context, userID string, req CreateRequest) (*core.RiskLimit, error) {
	if err := m.validateStruct(req); err != nil {
		return nil, err
	}
	if !validLimitValue(req.LimitValue) {
		return nil, apperrors.NewValidationError("limit_value", "must be a positive finite number")
	}

	unlock := m.lockUser(userID)
	defer unlock()

	existing, err := m.store.ListLimits(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if dup := findActive(existing, req.Symbol, req.LimitType, ""); dup != nil {
		return nil, &apperrors.ConflictError{Resource: "risk limit", ExistingID: dup.ID}
	}

	now := m.now()
	limit := core.RiskLimit{
		ID:         uuid.New().String(),
		UserID:     userID,
		Symbol:     req.Symbol,
		LimitType:  req.LimitType,
		LimitValue: req.LimitValue,
		Status:     core.LimitStatusActive,
		AutoClose:  req.AutoClose,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.SaveLimit(ctx, limit); err != nil {
		return nil, storeErr(err)
	}

	m.logger.Info("Risk limit created", "user_id", userID, "limit_id", limit.ID, "symbol", limit.Symbol, "limit_type", limit.LimitType)
	return &limit, nil
}

// Update changes limit_value, status or auto_close of a limit owned by userID
func (m *Manager) Update(ctx context.Context, userID string, req UpdateRequest) (*core.RiskLimit, error) {
	if err := m.validateStruct(req); err != nil {
		return nil, err
	}
	if req.LimitValue != nil && !validLimitValue(*req.LimitValue) {
		return nil, apperrors.NewValidationError("limit_value", "must be a positive finite number")
	}

	if _, err := m.owned(ctx, userID, req.LimitID); err != nil {
		return nil, err
	}

	unlock := m.lockUser(userID)
	defer unlock()

	limit, err := m.owned(ctx, userID, req.LimitID)
	if err != nil {
		return nil, err
	}

	if req.Status != nil && *req.Status != limit.Status {
		if err := validTransition(limit.Status, *req.Status); err != nil {
			return nil, err
		}
		if *req.Status == core.LimitStatusActive {
			existing, err := m.store.ListLimits(ctx, userID)
			if err != nil {
				return nil, storeErr(err)
			}
			if dup := findActive(existing, limit.Symbol, limit.LimitType, limit.ID); dup != nil {
				return nil, &apperrors.ConflictError{Resource: "risk limit", ExistingID: dup.ID}
			}
		}
		limit.Status = *req.Status
	}
	if req.LimitValue != nil {
		limit.LimitValue = *req.LimitValue
	}
	if req.AutoClose != nil {
		limit.AutoClose = *req.AutoClose
	}
	limit.UpdatedAt = m.now()

	if err := m.store.SaveLimit(ctx, *limit); err != nil {
		return nil, storeErr(err)
	}

	m.logger.Info("Risk limit updated", "user_id", userID, "limit_id", limit.ID, "status", limit.Status, "limit_value", limit.LimitValue)
	return limit, nil
}

// Delete removes a limit owned by userID and returns it as it was
func (m *Manager) Delete(ctx context.Context, userID, limitID string) (*core.RiskLimit, error) {
	if limitID == "" {
		return nil, apperrors.NewValidationError("limit_id", "is required")
	}
	limit, err := m.owned(ctx, userID, limitID)
	if err != nil {
		return nil, err
	}

	unlock := m.lockUser(userID)
	defer unlock()

	if err := m.store.DeleteLimit(ctx, limitID); err != nil {
		return nil, storeErr(err)
	}
	m.logger.Info("Risk limit deleted", "user_id", userID, "limit_id", limitID)
	return limit, nil
}

// Check recomputes current values for every non-disabled limit of the user
// and flips active limits whose value exceeds the bound to breached.
func (m *Manager) Check(ctx context.Context, userID string, positions []core.Position, filter core.LimitFilter) (*CheckResult, error) {
	snapshot, err := m.store.ListLimits(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}

	activity := m.dailyActivity(ctx, userID, snapshot)

	values := make(map[string]float64, len(snapshot))
	for _, l := range snapshot {
		v, err := CurrentValue(l, positions, activity)
		if err != nil {
			m.logger.Error("Cannot compute limit value", "limit_id", l.ID, "limit_type", l.LimitType, "error", err)
			continue
		}
		values[l.ID] = v
	}

	unlock := m.lockUser(userID)
	defer unlock()

	latest, err := m.store.ListLimits(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}

	res := &CheckResult{Limits: make([]core.RiskLimit, 0, len(latest))}
	now := m.now()
	for _, l := range latest {
		if l.Status != core.LimitStatusDisabled {
			v, ok := values[l.ID]
			if !ok {
				if v, err = CurrentValue(l, positions, activity); err != nil {
					continue
				}
			}

			changed := v != l.CurrentValue
			l.CurrentValue = v
			if l.Status == core.LimitStatusActive && v > l.LimitValue {
				l.Status = core.LimitStatusBreached
				changed = true
				res.NewlyBreached = append(res.NewlyBreached, l)
				m.logger.Warn("Risk limit breached", "user_id", userID, "limit_id", l.ID, "symbol", l.Symbol,
					"limit_type", l.LimitType, "current_value", v, "limit_value", l.LimitValue)
			}
			if changed {
				l.UpdatedAt = now
				if err := m.store.SaveLimit(ctx, l); err != nil {
					return nil, storeErr(err)
				}
			}
		}

		if !filter.Matches(l) {
			continue
		}
		res.Limits = append(res.Limits, l)
		if l.Status == core.LimitStatusBreached {
			res.Breached = append(res.Breached, l)
		}
	}

	return res, nil
}

func (m *Manager) dailyActivity(ctx context.Context, userID string, limits []core.RiskLimit) *core.DailyActivity {
	if m.ledger == nil {
		return nil
	}
	needed := false
	for _, l := range limits {
		if l.LimitType == core.LimitTypeDailyLoss || l.LimitType == core.LimitTypeDailyVolume {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	act, err := m.ledger.DailyActivity(ctx, userID, m.now().UTC())
	if err != nil {
		m.logger.Warn("Trade ledger unavailable, using unrealized P&L approximation", "user_id", userID, "error", err)
		return nil
	}
	return &act
}

// CurrentValue measures the quantity bounded by l. activity is nil when no
// trade ledger is available; daily_loss then falls back to the sum of
// absolute unrealized P&L and daily_volume reports 0.
func CurrentValue(l core.RiskLimit, positions []core.Position, activity *core.DailyActivity) (float64, error) {
	switch l.LimitType {
	case core.LimitTypePositionSize:
		total := 0.0
		for _, p := range positions {
			if p.Symbol == l.Symbol {
				total += math.Abs(p.Value())
			}
		}
		return total, nil
	case core.LimitTypeExposure:
		total := 0.0
		for _, p := range positions {
			total += math.Abs(p.Value())
		}
		return total, nil
	case core.LimitTypeLeverage:
		maxLev := 0.0
		for _, p := range positions {
			if p.Symbol == l.Symbol && p.Leverage > maxLev {
				maxLev = p.Leverage
			}
		}
		return maxLev, nil
	case core.LimitTypeDailyLoss:
		if activity != nil {
			return activity.RealizedLoss, nil
		}
		total := 0.0
		for _, p := range positions {
			total += math.Abs(p.UnrealizedPnL)
		}
		return total, nil
	case core.LimitTypeDailyVolume:
		if activity != nil {
			return activity.TradedNotional, nil
		}
		return 0, nil
	default:
		return 0, &apperrors.CalculationError{Op: "limit_value", Err: fmt.Errorf("unknown limit type %q", l.LimitType)}
	}
}

func (m *Manager) owned(ctx context.Context, userID, limitID string) (*core.RiskLimit, error) {
	limit, err := m.store.GetLimit(ctx, limitID)
	if err != nil {
		return nil, storeErr(err)
	}
	if limit.UserID != userID {
		return nil, &apperrors.AuthorizationError{Resource: "risk limit"}
	}
	return limit, nil
}

func (m *Manager) validateStruct(req interface{}) error {
	err := m.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperrors.NewValidationError(fe.Field(), fmt.Sprintf("failed '%s' check", fe.Tag()))
	}
	return apperrors.NewValidationError("", err.Error())
}

// validTransition enforces the manual part of the lifecycle:
// breached may be reset to active or disabled, nothing else moves by hand.
func validTransition(from, to core.LimitStatus) error {
	if from == core.LimitStatusBreached && (to == core.LimitStatusActive || to == core.LimitStatusDisabled) {
		return nil
	}
	return apperrors.NewValidationError("status", fmt.Sprintf("cannot change status from %s to %s", from, to))
}

func validLimitValue(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func findActive(limits []core.RiskLimit, symbol string, limitType core.LimitType, excludeID string) *core.RiskLimit {
	for i := range limits {
		l := &limits[i]
		if l.ID != excludeID && l.Status == core.LimitStatusActive && l.Symbol == symbol && l.LimitType == limitType {
			return l
		}
	}
	return nil
}

func storeErr(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return apperrors.Unavailable("limit store", err)
}
