// Package engine orchestrates risk assessment, limit enforcement and alert derivation per user
package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"risk_engine/internal/core"
	"risk_engine/internal/limits"
	"risk_engine/internal/risk"
	"risk_engine/pkg/concurrency"
	apperrors "risk_engine/pkg/errors"
	"risk_engine/pkg/telemetry"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Deps are the collaborators of a Service. Ledger, Notifier and Pool may be nil.
type Deps struct {
	Positions             core.IPositionProvider
	LimitStore            core.ILimitStore
	AlertStore            core.IAlertStore
	Cache                 core.IAssessmentCache
	Ledger                core.ITradeLedger
	Notifier              core.INotifier
	Pool                  *concurrency.WorkerPool
	MaintenanceMarginRate float64
}

// Service exposes the risk operations over injected repositories.
// It holds no state of its own besides the assessment cache.
type Service struct {
	positions core.IPositionProvider
	alerts    core.IAlertStore
	cache     core.IAssessmentCache
	notifier  core.INotifier
	pool      *concurrency.WorkerPool

	limits     *limits.Manager
	calculator *risk.Calculator
	evaluator  *risk.Evaluator
	stress     *risk.StressTester
	deriver    *risk.Deriver

	metrics *telemetry.MetricsHolder
	logger  core.ILogger

	inflight   singleflight.Group
	users      sync.Map // user id -> *userState
	recomputes atomic.Int64
	now        func() time.Time
}

// userState serializes cache writes, cache clears and derivation for one user.
// generation advances on every ClearCache.
type userState struct {
	mu         sync.Mutex
	generation atomic.Uint64
}

func (s *Service) user(userID string) *userState {
	st, _ := s.users.LoadOrStore(userID, &userState{})
	return st.(*userState)
}

// NewService wires a Service
func NewService(deps Deps, logger core.ILogger) *Service {
	return &Service{
		positions:  deps.Positions,
		alerts:     deps.AlertStore,
		cache:      deps.Cache,
		notifier:   deps.Notifier,
		pool:       deps.Pool,
		limits:     limits.NewManager(deps.LimitStore, deps.Ledger, logger),
		calculator: risk.NewCalculator(logger),
		evaluator:  risk.NewEvaluator(logger),
		stress:     risk.NewStressTester(),
		deriver:    risk.NewDeriver(deps.MaintenanceMarginRate),
		metrics:    telemetry.GetGlobalMetrics(),
		logger:     logger.WithField("component", "risk_service"),
		now:        time.Now,
	}
}

// Recomputations counts assessments computed from scratch
func (s *Service) Recomputations() int64 {
	return s.recomputes.Load()
}

// GetAssessment returns the live cached assessment or computes a fresh one.
// Concurrent misses for the same user share one computation.
func (s *Service) GetAssessment(ctx context.Context, userID string) (*core.RiskAssessment, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError("user_id", "is required")
	}

	if cached, ok := s.cachedAssessment(ctx, userID); ok {
		s.metrics.RecordCacheLookup(ctx, true)
		return cached, nil
	}
	s.metrics.RecordCacheLookup(ctx, false)

	a, shared, err := s.assessShared(ctx, userID)
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Joined in-flight assessment", "user_id", userID)
	}
	assessment := a.Clone()
	return &assessment, nil
}

// assessShared runs assess through singleflight. The key carries the user's
// cache generation, so callers arriving after a clear never join an older computation.
func (s *Service) assessShared(ctx context.Context, userID string) (*core.RiskAssessment, bool, error) {
	gen := s.user(userID).generation.Load()
	key := userID + "#" + strconv.FormatUint(gen, 10)
	v, err, shared := s.inflight.Do(key, func() (interface{}, error) {
		return s.assess(ctx, userID, gen)
	})
	if err != nil {
		return nil, shared, err
	}
	return v.(*core.RiskAssessment), shared, nil
}

// cachedAssessment treats a cache backend error as a miss
func (s *Service) cachedAssessment(ctx context.Context, userID string) (*core.RiskAssessment, bool) {
	entry, ok, err := s.cache.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("Assessment cache read failed", "user_id", userID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	a := entry.Assessment.Clone()
	return &a, true
}

func (s *Service) assess(ctx context.Context, userID string, gen uint64) (*core.RiskAssessment, error) {
	start := s.now()

	positions, err := s.fetchPositions(ctx, userID)
	if err != nil {
		if cached, ok := s.cachedAssessment(ctx, userID); ok {
			s.logger.Warn("Position feed unavailable, serving cached assessment", "user_id", userID, "error", err)
			return cached, nil
		}
		return nil, err
	}

	var (
		portfolio core.PortfolioRisk
		check     *limits.CheckResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		portfolio = s.calculator.Calculate(userID, positions)
		return nil
	})
	g.Go(func() error {
		res, err := s.limits.Check(gctx, userID, positions, core.LimitFilter{})
		if err != nil {
			// Breach state is refreshed on the next check; the assessment stands.
			s.logger.Warn("Limit breach check failed", "user_id", userID, "error", err)
			return nil
		}
		check = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	exposures := s.evaluator.Evaluate(userID, positions)
	assessment := core.RiskAssessment{
		UserID:          userID,
		RiskLevel:       portfolio.RiskLevel,
		RiskScore:       portfolio.RiskScore,
		PortfolioRisk:   portfolio,
		PositionRisks:   exposures,
		Recommendations: risk.Recommend(portfolio, exposures),
		ActionRequired:  risk.ActionRequired(portfolio, exposures),
		CalculatedAt:    portfolio.CalculatedAt,
	}

	s.storeAssessment(ctx, userID, gen, assessment)
	s.recomputes.Add(1)
	s.metrics.RecordAssessment(ctx, userID, portfolio.RiskScore, portfolio.TotalExposure,
		float64(s.now().Sub(start).Microseconds())/1000)

	in := risk.DeriveInput{
		UserID:    userID,
		Portfolio: &portfolio,
		Exposures: exposures,
		Positions: positions,
	}
	if check != nil {
		in.Breaches = check.Breached
		s.recordBreaches(ctx, check.NewlyBreached)
	}
	s.derive(ctx, in)

	s.logger.Info("Risk assessment computed", "user_id", userID, "risk_score", portfolio.RiskScore,
		"risk_level", portfolio.RiskLevel, "positions", len(positions), "action_required", assessment.ActionRequired)
	return &assessment, nil
}

// storeAssessment caches an assessment unless the user's cache was cleared
// after the computation started.
func (s *Service) storeAssessment(ctx context.Context, userID string, gen uint64, assessment core.RiskAssessment) {
	st := s.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.generation.Load() != gen {
		s.logger.Debug("Cache cleared during assessment, not caching", "user_id", userID)
		return
	}
	if _, err := s.cache.Set(ctx, userID, assessment); err != nil {
		s.logger.Warn("Assessment cache write failed", "user_id", userID, "error", err)
	}
}

func (s *Service) fetchPositions(ctx context.Context, userID string) ([]core.Position, error) {
	positions, err := s.positions.GetPositions(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnavailable) {
			return nil, err
		}
		return nil, apperrors.Unavailable("position feed", err)
	}
	return positions, nil
}

func (s *Service) recordBreaches(ctx context.Context, newly []core.RiskLimit) {
	if len(newly) == 0 {
		return
	}
	types := make([]string, len(newly))
	for i, l := range newly {
		types[i] = string(l.LimitType)
	}
	s.metrics.RecordBreaches(ctx, types...)
}
