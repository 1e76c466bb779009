package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"risk_engine/internal/core"
	"risk_engine/internal/limits"
	"risk_engine/internal/risk"
	apperrors "risk_engine/pkg/errors"
)

const limitsWithinRangeMessage = "All risk limits are within acceptable ranges."

// LimitsOverview is the result of ListLimits
type LimitsOverview struct {
	Limits           []core.RiskLimit    `json:"limits"`
	CurrentExposures []core.RiskExposure `json:"current_exposures"`
	Breaches         []core.RiskLimit    `json:"breaches"`
	Recommendations  []string            `json:"recommendations"`
}

// MetricsSummary is the dashboard roll-up of a user's risk state
type MetricsSummary struct {
	TotalLimits        int       `json:"total_limits"`
	ActiveLimits       int       `json:"active_limits"`
	BreachedLimits     int       `json:"breached_limits"`
	PortfolioRiskScore float64   `json:"portfolio_risk_score"`
	TotalExposure      float64   `json:"total_exposure"`
	PositionCount      int       `json:"position_count"`
	CriticalPositions  int       `json:"critical_positions"`
	ActiveAlerts       int       `json:"active_alerts"`
	PendingMarginCalls int       `json:"pending_margin_calls"`
	CalculatedAt       time.Time `json:"calculated_at"`
}

// RunStressTest shocks the user's current positions. The request is validated
// before positions are fetched.
func (s *Service) RunStressTest(ctx context.Context, userID string, scenario core.StressScenario, shockPercentage float64) (*core.StressTestResult, error) {
	req := risk.StressRequest{Scenario: scenario, ShockPercentage: shockPercentage}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	positions, err := s.fetchPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	portfolio := s.calculator.Calculate(userID, positions)
	res, err := s.stress.Run(userID, req, positions, portfolio.TotalPortfolioValue)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordStressTest(ctx, string(res.Scenario))
	s.logger.Info("Stress test run", "user_id", userID, "scenario", res.Scenario,
		"shock_percentage", res.ShockPercentage, "total_stress_loss", res.TotalStressLoss)
	return res, nil
}

// ClearCache drops the user's cached assessment. It reports whether an entry existed.
// Assessments already in flight are neither joined by later reads nor cached.
func (s *Service) ClearCache(ctx context.Context, userID string) (bool, error) {
	st := s.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.generation.Add(1)
	cleared, err := s.cache.Delete(ctx, userID)
	if err != nil {
		return false, apperrors.Unavailable("assessment cache", err)
	}
	s.logger.Info("Assessment cache cleared", "user_id", userID, "existed", cleared)
	return cleared, nil
}

// ListLimits refreshes breach state against the current positions and returns
// the filtered limits with exposures and breach recommendations.
func (s *Service) ListLimits(ctx context.Context, userID string, filter core.LimitFilter) (*LimitsOverview, error) {
	if filter.LimitType != "" && !filter.LimitType.Valid() {
		return nil, apperrors.NewValidationError("limit_type", "unknown limit type "+string(filter.LimitType))
	}

	positions, err := s.fetchPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	check, err := s.limits.Check(ctx, userID, positions, filter)
	if err != nil {
		return nil, err
	}
	s.recordBreaches(ctx, check.NewlyBreached)

	allBreached, err := s.breachedLimits(ctx, userID, check)
	if err != nil {
		return nil, err
	}
	s.derive(ctx, risk.DeriveInput{UserID: userID, Breaches: allBreached})

	exposures := s.evaluator.Evaluate(userID, positions)
	if filter.Symbol != "" {
		filtered := exposures[:0]
		for _, e := range exposures {
			if e.Symbol == filter.Symbol {
				filtered = append(filtered, e)
			}
		}
		exposures = filtered
	}

	recs := make([]string, 0, len(check.Breached))
	for _, b := range check.Breached {
		recs = append(recs, risk.BreachMessage(b))
	}
	if len(recs) == 0 {
		recs = append(recs, limitsWithinRangeMessage)
	}

	return &LimitsOverview{
		Limits:           nonNilLimits(check.Limits),
		CurrentExposures: exposures,
		Breaches:         nonNilLimits(check.Breached),
		Recommendations:  recs,
	}, nil
}

// breachedLimits returns every breached limit of the user regardless of the listing filter
func (s *Service) breachedLimits(ctx context.Context, userID string, check *limits.CheckResult) ([]core.RiskLimit, error) {
	all, err := s.limits.List(ctx, userID, core.LimitFilter{})
	if err != nil {
		return nil, err
	}
	out := make([]core.RiskLimit, 0, len(check.Breached))
	for _, l := range all {
		if l.Status == core.LimitStatusBreached {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Service) CreateLimit(ctx context.Context, userID string, req limits.CreateRequest) (*core.RiskLimit, error) {
	return s.limits.Create(ctx, userID, req)
}

func (s *Service) UpdateLimit(ctx context.Context, userID string, req limits.UpdateRequest) (*core.RiskLimit, error) {
	return s.limits.Update(ctx, userID, req)
}

func (s *Service) DeleteLimit(ctx context.Context, userID, limitID string) (*core.RiskLimit, error) {
	return s.limits.Delete(ctx, userID, limitID)
}

// ListAlerts returns the user's alerts newest first
func (s *Service) ListAlerts(ctx context.Context, userID string, filter core.AlertFilter) ([]core.RiskAlert, error) {
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, apperrors.NewValidationError("severity", "unknown severity "+string(filter.Severity))
	}

	all, err := s.alerts.ListAlerts(ctx, userID)
	if err != nil {
		return nil, apperrors.Unavailable("alert store", err)
	}

	out := make([]core.RiskAlert, 0, len(all))
	for _, a := range all {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListMarginCalls returns the user's margin calls newest first
func (s *Service) ListMarginCalls(ctx context.Context, userID string, filter core.MarginCallFilter) ([]core.MarginCall, error) {
	if filter.Status != "" && filter.Status != core.MarginCallPending && filter.Status != core.MarginCallResolved {
		return nil, apperrors.NewValidationError("status", "unknown margin call status "+string(filter.Status))
	}

	all, err := s.alerts.ListMarginCalls(ctx, userID)
	if err != nil {
		return nil, apperrors.Unavailable("alert store", err)
	}

	out := make([]core.MarginCall, 0, len(all))
	for _, c := range all {
		if filter.Matches(c) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

// MarkAlertRead flags an alert as read
func (s *Service) MarkAlertRead(ctx context.Context, userID, alertID string) (*core.RiskAlert, error) {
	a, err := s.ownedAlert(ctx, userID, alertID)
	if err != nil {
		return nil, err
	}
	if a.IsRead {
		return a, nil
	}
	a.IsRead = true
	if err := s.alerts.SaveAlert(ctx, *a); err != nil {
		return nil, apperrors.Unavailable("alert store", err)
	}
	return a, nil
}

// ResolveAlert closes an alert so its condition can be raised again
func (s *Service) ResolveAlert(ctx context.Context, userID, alertID string) (*core.RiskAlert, error) {
	a, err := s.ownedAlert(ctx, userID, alertID)
	if err != nil {
		return nil, err
	}
	if a.IsResolved {
		return a, nil
	}
	now := s.now()
	a.IsResolved = true
	a.IsRead = true
	a.ResolvedAt = &now
	if err := s.alerts.SaveAlert(ctx, *a); err != nil {
		return nil, apperrors.Unavailable("alert store", err)
	}
	s.logger.Info("Risk alert resolved", "user_id", userID, "alert_id", alertID)
	return a, nil
}

// ResolveMarginCall closes a pending margin call
func (s *Service) ResolveMarginCall(ctx context.Context, userID, callID string) (*core.MarginCall, error) {
	if callID == "" {
		return nil, apperrors.NewValidationError("margin_call_id", "is required")
	}
	c, err := s.alerts.GetMarginCall(ctx, callID)
	if err != nil {
		return nil, alertStoreErr(err)
	}
	if c.UserID != userID {
		return nil, &apperrors.AuthorizationError{Resource: "margin call"}
	}
	if c.Status == core.MarginCallResolved {
		return c, nil
	}
	now := s.now()
	c.Status = core.MarginCallResolved
	c.ResolvedAt = &now
	if err := s.alerts.SaveMarginCall(ctx, *c); err != nil {
		return nil, apperrors.Unavailable("alert store", err)
	}
	s.logger.Info("Margin call resolved", "user_id", userID, "margin_call_id", callID)
	return c, nil
}

// GetMetricsSummary rolls up limits, assessment, alerts and margin calls
func (s *Service) GetMetricsSummary(ctx context.Context, userID string) (*MetricsSummary, error) {
	assessment, err := s.GetAssessment(ctx, userID)
	if err != nil {
		return nil, err
	}

	userLimits, err := s.limits.List(ctx, userID, core.LimitFilter{})
	if err != nil {
		return nil, err
	}
	alerts, err := s.alerts.ListAlerts(ctx, userID)
	if err != nil {
		return nil, apperrors.Unavailable("alert store", err)
	}
	calls, err := s.alerts.ListMarginCalls(ctx, userID)
	if err != nil {
		return nil, apperrors.Unavailable("alert store", err)
	}

	sum := &MetricsSummary{
		TotalLimits:        len(userLimits),
		PortfolioRiskScore: assessment.RiskScore,
		TotalExposure:      assessment.PortfolioRisk.TotalExposure,
		PositionCount:      len(assessment.PositionRisks),
		CalculatedAt:       assessment.CalculatedAt,
	}
	for _, l := range userLimits {
		switch l.Status {
		case core.LimitStatusActive:
			sum.ActiveLimits++
		case core.LimitStatusBreached:
			sum.BreachedLimits++
		}
	}
	for _, e := range assessment.PositionRisks {
		if e.RiskLevel == core.RiskLevelCritical {
			sum.CriticalPositions++
		}
	}
	for _, a := range alerts {
		if !a.IsResolved {
			sum.ActiveAlerts++
		}
	}
	for _, c := range calls {
		if c.Status == core.MarginCallPending {
			sum.PendingMarginCalls++
		}
	}
	return sum, nil
}

func (s *Service) ownedAlert(ctx context.Context, userID, alertID string) (*core.RiskAlert, error) {
	if alertID == "" {
		return nil, apperrors.NewValidationError("alert_id", "is required")
	}
	a, err := s.alerts.GetAlert(ctx, alertID)
	if err != nil {
		return nil, alertStoreErr(err)
	}
	if a.UserID != userID {
		return nil, &apperrors.AuthorizationError{Resource: "risk alert"}
	}
	return a, nil
}

func alertStoreErr(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return apperrors.Unavailable("alert store", err)
}

func nonNilLimits(in []core.RiskLimit) []core.RiskLimit {
	if in == nil {
		return []core.RiskLimit{}
	}
	return in
}
