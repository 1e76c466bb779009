package engine

import (
	"context"

	"risk_engine/internal/core"
	"risk_engine/internal/risk"
)

// derive appends new alerts and margin calls for conditions not already open,
// then hands the alerts to the notifier. Store failures are logged, never returned.
// The open-condition lookup and the appends run under the user's lock.
func (s *Service) derive(ctx context.Context, in risk.DeriveInput) risk.Derivation {
	st := s.user(in.UserID)
	st.mu.Lock()
	defer st.mu.Unlock()

	openKeys, pendingCalls, err := s.openConditions(ctx, in.UserID)
	if err != nil {
		s.logger.Error("Cannot load open alerts, skipping derivation", "user_id", in.UserID, "error", err)
		return risk.Derivation{}
	}
	in.OpenAlertKeys = openKeys
	in.PendingCallPositions = pendingCalls

	out := s.deriver.Derive(in)

	saved := 0
	for _, call := range out.MarginCalls {
		if err := s.alerts.SaveMarginCall(ctx, call); err != nil {
			s.logger.Error("Failed to persist margin call", "user_id", in.UserID, "position_id", call.PositionID, "error", err)
			continue
		}
		saved++
		s.logger.Warn("Margin call issued", "user_id", in.UserID, "position_id", call.PositionID,
			"symbol", call.Symbol, "shortfall", call.MarginShortfall)
	}
	s.metrics.RecordMarginCalls(ctx, saved)

	for _, a := range out.Alerts {
		if err := s.alerts.SaveAlert(ctx, a); err != nil {
			s.logger.Error("Failed to persist alert", "user_id", in.UserID, "dedupe_key", a.DedupeKey, "error", err)
			continue
		}
		s.metrics.RecordAlert(ctx, string(a.AlertType), string(a.Severity))
		if s.notifier != nil {
			s.notifier.Notify(ctx, a)
		}
	}
	return out
}

func (s *Service) openConditions(ctx context.Context, userID string) (map[string]bool, map[string]bool, error) {
	alerts, err := s.alerts.ListAlerts(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	openKeys := make(map[string]bool)
	for _, a := range alerts {
		if !a.IsResolved && a.DedupeKey != "" {
			openKeys[a.DedupeKey] = true
		}
	}

	calls, err := s.alerts.ListMarginCalls(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	pending := make(map[string]bool)
	for _, c := range calls {
		if c.Status == core.MarginCallPending {
			pending[c.PositionID] = true
		}
	}
	return openKeys, pending, nil
}
