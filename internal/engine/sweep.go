package engine

import (
	"context"
	"sync"
)

// SweepReport summarizes one multi-user sweep
type SweepReport struct {
	Users          int      `json:"users"`
	Assessed       int      `json:"assessed"`
	ActionRequired []string `json:"action_required"`
	Failed         []string `json:"failed"`
}

// SweepUsers recomputes assessments for many users in parallel, refreshing
// breach state and deriving alerts. A failing user does not stop the others.
func (s *Service) SweepUsers(ctx context.Context, userIDs []string) *SweepReport {
	report := &SweepReport{Users: len(userIDs)}
	var mu sync.Mutex

	sweepOne := func(i int) {
		userID := userIDs[i]
		if ctx.Err() != nil {
			mu.Lock()
			report.Failed = append(report.Failed, userID)
			mu.Unlock()
			return
		}

		a, _, err := s.assessShared(ctx, userID)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			s.logger.Warn("Sweep failed for user", "user_id", userID, "error", err)
			report.Failed = append(report.Failed, userID)
			return
		}
		report.Assessed++
		if a.ActionRequired {
			report.ActionRequired = append(report.ActionRequired, userID)
		}
	}

	if s.pool != nil {
		s.pool.ForEach(len(userIDs), sweepOne)
	} else {
		for i := range userIDs {
			sweepOne(i)
		}
	}

	s.logger.Info("User sweep finished", "users", report.Users, "assessed", report.Assessed,
		"failed", len(report.Failed), "action_required", len(report.ActionRequired))
	return report
}
