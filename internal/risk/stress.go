package risk

import (
	"math"
	"time"

	"risk_engine/internal/core"
	apperrors "risk_engine/pkg/errors"
)

// StressRequest describes a uniform price shock
type StressRequest struct {
	Scenario        core.StressScenario
	ShockPercentage float64
}

// Validate rejects malformed shocks before any computation.
// A zero shock is accepted and produces zero loss.
func (r *StressRequest) Validate() error {
	if r.Scenario == "" {
		r.Scenario = core.ScenarioCustom
	}
	if !r.Scenario.Valid() {
		return apperrors.NewValidationError("scenario", "unknown stress scenario "+string(r.Scenario))
	}
	if !finite(r.ShockPercentage) || r.ShockPercentage < 0 || r.ShockPercentage > 100 {
		return apperrors.NewValidationError("shock_percentage", "must be between 0 and 100")
	}
	return nil
}

// StressTester applies price shocks to a position snapshot
type StressTester struct {
	now func() time.Time
}

// NewStressTester creates a new StressTester
func NewStressTester() *StressTester {
	return &StressTester{now: time.Now}
}

// Run applies the shock downward to every position regardless of side.
// portfolioValue is the total portfolio value used for the loss percentage.
func (s *StressTester) Run(userID string, req StressRequest, positions []core.Position, portfolioValue float64) (*core.StressTestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	factor := 1 - req.ShockPercentage/100
	results := make([]core.PositionStressResult, 0, len(positions))
	total := 0.0

	for _, p := range positions {
		original := p.Size * p.CurrentPrice
		stressed := p.Size * p.CurrentPrice * factor
		loss := stressed - original

		lossPct := 0.0
		if original != 0 {
			lossPct = loss / math.Abs(original) * 100
		}

		total += loss
		results = append(results, core.PositionStressResult{
			Symbol:         p.Symbol,
			PositionID:     p.ID,
			OriginalValue:  original,
			StressedValue:  stressed,
			Loss:           loss,
			LossPercentage: lossPct,
		})
	}

	totalPct := 0.0
	if portfolioValue != 0 {
		totalPct = total / math.Abs(portfolioValue) * 100
	}

	return &core.StressTestResult{
		UserID:               userID,
		Scenario:             req.Scenario,
		ShockPercentage:      req.ShockPercentage,
		TotalStressLoss:      total,
		StressLossPercentage: totalPct,
		PositionResults:      results,
		TestedAt:             s.now(),
	}, nil
}
