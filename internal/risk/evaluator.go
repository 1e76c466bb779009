package risk

import (
	"math"
	"time"

	"risk_engine/internal/core"

	"github.com/google/uuid"
)

// Evaluator scores individual positions
type Evaluator struct {
	logger core.ILogger
	now    func() time.Time
}

// NewEvaluator creates a new Evaluator
func NewEvaluator(logger core.ILogger) *Evaluator {
	return &Evaluator{
		logger: logger.WithField("component", "position_evaluator"),
		now:    time.Now,
	}
}

// Evaluate returns one RiskExposure per position with nonzero unrealized P&L.
// Positions that cannot be scored are skipped with a warning.
func (e *Evaluator) Evaluate(userID string, positions []core.Position) []core.RiskExposure {
	now := e.now()
	exposures := make([]core.RiskExposure, 0, len(positions))

	for _, p := range positions {
		if p.UnrealizedPnL == 0 {
			continue
		}

		value := math.Abs(p.Value())
		if value == 0 || !finite(value, p.Leverage, p.UnrealizedPnL) {
			e.logger.Warn("Skipping unscorable position", "user_id", userID, "position_id", p.ID, "symbol", p.Symbol)
			continue
		}

		score := PositionScore(p.Leverage, value, p.UnrealizedPnL)
		exposures = append(exposures, core.RiskExposure{
			ID:                 uuid.New().String(),
			UserID:             userID,
			Symbol:             p.Symbol,
			PositionID:         p.ID,
			PositionValue:      value,
			ExposurePercentage: value / ReferencePortfolioValue * 100,
			RiskScore:          score,
			LeverageUsed:       p.Leverage,
			MarginUsed:         p.MarginUsed,
			AvailableMargin:    math.Max(0, p.MarginUsed+p.UnrealizedPnL),
			RiskLevel:          ClassifyRiskLevel(score),
			CalculatedAt:       now,
		})
	}

	return exposures
}

// PositionScore is the 0-100 position risk score for a position of the given value
func PositionScore(leverage, value, unrealizedPnL float64) float64 {
	if value <= 0 {
		return 0
	}
	score := (leverage-1)*10 + math.Abs(unrealizedPnL/value*100)
	if value > largePositionValue {
		score += 20
	}
	return clamp(score, 0, 100)
}
