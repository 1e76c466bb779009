// Package risk implements the portfolio and position risk computations
package risk

import (
	"math"

	"risk_engine/internal/core"
)

const (
	// ReferencePortfolioValue normalizes position exposure percentages and the volatility term
	ReferencePortfolioValue = 100000.0

	// NeutralRiskScore is reported when there is nothing (or nothing trustworthy) to score
	NeutralRiskScore = 50.0

	z95 = 1.645
	z99 = 2.326

	expectedAnnualReturn = 0.08
	maxDrawdownCap       = 0.2
	largePositionValue   = 10000.0
)

// ClassifyRiskLevel buckets a 0-100 score
func ClassifyRiskLevel(score float64) core.RiskLevel {
	switch {
	case score > 80:
		return core.RiskLevelCritical
	case score > 60:
		return core.RiskLevelHigh
	case score > 30:
		return core.RiskLevelMedium
	default:
		return core.RiskLevelLow
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
