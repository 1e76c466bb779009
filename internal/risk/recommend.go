package risk

import (
	"fmt"

	"risk_engine/internal/core"
)

const withinRangesMessage = "Your risk levels appear to be within acceptable ranges. Continue monitoring."

// Recommend derives advisory text from portfolio and position risk
func Recommend(portfolio core.PortfolioRisk, exposures []core.RiskExposure) []string {
	var recs []string

	switch {
	case portfolio.RiskScore > 80:
		recs = append(recs, "Your portfolio risk is critically high. Consider reducing position sizes or closing some positions.")
	case portfolio.RiskScore > 60:
		recs = append(recs, "Your portfolio risk is elevated. Monitor positions closely and consider risk reduction strategies.")
	}

	if portfolio.ConcentrationRisk > 50 {
		recs = append(recs, "Your portfolio is highly concentrated. Consider diversifying across more symbols.")
	}

	if portfolio.ExposurePercentage > 200 {
		recs = append(recs, "Your exposure ratio is very high. Consider reducing leverage or position sizes.")
	}

	for _, e := range exposures {
		switch {
		case e.RiskLevel == core.RiskLevelCritical:
			recs = append(recs, fmt.Sprintf("Position in %s has critical risk level. Immediate action recommended.", e.Symbol))
		case e.RiskLevel == core.RiskLevelHigh && e.LeverageUsed > 5:
			recs = append(recs, fmt.Sprintf("High leverage detected in %s. Consider reducing leverage.", e.Symbol))
		}
	}

	if len(recs) == 0 {
		recs = append(recs, withinRangesMessage)
	}
	return recs
}

// ActionRequired reports whether an assessment needs the user's attention
func ActionRequired(portfolio core.PortfolioRisk, exposures []core.RiskExposure) bool {
	if portfolio.RiskLevel == core.RiskLevelCritical || portfolio.RiskScore > 70 {
		return true
	}
	for _, e := range exposures {
		if e.RiskLevel == core.RiskLevelCritical {
			return true
		}
	}
	return false
}
