package risk

import (
	"testing"

	"risk_engine/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestRecommend(t *testing.T) {
	tests := []struct {
		name      string
		portfolio core.PortfolioRisk
		exposures []core.RiskExposure
		want      []string
	}{
		{
			name:      "nothing fires",
			portfolio: core.PortfolioRisk{RiskScore: 20, ConcentrationRisk: 10, ExposurePercentage: 100},
			want:      []string{withinRangesMessage},
		},
		{
			name:      "critical wins over elevated",
			portfolio: core.PortfolioRisk{RiskScore: 85},
			want:      []string{"Your portfolio risk is critically high. Consider reducing position sizes or closing some positions."},
		},
		{
			name:      "elevated concentrated and overexposed",
			portfolio: core.PortfolioRisk{RiskScore: 65, ConcentrationRisk: 100, ExposurePercentage: 250},
			want: []string{
				"Your portfolio risk is elevated. Monitor positions closely and consider risk reduction strategies.",
				"Your portfolio is highly concentrated. Consider diversifying across more symbols.",
				"Your exposure ratio is very high. Consider reducing leverage or position sizes.",
			},
		},
		{
			name:      "position level",
			portfolio: core.PortfolioRisk{RiskScore: 10},
			exposures: []core.RiskExposure{
				{Symbol: "BTCUSDT", RiskLevel: core.RiskLevelCritical},
				{Symbol: "ETHUSDT", RiskLevel: core.RiskLevelHigh, LeverageUsed: 10},
				{Symbol: "SOLUSDT", RiskLevel: core.RiskLevelHigh, LeverageUsed: 3},
			},
			want: []string{
				"Position in BTCUSDT has critical risk level. Immediate action recommended.",
				"High leverage detected in ETHUSDT. Consider reducing leverage.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recommend(tt.portfolio, tt.exposures))
		})
	}
}

func TestActionRequired(t *testing.T) {
	assert.False(t, ActionRequired(core.PortfolioRisk{RiskScore: 62.6, RiskLevel: core.RiskLevelHigh}, nil))
	assert.True(t, ActionRequired(core.PortfolioRisk{RiskScore: 70.5, RiskLevel: core.RiskLevelHigh}, nil))
	assert.True(t, ActionRequired(core.PortfolioRisk{RiskScore: 90, RiskLevel: core.RiskLevelCritical}, nil))
	assert.True(t, ActionRequired(core.PortfolioRisk{RiskScore: 10, RiskLevel: core.RiskLevelLow},
		[]core.RiskExposure{{RiskLevel: core.RiskLevelCritical}}))
}
