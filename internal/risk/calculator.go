package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"risk_engine/internal/core"
	apperrors "risk_engine/pkg/errors"
	"risk_engine/pkg/telemetry"

	"gonum.org/v1/gonum/floats"
)

// Calculator computes portfolio-level risk metrics from a position snapshot
type Calculator struct {
	logger core.ILogger
	now    func() time.Time
}

// NewCalculator creates a new Calculator
func NewCalculator(logger core.ILogger) *Calculator {
	return &Calculator{
		logger: logger.WithField("component", "risk_calculator"),
		now:    time.Now,
	}
}

// Calculate never fails: on empty input or any calculation fault it returns
// the neutral snapshot, logging the fault.
func (c *Calculator) Calculate(userID string, positions []core.Position) core.PortfolioRisk {
	if len(positions) == 0 {
		return c.neutral(userID)
	}

	pr, err := c.compute(userID, positions)
	if err != nil {
		c.logger.Error("Portfolio risk calculation failed, using neutral snapshot",
			"user_id", userID, "positions", len(positions), "error", err)
		telemetry.GetGlobalMetrics().RecordFallback(context.Background())
		return c.neutral(userID)
	}
	return pr
}

func (c *Calculator) neutral(userID string) core.PortfolioRisk {
	return core.PortfolioRisk{
		UserID:       userID,
		RiskScore:    NeutralRiskScore,
		RiskLevel:    ClassifyRiskLevel(NeutralRiskScore),
		CalculatedAt: c.now(),
	}
}

func (c *Calculator) compute(userID string, positions []core.Position) (pr core.PortfolioRisk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &apperrors.CalculationError{Op: "portfolio_risk", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	exposures := make([]float64, 0, len(positions))
	values := make([]float64, 0, len(positions))
	bySymbol := make(map[string]float64)
	leveraged := 0

	for _, p := range positions {
		if err := validatePosition(p); err != nil {
			return core.PortfolioRisk{}, err
		}
		abs := math.Abs(p.Value())
		exposures = append(exposures, abs)
		values = append(values, p.Value())
		bySymbol[p.Symbol] += abs
		if p.Leverage > 1 {
			leveraged++
		}
	}

	totalExposure := floats.Sum(exposures)
	totalValue := floats.Sum(values)

	symbolExposure := make([]float64, 0, len(bySymbol))
	for _, v := range bySymbol {
		symbolExposure = append(symbolExposure, v)
	}
	maxSymbolExposure := floats.Max(symbolExposure)
	symbolCount := len(bySymbol)

	exposurePct := 0.0
	if totalValue != 0 {
		exposurePct = totalExposure / math.Abs(totalValue) * 100
	}

	concentration := 0.0
	if totalExposure > 0 {
		concentration = maxSymbolExposure / totalExposure * 100
	}

	concentrationTerm := math.Min(concentration*0.4, 40)
	leverageTerm := math.Min(float64(leveraged)/float64(len(positions))*30, 30)
	diversificationTerm := math.Min(math.Max(0, float64(10-symbolCount))/10*20, 20)
	volatilityTerm := math.Min(totalExposure/ReferencePortfolioValue*10, 10)

	score := clamp(concentrationTerm+leverageTerm+diversificationTerm+volatilityTerm, 0, 100)

	volatility := math.Sqrt(0.05)
	if symbolCount > 1 {
		volatility = math.Sqrt(0.02)
	}

	sharpe := 0.0
	if totalExposure > 0 {
		sharpe = expectedAnnualReturn / volatility
	}

	liquidity := 0.0
	if symbolCount < 3 {
		liquidity = 0.1
	}

	pr = core.PortfolioRisk{
		UserID:              userID,
		TotalPortfolioValue: totalValue,
		TotalExposure:       totalExposure,
		ExposurePercentage:  exposurePct,
		RiskScore:           score,
		MaxDrawdown:         math.Min(score/100*maxDrawdownCap, maxDrawdownCap),
		SharpeRatio:         sharpe,
		VaR95:               totalExposure * volatility * z95,
		VaR99:               totalExposure * volatility * z99,
		ConcentrationRisk:   concentration,
		CorrelationRisk:     concentration * 0.6,
		LiquidityRisk:       liquidity,
		MarketRisk:          volatilityTerm * 10,
		RiskLevel:           ClassifyRiskLevel(score),
		CalculatedAt:        c.now(),
	}

	if !finite(pr.TotalPortfolioValue, pr.TotalExposure, pr.ExposurePercentage, pr.RiskScore, pr.VaR95, pr.VaR99) {
		return core.PortfolioRisk{}, &apperrors.CalculationError{Op: "portfolio_risk", Err: fmt.Errorf("non-finite result")}
	}
	return pr, nil
}

func validatePosition(p core.Position) error {
	if !finite(p.Size, p.CurrentPrice, p.Leverage, p.UnrealizedPnL, p.MarginUsed) {
		return &apperrors.CalculationError{Op: "validate_position", Err: fmt.Errorf("position %s has non-finite fields", p.ID)}
	}
	if p.Size <= 0 || p.CurrentPrice <= 0 {
		return &apperrors.CalculationError{Op: "validate_position", Err: fmt.Errorf("position %s has non-positive size or price", p.ID)}
	}
	return nil
}
