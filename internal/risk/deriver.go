package risk

import (
	"fmt"
	"time"

	"risk_engine/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMaintenanceMarginRate is the share of position value that must stay covered by equity
const DefaultMaintenanceMarginRate = 0.05

var minLiquidationPrice = decimal.New(1, -8)

// DeriveInput is everything the deriver looks at for one user
type DeriveInput struct {
	UserID    string
	Portfolio *core.PortfolioRisk
	Exposures []core.RiskExposure
	Breaches  []core.RiskLimit
	Positions []core.Position

	// OpenAlertKeys holds dedupe keys of unresolved alerts
	OpenAlertKeys map[string]bool
	// PendingCallPositions holds position ids with a pending margin call
	PendingCallPositions map[string]bool
}

// Derivation is the set of new records to append
type Derivation struct {
	Alerts      []core.RiskAlert
	MarginCalls []core.MarginCall
}

// Deriver turns breaches, critical levels and margin shortfalls into alerts and margin calls
type Deriver struct {
	mmr decimal.Decimal
	now func() time.Time
}

// NewDeriver creates a Deriver. A non-positive rate selects the default.
func NewDeriver(maintenanceMarginRate float64) *Deriver {
	if maintenanceMarginRate <= 0 || maintenanceMarginRate >= 1 {
		maintenanceMarginRate = DefaultMaintenanceMarginRate
	}
	return &Deriver{
		mmr: decimal.NewFromFloat(maintenanceMarginRate),
		now: time.Now,
	}
}

// Derive never mutates its input; conditions already raised and unresolved are skipped
func (d *Deriver) Derive(in DeriveInput) Derivation {
	now := d.now()
	var out Derivation
	seen := make(map[string]bool)

	raise := func(a core.RiskAlert) {
		if in.OpenAlertKeys[a.DedupeKey] || seen[a.DedupeKey] {
			return
		}
		seen[a.DedupeKey] = true
		a.ID = uuid.New().String()
		a.UserID = in.UserID
		a.CreatedAt = now
		out.Alerts = append(out.Alerts, a)
	}

	for _, l := range in.Breaches {
		raise(breachAlert(l))
	}

	if in.Portfolio != nil {
		switch in.Portfolio.RiskLevel {
		case core.RiskLevelCritical:
			raise(portfolioAlert(*in.Portfolio, core.SeverityCritical))
		case core.RiskLevelHigh:
			raise(portfolioAlert(*in.Portfolio, core.SeverityWarning))
		}
	}

	for _, e := range in.Exposures {
		if e.RiskLevel != core.RiskLevelCritical {
			continue
		}
		raise(core.RiskAlert{
			AlertType: core.AlertTypeRiskThreshold,
			Severity:  core.SeverityCritical,
			Title:     fmt.Sprintf("Critical position risk in %s", e.Symbol),
			Message:   fmt.Sprintf("Position in %s has critical risk level (score %.2f). Immediate action recommended.", e.Symbol, e.RiskScore),
			Symbol:    e.Symbol,
			Data: map[string]string{
				"position_id": e.PositionID,
				"risk_score":  fmt.Sprintf("%.2f", e.RiskScore),
			},
			DedupeKey: "position:" + e.PositionID + ":critical",
		})
	}

	for _, p := range in.Positions {
		if in.PendingCallPositions[p.ID] {
			continue
		}
		call, ok := d.marginCall(p, now)
		if !ok {
			continue
		}
		call.UserID = in.UserID
		out.MarginCalls = append(out.MarginCalls, call)
		raise(core.RiskAlert{
			AlertType: core.AlertTypeMarginCall,
			Severity:  core.SeverityCritical,
			Title:     fmt.Sprintf("Margin call on %s", p.Symbol),
			Message: fmt.Sprintf("Margin shortfall of %.2f on %s. Required: %.2f, Available: %.2f, Liquidation price: %.2f",
				call.MarginShortfall, p.Symbol, call.MarginRequired, call.MarginAvailable, call.LiquidationPrice),
			Symbol: p.Symbol,
			Data: map[string]string{
				"position_id":    p.ID,
				"margin_call_id": call.ID,
			},
			DedupeKey: "margin:" + p.ID,
		})
	}

	return out
}

// marginCall computes maintenance margin sufficiency for one position.
// Positions without margin data are not evaluated.
func (d *Deriver) marginCall(p core.Position, now time.Time) (core.MarginCall, bool) {
	if p.MarginUsed <= 0 || p.Size <= 0 || p.CurrentPrice <= 0 {
		return core.MarginCall{}, false
	}

	value := decimal.NewFromFloat(p.Size).Mul(decimal.NewFromFloat(p.CurrentPrice))
	required := value.Mul(d.mmr)
	available := decimal.Max(decimal.Zero, decimal.NewFromFloat(p.MarginUsed).Add(decimal.NewFromFloat(p.UnrealizedPnL)))
	if !available.LessThan(required) {
		return core.MarginCall{}, false
	}

	return core.MarginCall{
		ID:               uuid.New().String(),
		PositionID:       p.ID,
		Symbol:           p.Symbol,
		MarginRequired:   required.InexactFloat64(),
		MarginAvailable:  available.InexactFloat64(),
		MarginShortfall:  required.Sub(available).InexactFloat64(),
		LiquidationPrice: d.LiquidationPrice(p).InexactFloat64(),
		CurrentPrice:     p.CurrentPrice,
		Status:           core.MarginCallPending,
		IssuedAt:         now,
	}, true
}

// LiquidationPrice prefers the provider's figure and otherwise estimates the
// isolated-margin liquidation price from entry, leverage and maintenance rate.
func (d *Deriver) LiquidationPrice(p core.Position) decimal.Decimal {
	if p.LiquidationPrice > 0 {
		return decimal.NewFromFloat(p.LiquidationPrice)
	}

	entry := decimal.NewFromFloat(p.EntryPrice)
	if !entry.IsPositive() {
		entry = decimal.NewFromFloat(p.CurrentPrice)
	}
	leverage := decimal.NewFromFloat(p.Leverage)
	if leverage.LessThan(decimal.NewFromInt(1)) {
		leverage = decimal.NewFromInt(1)
	}
	invLev := decimal.NewFromInt(1).Div(leverage)

	var factor decimal.Decimal
	if p.Side == core.SideShort {
		factor = decimal.NewFromInt(1).Add(invLev).Sub(d.mmr)
	} else {
		factor = decimal.NewFromInt(1).Sub(invLev).Add(d.mmr)
	}

	price := entry.Mul(factor)
	if price.LessThan(minLiquidationPrice) {
		return minLiquidationPrice
	}
	return price.Round(8)
}

func breachAlert(l core.RiskLimit) core.RiskAlert {
	alertType := core.AlertTypeRiskThreshold
	switch l.LimitType {
	case core.LimitTypePositionSize, core.LimitTypeLeverage:
		alertType = core.AlertTypePositionLimit
	case core.LimitTypeExposure:
		alertType = core.AlertTypeExposureLimit
	case core.LimitTypeDailyLoss, core.LimitTypeDailyVolume:
		alertType = core.AlertTypeRiskThreshold
	}

	severity := core.SeverityError
	if l.AutoClose {
		severity = core.SeverityCritical
	}

	return core.RiskAlert{
		AlertType: alertType,
		Severity:  severity,
		Title:     fmt.Sprintf("Risk limit breached: %s %s", l.Symbol, l.LimitType),
		Message:   BreachMessage(l),
		Symbol:    l.Symbol,
		Data: map[string]string{
			"limit_id":      l.ID,
			"limit_type":    string(l.LimitType),
			"limit_value":   fmt.Sprintf("%.2f", l.LimitValue),
			"current_value": fmt.Sprintf("%.2f", l.CurrentValue),
		},
		DedupeKey: "limit:" + l.ID,
	}
}

func portfolioAlert(pr core.PortfolioRisk, severity core.AlertSeverity) core.RiskAlert {
	return core.RiskAlert{
		AlertType: core.AlertTypeRiskThreshold,
		Severity:  severity,
		Title:     fmt.Sprintf("Portfolio risk %s", pr.RiskLevel),
		Message:   fmt.Sprintf("Portfolio risk score is %.2f (%s). Total exposure %.2f.", pr.RiskScore, pr.RiskLevel, pr.TotalExposure),
		Data: map[string]string{
			"risk_score":     fmt.Sprintf("%.2f", pr.RiskScore),
			"total_exposure": fmt.Sprintf("%.2f", pr.TotalExposure),
		},
		DedupeKey: "portfolio:" + string(pr.RiskLevel),
	}
}

// BreachMessage describes a breached limit
func BreachMessage(l core.RiskLimit) string {
	return fmt.Sprintf("Limit breach detected for %s - %s. Current: %.2f, Limit: %.2f",
		l.Symbol, l.LimitType, l.CurrentValue, l.LimitValue)
}
