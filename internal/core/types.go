package core

import (
	"time"
)

// PositionSide is the direction of an open position
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// RiskLevel buckets a 0-100 risk score
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// LimitType is the closed set of quantities a RiskLimit can bound
type LimitType string

const (
	LimitTypePositionSize LimitType = "position_size"
	LimitTypeExposure     LimitType = "exposure"
	LimitTypeLeverage     LimitType = "leverage"
	LimitTypeDailyLoss    LimitType = "daily_loss"
	LimitTypeDailyVolume  LimitType = "daily_volume"
)

// LimitTypes lists every LimitType in declaration order
var LimitTypes = []LimitType{
	LimitTypePositionSize,
	LimitTypeExposure,
	LimitTypeLeverage,
	LimitTypeDailyLoss,
	LimitTypeDailyVolume,
}

// Valid reports whether t is a known limit type
func (t LimitType) Valid() bool {
	for _, lt := range LimitTypes {
		if lt == t {
			return true
		}
	}
	return false
}

// LimitStatus is the lifecycle state of a RiskLimit
type LimitStatus string

const (
	LimitStatusActive   LimitStatus = "active"
	LimitStatusBreached LimitStatus = "breached"
	LimitStatusDisabled LimitStatus = "disabled"
)

// Valid reports whether s is a known limit status
func (s LimitStatus) Valid() bool {
	switch s {
	case LimitStatusActive, LimitStatusBreached, LimitStatusDisabled:
		return true
	}
	return false
}

// AlertSeverity grades a RiskAlert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityError    AlertSeverity = "error"
	SeverityCritical AlertSeverity = "critical"
)

// Valid reports whether s is a known severity
func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// AlertType classifies the condition behind a RiskAlert
type AlertType string

const (
	AlertTypePositionLimit       AlertType = "position_limit"
	AlertTypeExposureLimit       AlertType = "exposure_limit"
	AlertTypeMarginCall          AlertType = "margin_call"
	AlertTypeRiskThreshold       AlertType = "risk_threshold"
	AlertTypeComplianceViolation AlertType = "compliance_violation"
)

// StressScenario tags a stress test run. The shock itself is uniform.
type StressScenario string

const (
	ScenarioMarketCrash          StressScenario = "market_crash"
	ScenarioFlashCrash           StressScenario = "flash_crash"
	ScenarioCorrelationBreakdown StressScenario = "correlation_breakdown"
	ScenarioHighVolatility       StressScenario = "high_volatility"
	ScenarioCustom               StressScenario = "custom"
)

// Valid reports whether s is a known scenario
func (s StressScenario) Valid() bool {
	switch s {
	case ScenarioMarketCrash, ScenarioFlashCrash, ScenarioCorrelationBreakdown,
		ScenarioHighVolatility, ScenarioCustom:
		return true
	}
	return false
}

// MarginCallStatus is the lifecycle state of a MarginCall
type MarginCallStatus string

const (
	MarginCallPending  MarginCallStatus = "pending"
	MarginCallResolved MarginCallStatus = "resolved"
)

// Position is an immutable snapshot of one open position
type Position struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"side"`
	Size             float64      `json:"size"`
	EntryPrice       float64      `json:"entry_price"`
	CurrentPrice     float64      `json:"current_price"`
	Leverage         float64      `json:"leverage"`
	MarginUsed       float64      `json:"margin_used"`
	UnrealizedPnL    float64      `json:"unrealized_pnl"`
	LiquidationPrice float64      `json:"liquidation_price,omitempty"`
	OpenedAt         time.Time    `json:"opened_at"`
}

// Value is the unsigned notional of the position at the current price
func (p Position) Value() float64 {
	return p.Size * p.CurrentPrice
}

// RiskExposure is the per-position risk record
type RiskExposure struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Symbol             string    `json:"symbol"`
	PositionID         string    `json:"position_id"`
	PositionValue      float64   `json:"position_value"`
	ExposurePercentage float64   `json:"exposure_percentage"`
	RiskScore          float64   `json:"risk_score"`
	LeverageUsed       float64   `json:"leverage_used"`
	MarginUsed         float64   `json:"margin_used"`
	AvailableMargin    float64   `json:"available_margin"`
	RiskLevel          RiskLevel `json:"risk_level"`
	CalculatedAt       time.Time `json:"calculated_at"`
}

// PortfolioRisk is the portfolio-level metric snapshot
type PortfolioRisk struct {
	UserID              string    `json:"user_id"`
	TotalPortfolioValue float64   `json:"total_portfolio_value"`
	TotalExposure       float64   `json:"total_exposure"`
	ExposurePercentage  float64   `json:"exposure_percentage"`
	RiskScore           float64   `json:"risk_score"`
	MaxDrawdown         float64   `json:"max_drawdown"`
	SharpeRatio         float64   `json:"sharpe_ratio"`
	VaR95               float64   `json:"var95"`
	VaR99               float64   `json:"var99"`
	ConcentrationRisk   float64   `json:"concentration_risk"`
	CorrelationRisk     float64   `json:"correlation_risk"`
	LiquidityRisk       float64   `json:"liquidity_risk"`
	MarketRisk          float64   `json:"market_risk"`
	RiskLevel           RiskLevel `json:"risk_level"`
	CalculatedAt        time.Time `json:"calculated_at"`
}

// RiskLimit is a user-defined bound on one quantity
type RiskLimit struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Symbol       string      `json:"symbol"`
	LimitType    LimitType   `json:"limit_type"`
	LimitValue   float64     `json:"limit_value"`
	CurrentValue float64     `json:"current_value"`
	Status       LimitStatus `json:"status"`
	AutoClose    bool        `json:"auto_close"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// RiskAlert is an append-only record of a detected condition
type RiskAlert struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	AlertType  AlertType         `json:"alert_type"`
	Severity   AlertSeverity     `json:"severity"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Symbol     string            `json:"symbol,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	DedupeKey  string            `json:"dedupe_key"`
	IsRead     bool              `json:"is_read"`
	IsResolved bool              `json:"is_resolved"`
	CreatedAt  time.Time         `json:"created_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// MarginCall records a position whose equity fell below maintenance margin
type MarginCall struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	PositionID       string           `json:"position_id"`
	Symbol           string           `json:"symbol"`
	MarginRequired   float64          `json:"margin_required"`
	MarginAvailable  float64          `json:"margin_available"`
	MarginShortfall  float64          `json:"margin_shortfall"`
	LiquidationPrice float64          `json:"liquidation_price"`
	CurrentPrice     float64          `json:"current_price"`
	Status           MarginCallStatus `json:"status"`
	IssuedAt         time.Time        `json:"issued_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
}

// RiskAssessment is the full per-user assessment returned to callers and cached
type RiskAssessment struct {
	UserID          string         `json:"user_id"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	RiskScore       float64        `json:"risk_score"`
	PortfolioRisk   PortfolioRisk  `json:"portfolio_risk"`
	PositionRisks   []RiskExposure `json:"position_risks"`
	Recommendations []string       `json:"recommendations"`
	ActionRequired  bool           `json:"action_required"`
	CalculatedAt    time.Time      `json:"calculated_at"`
}

// Clone returns a copy that shares no slices with a
func (a RiskAssessment) Clone() RiskAssessment {
	if a.PositionRisks != nil {
		a.PositionRisks = append([]RiskExposure(nil), a.PositionRisks...)
	}
	if a.Recommendations != nil {
		a.Recommendations = append([]string(nil), a.Recommendations...)
	}
	return a
}

// CachedAssessment is an assessment with its cache bookkeeping
type CachedAssessment struct {
	Assessment RiskAssessment `json:"assessment"`
	ComputedAt time.Time      `json:"computed_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// PositionStressResult is the per-position breakdown of a stress test
type PositionStressResult struct {
	Symbol         string  `json:"symbol"`
	PositionID     string  `json:"position_id"`
	OriginalValue  float64 `json:"original_value"`
	StressedValue  float64 `json:"stressed_value"`
	Loss           float64 `json:"loss"`
	LossPercentage float64 `json:"loss_percentage"`
}

// StressTestResult is the outcome of a uniform shock
type StressTestResult struct {
	UserID               string                 `json:"user_id"`
	Scenario             StressScenario         `json:"scenario"`
	ShockPercentage      float64                `json:"shock_percentage"`
	TotalStressLoss      float64                `json:"total_stress_loss"`
	StressLossPercentage float64                `json:"stress_loss_percentage"`
	PositionResults      []PositionStressResult `json:"position_results"`
	TestedAt             time.Time              `json:"tested_at"`
}

// LimitFilter narrows limit listings. Zero values match everything.
type LimitFilter struct {
	Symbol    string
	LimitType LimitType
}

// Matches reports whether l passes the filter
func (f LimitFilter) Matches(l RiskLimit) bool {
	if f.Symbol != "" && f.Symbol != l.Symbol {
		return false
	}
	if f.LimitType != "" && f.LimitType != l.LimitType {
		return false
	}
	return true
}

// AlertFilter narrows alert listings
type AlertFilter struct {
	Severity AlertSeverity
	Resolved *bool
}

// Matches reports whether a passes the filter
func (f AlertFilter) Matches(a RiskAlert) bool {
	if f.Severity != "" && f.Severity != a.Severity {
		return false
	}
	if f.Resolved != nil && *f.Resolved != a.IsResolved {
		return false
	}
	return true
}

// MarginCallFilter narrows margin call listings
type MarginCallFilter struct {
	Status MarginCallStatus
}

// Matches reports whether m passes the filter
func (f MarginCallFilter) Matches(m MarginCall) bool {
	return f.Status == "" || f.Status == m.Status
}

// DailyActivity is a user's realized trading activity for one UTC day
type DailyActivity struct {
	RealizedLoss   float64
	TradedNotional float64
}
