package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"risk_engine/internal/core"
	apperrors "risk_engine/pkg/errors"
	rhttp "risk_engine/pkg/http"

	"github.com/shopspring/decimal"
)

// wirePosition is the JSON shape served by the position service.
// Monetary fields accept both strings and numbers.
type wirePosition struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Side             string          `json:"side"`
	Size             decimal.Decimal `json:"size"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	CurrentPrice     decimal.Decimal `json:"current_price"`
	Leverage         decimal.Decimal `json:"leverage"`
	MarginUsed       decimal.Decimal `json:"margin_used"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	OpenedAt         time.Time       `json:"opened_at"`
}

type wireActivity struct {
	RealizedLoss   decimal.Decimal `json:"realized_loss"`
	TradedNotional decimal.Decimal `json:"traded_notional"`
}

// HTTPProvider reads positions and daily activity from a REST position service
type HTTPProvider struct {
	client *rhttp.Client
	logger core.ILogger
}

// NewHTTPProvider creates a provider against baseURL
func NewHTTPProvider(baseURL string, timeout time.Duration, token string, logger core.ILogger) *HTTPProvider {
	return &HTTPProvider{
		client: rhttp.NewClient(strings.TrimRight(baseURL, "/"), timeout, rhttp.BearerSigner{Token: token}),
		logger: logger.WithField("component", "http_position_feed"),
	}
}

// GetPositions fetches GET /positions?user_id=
func (p *HTTPProvider) GetPositions(ctx context.Context, userID string) ([]core.Position, error) {
	var wire []wirePosition
	if err := p.client.GetJSON(ctx, "/positions", map[string]string{"user_id": userID}, &wire); err != nil {
		return nil, apperrors.Unavailable("position feed", err)
	}

	positions := make([]core.Position, 0, len(wire))
	for _, w := range wire {
		pos, err := w.toPosition(userID)
		if err != nil {
			p.logger.Warn("Skipping malformed position", "user_id", userID, "position_id", w.ID, "error", err)
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// DailyActivity fetches GET /activity?user_id=&day=YYYY-MM-DD
func (p *HTTPProvider) DailyActivity(ctx context.Context, userID string, day time.Time) (core.DailyActivity, error) {
	var wire wireActivity
	params := map[string]string{"user_id": userID, "day": day.UTC().Format("2006-01-02")}
	if err := p.client.GetJSON(ctx, "/activity", params, &wire); err != nil {
		return core.DailyActivity{}, apperrors.Unavailable("trade ledger", err)
	}
	return core.DailyActivity{
		RealizedLoss:   wire.RealizedLoss.Abs().InexactFloat64(),
		TradedNotional: wire.TradedNotional.Abs().InexactFloat64(),
	}, nil
}

// CheckHealth probes GET /health on the position service
func (p *HTTPProvider) CheckHealth(ctx context.Context) error {
	_, err := p.client.Get(ctx, "/health", nil)
	return err
}

func (w wirePosition) toPosition(userID string) (core.Position, error) {
	side := core.PositionSide(strings.ToLower(w.Side))
	if side != core.SideLong && side != core.SideShort {
		return core.Position{}, fmt.Errorf("unknown side %q", w.Side)
	}
	if w.Symbol == "" {
		return core.Position{}, fmt.Errorf("missing symbol")
	}
	return core.Position{
		ID:               w.ID,
		UserID:           userID,
		Symbol:           w.Symbol,
		Side:             side,
		Size:             w.Size.Abs().InexactFloat64(),
		EntryPrice:       w.EntryPrice.InexactFloat64(),
		CurrentPrice:     w.CurrentPrice.InexactFloat64(),
		Leverage:         w.Leverage.InexactFloat64(),
		MarginUsed:       w.MarginUsed.InexactFloat64(),
		UnrealizedPnL:    w.UnrealizedPnL.InexactFloat64(),
		LiquidationPrice: w.LiquidationPrice.InexactFloat64(),
		OpenedAt:         w.OpenedAt,
	}, nil
}
