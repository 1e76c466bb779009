package feed

import (
	"context"
	"fmt"

	"risk_engine/internal/core"
	apperrors "risk_engine/pkg/errors"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// BinanceAccount binds a risk engine user to a USDⓈ-M futures account
type BinanceAccount struct {
	UserID    string
	APIKey    string
	SecretKey string
}

type positionRiskFunc func(ctx context.Context, client *futures.Client) ([]*futures.PositionRisk, error)

// BinanceProvider reads open futures positions through the PositionRisk endpoint
type BinanceProvider struct {
	clients map[string]*futures.Client
	fetch   positionRiskFunc
	logger  core.ILogger
}

// NewBinanceProvider creates a provider with one futures client per configured account
func NewBinanceProvider(accounts []BinanceAccount, useTestnet bool, logger core.ILogger) (*BinanceProvider, error) {
	futures.UseTestnet = useTestnet

	clients := make(map[string]*futures.Client, len(accounts))
	for _, acc := range accounts {
		if acc.APIKey == "" || acc.SecretKey == "" {
			return nil, fmt.Errorf("binance account for user %q is missing credentials", acc.UserID)
		}
		clients[acc.UserID] = futures.NewClient(acc.APIKey, acc.SecretKey)
	}

	return &BinanceProvider{
		clients: clients,
		fetch: func(ctx context.Context, client *futures.Client) ([]*futures.PositionRisk, error) {
			return client.NewGetPositionRiskService().Do(ctx)
		},
		logger: logger.WithField("component", "binance_position_feed"),
	}, nil
}

// GetPositions returns the non-flat positions of the user's account.
// Users without a configured account have no positions.
func (p *BinanceProvider) GetPositions(ctx context.Context, userID string) ([]core.Position, error) {
	client, ok := p.clients[userID]
	if !ok {
		p.logger.Debug("No binance account bound to user", "user_id", userID)
		return nil, nil
	}

	risks, err := p.fetch(ctx, client)
	if err != nil {
		return nil, apperrors.Unavailable("binance", err)
	}

	positions := make([]core.Position, 0, len(risks))
	for _, r := range risks {
		pos, open, err := fromPositionRisk(userID, r)
		if err != nil {
			p.logger.Warn("Skipping unparsable position risk", "user_id", userID, "symbol", r.Symbol, "error", err)
			continue
		}
		if open {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

// CheckHealth pings the futures API with the first configured account
func (p *BinanceProvider) CheckHealth(ctx context.Context) error {
	for _, client := range p.clients {
		return client.NewPingService().Do(ctx)
	}
	return nil
}

// fromPositionRisk converts one PositionRisk row. open is false for flat rows.
func fromPositionRisk(userID string, r *futures.PositionRisk) (pos core.Position, open bool, err error) {
	amt, err := decimal.NewFromString(r.PositionAmt)
	if err != nil {
		return core.Position{}, false, fmt.Errorf("position amount: %w", err)
	}
	if amt.IsZero() {
		return core.Position{}, false, nil
	}

	fields := map[string]string{
		"entry_price":       r.EntryPrice,
		"mark_price":        r.MarkPrice,
		"unrealized_profit": r.UnRealizedProfit,
		"leverage":          r.Leverage,
	}
	parsed := make(map[string]decimal.Decimal, len(fields))
	for name, raw := range fields {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return core.Position{}, false, fmt.Errorf("%s: %w", name, err)
		}
		parsed[name] = d
	}

	side := core.SideLong
	if amt.IsNegative() {
		side = core.SideShort
	}
	size := amt.Abs()
	mark := parsed["mark_price"]
	leverage := parsed["leverage"]

	// Cross-margined rows report zero isolated margin; use initial margin instead.
	margin := decimal.Zero
	if r.MarginType == "isolated" {
		if m, err := decimal.NewFromString(r.IsolatedMargin); err == nil {
			margin = m
		}
	}
	if margin.IsZero() && leverage.IsPositive() {
		margin = size.Mul(mark).Div(leverage)
	}

	liq := decimal.Zero
	if r.LiquidationPrice != "" {
		if l, err := decimal.NewFromString(r.LiquidationPrice); err == nil {
			liq = l
		}
	}

	return core.Position{
		ID:               fmt.Sprintf("%s:%s:%s", userID, r.Symbol, side),
		UserID:           userID,
		Symbol:           r.Symbol,
		Side:             side,
		Size:             size.InexactFloat64(),
		EntryPrice:       parsed["entry_price"].InexactFloat64(),
		CurrentPrice:     mark.InexactFloat64(),
		Leverage:         leverage.InexactFloat64(),
		MarginUsed:       margin.InexactFloat64(),
		UnrealizedPnL:    parsed["unrealized_profit"].InexactFloat64(),
		LiquidationPrice: liq.InexactFloat64(),
	}, true, nil
}
