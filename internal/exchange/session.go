package exchange

import (
	"context"
	"fmt"

	"polymarket-mm/pkg/types"
)

// MarketClient adapts the generic REST Client to a single market session,
// binding the market's tick size and neg-risk flag so the strategy engine
// can place/cancel orders by asset ID alone (the shape the box-spread
// engine was designed against). It satisfies the strategy package's
// ExchangeClient interface structurally — no import of that package is
// needed here.
type MarketClient struct {
	client *Client
	market types.MarketInfo
}

// NewMarketClient binds a REST client to one market session.
func NewMarketClient(client *Client, market types.MarketInfo) *MarketClient {
	return &MarketClient{client: client, market: market}
}

// PlaceLimit places a single resting order for the given asset.
func (m *MarketClient) PlaceLimit(ctx context.Context, asset string, side types.Side, price, size float64, tif types.TimeInForce) (string, error) {
	order := types.UserOrder{
		TokenID:   asset,
		Price:     price,
		Size:      size,
		Side:      side,
		OrderType: orderTypeForTIF(tif),
		TickSize:  m.market.TickSize,
	}

	results, err := m.client.PostOrders(ctx, []types.UserOrder{order}, m.market.NegRisk)
	if err != nil {
		return "", fmt.Errorf("place limit: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("place limit: no result returned")
	}
	r := results[0]
	if !r.Success || r.OrderID == "" {
		return "", fmt.Errorf("place limit rejected: %s", r.ErrorMsg)
	}
	return r.OrderID, nil
}

// Cancel cancels a single order by ID. An order the exchange already
// considers gone (matched or previously cancelled) is treated as success.
func (m *MarketClient) Cancel(ctx context.Context, orderID string) (bool, error) {
	if _, err := m.client.CancelOrders(ctx, []string{orderID}); err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	return true, nil
}

// CancelAll cancels every open order for this session's wallet, across all markets.
func (m *MarketClient) CancelAll(ctx context.Context) (int, error) {
	resp, err := m.client.CancelAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("cancel all: %w", err)
	}
	return len(resp.Canceled), nil
}

// CancelMarket cancels every open order for this session's market. The
// asset parameter is accepted for interface symmetry with the spec's
// per-asset cancel operations, but orders are cancelled by condition ID
// since that is the unit the exchange's cancel-market-orders endpoint uses.
func (m *MarketClient) CancelMarket(ctx context.Context, asset string) (int, error) {
	_ = asset
	resp, err := m.client.CancelMarketOrders(ctx, m.market.ConditionID)
	if err != nil {
		return 0, fmt.Errorf("cancel market: %w", err)
	}
	return len(resp.Canceled), nil
}

// PlaceMarket places an aggressive order capped at priceCap, implemented as
// a fill-or-kill limit — used only by flatten-on-shutdown.
func (m *MarketClient) PlaceMarket(ctx context.Context, asset string, side types.Side, size, priceCap float64) (string, error) {
	order := types.UserOrder{
		TokenID:   asset,
		Price:     priceCap,
		Size:      size,
		Side:      side,
		OrderType: types.OrderTypeFOK,
		TickSize:  m.market.TickSize,
	}

	results, err := m.client.PostOrders(ctx, []types.UserOrder{order}, m.market.NegRisk)
	if err != nil {
		return "", fmt.Errorf("place market: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("place market: no result returned")
	}
	r := results[0]
	if !r.Success || r.OrderID == "" {
		return "", fmt.Errorf("place market rejected: %s", r.ErrorMsg)
	}
	return r.OrderID, nil
}

func orderTypeForTIF(tif types.TimeInForce) types.OrderType {
	switch tif {
	case types.TIFFOK:
		return types.OrderTypeFOK
	case types.TIFIOC:
		return types.OrderTypeIOC
	default:
		return types.OrderTypeGTC
	}
}
