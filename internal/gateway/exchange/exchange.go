package exchange

import (
	"context"

	"riskcore/internal/types"
)

// Gateway is the single boundary this core uses to talk to an exchange.
// Retries, if any, belong to implementations, not to callers.
type Gateway interface {
	Name() string

	PlaceOrder(ctx context.Context, payload types.OrderPayload) (PlacedOrder, error)

	CancelAllOrders(ctx context.Context, symbol string) error

	AccountBalance(ctx context.Context) (AccountBalance, error)

	PositionRisk(ctx context.Context) ([]PositionRisk, error)

	LastPrice(ctx context.Context, symbol string) (float64, error)

	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}
