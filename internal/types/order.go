package types

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the two known values.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType distinguishes market from limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderIntent is a proposed trade awaiting risk clearance. Intents are
// consumed once by the orchestrator and never mutated after creation.
type OrderIntent struct {
	Symbol          string         `json:"symbol"`
	Side            Side           `json:"side"`
	Type            OrderType      `json:"type"`
	Notional        float64        `json:"notional"`
	Quantity        float64        `json:"quantity,omitempty"`
	Price           float64        `json:"price,omitempty"`
	TakeProfit      float64        `json:"take_profit,omitempty"`
	StopLoss        float64        `json:"stop_loss,omitempty"`
	Leverage        float64        `json:"leverage,omitempty"`
	ExpectedWinRate float64        `json:"expected_win_rate,omitempty"`
	RewardToRisk    float64        `json:"reward_to_risk,omitempty"`
	ClientMetadata  map[string]any `json:"client_metadata,omitempty"`
}

// ReferencePrice returns the intent's limit price when set, else the given
// last known market price.
func (o OrderIntent) ReferencePrice(lastPrice float64) float64 {
	if o.Price > 0 {
		return o.Price
	}
	return lastPrice
}

// RiskCheckResult is the outcome of one risk evaluation. Reason is a short
// machine-parsable string intended for logging and display only.
type RiskCheckResult struct {
	Approved         bool    `json:"approved"`
	Reason           string  `json:"reason,omitempty"`
	OrderID          string  `json:"order_id,omitempty"`
	AdjustedSize     float64 `json:"adjusted_size,omitempty"`
	AdjustedLeverage float64 `json:"adjusted_leverage,omitempty"`
	MaxLossUSD       float64 `json:"max_loss_usd,omitempty"`
}

// OrderPayload is the decorated order forwarded to the exchange gateway after
// every risk gate has passed.
type OrderPayload struct {
	OrderID         string         `json:"order_id"`
	BotID           string         `json:"bot_id"`
	Symbol          string         `json:"symbol"`
	Side            Side           `json:"side"`
	Type            OrderType      `json:"type"`
	Notional        float64        `json:"notional"`
	Quantity        float64        `json:"quantity"`
	Price           float64        `json:"price,omitempty"`
	Leverage        float64        `json:"leverage,omitempty"`
	StopLossPrice   float64        `json:"stopLossPrice,omitempty"`
	TakeProfitPrice float64        `json:"takeProfitPrice,omitempty"`
	ClientMetadata  map[string]any `json:"client_metadata,omitempty"`
}
