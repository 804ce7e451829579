package exchange

import "time"

// PlacedOrder is the exchange's acknowledgement of a forwarded order.
type PlacedOrder struct {
	ExchangeOrderID string    `json:"exchange_order_id"`
	ClientOrderID   string    `json:"client_order_id"`
	Status          string    `json:"status"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// AccountBalance is the account's settlement-currency balance.
type AccountBalance struct {
	Asset     string  `json:"asset"`
	Balance   float64 `json:"balance"`
	Available float64 `json:"available"`
}

// PositionRisk describes one open position as reported by the exchange.
type PositionRisk struct {
	Symbol        string  `json:"symbol"`
	Notional      float64 `json:"notional"` // signed: negative for shorts
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      float64 `json:"leverage"`
}

// Candle is one OHLCV bar, used for ATR computation.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}
