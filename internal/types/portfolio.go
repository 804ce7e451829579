package types

import "time"

// PortfolioSnapshot is a point-in-time view of the trading account. Snapshots
// are immutable once published: consumers read them, never mutate them.
type PortfolioSnapshot struct {
	Balance       float64            `json:"balance"`
	TotalExposure float64            `json:"total_exposure"`
	Positions     map[string]float64 `json:"positions"` // symbol -> signed notional
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	PeakBalance   float64            `json:"peak_balance"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Equity returns balance plus unrealized P&L.
func (p PortfolioSnapshot) Equity() float64 {
	return p.Balance + p.UnrealizedPnL
}

// DrawdownPct returns the percentage decline of current equity from the peak
// balance. Never negative; zero when no peak is recorded.
func (p PortfolioSnapshot) DrawdownPct() float64 {
	if p.PeakBalance <= 0 {
		return 0
	}
	dd := (p.PeakBalance - p.Equity()) / p.PeakBalance * 100
	if dd < 0 {
		return 0
	}
	return dd
}

// Notional returns the signed notional held for a symbol, 0 when not held.
func (p PortfolioSnapshot) Notional(symbol string) float64 {
	if p.Positions == nil {
		return 0
	}
	return p.Positions[symbol]
}

// HeatMetrics aggregates the portfolio's risk posture. CurrentDrawdown
// tracks the latest snapshot; MaxDrawdown is a monotonic high-water mark
// maintained by the safeguard manager.
type HeatMetrics struct {
	TotalExposure   float64   `json:"total_exposure"`
	PositionCount   int       `json:"position_count"`
	DailyLoss       float64   `json:"daily_loss"`
	CurrentDrawdown float64   `json:"current_drawdown"`
	MaxDrawdown     float64   `json:"max_drawdown"`
	LastUpdated     time.Time `json:"last_updated"`
}
