package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"riskcore/internal/config"
	"riskcore/internal/types"
)

// Default stop distance assumed when an intent carries no stop loss. Sizing
// must stay conservative without one.
const defaultStopLossPct = 0.02

const defaultExpectedWinRate = 0.55

const defaultRewardToRisk = 2.0

// Engine is a stateless evaluator: a pure function of (snapshot, intent,
// allocation cap). It holds configured limits only — no mutable state, so a
// single instance is safe for any number of concurrent callers.
type Engine struct {
	limits config.RiskConfig
	nowFn  func() time.Time
}

func NewEngine(limits config.RiskConfig) *Engine {
	return &Engine{limits: limits, nowFn: time.Now}
}

// KellyFraction computes the optimal bet fraction for a win probability and
// reward:risk ratio, floored at zero.
func KellyFraction(winRate, rewardToRisk float64) float64 {
	if rewardToRisk <= 0 {
		return 0
	}
	k := winRate - (1-winRate)/rewardToRisk
	if k < 0 {
		return 0
	}
	return k
}

// Evaluate runs the per-order checks in a fixed order, short-circuiting on
// the first failure: drawdown, margin buffer, Kelly-capped per-trade
// exposure. On approval the order is sized so that
// adjusted_size * stop_loss_pct * adjusted_leverage <= max_loss_per_trade.
func (e *Engine) Evaluate(snap types.PortfolioSnapshot, intent types.OrderIntent, allocationUSD, lastPrice float64) types.RiskCheckResult {
	dd := snap.DrawdownPct()
	if dd > e.limits.MaxDrawdownPct {
		return types.RiskCheckResult{
			Approved: false,
			Reason:   fmt.Sprintf("Drawdown %.1f%% > %.1f%%", dd, e.limits.MaxDrawdownPct),
		}
	}

	if snap.Balance < e.limits.MinMarginBufferUSDT {
		return types.RiskCheckResult{
			Approved: false,
			Reason:   fmt.Sprintf("Margin buffer %.2f < %.2f USDT", snap.Balance, e.limits.MinMarginBufferUSDT),
		}
	}

	notional := e.notionalFor(intent, lastPrice)
	if notional <= 0 {
		return types.RiskCheckResult{
			Approved: false,
			Reason:   "Notional unresolved: no quantity, notional or reference price",
		}
	}

	winRate := intent.ExpectedWinRate
	if winRate <= 0 {
		winRate = defaultExpectedWinRate
	}
	rr := intent.RewardToRisk
	if rr <= 0 {
		rr = defaultRewardToRisk
	}
	kelly := KellyFraction(winRate, rr)
	capFraction := e.limits.MaxPerTradePct / 100
	if kelly < capFraction {
		capFraction = kelly
	}
	capUSD := allocationUSD * capFraction
	if notional > capUSD {
		return types.RiskCheckResult{
			Approved: false,
			Reason:   fmt.Sprintf("Notional %.2f > per-trade cap %.2f (kelly=%.3f, alloc=%.2f)", notional, capUSD, kelly, allocationUSD),
		}
	}

	leverage := intent.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	if leverage > e.limits.MaxLeverage {
		leverage = e.limits.MaxLeverage
	}
	slPct := stopLossPct(intent, lastPrice)
	size, maxLoss := sizeForLossCap(notional, slPct, leverage, e.limits.MaxLossPerTradeUSD)

	return types.RiskCheckResult{
		Approved:         true,
		OrderID:          fmt.Sprintf("%s:%d", intent.Symbol, e.nowFn().UnixMilli()),
		AdjustedSize:     size,
		AdjustedLeverage: leverage,
		MaxLossUSD:       maxLoss,
	}
}

// notionalFor resolves the order's notional: quantity * reference price when
// a quantity is given, else the declared notional.
func (e *Engine) notionalFor(intent types.OrderIntent, lastPrice float64) float64 {
	ref := intent.ReferencePrice(lastPrice)
	if intent.Quantity > 0 && ref > 0 {
		return intent.Quantity * ref
	}
	return intent.Notional
}

// stopLossPct derives the stop distance as a fraction of entry price.
func stopLossPct(intent types.OrderIntent, lastPrice float64) float64 {
	ref := intent.ReferencePrice(lastPrice)
	if intent.StopLoss > 0 && ref > 0 {
		pct := (ref - intent.StopLoss) / ref
		if intent.Side == types.SideSell {
			pct = -pct
		}
		if pct > 0 {
			return pct
		}
	}
	return defaultStopLossPct
}

// sizeForLossCap shrinks the notional until potential loss at the stop fits
// under the per-trade loss cap. Decimal math keeps the resize exact at the
// boundary.
func sizeForLossCap(notional, slPct, leverage, maxLossUSD float64) (size, maxLoss float64) {
	if slPct <= 0 || leverage <= 0 {
		return notional, 0
	}
	n := decimal.NewFromFloat(notional)
	loss := n.Mul(decimal.NewFromFloat(slPct)).Mul(decimal.NewFromFloat(leverage))
	lossCap := decimal.NewFromFloat(maxLossUSD)
	if maxLossUSD > 0 && loss.GreaterThan(lossCap) {
		n = lossCap.Div(decimal.NewFromFloat(slPct).Mul(decimal.NewFromFloat(leverage)))
		loss = lossCap
	}
	size, _ = n.Float64()
	maxLoss, _ = loss.Float64()
	return size, maxLoss
}
