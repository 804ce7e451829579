package tpsl

import (
	"github.com/shopspring/decimal"

	"riskcore/internal/types"
)

// relativePrice offsets entry by a signed fraction in the direction of
// profit for the given side. Positive pct moves toward profit, negative
// toward loss.
func relativePrice(entry, pct float64, side types.Side) float64 {
	e := decimal.NewFromFloat(entry)
	p := decimal.NewFromFloat(pct)
	if side == types.SideSell {
		p = p.Neg()
	}
	out, _ := e.Mul(decimal.NewFromInt(1).Add(p)).Float64()
	return out
}

// AdjustForTrailing proposes a new stop price once unrealized profit has
// passed the activation threshold. The stop only ever ratchets in the
// trade's favor: a candidate that would loosen the current stop is refused.
func AdjustForTrailing(pnlPct, currentSLPct, entryPrice, highWaterMark float64, side types.Side, activationPct, distancePct float64) (float64, bool) {
	if pnlPct < activationPct || entryPrice <= 0 || highWaterMark <= 0 {
		return 0, false
	}

	hwm := decimal.NewFromFloat(highWaterMark)
	dist := decimal.NewFromFloat(distancePct)
	entry := decimal.NewFromFloat(entryPrice)
	cur := decimal.NewFromFloat(currentSLPct)
	one := decimal.NewFromInt(1)

	var candidate, current decimal.Decimal
	switch side {
	case types.SideBuy:
		candidate = hwm.Mul(one.Sub(dist))
		current = entry.Mul(one.Sub(cur))
		if candidate.LessThanOrEqual(current) {
			return 0, false
		}
	case types.SideSell:
		candidate = hwm.Mul(one.Add(dist))
		current = entry.Mul(one.Add(cur))
		if candidate.GreaterThanOrEqual(current) {
			return 0, false
		}
	default:
		return 0, false
	}

	out, _ := candidate.Float64()
	return out, true
}
