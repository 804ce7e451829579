package tpsl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"riskcore/internal/config"
	"riskcore/internal/logger"
	"riskcore/internal/types"
)

// PerformanceReader supplies historical win rates per agent and symbol.
type PerformanceReader interface {
	SymbolWinRate(ctx context.Context, agentID, symbol string) (rate float64, trades int, err error)
}

// MarketAnalysis is the optional regime input to a calculation.
type MarketAnalysis struct {
	Trend string  `json:"trend,omitempty"` // "up" | "down" | ""
	RSI   float64 `json:"rsi,omitempty"`
}

// Input describes one exit-plan calculation.
type Input struct {
	Symbol     string          `json:"symbol"`
	Side       types.Side      `json:"side"`
	EntryPrice float64         `json:"entry_price"`
	AgentID    string          `json:"agent_id,omitempty"`
	Confidence float64         `json:"confidence"`
	Analysis   *MarketAnalysis `json:"market_analysis,omitempty"`
}

// Result is the computed exit plan. Reasoning concatenates the adjustments
// that were applied; it is observability text, never parsed.
type Result struct {
	TPPct                 float64 `json:"tp_pct"`
	SLPct                 float64 `json:"sl_pct"`
	TPPrice               float64 `json:"tp_price"`
	SLPrice               float64 `json:"sl_price"`
	TrailingActivationPct float64 `json:"trailing_activation_pct"`
	TrailingDistancePct   float64 `json:"trailing_distance_pct"`
	Reasoning             string  `json:"reasoning"`
}

// Calculator derives take-profit/stop-loss/trailing parameters from
// volatility, agent history, confidence and market regime. Stateless apart
// from the ATR cache inside its ATR source.
type Calculator struct {
	cfg  config.TPSLConfig
	perf PerformanceReader
	atr  ATRSource
}

func NewCalculator(cfg config.TPSLConfig, perf PerformanceReader, atr ATRSource) *Calculator {
	return &Calculator{cfg: cfg, perf: perf, atr: atr}
}

func (c *Calculator) Calculate(ctx context.Context, in Input) (Result, error) {
	if in.EntryPrice <= 0 {
		return Result{}, fmt.Errorf("tpsl: entry price must be > 0")
	}
	if !in.Side.Valid() {
		return Result{}, fmt.Errorf("tpsl: side %q invalid", in.Side)
	}

	tp := c.cfg.BaseTPPct
	sl := c.cfg.BaseSLPct
	var reasons []string

	atrPct := c.volatility(ctx, in.Symbol, in.EntryPrice)
	switch {
	case atrPct > 0.02:
		tp *= 1.5
		sl *= 1.5
		reasons = append(reasons, fmt.Sprintf("high volatility (ATR %.2f%%): widened x1.5", atrPct*100))
	case atrPct > 0.01:
		factor := 1.0 + (atrPct-0.01)/0.01*0.25
		tp *= factor
		sl *= factor
		reasons = append(reasons, fmt.Sprintf("moderate volatility (ATR %.2f%%): scaled x%.2f", atrPct*100, factor))
	case atrPct > 0:
		tp *= 0.8
		sl *= 0.8
		reasons = append(reasons, fmt.Sprintf("low volatility (ATR %.2f%%): tightened x0.8", atrPct*100))
	}

	winRate, trades := c.winRate(ctx, in.AgentID, in.Symbol)
	seasoned := trades >= c.cfg.MinTradesForWinRateAdj
	if seasoned {
		switch {
		case winRate > 0.65:
			tp *= 0.85
			sl *= 1.1
			reasons = append(reasons, fmt.Sprintf("win rate %.0f%%: locking profit faster", winRate*100))
		case winRate < 0.45:
			tp *= 1.2
			sl *= 0.85
			reasons = append(reasons, fmt.Sprintf("win rate %.0f%%: wider target, tighter stop", winRate*100))
		}
	}

	switch {
	case in.Confidence >= 0.85:
		tp *= 1.15
		reasons = append(reasons, fmt.Sprintf("confidence %.2f: extended target", in.Confidence))
	case in.Confidence > 0 && in.Confidence < 0.65:
		tp *= 0.9
		sl *= 0.9
		reasons = append(reasons, fmt.Sprintf("confidence %.2f: conservative exits", in.Confidence))
	}

	if in.Analysis != nil {
		switch {
		case trendAligned(in.Side, in.Analysis.Trend):
			tp *= 1.1
			reasons = append(reasons, "trend-aligned: extended target")
		case counterTrend(in.Side, in.Analysis.Trend):
			sl *= 0.85
			reasons = append(reasons, "counter-trend: tightened stop")
		}
		if rsiFavors(in.Side, in.Analysis.RSI) {
			tp *= 1.2
			reasons = append(reasons, fmt.Sprintf("RSI %.0f favors entry: extended target", in.Analysis.RSI))
		}
	}

	tp = clamp(tp, c.cfg.MinTPPct, c.cfg.MaxTPPct)
	sl = clamp(sl, c.cfg.MinSLPct, c.cfg.MaxSLPct)
	if tp/sl < c.cfg.MinRewardRisk {
		sl = tp / c.cfg.MinRewardRisk
		reasons = append(reasons, fmt.Sprintf("stop shrunk to hold reward:risk >= %.1f", c.cfg.MinRewardRisk))
	}

	activation := c.cfg.TrailingActivationPct
	distance := c.cfg.TrailingDistancePct
	if atrPct > 0.02 {
		activation *= 1.3
		distance *= 1.3
		reasons = append(reasons, "high volatility: trailing widened x1.3")
	}
	if seasoned && winRate > 0.65 {
		activation *= 0.85
		distance *= 0.85
		reasons = append(reasons, "high win rate: trailing tightened x0.85")
	}

	return Result{
		TPPct:                 tp,
		SLPct:                 sl,
		TPPrice:               relativePrice(in.EntryPrice, tp, in.Side),
		SLPrice:               relativePrice(in.EntryPrice, -sl, in.Side),
		TrailingActivationPct: activation,
		TrailingDistancePct:   distance,
		Reasoning:             strings.Join(reasons, "; "),
	}, nil
}

func (c *Calculator) volatility(ctx context.Context, symbol string, entry float64) float64 {
	if c.atr == nil || entry <= 0 {
		return 0
	}
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	atr, err := c.atr.ATR(fetchCtx, symbol)
	if err != nil {
		logger.Debugf("tpsl: ATR unavailable for %s, skipping volatility scaling: %v", symbol, err)
		return 0
	}
	return atr / entry
}

func (c *Calculator) winRate(ctx context.Context, agentID, symbol string) (float64, int) {
	if c.perf == nil || strings.TrimSpace(agentID) == "" {
		return 0, 0
	}
	rate, trades, err := c.perf.SymbolWinRate(ctx, agentID, symbol)
	if err != nil {
		logger.Debugf("tpsl: win rate unavailable for %s/%s: %v", agentID, symbol, err)
		return 0, 0
	}
	return rate, trades
}

func trendAligned(side types.Side, trend string) bool {
	trend = strings.ToLower(strings.TrimSpace(trend))
	return (side == types.SideBuy && trend == "up") || (side == types.SideSell && trend == "down")
}

func counterTrend(side types.Side, trend string) bool {
	trend = strings.ToLower(strings.TrimSpace(trend))
	return (side == types.SideBuy && trend == "down") || (side == types.SideSell && trend == "up")
}

// rsiFavors reports an RSI extreme in the trade's favor: oversold for a buy,
// overbought for a sell.
func rsiFavors(side types.Side, rsi float64) bool {
	if rsi <= 0 {
		return false
	}
	return (side == types.SideBuy && rsi < 30) || (side == types.SideSell && rsi > 70)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
