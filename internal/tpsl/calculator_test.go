package tpsl

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskcore/internal/config"
	"riskcore/internal/gateway/exchange"
	"riskcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTPSLConfig() config.TPSLConfig {
	return config.TPSLConfig{
		BaseTPPct:              0.025,
		BaseSLPct:              0.015,
		MinTPPct:               0.015,
		MaxTPPct:               0.08,
		MinSLPct:               0.008,
		MaxSLPct:               0.04,
		MinRewardRisk:          1.5,
		TrailingActivationPct:  0.02,
		TrailingDistancePct:    0.012,
		MinTradesForWinRateAdj: 5,
	}
}

type fixedATR struct {
	value float64
	err   error
}

func (f fixedATR) ATR(context.Context, string) (float64, error) { return f.value, f.err }

type fixedPerf struct {
	rate   float64
	trades int
}

func (f fixedPerf) SymbolWinRate(context.Context, string, string) (float64, int, error) {
	return f.rate, f.trades, nil
}

func TestBaseCaseNoAdjustments(t *testing.T) {
	calc := NewCalculator(testTPSLConfig(), nil, nil)

	res, err := calc.Calculate(context.Background(), Input{
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		EntryPrice: 100,
		Confidence: 0.7,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.025, res.TPPct, 1e-9)
	assert.InDelta(t, 0.015, res.SLPct, 1e-9)
	assert.InDelta(t, 102.5, res.TPPrice, 1e-9)
	assert.InDelta(t, 98.5, res.SLPrice, 1e-9)
	assert.InDelta(t, 0.02, res.TrailingActivationPct, 1e-9)
	assert.InDelta(t, 0.012, res.TrailingDistancePct, 1e-9)
	assert.Empty(t, res.Reasoning)
}

func TestHighVolatilityWidensExits(t *testing.T) {
	calc := NewCalculator(testTPSLConfig(), nil, fixedATR{value: 3}) // 3% of entry

	res, err := calc.Calculate(context.Background(), Input{
		Symbol:     "ETHUSDT",
		Side:       types.SideSell,
		EntryPrice: 100,
		Confidence: 0.7,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.0375, res.TPPct, 1e-9)
	assert.InDelta(t, 0.0225, res.SLPct, 1e-9)
	assert.InDelta(t, 96.25, res.TPPrice, 1e-9, "sell profits downward")
	assert.InDelta(t, 102.25, res.SLPrice, 1e-9)
	assert.InDelta(t, 0.02*1.3, res.TrailingActivationPct, 1e-9)
	assert.Contains(t, res.Reasoning, "high volatility")
}

func TestATRErrorSkipsVolatilityScaling(t *testing.T) {
	calc := NewCalculator(testTPSLConfig(), nil, fixedATR{err: errors.New("klines down")})

	res, err := calc.Calculate(context.Background(), Input{
		Symbol: "BTCUSDT", Side: types.SideBuy, EntryPrice: 100, Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.025, res.TPPct, 1e-9)
}

func TestWinRateAdjustmentNeedsHistory(t *testing.T) {
	cfg := testTPSLConfig()

	// 3 trades is below the minimum, no adjustment.
	calc := NewCalculator(cfg, fixedPerf{rate: 0.8, trades: 3}, nil)
	res, err := calc.Calculate(context.Background(), Input{
		Symbol: "BTCUSDT", Side: types.SideBuy, EntryPrice: 100, AgentID: "alpha", Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.025, res.TPPct, 1e-9)

	calc = NewCalculator(cfg, fixedPerf{rate: 0.7, trades: 12}, nil)
	res, err = calc.Calculate(context.Background(), Input{
		Symbol: "BTCUSDT", Side: types.SideBuy, EntryPrice: 100, AgentID: "alpha", Confidence: 0.7,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.025*0.85, res.TPPct, 1e-9)
	// sl widened to 0.0165 then shrunk back to hold reward:risk.
	assert.InDelta(t, res.TPPct/1.5, res.SLPct, 1e-9)
	assert.Contains(t, res.Reasoning, "reward:risk")
	assert.InDelta(t, 0.02*0.85, res.TrailingActivationPct, 1e-9, "high win rate tightens trailing")
}

func TestRegimeAdjustments(t *testing.T) {
	calc := NewCalculator(testTPSLConfig(), nil, nil)

	res, err := calc.Calculate(context.Background(), Input{
		Symbol: "BTCUSDT", Side: types.SideBuy, EntryPrice: 100, Confidence: 0.7,
		Analysis: &MarketAnalysis{Trend: "up", RSI: 25},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.025*1.1*1.2, res.TPPct, 1e-9, "trend-aligned and RSI oversold stack")

	res, err = calc.Calculate(context.Background(), Input{
		Symbol: "BTCUSDT", Side: types.SideBuy, EntryPrice: 100, Confidence: 0.7,
		Analysis: &MarketAnalysis{Trend: "down"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.015*0.85, res.SLPct, 1e-9, "counter-trend tightens stop")
}

func TestRewardRiskInvariantAlwaysHolds(t *testing.T) {
	cfg := testTPSLConfig()
	for _, conf := range []float64{0.3, 0.6, 0.7, 0.9} {
		for _, atrVal := range []float64{0, 0.5, 1.5, 4} {
			calc := NewCalculator(cfg, fixedPerf{rate: 0.75, trades: 20}, fixedATR{value: atrVal})
			res, err := calc.Calculate(context.Background(), Input{
				Symbol: "BTCUSDT", Side: types.SideBuy, EntryPrice: 100, AgentID: "alpha", Confidence: conf,
			})
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.TPPct/res.SLPct, cfg.MinRewardRisk-1e-9)
			assert.GreaterOrEqual(t, res.TPPct, cfg.MinTPPct-1e-9)
			assert.LessOrEqual(t, res.TPPct, cfg.MaxTPPct+1e-9)
		}
	}
}

func TestCalculateRejectsBadInput(t *testing.T) {
	calc := NewCalculator(testTPSLConfig(), nil, nil)

	_, err := calc.Calculate(context.Background(), Input{Side: types.SideBuy, EntryPrice: 0})
	assert.Error(t, err)

	_, err = calc.Calculate(context.Background(), Input{Side: "HOLD", EntryPrice: 100})
	assert.Error(t, err)
}

func TestAdjustForTrailingRatchetsOnly(t *testing.T) {
	// Below activation: no move.
	_, ok := AdjustForTrailing(0.01, 0.015, 100, 105, types.SideBuy, 0.02, 0.012)
	assert.False(t, ok)

	stop, ok := AdjustForTrailing(0.05, 0.015, 100, 105, types.SideBuy, 0.02, 0.012)
	require.True(t, ok)
	assert.InDelta(t, 105*0.988, stop, 1e-9)

	// High-water mark slipped back: candidate would loosen the stop, refuse.
	slPct := (100 - stop) / 100
	_, ok = AdjustForTrailing(0.04, slPct, 100, 104, types.SideBuy, 0.02, 0.012)
	assert.False(t, ok)

	// Short side ratchets downward.
	stop, ok = AdjustForTrailing(0.05, 0.015, 100, 95, types.SideSell, 0.02, 0.012)
	require.True(t, ok)
	assert.InDelta(t, 95*1.012, stop, 1e-9)
}

type candleGateway struct {
	exchange.Gateway
	calls   int
	candles []exchange.Candle
	err     error
}

func (c *candleGateway) Candles(context.Context, string, string, int) ([]exchange.Candle, error) {
	c.calls++
	return c.candles, c.err
}

func rangeCandles(n int) []exchange.Candle {
	out := make([]exchange.Candle, n)
	for i := range out {
		base := 100 + float64(i%5)
		out[i] = exchange.Candle{High: base + 2, Low: base - 2, Close: base}
	}
	return out
}

func TestGatewayATRCachesPerSymbol(t *testing.T) {
	gw := &candleGateway{candles: rangeCandles(42)}
	src := NewGatewayATR(gw, time.Minute)

	first, err := src.ATR(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Greater(t, first, 0.0)

	second, err := src.ATR(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, gw.calls, "second read served from cache")

	_, err = src.ATR(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, gw.calls)
}

func TestGatewayATRNeedsEnoughCandles(t *testing.T) {
	gw := &candleGateway{candles: rangeCandles(5)}
	src := NewGatewayATR(gw, time.Minute)

	_, err := src.ATR(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}
