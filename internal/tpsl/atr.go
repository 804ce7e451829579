package tpsl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"riskcore/internal/gateway/exchange"
)

// ATRSource yields the current Average True Range for a symbol, in quote
// currency units.
type ATRSource interface {
	ATR(ctx context.Context, symbol string) (float64, error)
}

const (
	atrPeriod   = 14
	atrInterval = "15m"
)

type atrEntry struct {
	value     float64
	fetchedAt time.Time
}

// GatewayATR computes ATR from exchange klines and caches per symbol. Candle
// fetches dominate latency here, so the cache TTL trades freshness against
// exchange weight.
type GatewayATR struct {
	gw    exchange.Gateway
	ttl   time.Duration
	nowFn func() time.Time

	mu    sync.Mutex
	cache map[string]atrEntry
}

func NewGatewayATR(gw exchange.Gateway, ttl time.Duration) *GatewayATR {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &GatewayATR{
		gw:    gw,
		ttl:   ttl,
		nowFn: time.Now,
		cache: make(map[string]atrEntry),
	}
}

func (g *GatewayATR) ATR(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	if e, ok := g.cache[symbol]; ok && g.nowFn().Sub(e.fetchedAt) < g.ttl {
		g.mu.Unlock()
		return e.value, nil
	}
	g.mu.Unlock()

	candles, err := g.gw.Candles(ctx, symbol, atrInterval, atrPeriod*3)
	if err != nil {
		return 0, fmt.Errorf("fetch candles for %s: %w", symbol, err)
	}
	if len(candles) <= atrPeriod {
		return 0, fmt.Errorf("only %d candles for %s, need > %d", len(candles), symbol, atrPeriod)
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	series := talib.Atr(highs, lows, closes, atrPeriod)
	atr := series[len(series)-1]
	if atr <= 0 {
		return 0, fmt.Errorf("degenerate ATR for %s", symbol)
	}

	g.mu.Lock()
	g.cache[symbol] = atrEntry{value: atr, fetchedAt: g.nowFn()}
	g.mu.Unlock()
	return atr, nil
}
