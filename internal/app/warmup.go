package app

import (
	"context"
	"time"

	"riskcore/internal/allocation"
	"riskcore/internal/logger"
	"riskcore/internal/perf"
)

// warmupSymbolsPerAgent bounds how many win-rate rows each agent pulls at
// startup; the sampler rotates which symbols get primed across restarts.
const warmupSymbolsPerAgent = 3

// warmupWinRates touches the win-rate store for a sample of open-position
// symbols per configured agent, so the first TP/SL calculations hit warm
// queries instead of cold reads.
func (a *App) warmupWinRates(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	snap, err := a.portfolio.GetFresh(fetchCtx)
	if err != nil {
		logger.Debugf("Win-rate warmup skipped, no snapshot: %v", err)
		return
	}
	pool := make([]string, 0, len(snap.Positions))
	for symbol := range snap.Positions {
		pool = append(pool, symbol)
	}
	touched := primeWinRates(ctx, a.cfg.Allocation.Agents, pool, a.sampler, a.tracker)
	logger.Debugf("Win-rate warmup touched %d agent/symbol pairs", touched)
}

// primeWinRates queries the tracker for each agent over a sampled slice of
// the symbol pool and reports how many lookups succeeded.
func primeWinRates(ctx context.Context, agents, pool []string, sampler allocation.Sampler, tracker perf.Tracker) int {
	if sampler == nil || tracker == nil {
		return 0
	}
	touched := 0
	for _, agent := range agents {
		for _, symbol := range sampler.Sample(pool, warmupSymbolsPerAgent) {
			if _, _, err := tracker.SymbolWinRate(ctx, agent, symbol); err != nil {
				logger.Debugf("Warmup win rate %s/%s: %v", agent, symbol, err)
				continue
			}
			touched++
		}
	}
	return touched
}
