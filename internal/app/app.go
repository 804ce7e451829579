package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"riskcore/internal/allocation"
	rccfg "riskcore/internal/config"
	"riskcore/internal/consensus"
	"riskcore/internal/gateway/eventsink"
	"riskcore/internal/idempotency"
	"riskcore/internal/logger"
	"riskcore/internal/perf"
	"riskcore/internal/portfolio"
	"riskcore/internal/safeguard"
	riskhttp "riskcore/internal/transport/http"
)

// App owns application-level orchestration: build the dependency graph,
// then run the HTTP server and the background loops until shutdown.
type App struct {
	cfg       *rccfg.Config
	server    *riskhttp.Server
	portfolio *portfolio.Store
	guards    *safeguard.Manager
	consensus *consensus.Engine
	events    *eventsink.Queue
	idem      idempotency.Store
	tracker   perf.Tracker
	sampler   allocation.Sampler
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *rccfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts every service and blocks until ctx is cancelled or one of
// them fails. The event queue and idempotency store are flushed on the
// way out.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.events.Close()
	defer func() {
		if err := a.idem.Close(); err != nil {
			logger.Warnf("Idempotency store close: %v", err)
		}
	}()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("✓ HTTP API listening on %s", a.server.Addr())
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		a.portfolio.Run(ctx, time.Duration(a.cfg.Portfolio.RefreshIntervalSeconds)*time.Second)
		return nil
	})

	group.Go(func() error {
		a.consensus.Run(ctx)
		return nil
	})

	group.Go(func() error {
		a.watchDrawdown(ctx)
		return nil
	})

	group.Go(func() error {
		a.warmupWinRates(ctx)
		return nil
	})

	return group.Wait()
}

// watchDrawdown re-evaluates the automatic kill-switch triggers against
// each refreshed snapshot.
func (a *App) watchDrawdown(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := a.portfolio.Get()
			if err != nil {
				continue
			}
			a.guards.CheckDrawdownLimits(snap)
		}
	}
}
