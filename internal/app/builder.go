package app

import (
	"context"
	"fmt"
	"time"

	"riskcore/internal/allocation"
	"riskcore/internal/bus"
	rccfg "riskcore/internal/config"
	"riskcore/internal/consensus"
	"riskcore/internal/gateway/binance"
	"riskcore/internal/gateway/eventsink"
	"riskcore/internal/gateway/exchange"
	"riskcore/internal/idempotency"
	"riskcore/internal/logger"
	"riskcore/internal/orchestrator"
	"riskcore/internal/perf"
	"riskcore/internal/portfolio"
	"riskcore/internal/risk"
	"riskcore/internal/safeguard"
	"riskcore/internal/tpsl"
	riskhttp "riskcore/internal/transport/http"
)

// AppBuilder assembles the service graph from configuration. The *Fn
// fields are seams for tests to substitute fakes without touching the
// wiring order.
type AppBuilder struct {
	cfg *rccfg.Config

	gatewayFn   func(rccfg.ExchangeConfig) (exchange.Gateway, error)
	eventSinkFn func(rccfg.EventSinkConfig) (eventsink.Sink, error)
	perfFn      func(rccfg.EventSinkConfig) (perf.Tracker, error)
	idemFn      func(rccfg.SafeguardsConfig) idempotency.Store
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *rccfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		gatewayFn:   buildGateway,
		eventSinkFn: buildEventSink,
		perfFn:      buildPerfTracker,
		idemFn:      buildIdempotencyStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithGateway substitutes the exchange gateway, used by tests.
func WithGateway(gw exchange.Gateway) AppBuilderOption {
	return func(b *AppBuilder) {
		b.gatewayFn = func(rccfg.ExchangeConfig) (exchange.Gateway, error) { return gw, nil }
	}
}

func buildGateway(cfg rccfg.ExchangeConfig) (exchange.Gateway, error) {
	return binance.New(cfg)
}

func buildEventSink(cfg rccfg.EventSinkConfig) (eventsink.Sink, error) {
	switch cfg.Mode {
	case "sqlite":
		return eventsink.NewStore(cfg.DBPath)
	case "http":
		return eventsink.NewHTTPSink(cfg.Endpoint)
	case "none":
		return eventsink.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown eventsink mode %q", cfg.Mode)
	}
}

// buildPerfTracker shares the eventsink sqlite directory; a failure to
// open degrades to the in-memory tracker rather than blocking startup.
func buildPerfTracker(cfg rccfg.EventSinkConfig) (perf.Tracker, error) {
	if cfg.Mode != "sqlite" {
		return perf.NewMemory(), nil
	}
	store, err := perf.NewStore(cfg.DBPath + ".perf")
	if err != nil {
		logger.Warnf("Perf tracker unavailable, using in-memory: %v", err)
		return perf.NewMemory(), nil
	}
	return store, nil
}

func buildIdempotencyStore(cfg rccfg.SafeguardsConfig) idempotency.Store {
	return idempotency.Open(cfg.IdempotencyPath)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	gw, err := b.gatewayFn(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("build exchange gateway: %w", err)
	}
	logger.Infof("✓ Exchange gateway ready: %s (testnet=%v)", gw.Name(), cfg.Exchange.Testnet)

	sink, err := b.eventSinkFn(cfg.EventSink)
	if err != nil {
		return nil, fmt.Errorf("build event sink: %w", err)
	}
	events := eventsink.NewQueue(sink, cfg.EventSink.QueueSize)

	tracker, err := b.perfFn(cfg.EventSink)
	if err != nil {
		return nil, fmt.Errorf("build perf tracker: %w", err)
	}

	pf := portfolio.NewStore(gw, time.Duration(cfg.Portfolio.CacheTTLSeconds)*time.Second)
	guards := safeguard.NewManager(cfg.Safeguards)
	engine := risk.NewEngine(cfg.Risk)

	alloc := allocation.NewTable(cfg.Allocation)
	if err := alloc.Watch(cfg.Allocation.WatchPath); err != nil {
		logger.Warnf("Allocation watch on %s disabled: %v", cfg.Allocation.WatchPath, err)
	}
	seed := cfg.Allocation.ExplorationSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sampler := allocation.NewSampler(seed)

	idem := b.idemFn(cfg.Safeguards)
	orch := orchestrator.New(
		cfg.Risk, engine, pf, alloc, guards,
		idem, time.Duration(cfg.Safeguards.IdempotencyTTLSeconds)*time.Second,
		gw, events,
	)

	atr := tpsl.NewGatewayATR(gw, time.Duration(cfg.TPSL.ATRCacheTTLSeconds)*time.Second)
	calc := tpsl.NewCalculator(cfg.TPSL, tracker, atr)

	cons := consensus.NewEngine(cfg.Consensus)
	cons.SetApprovedHandler(func(p consensus.Proposal, res consensus.Resolution) {
		submitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := orch.SubmitOrder(submitCtx, p.ProposerID, p.Intent); err != nil {
			logger.Warnf("Approved proposal %s not executed: %v", p.ID, err)
		}
	})

	sessionBus := bus.NewManager(cfg.Bus.HistoryLimit)

	routes := riskhttp.NewRouter(orch, pf, guards, cons, calc, sessionBus)
	server, err := riskhttp.NewServer(riskhttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Routes: routes,
	})
	if err != nil {
		return nil, fmt.Errorf("build http server: %w", err)
	}

	return &App{
		cfg:       cfg,
		server:    server,
		portfolio: pf,
		guards:    guards,
		consensus: cons,
		events:    events,
		idem:      idem,
		tracker:   tracker,
		sampler:   sampler,
	}, nil
}
