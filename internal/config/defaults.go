package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9992"

	defaultExchangeName    = "binance"
	defaultExchangeRPS     = 8.0
	defaultExchangeBurst   = 16
	defaultExchangeTimeout = 15

	defaultPortfolioRefresh = 180
	defaultPortfolioTTL     = 300

	defaultRiskMaxDrawdownPct   = 10
	defaultRiskMaxPerTradePct   = 20
	defaultRiskMinMarginBuffer  = 50
	defaultRiskKellyCap         = 0.5
	defaultRiskPortfolioLev     = 3
	defaultRiskMaxPositionRisk  = 0.25
	defaultRiskMaxLossPerTrade  = 50
	defaultRiskMaxLeverage      = 10
	defaultSafeBreakerThreshold = 5
	defaultSafeBreakerTimeout   = 60
	defaultSafeBreakerHalfOpen  = 2
	defaultSafeMaxDrawdownPct   = 5
	defaultSafeDailyLossPct     = 3
	defaultSafeDailyLossUSD     = 250
	defaultSafeOrdersPerMinute  = 20
	defaultSafeIdempotencyTTL   = 120
	defaultSafeIdempotencyPath  = "/data/db/idempotency"

	defaultConsensusMinVotes  = 3
	defaultConsensusThreshold = 0.67
	defaultConsensusTimeout   = 30
	defaultConsensusSweep     = 5

	defaultTPSLBaseTP        = 0.025
	defaultTPSLBaseSL        = 0.015
	defaultTPSLMinTP         = 0.015
	defaultTPSLMaxTP         = 0.08
	defaultTPSLMinSL         = 0.008
	defaultTPSLMaxSL         = 0.04
	defaultTPSLMinRR         = 1.5
	defaultTPSLTrailActivate = 0.02
	defaultTPSLTrailDistance = 0.012
	defaultTPSLATRCacheTTL   = 300
	defaultTPSLMinTrades     = 5

	defaultSinkMode      = "sqlite"
	defaultSinkDBPath    = "/data/db/decisions.db"
	defaultSinkQueueSize = 256

	defaultBusHistoryLimit = 50
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Portfolio.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Safeguards.applyDefaults(keys)
	c.Consensus.applyDefaults(keys)
	c.Allocation.applyDefaults(keys)
	c.TPSL.applyDefaults(keys)
	c.EventSink.applyDefaults(keys)
	c.Bus.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		floatFieldDefault("exchange.requests_per_second", &e.RequestsPerSecond, defaultExchangeRPS),
		intFieldDefault("exchange.burst", &e.Burst, defaultExchangeBurst),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, defaultExchangeTimeout),
	)
}

func (p *PortfolioConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("portfolio.refresh_interval_seconds", &p.RefreshIntervalSeconds, defaultPortfolioRefresh),
		intFieldDefault("portfolio.cache_ttl_seconds", &p.CacheTTLSeconds, defaultPortfolioTTL),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.max_drawdown_pct", &r.MaxDrawdownPct, defaultRiskMaxDrawdownPct),
		floatFieldDefault("risk.max_per_trade_pct", &r.MaxPerTradePct, defaultRiskMaxPerTradePct),
		floatFieldDefault("risk.min_margin_buffer_usdt", &r.MinMarginBufferUSDT, defaultRiskMinMarginBuffer),
		floatFieldDefault("risk.kelly_fraction_cap", &r.KellyFractionCap, defaultRiskKellyCap),
		floatFieldDefault("risk.max_portfolio_leverage", &r.MaxPortfolioLeverage, defaultRiskPortfolioLev),
		floatFieldDefault("risk.max_position_risk", &r.MaxPositionRisk, defaultRiskMaxPositionRisk),
		floatFieldDefault("risk.max_loss_per_trade_usd", &r.MaxLossPerTradeUSD, defaultRiskMaxLossPerTrade),
		floatFieldDefault("risk.max_leverage", &r.MaxLeverage, defaultRiskMaxLeverage),
	)
}

func (s *SafeguardsConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("safeguards.breaker_threshold", &s.BreakerThreshold, defaultSafeBreakerThreshold),
		intFieldDefault("safeguards.breaker_timeout_seconds", &s.BreakerTimeoutSeconds, defaultSafeBreakerTimeout),
		intFieldDefault("safeguards.breaker_half_open_max", &s.BreakerHalfOpenMax, defaultSafeBreakerHalfOpen),
		floatFieldDefault("safeguards.max_drawdown_pct", &s.MaxDrawdownPct, defaultSafeMaxDrawdownPct),
		floatFieldDefault("safeguards.daily_loss_limit_pct", &s.DailyLossLimitPct, defaultSafeDailyLossPct),
		floatFieldDefault("safeguards.daily_loss_limit_usd", &s.DailyLossLimitUSD, defaultSafeDailyLossUSD),
		intFieldDefault("safeguards.max_orders_per_minute", &s.MaxOrdersPerMinute, defaultSafeOrdersPerMinute),
		intFieldDefault("safeguards.idempotency_ttl_seconds", &s.IdempotencyTTLSeconds, defaultSafeIdempotencyTTL),
		stringFieldDefault("safeguards.idempotency_path", &s.IdempotencyPath, defaultSafeIdempotencyPath),
	)
}

func (c *ConsensusConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("consensus.min_votes", &c.MinVotes, defaultConsensusMinVotes),
		floatFieldDefault("consensus.threshold", &c.Threshold, defaultConsensusThreshold),
		intFieldDefault("consensus.timeout_seconds", &c.TimeoutSeconds, defaultConsensusTimeout),
		intFieldDefault("consensus.sweep_interval_seconds", &c.SweepIntervalSeconds, defaultConsensusSweep),
	)
}

func (a *AllocationConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	if a.Overrides == nil {
		a.Overrides = make(map[string]float64)
	}
	// Default fraction falls back to an equal split across configured agents.
	if a.DefaultFraction <= 0 && !keys.isSet("allocation.default_fraction") {
		if n := len(a.Agents); n > 0 {
			a.DefaultFraction = 1.0 / float64(n)
		} else {
			a.DefaultFraction = 1.0
		}
	}
}

func (t *TPSLConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("tpsl.base_tp_pct", &t.BaseTPPct, defaultTPSLBaseTP),
		floatFieldDefault("tpsl.base_sl_pct", &t.BaseSLPct, defaultTPSLBaseSL),
		floatFieldDefault("tpsl.min_tp_pct", &t.MinTPPct, defaultTPSLMinTP),
		floatFieldDefault("tpsl.max_tp_pct", &t.MaxTPPct, defaultTPSLMaxTP),
		floatFieldDefault("tpsl.min_sl_pct", &t.MinSLPct, defaultTPSLMinSL),
		floatFieldDefault("tpsl.max_sl_pct", &t.MaxSLPct, defaultTPSLMaxSL),
		floatFieldDefault("tpsl.min_reward_risk", &t.MinRewardRisk, defaultTPSLMinRR),
		floatFieldDefault("tpsl.trailing_activation_pct", &t.TrailingActivationPct, defaultTPSLTrailActivate),
		floatFieldDefault("tpsl.trailing_distance_pct", &t.TrailingDistancePct, defaultTPSLTrailDistance),
		intFieldDefault("tpsl.atr_cache_ttl_seconds", &t.ATRCacheTTLSeconds, defaultTPSLATRCacheTTL),
		intFieldDefault("tpsl.min_trades_for_win_rate_adj", &t.MinTradesForWinRateAdj, defaultTPSLMinTrades),
	)
}

func (e *EventSinkConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("eventsink.mode", &e.Mode, defaultSinkMode),
		stringFieldDefault("eventsink.db_path", &e.DBPath, defaultSinkDBPath),
		intFieldDefault("eventsink.queue_size", &e.QueueSize, defaultSinkQueueSize),
	)
}

func (b *BusConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("bus.history_limit", &b.HistoryLimit, defaultBusHistoryLimit),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}
