package config

import "strings"

// Config is the root configuration for the risk gatekeeper service.
type Config struct {
	App        AppConfig        `toml:"app"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Portfolio  PortfolioConfig  `toml:"portfolio"`
	Risk       RiskConfig       `toml:"risk"`
	Safeguards SafeguardsConfig `toml:"safeguards"`
	Consensus  ConsensusConfig  `toml:"consensus"`
	Allocation AllocationConfig `toml:"allocation"`
	TPSL       TPSLConfig       `toml:"tpsl"`
	EventSink  EventSinkConfig  `toml:"eventsink"`
	Bus        BusConfig        `toml:"bus"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type ExchangeConfig struct {
	Name              string  `toml:"name"`
	APIKey            string  `toml:"api_key"`
	APISecret         string  `toml:"api_secret"`
	Testnet           bool    `toml:"testnet"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

type PortfolioConfig struct {
	RefreshIntervalSeconds int `toml:"refresh_interval_seconds"`
	CacheTTLSeconds        int `toml:"cache_ttl_seconds"`
}

// RiskConfig carries the per-order and portfolio-level guardrail limits.
// Percent fields are whole percents (10 == 10%); fraction fields are 0..1.
type RiskConfig struct {
	MaxDrawdownPct       float64 `toml:"max_drawdown_pct"`
	MaxPerTradePct       float64 `toml:"max_per_trade_pct"`
	MinMarginBufferUSDT  float64 `toml:"min_margin_buffer_usdt"`
	KellyFractionCap     float64 `toml:"kelly_fraction_cap"`
	MaxPortfolioLeverage float64 `toml:"max_portfolio_leverage"`
	MaxPositionRisk      float64 `toml:"max_position_risk"`
	MaxLossPerTradeUSD   float64 `toml:"max_loss_per_trade_usd"`
	MaxLeverage          float64 `toml:"max_leverage"`
}

// SafeguardsConfig drives the circuit breakers, the kill switch and the order
// rate limiter. The two daily-loss limits are intentionally independent: one
// absolute, one relative to balance. Either tripping activates the kill switch.
type SafeguardsConfig struct {
	BreakerThreshold      int     `toml:"breaker_threshold"`
	BreakerTimeoutSeconds int     `toml:"breaker_timeout_seconds"`
	BreakerHalfOpenMax    int     `toml:"breaker_half_open_max"`
	MaxDrawdownPct        float64 `toml:"max_drawdown_pct"`
	DailyLossLimitPct     float64 `toml:"daily_loss_limit_pct"`
	DailyLossLimitUSD     float64 `toml:"daily_loss_limit_usd"`
	MaxOrdersPerMinute    int     `toml:"max_orders_per_minute"`
	IdempotencyTTLSeconds int     `toml:"idempotency_ttl_seconds"`
	IdempotencyPath       string  `toml:"idempotency_path"`
}

type ConsensusConfig struct {
	MinVotes             int     `toml:"min_votes"`
	Threshold            float64 `toml:"threshold"`
	TimeoutSeconds       int     `toml:"timeout_seconds"`
	SweepIntervalSeconds int     `toml:"sweep_interval_seconds"`
}

// AllocationConfig bounds each agent's capital sub-allocation. Agents missing
// from Overrides get DefaultFraction; when DefaultFraction is unset it falls
// back to an equal split across the configured agent list.
type AllocationConfig struct {
	Agents          []string           `toml:"agents"`
	DefaultFraction float64            `toml:"default_fraction"`
	Overrides       map[string]float64 `toml:"overrides"`
	ExplorationSeed int64              `toml:"exploration_seed"`
	WatchPath       string             `toml:"watch_path"`
}

type TPSLConfig struct {
	BaseTPPct              float64 `toml:"base_tp_pct"`
	BaseSLPct              float64 `toml:"base_sl_pct"`
	MinTPPct               float64 `toml:"min_tp_pct"`
	MaxTPPct               float64 `toml:"max_tp_pct"`
	MinSLPct               float64 `toml:"min_sl_pct"`
	MaxSLPct               float64 `toml:"max_sl_pct"`
	MinRewardRisk          float64 `toml:"min_reward_risk"`
	TrailingActivationPct  float64 `toml:"trailing_activation_pct"`
	TrailingDistancePct    float64 `toml:"trailing_distance_pct"`
	ATRCacheTTLSeconds     int     `toml:"atr_cache_ttl_seconds"`
	MinTradesForWinRateAdj int     `toml:"min_trades_for_win_rate_adj"`
}

type EventSinkConfig struct {
	Mode      string `toml:"mode"` // "sqlite" | "http" | "none"
	Endpoint  string `toml:"endpoint"`
	DBPath    string `toml:"db_path"`
	QueueSize int    `toml:"queue_size"`
}

type BusConfig struct {
	HistoryLimit int `toml:"history_limit"`
}

// keySet tracks the field paths explicitly present in the config files, so
// defaults never clobber an intentional zero value.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault describes the default rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
