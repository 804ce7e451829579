package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config at path, merges any `include:` files listed in
// it (relative to the including file), applies environment overrides and
// defaults, then validates.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	files, err := resolveIncludes(abs)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	flattenConfigKeys("", v.AllSettings(), setKeys)
	applyEnvOverrides(&cfg, setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

// resolveIncludes returns the include files (depth-first) followed by the
// root file itself, so the root wins on conflicting keys.
func resolveIncludes(path string) ([]string, error) {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes := tmp.GetStringSlice("include")
	dir := filepath.Dir(path)
	ordered := make([]string, 0, len(includes)+1)
	for _, inc := range includes {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		ordered = append(ordered, filepath.Clean(inc))
	}
	return append(ordered, path), nil
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}

// applyEnvOverrides lets operators override the risk limits without touching
// the config files. RISKCORE_MAX_DRAWDOWN_PCT=8 beats both file and default.
func applyEnvOverrides(cfg *Config, keys keySet) {
	overrideFloat := func(env, key string, target *float64) {
		raw, ok := os.LookupEnv("RISKCORE_" + env)
		if !ok {
			return
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return
		}
		*target = val
		keys.mark(key)
	}
	overrideInt := func(env, key string, target *int) {
		raw, ok := os.LookupEnv("RISKCORE_" + env)
		if !ok {
			return
		}
		val, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return
		}
		*target = val
		keys.mark(key)
	}

	overrideFloat("MAX_DRAWDOWN_PCT", "risk.max_drawdown_pct", &cfg.Risk.MaxDrawdownPct)
	overrideFloat("MAX_PER_TRADE_PCT", "risk.max_per_trade_pct", &cfg.Risk.MaxPerTradePct)
	overrideFloat("MIN_MARGIN_BUFFER_USDT", "risk.min_margin_buffer_usdt", &cfg.Risk.MinMarginBufferUSDT)
	overrideFloat("KELLY_FRACTION_CAP", "risk.kelly_fraction_cap", &cfg.Risk.KellyFractionCap)
	overrideFloat("MAX_PORTFOLIO_LEVERAGE", "risk.max_portfolio_leverage", &cfg.Risk.MaxPortfolioLeverage)
	overrideFloat("MAX_POSITION_RISK", "risk.max_position_risk", &cfg.Risk.MaxPositionRisk)
	overrideInt("PORTFOLIO_REFRESH_SECONDS", "portfolio.refresh_interval_seconds", &cfg.Portfolio.RefreshIntervalSeconds)

	if raw, ok := os.LookupEnv("RISKCORE_EXCHANGE_API_KEY"); ok {
		cfg.Exchange.APIKey = raw
		keys.mark("exchange.api_key")
	}
	if raw, ok := os.LookupEnv("RISKCORE_EXCHANGE_API_SECRET"); ok {
		cfg.Exchange.APISecret = raw
		keys.mark("exchange.api_secret")
	}
}
