package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Safeguards.validate(); err != nil {
		return err
	}
	if err := c.Consensus.validate(); err != nil {
		return err
	}
	if err := c.Allocation.validate(); err != nil {
		return err
	}
	if err := c.TPSL.validate(); err != nil {
		return err
	}
	if err := c.EventSink.validate(); err != nil {
		return err
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxDrawdownPct <= 0 || r.MaxDrawdownPct > 100 {
		return fmt.Errorf("risk.max_drawdown_pct must be in (0, 100]")
	}
	if r.MaxPerTradePct <= 0 || r.MaxPerTradePct > 100 {
		return fmt.Errorf("risk.max_per_trade_pct must be in (0, 100]")
	}
	if r.KellyFractionCap <= 0 || r.KellyFractionCap > 1 {
		return fmt.Errorf("risk.kelly_fraction_cap must be in (0, 1]")
	}
	if r.MaxPortfolioLeverage < 1 {
		return fmt.Errorf("risk.max_portfolio_leverage must be >= 1")
	}
	if r.MaxPositionRisk <= 0 || r.MaxPositionRisk > 1 {
		return fmt.Errorf("risk.max_position_risk must be in (0, 1]")
	}
	if r.MaxLeverage < 1 {
		return fmt.Errorf("risk.max_leverage must be >= 1")
	}
	return nil
}

func (s *SafeguardsConfig) validate() error {
	if s.BreakerThreshold <= 0 {
		return fmt.Errorf("safeguards.breaker_threshold must be > 0")
	}
	if s.MaxOrdersPerMinute <= 0 {
		return fmt.Errorf("safeguards.max_orders_per_minute must be > 0")
	}
	if s.IdempotencyTTLSeconds <= 0 {
		return fmt.Errorf("safeguards.idempotency_ttl_seconds must be > 0")
	}
	return nil
}

func (c *ConsensusConfig) validate() error {
	if c.MinVotes < 1 {
		return fmt.Errorf("consensus.min_votes must be >= 1")
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("consensus.threshold must be in (0, 1]")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("consensus.timeout_seconds must be > 0")
	}
	return nil
}

func (a *AllocationConfig) validate() error {
	if a.DefaultFraction <= 0 || a.DefaultFraction > 1 {
		return fmt.Errorf("allocation.default_fraction must be in (0, 1]")
	}
	for agent, frac := range a.Overrides {
		if strings.TrimSpace(agent) == "" {
			return fmt.Errorf("allocation.overrides contains empty agent id")
		}
		if frac <= 0 || frac > 1 {
			return fmt.Errorf("allocation.overrides.%s must be in (0, 1]", agent)
		}
	}
	return nil
}

func (t *TPSLConfig) validate() error {
	if t.MinTPPct >= t.MaxTPPct {
		return fmt.Errorf("tpsl.min_tp_pct must be < tpsl.max_tp_pct")
	}
	if t.MinSLPct >= t.MaxSLPct {
		return fmt.Errorf("tpsl.min_sl_pct must be < tpsl.max_sl_pct")
	}
	if t.MinRewardRisk < 1 {
		return fmt.Errorf("tpsl.min_reward_risk must be >= 1")
	}
	return nil
}

func (e *EventSinkConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(e.Mode)) {
	case "sqlite", "none":
	case "http":
		if strings.TrimSpace(e.Endpoint) == "" {
			return fmt.Errorf("eventsink.endpoint required when eventsink.mode=http")
		}
	default:
		return fmt.Errorf("eventsink.mode must be one of sqlite|http|none")
	}
	return nil
}
