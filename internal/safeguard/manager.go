package safeguard

import (
	"fmt"
	"sync"
	"time"

	"riskcore/internal/config"
	"riskcore/internal/logger"
	"riskcore/internal/pkg/circuit"
	"riskcore/internal/risk"
	"riskcore/internal/types"
)

// Breaker names. Each guards one dependency class.
const (
	BreakerAPI        = "api"
	BreakerOrders     = "orders"
	BreakerMarketData = "market_data"
)

// Manager owns the service-level trip wires: per-dependency circuit
// breakers, the kill switch, heat metrics and the order rate window.
// The kill switch latches; only an explicit Deactivate releases it.
type Manager struct {
	cfg config.SafeguardsConfig

	breakers map[string]*circuit.Breaker

	mu          sync.Mutex
	killActive  bool
	killReason  string
	killedAt    time.Time
	heat        types.HeatMetrics
	orderTimes  []time.Time
	dailyStart  float64
	dailyAnchor time.Time

	nowFn func() time.Time
}

func NewManager(cfg config.SafeguardsConfig) *Manager {
	timeout := time.Duration(cfg.BreakerTimeoutSeconds) * time.Second
	m := &Manager{
		cfg:      cfg,
		breakers: make(map[string]*circuit.Breaker),
		nowFn:    time.Now,
	}
	for _, name := range []string{BreakerAPI, BreakerOrders, BreakerMarketData} {
		m.breakers[name] = circuit.NewBreaker(name, cfg.BreakerThreshold, timeout, cfg.BreakerHalfOpenMax)
	}
	return m
}

// Breaker returns the named breaker, nil when unknown.
func (m *Manager) Breaker(name string) *circuit.Breaker {
	return m.breakers[name]
}

// ActivateKillSwitch halts all trading until a manual release.
func (m *Manager) ActivateKillSwitch(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.killActive {
		return
	}
	m.killActive = true
	m.killReason = reason
	m.killedAt = m.nowFn()
	logger.Errorf("KILL SWITCH ACTIVATED: %s", reason)
}

// DeactivateKillSwitch releases the halt. Automatic triggers never call
// this; resuming trading is an operator decision.
func (m *Manager) DeactivateKillSwitch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.killActive {
		return
	}
	m.killActive = false
	m.killReason = ""
	logger.Warnf("Kill switch deactivated, trading resumed")
}

// KillSwitch reports the latch state and the reason it tripped.
func (m *Manager) KillSwitch() (active bool, reason string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killActive, m.killReason, m.killedAt
}

// UpdateHeatMetrics folds a fresh portfolio snapshot into the heat view.
// MaxDrawdown only ever rises.
func (m *Manager) UpdateHeatMetrics(snap types.PortfolioSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	m.rollDailyAnchorLocked(now, snap.Equity())

	m.heat.TotalExposure = snap.TotalExposure
	m.heat.PositionCount = len(snap.Positions)
	m.heat.DailyLoss = m.dailyStart - snap.Equity()
	m.heat.CurrentDrawdown = snap.DrawdownPct()
	if m.heat.CurrentDrawdown > m.heat.MaxDrawdown {
		m.heat.MaxDrawdown = m.heat.CurrentDrawdown
	}
	m.heat.LastUpdated = now
}

// CheckDrawdownLimits folds a fresh snapshot into the heat view and trips
// the kill switch when it breaches the emergency drawdown limit or either
// daily-loss limit. Both loss limits are independent; the stricter one wins.
func (m *Manager) CheckDrawdownLimits(snap types.PortfolioSnapshot) {
	m.UpdateHeatMetrics(snap)

	m.mu.Lock()
	_, reason := m.heatBreachLocked()
	m.mu.Unlock()
	if reason != "" {
		m.ActivateKillSwitch(reason)
	}
}

// heatBreachLocked reports the first heat limit the current metrics breach.
// The drawdown check uses the latest snapshot's drawdown, not the monotonic
// high-water mark, so a recovered portfolio can trade again once the latch
// is released.
func (m *Manager) heatBreachLocked() (code, reason string) {
	if m.cfg.MaxDrawdownPct > 0 && m.heat.CurrentDrawdown > m.cfg.MaxDrawdownPct {
		return risk.CodeDrawdownGuardrail,
			fmt.Sprintf("drawdown %.2f%% breached emergency limit %.2f%%", m.heat.CurrentDrawdown, m.cfg.MaxDrawdownPct)
	}
	if m.cfg.DailyLossLimitUSD > 0 && m.heat.DailyLoss > m.cfg.DailyLossLimitUSD {
		return risk.CodeDailyLossLimit,
			fmt.Sprintf("daily loss %.2f USD breached limit %.2f USD", m.heat.DailyLoss, m.cfg.DailyLossLimitUSD)
	}
	if m.cfg.DailyLossLimitPct > 0 && m.dailyStart > 0 {
		lossPct := m.heat.DailyLoss / m.dailyStart * 100
		if lossPct > m.cfg.DailyLossLimitPct {
			return risk.CodeDailyLossLimit,
				fmt.Sprintf("daily loss %.2f%% breached limit %.2f%%", lossPct, m.cfg.DailyLossLimitPct)
		}
	}
	return "", ""
}

// RecordOrder counts one forwarded order against the rate window. Called
// only after an order is actually sent, rejections are free.
func (m *Manager) RecordOrder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	m.pruneOrderWindowLocked(now)
	m.orderTimes = append(m.orderTimes, now)
}

// CanTrade composes every trip wire into one gate: kill switch, order
// breaker, heat limits, rate window. The first tripped wire wins; codes are
// the stable rejection codes the HTTP layer maps.
func (m *Manager) CanTrade() (ok bool, code, reason string) {
	if active, why, _ := m.KillSwitch(); active {
		return false, risk.CodeKillSwitch, "kill switch active: " + why
	}
	if b := m.breakers[BreakerOrders]; b != nil && !b.Allow() {
		return false, risk.CodeServiceDegraded, "order execution breaker open"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if code, reason := m.heatBreachLocked(); code != "" {
		return false, code, reason
	}
	now := m.nowFn()
	m.pruneOrderWindowLocked(now)
	if m.cfg.MaxOrdersPerMinute > 0 && len(m.orderTimes) >= m.cfg.MaxOrdersPerMinute {
		return false, risk.CodeRateLimited,
			fmt.Sprintf("order rate %d/min reached", m.cfg.MaxOrdersPerMinute)
	}
	return true, "", ""
}

// Status is the read-only view served by the safeguards endpoint.
type Status struct {
	KillSwitchActive bool                      `json:"kill_switch_active"`
	KillSwitchReason string                    `json:"kill_switch_reason,omitempty"`
	KillSwitchAt     time.Time                 `json:"kill_switch_at,omitempty"`
	Heat             types.HeatMetrics         `json:"heat_metrics"`
	Breakers         map[string]circuit.Status `json:"breakers"`
	OrdersLastMinute int                       `json:"orders_last_minute"`
}

func (m *Manager) Status() Status {
	breakers := make(map[string]circuit.Status, len(m.breakers))
	for name, b := range m.breakers {
		breakers[name] = b.Snapshot()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneOrderWindowLocked(m.nowFn())
	return Status{
		KillSwitchActive: m.killActive,
		KillSwitchReason: m.killReason,
		KillSwitchAt:     m.killedAt,
		Heat:             m.heat,
		Breakers:         breakers,
		OrdersLastMinute: len(m.orderTimes),
	}
}

// rollDailyAnchorLocked resets the daily-loss baseline at UTC midnight.
func (m *Manager) rollDailyAnchorLocked(now time.Time, equity float64) {
	day := now.UTC().Truncate(24 * time.Hour)
	if m.dailyAnchor.Equal(day) && m.dailyStart > 0 {
		return
	}
	m.dailyAnchor = day
	m.dailyStart = equity
}

func (m *Manager) pruneOrderWindowLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	idx := 0
	for idx < len(m.orderTimes) && !m.orderTimes[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		m.orderTimes = append([]time.Time(nil), m.orderTimes[idx:]...)
	}
}
