package safeguard

import (
	"testing"
	"time"

	"riskcore/internal/config"
	"riskcore/internal/risk"
	"riskcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSafeguardsConfig() config.SafeguardsConfig {
	return config.SafeguardsConfig{
		BreakerThreshold:      3,
		BreakerTimeoutSeconds: 60,
		BreakerHalfOpenMax:    1,
		MaxDrawdownPct:        5,
		DailyLossLimitPct:     3,
		DailyLossLimitUSD:     250,
		MaxOrdersPerMinute:    3,
	}
}

func newTestManager() (*Manager, *time.Time) {
	m := NewManager(testSafeguardsConfig())
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return now }
	return m, &now
}

func snapshot(balance, peak float64) types.PortfolioSnapshot {
	return types.PortfolioSnapshot{Balance: balance, PeakBalance: peak}
}

func TestKillSwitchLatches(t *testing.T) {
	m, _ := newTestManager()

	ok, _, _ := m.CanTrade()
	require.True(t, ok)

	m.ActivateKillSwitch("manual halt")
	ok, code, reason := m.CanTrade()
	require.False(t, ok)
	assert.Equal(t, risk.CodeKillSwitch, code)
	assert.Contains(t, reason, "manual halt")

	// A second activation does not overwrite the original reason.
	m.ActivateKillSwitch("other")
	_, why, _ := m.KillSwitch()
	assert.Equal(t, "manual halt", why)

	m.DeactivateKillSwitch()
	ok, _, _ = m.CanTrade()
	assert.True(t, ok)
}

func TestDrawdownTripsKillSwitch(t *testing.T) {
	m, _ := newTestManager()

	m.CheckDrawdownLimits(snapshot(960, 1000)) // 4%, under the 5% limit
	active, _, _ := m.KillSwitch()
	require.False(t, active)

	m.CheckDrawdownLimits(snapshot(940, 1000)) // 6%
	active, reason, _ := m.KillSwitch()
	require.True(t, active)
	assert.Contains(t, reason, "drawdown")
}

func TestDailyLossUSDTripsKillSwitch(t *testing.T) {
	m, _ := newTestManager()

	m.CheckDrawdownLimits(snapshot(10000, 10000)) // anchors the daily baseline
	m.CheckDrawdownLimits(snapshot(9700, 10000))  // -300 USD, dd 3%

	active, reason, _ := m.KillSwitch()
	require.True(t, active)
	assert.Contains(t, reason, "USD")
}

func TestDailyLossPctTripsIndependently(t *testing.T) {
	cfg := testSafeguardsConfig()
	cfg.DailyLossLimitUSD = 100000 // absolute limit far away, relative one trips
	m := NewManager(cfg)
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	m.nowFn = func() time.Time { return now }

	m.CheckDrawdownLimits(snapshot(10000, 10000))
	m.CheckDrawdownLimits(snapshot(9600, 10000)) // -4% of daily start

	active, reason, _ := m.KillSwitch()
	require.True(t, active)
	assert.Contains(t, reason, "%")
}

func TestAutomaticTripNeedsManualRelease(t *testing.T) {
	m, _ := newTestManager()

	m.CheckDrawdownLimits(snapshot(900, 1000))
	active, _, _ := m.KillSwitch()
	require.True(t, active)

	// Recovery alone never releases the latch.
	m.CheckDrawdownLimits(snapshot(1000, 1000))
	active, _, _ = m.KillSwitch()
	assert.True(t, active)

	m.DeactivateKillSwitch()
	active, _, _ = m.KillSwitch()
	assert.False(t, active)
}

func TestHeatBreachBlocksTradingDirectly(t *testing.T) {
	m, _ := newTestManager()

	// A recorded breach gates orders even before any kill-switch sweep runs.
	m.UpdateHeatMetrics(snapshot(9400, 10000)) // 6% vs the 5% limit
	active, _, _ := m.KillSwitch()
	require.False(t, active, "no sweep has tripped the latch yet")

	ok, code, reason := m.CanTrade()
	require.False(t, ok)
	assert.Equal(t, risk.CodeDrawdownGuardrail, code)
	assert.Contains(t, reason, "drawdown")

	// Recovery clears the gate; the monotonic high-water mark does not pin it.
	m.UpdateHeatMetrics(snapshot(9900, 10000))
	ok, _, _ = m.CanTrade()
	assert.True(t, ok)
	assert.InDelta(t, 6.0, m.Status().Heat.MaxDrawdown, 1e-9)
}

func TestDailyLossBreachBlocksTradingDirectly(t *testing.T) {
	m, _ := newTestManager()

	m.UpdateHeatMetrics(snapshot(10000, 10000)) // anchors the daily baseline
	m.UpdateHeatMetrics(snapshot(9700, 10000))  // dd 3%, -300 USD vs the 250 limit

	ok, code, reason := m.CanTrade()
	require.False(t, ok)
	assert.Equal(t, risk.CodeDailyLossLimit, code)
	assert.Contains(t, reason, "USD")
}

func TestOrderRateWindowSlides(t *testing.T) {
	m, now := newTestManager()

	for i := 0; i < 3; i++ {
		m.RecordOrder()
	}
	ok, code, _ := m.CanTrade()
	require.False(t, ok)
	assert.Equal(t, risk.CodeRateLimited, code)

	*now = now.Add(61 * time.Second)
	ok, _, _ = m.CanTrade()
	assert.True(t, ok, "window slid past the old orders")
}

func TestOpenOrdersBreakerDegradesService(t *testing.T) {
	m, _ := newTestManager()

	b := m.Breaker(BreakerOrders)
	require.NotNil(t, b)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	ok, code, _ := m.CanTrade()
	require.False(t, ok)
	assert.Equal(t, risk.CodeServiceDegraded, code)
}

func TestMaxDrawdownIsMonotonic(t *testing.T) {
	m, _ := newTestManager()

	m.UpdateHeatMetrics(snapshot(960, 1000)) // 4%
	m.UpdateHeatMetrics(snapshot(990, 1000)) // recovered to 1%

	st := m.Status()
	assert.InDelta(t, 4.0, st.Heat.MaxDrawdown, 1e-9)
	assert.Equal(t, 3, len(st.Breakers))
}
