package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeYAML(t *testing.T, dir, name string, doc map[string]any) string {
	t.Helper()
	raw, err := yaml.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", map[string]any{
		"app": map[string]any{"log_level": "debug"},
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 10.0, cfg.Risk.MaxDrawdownPct)
	assert.Equal(t, 0.67, cfg.Consensus.Threshold)
	assert.Equal(t, 3, cfg.Consensus.MinVotes)
	assert.Equal(t, 20, cfg.Safeguards.MaxOrdersPerMinute)
	assert.Equal(t, 120, cfg.Safeguards.IdempotencyTTLSeconds)
	assert.Equal(t, 250.0, cfg.Safeguards.DailyLossLimitUSD)
	assert.Equal(t, 3.0, cfg.Safeguards.DailyLossLimitPct)
	assert.Equal(t, 0.025, cfg.TPSL.BaseTPPct)
	assert.Equal(t, 50, cfg.Bus.HistoryLimit)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "risk.yaml", map[string]any{
		"risk": map[string]any{"max_drawdown_pct": 8, "max_per_trade_pct": 15},
	})
	path := writeYAML(t, dir, "config.yaml", map[string]any{
		"include": []string{"risk.yaml"},
		"risk":    map[string]any{"max_per_trade_pct": 25},
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8.0, cfg.Risk.MaxDrawdownPct, "included value survives")
	assert.Equal(t, 25.0, cfg.Risk.MaxPerTradePct, "root file wins on conflict")
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", map[string]any{
		"risk": map[string]any{"max_drawdown_pct": 12},
	})
	t.Setenv("RISKCORE_MAX_DRAWDOWN_PCT", "7.5")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7.5, cfg.Risk.MaxDrawdownPct)
}

func TestLoadEqualSplitAllocationDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", map[string]any{
		"allocation": map[string]any{"agents": []string{"alpha", "beta", "gamma", "delta"}},
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.Allocation.DefaultFraction, 1e-9)
}

func TestLoadRejectsInvalidThreshold(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, "config.yaml", map[string]any{
		"consensus": map[string]any{"threshold": 1.5},
	})

	_, err := Load(path)
	assert.Error(t, err)
}
