package allocation

import (
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"riskcore/internal/config"
	"riskcore/internal/logger"
)

// Table maps agent IDs to their capital sub-allocation, a fraction of total
// balance. Agents absent from the override table get the configured default
// fraction. Reads see either the old or the new full table, never a mix.
type Table struct {
	mu              sync.RWMutex
	defaultFraction float64
	overrides       map[string]float64

	watcher *viper.Viper
}

func NewTable(cfg config.AllocationConfig) *Table {
	overrides := make(map[string]float64, len(cfg.Overrides))
	for agent, frac := range cfg.Overrides {
		agent = strings.TrimSpace(agent)
		if agent == "" || frac <= 0 || frac > 1 {
			continue
		}
		overrides[agent] = frac
	}
	def := cfg.DefaultFraction
	if def <= 0 || def > 1 {
		def = 1.0
	}
	return &Table{
		defaultFraction: def,
		overrides:       overrides,
	}
}

// Fraction returns the agent's allocation fraction.
func (t *Table) Fraction(agentID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if frac, ok := t.overrides[strings.TrimSpace(agentID)]; ok {
		return frac
	}
	return t.defaultFraction
}

// CapUSD returns the agent's absolute allocation given the account balance.
func (t *Table) CapUSD(agentID string, balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	return balance * t.Fraction(agentID)
}

func (t *Table) replace(defaultFraction float64, overrides map[string]float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if defaultFraction > 0 && defaultFraction <= 1 {
		t.defaultFraction = defaultFraction
	}
	t.overrides = overrides
}

// Watch hot-reloads the table from a standalone YAML file whenever it
// changes on disk. The file carries the same keys as the allocation config
// section (default_fraction, overrides).
func (t *Table) Watch(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	t.applyWatched(v)
	v.OnConfigChange(func(evt fsnotify.Event) {
		logger.Infof("allocation: reload triggered by %s (%s)", evt.Name, evt.Op)
		if err := v.ReadInConfig(); err != nil {
			logger.Warnf("allocation: reload failed, keeping previous table: %v", err)
			return
		}
		t.applyWatched(v)
	})
	v.WatchConfig()
	t.watcher = v
	return nil
}

func (t *Table) applyWatched(v *viper.Viper) {
	def := v.GetFloat64("default_fraction")
	raw := v.GetStringMap("overrides")
	overrides := make(map[string]float64, len(raw))
	for agent := range raw {
		frac := v.GetFloat64("overrides." + agent)
		if frac > 0 && frac <= 1 {
			overrides[agent] = frac
		}
	}
	t.replace(def, overrides)
	logger.Infof("allocation: table reloaded (default=%.3f overrides=%d)", def, len(overrides))
}
