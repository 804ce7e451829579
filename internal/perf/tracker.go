package perf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// TradeRecord is one closed trade attributed to an agent.
type TradeRecord struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	AgentID  string    `gorm:"size:64;index:idx_agent_symbol"`
	Symbol   string    `gorm:"size:32;index:idx_agent_symbol"`
	PnL      float64   `gorm:"column:pnl"`
	ClosedAt time.Time `gorm:"index"`
}

func (TradeRecord) TableName() string { return "agent_trades" }

// Tracker answers per-agent, per-symbol win rate queries.
type Tracker interface {
	SymbolWinRate(ctx context.Context, agentID, symbol string) (rate float64, trades int, err error)
	RecordTrade(ctx context.Context, agentID, symbol string, pnl float64) error
}

// Store backs the tracker with a local sqlite database.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("perf store path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open perf db: %w", err)
	}
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate perf db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) RecordTrade(ctx context.Context, agentID, symbol string, pnl float64) error {
	rec := TradeRecord{
		AgentID:  agentID,
		Symbol:   symbol,
		PnL:      pnl,
		ClosedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// SymbolWinRate counts wins as trades that closed with positive P&L.
func (s *Store) SymbolWinRate(ctx context.Context, agentID, symbol string) (float64, int, error) {
	var total, wins int64
	scoped := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&TradeRecord{}).
			Where("agent_id = ? AND symbol = ?", agentID, symbol)
	}
	if err := scoped().Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}
	if err := scoped().Where("pnl > 0").Count(&wins).Error; err != nil {
		return 0, 0, err
	}
	return float64(wins) / float64(total), int(total), nil
}

// Memory is an in-process tracker for tests and degraded startups.
type Memory struct {
	mu     sync.Mutex
	trades map[string][]float64
}

func NewMemory() *Memory {
	return &Memory{trades: make(map[string][]float64)}
}

func (m *Memory) RecordTrade(_ context.Context, agentID, symbol string, pnl float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := agentID + ":" + symbol
	m.trades[key] = append(m.trades[key], pnl)
	return nil
}

func (m *Memory) SymbolWinRate(_ context.Context, agentID, symbol string) (float64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pnls := m.trades[agentID+":"+symbol]
	if len(pnls) == 0 {
		return 0, 0, nil
	}
	wins := 0
	for _, pnl := range pnls {
		if pnl > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls)), len(pnls), nil
}
