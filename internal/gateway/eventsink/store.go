package eventsink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

// EventRecord is the persisted form of one telemetry event.
type EventRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	EventID     string `gorm:"size:64;uniqueIndex"`
	Kind        string `gorm:"size:32;index"`
	BotID       string `gorm:"size:64;index"`
	Symbol      string `gorm:"size:32;index"`
	PayloadJSON string
	EmittedAt   time.Time `gorm:"index"`
	CreatedAt   time.Time
}

func (EventRecord) TableName() string { return "risk_events" }

// Store persists events to a local sqlite database via gorm.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("eventsink store path is required")
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
		return nil, fmt.Errorf("open eventsink db: %w", err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("migrate eventsink db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Publish(ctx context.Context, ev Event) error {
	payload := ""
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = string(raw)
	}
	rec := EventRecord{
		EventID:     ev.ID,
		Kind:        string(ev.Kind),
		BotID:       ev.BotID,
		Symbol:      ev.Symbol,
		PayloadJSON: payload,
		EmittedAt:   ev.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Recent returns the newest events, most recent first, capped at limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []EventRecord
	err := s.db.WithContext(ctx).
		Order("emitted_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
