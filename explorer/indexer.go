package explorer

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"fxchain/core/types"
)

// EventRecord is one committed protocol event in the append-only index.
type EventRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Type       string `gorm:"index"`
	Summary    string
	Attributes string
	CreatedAt  time.Time `gorm:"index"`
}

// Indexer persists committed events for explorer queries. It implements the
// protocol event-sink contract; persistence failures are logged rather than
// propagated so indexing never blocks settlement.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open creates an indexer over a SQLite file. Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Indexer, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return NewIndexer(db, logger)
}

func NewIndexer(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, err
	}
	return &Indexer{db: db, logger: logger}, nil
}

// Append stores one event.
func (ix *Indexer) Append(event *types.Event) {
	if ix == nil || event == nil {
		return
	}
	attributes, err := json.Marshal(event.Attributes)
	if err != nil {
		ix.logger.Warn("event attributes not serialisable", "type", event.Type, "error", err)
		attributes = []byte("{}")
	}
	record := EventRecord{
		Type:       event.Type,
		Summary:    Summarize(event),
		Attributes: string(attributes),
	}
	if err := ix.db.Create(&record).Error; err != nil {
		ix.logger.Warn("event indexing failed", "type", event.Type, "error", err)
	}
}

// Recent returns the newest events, most recent first.
func (ix *Indexer) Recent(limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []EventRecord
	err := ix.db.Order("id desc").Limit(limit).Find(&records).Error
	return records, err
}

// ByType returns the newest events of one type, most recent first.
func (ix *Indexer) ByType(eventType string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []EventRecord
	err := ix.db.Where("type = ?", eventType).Order("id desc").Limit(limit).Find(&records).Error
	return records, err
}

// Count reports the total number of indexed events.
func (ix *Indexer) Count() (int64, error) {
	var count int64
	err := ix.db.Model(&EventRecord{}).Count(&count).Error
	return count, err
}
