package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lendcore/core"
	"lendcore/services/historyd/config"
)

// EventRecord is one ledger event as observed on the node stream. Sequence
// numbers come from the node and are globally unique, so replays after a
// reconnect insert as no-ops.
type EventRecord struct {
	Sequence   uint64 `gorm:"primaryKey;autoIncrement:false"`
	EventID    string `gorm:"type:varchar(64);index"`
	Type       string `gorm:"type:varchar(64);index"`
	Asset      string `gorm:"type:varchar(32);index"`
	Account    string `gorm:"type:varchar(128);index"`
	Amount     string `gorm:"type:varchar(96)"`
	Attributes string `gorm:"type:text"`
	EmittedAt  int64  `gorm:"index"`
	ObservedAt time.Time
}

// SnapshotMark tracks the highest sequence already exported to snapshot
// files. A single row with ID 1 is maintained.
type SnapshotMark struct {
	ID           uint `gorm:"primaryKey"`
	LastSequence uint64
	UpdatedAt    time.Time
}

// Store persists collected ledger events.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured backend and migrates the schema.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("database driver %q not supported", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&EventRecord{}, &SnapshotMark{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert writes records, skipping any whose sequence is already stored, and
// reports how many rows were actually added.
func (s *Store) Insert(records ...EventRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&records)
	return tx.RowsAffected, tx.Error
}

// LatestSequence returns the highest stored sequence, zero when empty.
func (s *Store) LatestSequence() (uint64, error) {
	var seq uint64
	err := s.db.Model(&EventRecord{}).Select("coalesce(max(sequence), 0)").Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("latest sequence: %w", err)
	}
	return seq, nil
}

// EventsAfter returns records with sequence strictly greater than seq in
// ascending order. A non-positive limit returns everything.
func (s *Store) EventsAfter(seq uint64, limit int) ([]EventRecord, error) {
	var records []EventRecord
	query := s.db.Where("sequence > ?", seq).Order("sequence asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("events after %d: %w", seq, err)
	}
	return records, nil
}

// CountByType reports how many events of each type are stored.
func (s *Store) CountByType() (map[string]int64, error) {
	type bucket struct {
		Type  string
		Total int64
	}
	var rows []bucket
	err := s.db.Model(&EventRecord{}).
		Select("type, count(*) as total").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count by type: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Type] = row.Total
	}
	return counts, nil
}

// SnapshotWatermark returns the highest sequence covered by an export.
func (s *Store) SnapshotWatermark() (uint64, error) {
	var mark SnapshotMark
	err := s.db.First(&mark, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("snapshot watermark: %w", err)
	}
	return mark.LastSequence, nil
}

// SetSnapshotWatermark records that every sequence up to seq is exported.
func (s *Store) SetSnapshotWatermark(seq uint64) error {
	mark := SnapshotMark{ID: 1, LastSequence: seq, UpdatedAt: time.Now().UTC()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_sequence", "updated_at"}),
	}).Create(&mark).Error
	if err != nil {
		return fmt.Errorf("set snapshot watermark: %w", err)
	}
	return nil
}

// FromStream flattens a stream envelope into a queryable record. The most
// useful attribute per event family is lifted into an indexed column; the
// full attribute map rides along as JSON.
func FromStream(evt core.StreamEvent, observedAt time.Time) EventRecord {
	rec := EventRecord{
		Sequence:   evt.Sequence,
		EventID:    evt.ID,
		EmittedAt:  evt.Timestamp,
		ObservedAt: observedAt.UTC(),
		Attributes: "{}",
	}
	if evt.Event == nil {
		return rec
	}
	rec.Type = evt.Event.Type
	attrs := evt.Event.Attributes
	if len(attrs) == 0 {
		return rec
	}
	if raw, err := json.Marshal(attrs); err == nil {
		rec.Attributes = string(raw)
	}
	rec.Asset = firstAttr(attrs, "asset", "debtAsset")
	rec.Account = firstAttr(attrs, "user", "borrower", "address", "feeder")
	rec.Amount = firstAttr(attrs, "amount", "repaid", "price")
	return rec
}

func firstAttr(attrs map[string]string, keys ...string) string {
	for _, key := range keys {
		if value, ok := attrs[key]; ok && value != "" {
			return value
		}
	}
	return ""
}
