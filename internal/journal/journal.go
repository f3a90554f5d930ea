// Package journal persists the record of every finalized engine event to
// SQLite. Records are written in batches off the post-processor so a slow
// disk never delays replies.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/observability/metrics"
)

const (
	component     = "journal"
	slowThreshold = 200 * time.Millisecond
)

// Entry is one journaled event
type Entry struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	UUID        string    `gorm:"uniqueIndex;size:36" json:"id"`
	RequestID   int32     `json:"request_id"`
	Client      string    `gorm:"index;size:64" json:"client"`
	Kind        string    `gorm:"index;size:64" json:"kind"`
	Path        string    `json:"path"`
	OK          bool      `json:"ok"`
	Outcome     string    `gorm:"size:32" json:"outcome"`
	Message     string    `json:"message,omitempty"`
	FrameTime   uint64    `json:"frame_time"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinalizedAt time.Time `gorm:"index" json:"finalized_at"`
	LatencyMS   float64   `json:"latency_ms"`
}

// TableName implements gorm's tabler
func (Entry) TableName() string { return "journal_entries" }

func entryFrom(r engine.Record) Entry {
	e := Entry{
		UUID:        uuid.NewString(),
		RequestID:   r.RequestID,
		Client:      r.Client,
		Kind:        r.Kind,
		Path:        r.Path,
		OK:          r.OK,
		Outcome:     r.Outcome,
		Message:     r.Message,
		FrameTime:   r.Time,
		SubmittedAt: r.Submitted,
		FinalizedAt: r.Finalized,
	}
	if !r.Submitted.IsZero() && !r.Finalized.IsZero() {
		e.LatencyMS = float64(r.Finalized.Sub(r.Submitted).Microseconds()) / 1000
	}
	return e
}

// Store is the journal database
type Store struct {
	db      *gorm.DB
	path    string
	metrics metrics.Recorder
	log     logger.Logger
}

// Open opens or creates the journal at path. ":memory:" keeps it in memory.
// rec may be nil.
func Open(path string, rec metrics.Recorder, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Global().Module(component)
	}
	if rec == nil {
		rec = metrics.NewNoOpRecorder()
	}
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.NewSQLLogger(log, slowThreshold),
	})
	if err != nil {
		return nil, dbError(err, "open").Context("path", path).Build()
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, dbError(err, "migrate").Context("path", path).Build()
	}
	log.Info("journal opened", logger.String("path", path))
	return &Store{db: db, path: path, metrics: rec, log: log}, nil
}

// Close closes the database
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close").Build()
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close").Build()
	}
	return nil
}

// Insert writes records in one transaction
func (s *Store) Insert(ctx context.Context, records []engine.Record) error {
	if len(records) == 0 {
		return nil
	}
	entries := make([]Entry, len(records))
	for i, r := range records {
		entries[i] = entryFrom(r)
	}

	start := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(entries, len(entries)).Error
	})
	s.metrics.RecordDuration(metrics.OpJournalInsert, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordOperation(metrics.OpJournalInsert, metrics.StatusError)
		s.metrics.RecordError(metrics.OpJournalInsert, "database")
		return dbError(err, "insert").Context("records", len(records)).Build()
	}
	s.metrics.RecordOperation(metrics.OpJournalInsert, metrics.StatusSuccess)
	return nil
}

// Query filters journal reads. Zero fields match everything.
type Query struct {
	Client string
	Kind   string
	Failed bool // only failed events
	Since  time.Time
	Limit  int // default 100
}

// Recent returns the newest entries matching q, newest first
func (s *Store) Recent(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	tx := s.db.WithContext(ctx).Model(&Entry{})
	if q.Client != "" {
		tx = tx.Where("client = ?", q.Client)
	}
	if q.Kind != "" {
		tx = tx.Where("kind = ?", q.Kind)
	}
	if q.Failed {
		tx = tx.Where("ok = ?", false)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("finalized_at >= ?", q.Since)
	}

	var entries []Entry
	if err := tx.Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		s.metrics.RecordError(metrics.OpJournalQuery, "database")
		return nil, dbError(err, "query").Build()
	}
	s.metrics.RecordOperation(metrics.OpJournalQuery, metrics.StatusSuccess)
	return entries, nil
}

// Count returns the number of journaled entries
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error; err != nil {
		return 0, dbError(err, "count").Build()
	}
	return n, nil
}

// Prune deletes entries finalized before cutoff and returns how many
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("finalized_at < ?", cutoff).Delete(&Entry{})
	if res.Error != nil {
		s.metrics.RecordError(metrics.OpJournalPrune, "database")
		return 0, dbError(res.Error, "prune").Build()
	}
	s.metrics.RecordOperation(metrics.OpJournalPrune, metrics.StatusSuccess)
	if res.RowsAffected > 0 {
		s.log.Info("pruned journal", logger.Int64("deleted", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func dbError(err error, op string) *errors.ErrorBuilder {
	return errors.New(err).
		Component(component).
		Category(errors.CategoryDatabase).
		Context("operation", op)
}
