package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound signals that a run or history entry does not exist. It is
// distinct from storage failures so callers can tell "absent" from
// "backend unreachable".
var ErrNotFound = errors.New("not found")

// Store provides persistence for runs and their report history.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// PutRun upserts the run record. Last write wins; no optimistic
	// concurrency token is used.
	PutRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)

	// DeleteRun removes a run and its history. Administrative only;
	// nothing in the run lifecycle deletes records.
	DeleteRun(ctx context.Context, runID string) error

	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	GetHistoryEntry(ctx context.Context, runID string, ts time.Time) (*HistoryEntry, error)
	ListHistory(ctx context.Context, runID string) ([]HistoryEntry, error)
}

// Compile-time interface check.
var _ Store = (*gormStore)(nil)

type gormStore struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &gormStore{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *gormStore) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&HistoryEntry{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Store started")

	return nil
}

// Stop closes the underlying database connection.
func (s *gormStore) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql db: %w", err)
	}

	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}

	return nil
}

// PutRun upserts the run keyed by run ID.
func (s *gormStore) PutRun(ctx context.Context, run *Run) error {
	run.UpdatedAt = time.Now().UTC()

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(run).Error
	if err != nil {
		return fmt.Errorf("upserting run %s: %w", run.RunID, err)
	}

	return nil
}

// GetRun returns the run or ErrNotFound.
func (s *gormStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	var run Run

	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}

	return &run, nil
}

// ListRuns returns runs ordered by creation time, newest first.
func (s *gormStore) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	var runs []Run

	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// DeleteRun removes the run and all of its history entries.
func (s *gormStore) DeleteRun(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("run_id = ?", runID).Delete(&Run{})
		if res.Error != nil {
			return fmt.Errorf("deleting run %s: %w", runID, res.Error)
		}

		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Where("run_id = ?", runID).
			Delete(&HistoryEntry{}).Error; err != nil {
			return fmt.Errorf("deleting history for %s: %w", runID, err)
		}

		return nil
	})
}

// AppendHistory inserts an immutable report snapshot.
func (s *gormStore) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("appending history for %s: %w", entry.RunID, err)
	}

	return nil
}

// GetHistoryEntry returns the snapshot with the exact timestamp, or
// ErrNotFound.
func (s *gormStore) GetHistoryEntry(
	ctx context.Context, runID string, ts time.Time,
) (*HistoryEntry, error) {
	var entry HistoryEntry

	err := s.db.WithContext(ctx).
		Where("run_id = ? AND timestamp = ?", runID, ts).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", runID, err)
	}

	return &entry, nil
}

// ListHistory returns all snapshots for a run, oldest first.
func (s *gormStore) ListHistory(ctx context.Context, runID string) ([]HistoryEntry, error) {
	var entries []HistoryEntry

	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("timestamp ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("listing history for %s: %w", runID, err)
	}

	return entries, nil
}
