// Package store is the sole authority for persisted state: questions, the
// subtopic catalog, learners, seen records, attempts and sessions. All
// compound operations run in transactions; metadata fields are normalized
// on write and on query so no un-normalized row can exist in a store this
// code created.
package store

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/normalize"
	"github.com/quizforge/quizforge/pkg/models"
)

// Store wraps the database handle and exposes the inventory operations.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects to the configured database, runs migrations and returns a
// ready store. Supported drivers: sqlite, postgres.
func Open(cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	gormLog := gormLogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s store: %w", cfg.Driver, err)
	}

	switch cfg.Driver {
	case "sqlite":
		if err := db.Exec("PRAGMA foreign_keys=ON").Error; err != nil {
			return nil, fmt.Errorf("failed to enable sqlite foreign keys: %w", err)
		}
	case "postgres":
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	logger.Debug("Store opened", "driver", cfg.Driver)
	return &Store{db: db, log: logger}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Question{},
		&models.SubtopicEntry{},
		&models.Learner{},
		&models.SeenRecord{},
		&models.Attempt{},
		&models.Session{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Partial unique index: at most one active session per learner.
	// AutoMigrate cannot express the WHERE clause.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_session_active ON session (learner_id) WHERE ended_at IS NULL`,
	).Error; err != nil {
		return fmt.Errorf("failed to create active-session index: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Scope filters question and catalog queries. Empty string fields are not
// applied. Grade is a pointer because grade 0 (kindergarten) is a real
// value.
type Scope struct {
	Subject  string
	Grade    *int
	Topic    string
	Subtopic string
}

// normalized returns the scope with metadata fields in canonical form, the
// same transform applied on write.
func (sc Scope) normalized() Scope {
	out := sc
	out.Subject = normalize.Normalize(sc.Subject)
	out.Topic = normalize.Normalize(sc.Topic)
	out.Subtopic = normalize.Normalize(sc.Subtopic)
	return out
}

func applyScope(q *gorm.DB, sc Scope) *gorm.DB {
	if sc.Subject != "" {
		q = q.Where("subject = ?", sc.Subject)
	}
	if sc.Grade != nil {
		q = q.Where("grade = ?", *sc.Grade)
	}
	if sc.Topic != "" {
		q = q.Where("topic = ?", sc.Topic)
	}
	if sc.Subtopic != "" {
		q = q.Where("subtopic = ?", sc.Subtopic)
	}
	return q
}

// storeErr maps database failures onto the error taxonomy: missing rows
// keep their NotFound kind, everything else is a store availability
// problem.
func storeErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return fmt.Errorf("%s: %v: %w", op, err, models.ErrStoreUnavailable)
}
