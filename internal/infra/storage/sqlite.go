package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"optiondesk/internal/domain"
)

// Storage is the action journal: an append-only SQLite log of user actions.
// It implements domain.ActionJournal.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the journal at dbPath. ":memory:" is accepted.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		return nil, errors.New("journal path is empty")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.ActionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Record appends rec, filling ID and CreatedAt when unset.
func (s *Storage) Record(ctx context.Context, rec *domain.ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// RecentActions returns up to limit records, newest first.
func (s *Storage) RecentActions(ctx context.Context, limit int) ([]domain.ActionRecord, error) {
	var recs []domain.ActionRecord
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// ActionsByName returns every record for one action (endpoint), oldest first.
func (s *Storage) ActionsByName(ctx context.Context, action string) ([]domain.ActionRecord, error) {
	var recs []domain.ActionRecord
	err := s.db.WithContext(ctx).Where("action = ?", action).Order("created_at ASC").Find(&recs).Error
	return recs, err
}

// CountByOutcome counts records with the given outcome
func (s *Storage) CountByOutcome(ctx context.Context, outcome string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.ActionRecord{}).Where("outcome = ?", outcome).Count(&n).Error
	return n, err
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
