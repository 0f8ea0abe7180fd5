package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// sqlEntry is the row layout of the cache_entries table.
type sqlEntry struct {
	Key       string `gorm:"primaryKey;column:cache_key"`
	Value     string `gorm:"column:value;not null"`
	UpdatedAt time.Time
}

// TableName pins the table name independent of gorm's pluralization rules.
func (sqlEntry) TableName() string {
	return "cache_entries"
}

// SQLStore is a Backend persisting envelopes in a SQLite database through gorm.
type SQLStore struct {
	db     *gorm.DB
	mu     sync.RWMutex
	closed bool
}

// OpenSQLStore opens (creating if needed) the SQLite database at path and
// migrates the cache table. Use ":memory:" for a throwaway database.
func OpenSQLStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}

	// Pure-Go driver, no CGO required.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite allows a single writer; a single connection also keeps
	// ":memory:" databases from splitting across pooled connections.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access cache database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return NewSQLStore(db)
}

// NewSQLStore wraps an existing gorm connection and migrates the cache table.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("cache database cannot be nil")
	}
	if err := db.AutoMigrate(&sqlEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Read returns the stored value for key.
func (s *SQLStore) Read(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	var row sqlEntry
	err := s.db.Where("cache_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read cache row: %w", err)
	}
	return row.Value, nil
}

// Write upserts value under key.
func (s *SQLStore) Write(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	row := sqlEntry{Key: key, Value: value}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write cache row: %w", err)
	}
	return nil
}

// Remove deletes the row for key. Missing rows are not an error.
func (s *SQLStore) Remove(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	if err := s.db.Where("cache_key = ?", key).Delete(&sqlEntry{}).Error; err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}

// Keys lists every stored key in ascending order.
func (s *SQLStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var keys []string
	if err := s.db.Model(&sqlEntry{}).Order("cache_key").Pluck("cache_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

// Close releases the underlying database connection.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
