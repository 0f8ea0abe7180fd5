package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// cacheFileExtension is the file extension used for cache entries.
const cacheFileExtension = ".json"

// fileRecord is the on-disk form of one entry. File names are a hash of the
// key, so the key itself is kept alongside the value for Keys.
type fileRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FileStore is a Backend that keeps one JSON file per key in a directory.
// Files are named by the SHA-256 of the key, so key length is not limited by
// the file system. Thread-safe for concurrent access.
type FileStore struct {
	// directory is the cache directory path.
	directory string

	// mu protects concurrent access to file operations.
	mu sync.RWMutex
}

// NewFileStore creates a new file-based backend.
// The directory will be created if it doesn't exist.
func NewFileStore(directory string) (*FileStore, error) {
	if directory == "" {
		return nil, errors.New("cache directory cannot be empty")
	}

	if err := os.MkdirAll(directory, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileStore{directory: directory}, nil
}

// Read returns the stored value for key.
// Returns ErrNotFound if the entry doesn't exist.
func (s *FileStore) Read(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := readRecord(s.keyToFilePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if record.Key != key {
		return "", ErrNotFound
	}
	return record.Value, nil
}

// Write stores value under key, overwriting any existing entry.
func (s *FileStore) Write(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(fileRecord{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("failed to encode cache file: %w", err)
	}

	filePath := s.keyToFilePath(key)

	// Write to temporary file first, then rename for atomicity
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}

	return nil
}

// Remove deletes the entry for key.
// Returns nil if the entry doesn't exist (idempotent).
func (s *FileStore) Remove(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.keyToFilePath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}
	return nil
}

// Keys lists every key with a file in the directory.
func (s *FileStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != cacheFileExtension {
			continue
		}
		record, readErr := readRecord(filepath.Join(s.directory, entry.Name()))
		if readErr != nil || record.Key == "" {
			continue // not one of ours
		}
		keys = append(keys, record.Key)
	}
	return keys, nil
}

// Size returns the total size of the cache files in bytes.
func (s *FileStore) Size() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.directory)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var totalSize int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != cacheFileExtension {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		totalSize += info.Size()
	}
	return totalSize, nil
}

// Directory returns the cache directory path.
func (s *FileStore) Directory() string {
	return s.directory
}

// keyToFilePath converts a cache key to a fixed-length file path.
func (s *FileStore) keyToFilePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.directory, hex.EncodeToString(sum[:])+cacheFileExtension)
}

func readRecord(path string) (fileRecord, error) {
	var record fileRecord
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return record, err
		}
		return record, fmt.Errorf("failed to read cache file: %w", err)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return record, fmt.Errorf("failed to decode cache file: %w", err)
	}
	return record, nil
}
