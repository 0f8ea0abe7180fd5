package cache

import (
	"errors"

	"github.com/rs/zerolog"
)

// Common backend errors.
var (
	ErrNotFound    = errors.New("cache entry not found")
	ErrInvalidKey  = errors.New("cache key cannot be empty")
	ErrStoreClosed = errors.New("cache store is closed")
)

// Backend is a synchronous string key-value store that holds serialized
// envelopes. Implementations return ErrNotFound from Read for absent keys
// and must be safe for concurrent use.
type Backend interface {
	Read(key string) (string, error)
	Write(key, value string) error
	Remove(key string) error
	Keys() ([]string, error)
}

// Adapter is the only path from the cache layer to a Backend. It never
// returns an error: every backend failure is logged and degraded to a
// miss or a no-op. An Adapter without a backend is unavailable, and all
// of its operations do nothing.
type Adapter struct {
	backend Backend
	logger  zerolog.Logger
}

// NewAdapter wraps backend. A nil backend yields an unavailable adapter.
func NewAdapter(backend Backend, logger zerolog.Logger) *Adapter {
	return &Adapter{backend: backend, logger: logger}
}

// Unavailable returns an adapter for contexts with no persistent store.
func Unavailable() *Adapter {
	return &Adapter{logger: zerolog.Nop()}
}

// Available reports whether a backend is attached.
func (a *Adapter) Available() bool {
	return a != nil && a.backend != nil
}

// ReadRaw returns the stored value for key, or false when absent or on failure.
func (a *Adapter) ReadRaw(key string) (string, bool) {
	if !a.Available() {
		return "", false
	}
	value, err := a.backend.Read(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			a.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return "", false
	}
	return value, true
}

// WriteRaw stores value under key. Failures (quota, disk, database) are logged
// and the value is simply not cached.
func (a *Adapter) WriteRaw(key, value string) {
	if !a.Available() {
		return
	}
	if err := a.backend.Write(key, value); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// RemoveRaw deletes key if present.
func (a *Adapter) RemoveRaw(key string) {
	if !a.Available() {
		return
	}
	if err := a.backend.Remove(key); err != nil && !errors.Is(err, ErrNotFound) {
		a.logger.Warn().Err(err).Str("key", key).Msg("cache remove failed")
	}
}

// ListKeys returns every key in the backend, or nil on failure.
func (a *Adapter) ListKeys() []string {
	if !a.Available() {
		return nil
	}
	keys, err := a.backend.Keys()
	if err != nil {
		a.logger.Warn().Err(err).Msg("cache key enumeration failed")
		return nil
	}
	return keys
}
