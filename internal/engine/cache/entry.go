package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingExpiry is returned by ParseEntry when a stored value is valid JSON
// but carries no expiry field, i.e. it was not written by this cache.
var ErrMissingExpiry = errors.New("cache envelope has no expiry")

// Entry is the envelope persisted for every cached value.
type Entry struct {
	// Data is the cached value (JSON-serializable).
	Data json.RawMessage `json:"data"`

	// Expiry is the instant the entry stops being served, in Unix milliseconds.
	Expiry int64 `json:"expiry"`
}

// Encode wraps value in an envelope that expires ttl after now.
// A zero or negative ttl produces an entry that is already expired.
func Encode(value json.RawMessage, ttl time.Duration, now time.Time) Entry {
	return Entry{
		Data:   value,
		Expiry: now.Add(ttl).UnixMilli(),
	}
}

// Decode returns the envelope's data, or false once now has reached the expiry.
func Decode(e Entry, now time.Time) (json.RawMessage, bool) {
	if e.IsExpired(now) {
		return nil, false
	}
	return e.Data, true
}

// IsExpired reports whether the entry is logically absent at now.
func (e Entry) IsExpired(now time.Time) bool {
	return now.UnixMilli() >= e.Expiry
}

// ExpiresAt returns the expiry as a time.Time.
func (e Entry) ExpiresAt() time.Time {
	return time.UnixMilli(e.Expiry)
}

// TimeUntilExpiration returns the remaining lifetime at now, or 0 if expired.
func (e Entry) TimeUntilExpiration(now time.Time) time.Duration {
	remaining := e.ExpiresAt().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MarshalEntry serializes an envelope for storage.
func MarshalEntry(e Entry) (string, error) {
	if e.Data == nil {
		e.Data = json.RawMessage("null")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return string(b), nil
}

// ParseEntry decodes a stored envelope. Values that are not JSON objects, or
// that lack an expiry, are rejected.
func ParseEntry(raw string) (Entry, error) {
	var aux struct {
		Data   json.RawMessage `json:"data"`
		Expiry *int64          `json:"expiry"`
	}
	if err := json.Unmarshal([]byte(raw), &aux); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	if aux.Expiry == nil {
		return Entry{}, ErrMissingExpiry
	}
	return Entry{Data: aux.Data, Expiry: *aux.Expiry}, nil
}
