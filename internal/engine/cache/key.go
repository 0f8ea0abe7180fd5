package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix is the namespace every key written by an APICache starts with.
const DefaultPrefix = "api_cache"

// keySeparator joins the namespace prefix and the sanitized identity.
const keySeparator = ":"

// ErrInvalidCacheKey is returned when a key cannot be derived from an empty identity.
var ErrInvalidCacheKey = errors.New("cache identity cannot be empty")

// DeriveKey builds the storage key for a request identity and optional params:
//
//	<prefix>:<sanitized identity>[_<sanitized canonical params>]
//
// Params are serialized canonically (object fields sorted), so two params
// values with the same content always yield the same key regardless of the
// order their fields were built in.
func DeriveKey(prefix, identity string, params any) (string, error) {
	if identity == "" {
		return "", ErrInvalidCacheKey
	}

	key := prefix + keySeparator + Sanitize(identity)

	canonical, err := CanonicalParams(params)
	if err != nil {
		return "", err
	}
	if canonical != "" {
		key += "_" + Sanitize(canonical)
	}
	return key, nil
}

// Sanitize replaces every character outside [A-Za-z0-9] with '_'.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

// CanonicalParams returns a field-sorted JSON rendering of params, or "" when
// params is nil or empty (null, {}, [] or "").
func CanonicalParams(params any) (string, error) {
	if params == nil {
		return "", nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to serialize cache params: %w", err)
	}

	// Round-trip through a generic value: encoding/json writes map keys in
	// sorted order, which erases struct field order and map iteration order.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err = dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("failed to normalize cache params: %w", err)
	}

	switch v := generic.(type) {
	case nil:
		return "", nil
	case map[string]any:
		if len(v) == 0 {
			return "", nil
		}
	case []any:
		if len(v) == 0 {
			return "", nil
		}
	case string:
		if v == "" {
			return "", nil
		}
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("failed to serialize cache params: %w", err)
	}
	return string(out), nil
}

// inNamespace reports whether key belongs to the given prefix.
func inNamespace(prefix, key string) bool {
	return strings.HasPrefix(key, prefix+keySeparator)
}
