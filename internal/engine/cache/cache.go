package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// APICache stores API responses in an Adapter under a namespace prefix and
// tracks hit/miss statistics. Safe for concurrent use.
type APICache struct {
	store         *Adapter
	prefix        string
	policy        TTLPolicy
	now           func() time.Time
	logger        zerolog.Logger
	metrics       Metrics
	paramsOnSet   bool
	coalesce      bool
	fetchTimeout  time.Duration
	sweepInterval time.Duration

	stats statsCounter

	// inflight coalesces concurrent WithCache misses for the same key.
	inflight singleflight.Group

	sweeperMu sync.Mutex
	sweeper   *Sweeper
}

// SetOptions controls a single Set or WithCache call.
type SetOptions struct {
	// TTL overrides the policy window. A zero TTL field selects the window
	// from the TTL policy; a negative TTL stores an already-expired entry.
	// Use WithTTL to set an explicit lifetime of zero.
	TTL time.Duration

	// NoCache skips the cache entirely for this call.
	NoCache bool

	// Params are folded into the key only when the cache was built with
	// WithParamsOnSet. Otherwise Set keys on identity alone.
	Params any

	ttlSet bool
}

// WithTTL returns o with an explicit lifetime. Unlike leaving TTL zero,
// WithTTL(0) stores an entry that is already expired.
func (o SetOptions) WithTTL(ttl time.Duration) SetOptions {
	o.TTL = ttl
	o.ttlSet = true
	return o
}

// explicitTTL reports whether o carries a lifetime of its own.
func (o SetOptions) explicitTTL() bool {
	return o.ttlSet || o.TTL != 0
}

// Option configures an APICache.
type Option func(*APICache)

// WithPrefix sets the namespace prefix (default DefaultPrefix).
func WithPrefix(prefix string) Option {
	return func(c *APICache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *APICache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *APICache) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink (default NoopMetrics).
func WithMetrics(m Metrics) Option {
	return func(c *APICache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTTLPolicy replaces the default endpoint classification.
func WithTTLPolicy(p TTLPolicy) Option {
	return func(c *APICache) {
		c.policy = p
	}
}

// WithParamsOnSet makes Set derive keys from SetOptions.Params, so that
// Get(identity, params) reads back Set(identity, data, {Params: params}).
// By default Set keys on identity alone and only Get consults params.
func WithParamsOnSet() Option {
	return func(c *APICache) {
		c.paramsOnSet = true
	}
}

// WithoutCoalescing disables in-flight de-duplication in WithCache: every
// concurrent miss calls its own fetch function and the last write wins.
func WithoutCoalescing() Option {
	return func(c *APICache) {
		c.coalesce = false
	}
}

// WithFetchTimeout bounds a coalesced fetch (default DefaultFetchTimeout).
// A coalesced fetch is detached from the cancellation of the caller that
// started it, so this is its only deadline. Zero or negative disables it.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *APICache) {
		c.fetchTimeout = d
	}
}

// WithSweepInterval sets the interval used by StartSweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(c *APICache) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// New creates an APICache over store. A nil store behaves like Unavailable().
func New(store *Adapter, opts ...Option) *APICache {
	if store == nil {
		store = Unavailable()
	}
	c := &APICache{
		store:         store,
		prefix:        DefaultPrefix,
		policy:        DefaultTTLPolicy(),
		now:           time.Now,
		logger:        zerolog.Nop(),
		metrics:       NoopMetrics{},
		coalesce:      true,
		fetchTimeout:  DefaultFetchTimeout,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether the cache has a persistent store behind it.
func (c *APICache) Available() bool {
	return c.store.Available()
}

// Prefix returns the namespace prefix.
func (c *APICache) Prefix() string {
	return c.prefix
}

// ResolveTTL returns the cache's default window for identity.
func (c *APICache) ResolveTTL(identity string) time.Duration {
	return c.policy.Resolve(identity)
}

// Get returns the live cached data for identity and params.
//
// Every call that reaches a store is counted; with no store, Get misses
// without touching the statistics. Expired entries are removed on read.
func (c *APICache) Get(identity string, params any) (json.RawMessage, bool) {
	if !c.store.Available() {
		return nil, false
	}

	data, ok := c.lookup(identity, params)
	c.recordRead(ok)
	return data, ok
}

// GetAs is Get decoding the cached JSON into T. Data that does not decode
// into T is reported, and counted, as a miss.
func GetAs[T any](c *APICache, identity string, params any) (T, bool) {
	var out T
	if !c.store.Available() {
		return out, false
	}

	data, ok := c.lookup(identity, params)
	if ok {
		if err := json.Unmarshal(data, &out); err != nil {
			c.logger.Debug().Err(err).Str("identity", identity).Msg("cached data does not match requested type")
			var zero T
			out, ok = zero, false
		}
	}
	c.recordRead(ok)
	return out, ok
}

func (c *APICache) recordRead(hit bool) {
	c.stats.record(hit)
	if hit {
		c.metrics.Hit()
	} else {
		c.metrics.Miss()
	}
}

// lookup reads and decodes an entry without recording statistics.
func (c *APICache) lookup(identity string, params any) (json.RawMessage, bool) {
	key, err := DeriveKey(c.prefix, identity, params)
	if err != nil {
		c.logger.Debug().Err(err).Str("identity", identity).Msg("cannot derive cache key")
		return nil, false
	}

	raw, ok := c.store.ReadRaw(key)
	if !ok {
		return nil, false
	}

	entry, err := ParseEntry(raw)
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("ignoring corrupt cache entry")
		return nil, false
	}

	data, ok := Decode(entry, c.now())
	if !ok {
		c.store.RemoveRaw(key)
		c.metrics.Expire()
		return nil, false
	}
	return data, true
}

// Set caches data for identity. The entry's lifetime is opts.TTL, or the
// policy window for identity when no TTL was given. Nothing is written when
// opts.NoCache is set or no store is available.
func (c *APICache) Set(identity string, data any, opts SetOptions) {
	if opts.NoCache || !c.store.Available() {
		return
	}

	ttl := opts.TTL
	if !opts.explicitTTL() {
		ttl = c.policy.Resolve(identity)
	}

	var keyParams any
	if c.paramsOnSet {
		keyParams = opts.Params
	}
	key, err := DeriveKey(c.prefix, identity, keyParams)
	if err != nil {
		c.logger.Debug().Err(err).Str("identity", identity).Msg("cannot derive cache key")
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cannot serialize value, not caching")
		return
	}

	raw, err := MarshalEntry(Encode(payload, ttl, c.now()))
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cannot serialize cache entry")
		return
	}

	c.store.WriteRaw(key, raw)
	c.metrics.Write()
	c.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("cached response")
}

// Invalidate removes every key in the namespace containing pattern and
// returns how many were removed.
func (c *APICache) Invalidate(pattern string) int {
	removed := 0
	for _, key := range c.namespaceKeys() {
		if strings.Contains(key, pattern) {
			c.store.RemoveRaw(key)
			removed++
		}
	}
	c.metrics.Invalidate(removed)
	c.logger.Debug().Str("pattern", pattern).Int("removed", removed).Msg("invalidated cache entries")
	return removed
}

// Clear removes every key in the namespace and resets the statistics.
func (c *APICache) Clear() int {
	removed := 0
	for _, key := range c.namespaceKeys() {
		c.store.RemoveRaw(key)
		removed++
	}
	c.stats.reset()
	c.metrics.Invalidate(removed)
	return removed
}

// Stats returns a copy of the current statistics.
func (c *APICache) Stats() Stats {
	return c.stats.snapshot()
}

// Cleanup removes expired envelopes from the namespace and returns how many
// were removed. Values that are not envelopes are left in place.
func (c *APICache) Cleanup() int {
	now := c.now()
	removed := 0
	for _, key := range c.namespaceKeys() {
		raw, ok := c.store.ReadRaw(key)
		if !ok {
			continue
		}
		entry, err := ParseEntry(raw)
		if err != nil {
			continue
		}
		if entry.IsExpired(now) {
			c.store.RemoveRaw(key)
			c.metrics.Expire()
			removed++
		}
	}
	return removed
}

// Inventory describes what is physically stored in the namespace.
type Inventory struct {
	Entries int   `json:"entries"`
	Live    int   `json:"live"`
	Expired int   `json:"expired"`
	Corrupt int   `json:"corrupt"`
	Bytes   int64 `json:"bytes"`
}

// Inspect scans the namespace without modifying it.
func (c *APICache) Inspect() Inventory {
	now := c.now()
	var inv Inventory
	for _, key := range c.namespaceKeys() {
		raw, ok := c.store.ReadRaw(key)
		if !ok {
			continue
		}
		inv.Entries++
		inv.Bytes += int64(len(key) + len(raw))
		entry, err := ParseEntry(raw)
		switch {
		case err != nil:
			inv.Corrupt++
		case entry.IsExpired(now):
			inv.Expired++
		default:
			inv.Live++
		}
	}
	return inv
}

// StartSweeper starts the cache's sweeper if it is not already running and
// returns it. There is at most one sweeper per APICache.
func (c *APICache) StartSweeper(ctx context.Context) *Sweeper {
	c.sweeperMu.Lock()
	defer c.sweeperMu.Unlock()
	if c.sweeper == nil {
		c.sweeper = NewSweeper(c, c.sweepInterval)
	}
	c.sweeper.Start(ctx)
	return c.sweeper
}

// StopSweeper stops the cache's sweeper, if any.
func (c *APICache) StopSweeper() {
	c.sweeperMu.Lock()
	s := c.sweeper
	c.sweeperMu.Unlock()
	if s != nil {
		s.Stop()
	}
}

func (c *APICache) namespaceKeys() []string {
	all := c.store.ListKeys()
	keys := make([]string, 0, len(all))
	for _, key := range all {
		if inNamespace(c.prefix, key) {
			keys = append(keys, key)
		}
	}
	return keys
}
