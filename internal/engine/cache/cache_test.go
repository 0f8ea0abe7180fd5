package cache_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/apicache/internal/engine/cache"
)

type quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// TestAPICache_RoundTrip verifies a value set is read back unchanged.
func TestAPICache_RoundTrip(t *testing.T) {
	c, _, _ := newTestCache(t)

	values := map[string]any{
		"/api/quotes/AAPL":  quote{Symbol: "AAPL", Price: 189.25},
		"/api/signals/list": []string{"buy", "hold"},
		"/api/health":       "ok",
		"/api/count":        42,
	}
	for identity, v := range values {
		c.Set(identity, v, cache.SetOptions{TTL: time.Minute})
	}

	got, ok := cache.GetAs[quote](c, "/api/quotes/AAPL", nil)
	require.True(t, ok)
	assert.Equal(t, quote{Symbol: "AAPL", Price: 189.25}, got)

	list, ok := cache.GetAs[[]string](c, "/api/signals/list", nil)
	require.True(t, ok)
	assert.Equal(t, []string{"buy", "hold"}, list)

	raw, ok := c.Get("/api/health", nil)
	require.True(t, ok)
	assert.JSONEq(t, `"ok"`, string(raw))

	n, ok := cache.GetAs[int](c, "/api/count", nil)
	require.True(t, ok)
	assert.Equal(t, 42, n)
}

// TestAPICache_Expiry verifies expired entries read as absent and are removed.
func TestAPICache_Expiry(t *testing.T) {
	c, store, clock := newTestCache(t)

	c.Set("/api/signals/AAA", quote{Symbol: "AAA"}, cache.SetOptions{TTL: 100 * time.Millisecond})
	clock.Advance(99 * time.Millisecond)
	_, ok := c.Get("/api/signals/AAA", nil)
	require.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok = c.Get("/api/signals/AAA", nil)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len(), "expired entry should be removed on read")

	// No resurrection without advancing time.
	_, ok = c.Get("/api/signals/AAA", nil)
	assert.False(t, ok)
}

// TestAPICache_DefaultTTLFromPolicy verifies Set falls back to the policy window.
func TestAPICache_DefaultTTLFromPolicy(t *testing.T) {
	c, _, clock := newTestCache(t)

	c.Set("/api/x/signals", 1, cache.SetOptions{})
	c.Set("/api/x/sentiment", 2, cache.SetOptions{})

	clock.Advance(5*time.Minute - time.Millisecond)
	_, ok := c.Get("/api/x/signals", nil)
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok = c.Get("/api/x/signals", nil)
	assert.False(t, ok, "signals expire after 5m")

	_, ok = c.Get("/api/x/sentiment", nil)
	assert.True(t, ok, "sentiment lives 10m")

	clock.Advance(5 * time.Minute)
	_, ok = c.Get("/api/x/sentiment", nil)
	assert.False(t, ok)
}

func TestAPICache_NegativeTTLStoresExpiredEntry(t *testing.T) {
	c, store, _ := newTestCache(t)
	c.Set("/api/x", 1, cache.SetOptions{TTL: -time.Second})
	assert.Equal(t, 1, store.Len())
	_, ok := c.Get("/api/x", nil)
	assert.False(t, ok)
}

func TestAPICache_ExplicitZeroTTL(t *testing.T) {
	c, store, _ := newTestCache(t)

	c.Set("/api/x/signals", 1, cache.SetOptions{}.WithTTL(0))
	assert.Equal(t, 1, store.Len())
	_, ok := c.Get("/api/x/signals", nil)
	assert.False(t, ok, "an explicit zero lifetime is already expired")

	c.Set("/api/x/signals", 1, cache.SetOptions{})
	_, ok = c.Get("/api/x/signals", nil)
	assert.True(t, ok, "an unset TTL falls back to the policy window")

	c.Set("/api/y", 1, cache.SetOptions{Params: "ignored"}.WithTTL(time.Minute))
	_, ok = c.Get("/api/y", nil)
	assert.True(t, ok)
}

func TestAPICache_NoCache(t *testing.T) {
	c, store, _ := newTestCache(t)
	c.Set("/api/x", 1, cache.SetOptions{NoCache: true})
	assert.Equal(t, 0, store.Len())
}

func TestAPICache_UnserializableValueIsNotCached(t *testing.T) {
	c, store, _ := newTestCache(t)
	c.Set("/api/x", func() {}, cache.SetOptions{})
	assert.Equal(t, 0, store.Len())
}

// TestAPICache_Stats verifies hits + misses == totalRequests and the hit rate.
func TestAPICache_Stats(t *testing.T) {
	c, _, _ := newTestCache(t)
	assert.Equal(t, cache.Stats{}, c.Stats())

	c.Set("/api/a", 1, cache.SetOptions{})
	reads := []string{"/api/a", "/api/b", "/api/a", "/api/a", "/api/c"}
	for i, identity := range reads {
		c.Get(identity, nil)

		s := c.Stats()
		assert.Equal(t, int64(i+1), s.TotalRequests)
		assert.Equal(t, s.TotalRequests, s.Hits+s.Misses)
		assert.InDelta(t, float64(s.Hits)/float64(s.TotalRequests), s.HitRate, 1e-9)
	}

	s := c.Stats()
	assert.Equal(t, int64(3), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
	assert.InDelta(t, 0.6, s.HitRate, 1e-9)
}

func TestAPICache_StatsIsACopy(t *testing.T) {
	c, _, _ := newTestCache(t)
	s := c.Stats()
	s.Hits = 99
	assert.Equal(t, int64(0), c.Stats().Hits)
}

func TestAPICache_CorruptEntryCountsAsMiss(t *testing.T) {
	c, store, _ := newTestCache(t)
	require.NoError(t, store.Write("api_cache:_api_x", "{not json"))

	_, ok := c.Get("/api/x", nil)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestGetAs_TypeMismatchIsMiss(t *testing.T) {
	c, _, _ := newTestCache(t)
	c.Set("/api/x", "text", cache.SetOptions{})
	_, ok := cache.GetAs[quote](c, "/api/x", nil)
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, int64(0), s.Hits, "a value that cannot be served is not a hit")
	assert.Equal(t, int64(1), s.Misses)

	text, ok := cache.GetAs[string](c, "/api/x", nil)
	require.True(t, ok)
	assert.Equal(t, "text", text)
	assert.Equal(t, int64(1), c.Stats().Hits)
}

// TestAPICache_Unavailable verifies a cache with no store never counts reads.
func TestAPICache_Unavailable(t *testing.T) {
	for name, c := range map[string]*cache.APICache{
		"explicit": cache.New(cache.Unavailable()),
		"nil":      cache.New(nil),
	} {
		t.Run(name, func(t *testing.T) {
			assert.False(t, c.Available())
			c.Set("/api/x", 1, cache.SetOptions{})
			_, ok := c.Get("/api/x", nil)
			assert.False(t, ok)
			assert.Equal(t, cache.Stats{}, c.Stats())
			assert.Equal(t, 0, c.Invalidate("x"))
			assert.Equal(t, 0, c.Cleanup())
			assert.Equal(t, 0, c.Clear())
		})
	}
}

// TestAPICache_Invalidate verifies only matching keys in the namespace are removed.
func TestAPICache_Invalidate(t *testing.T) {
	c, store, _ := newTestCache(t)
	require.NoError(t, store.Write("other:signals_foreign", "x"))

	c.Set("signals/AAA", 1, cache.SetOptions{})
	c.Set("sentiment/BBB", 2, cache.SetOptions{})

	removed := c.Invalidate("signals")
	assert.Equal(t, 1, removed)

	_, ok := c.Get("signals/AAA", nil)
	assert.False(t, ok)
	_, ok = c.Get("sentiment/BBB", nil)
	assert.True(t, ok)

	_, err := store.Read("other:signals_foreign")
	require.NoError(t, err, "keys outside the namespace are untouched")
}

// TestAPICache_Clear verifies clear empties the namespace and resets stats.
func TestAPICache_Clear(t *testing.T) {
	c, store, _ := newTestCache(t)
	require.NoError(t, store.Write("theme", "dark"))

	c.Set("/api/a", 1, cache.SetOptions{})
	c.Set("/api/b", 2, cache.SetOptions{})
	c.Get("/api/a", nil)
	c.Get("/api/z", nil)

	assert.Equal(t, 2, c.Clear())
	assert.Equal(t, cache.Stats{}, c.Stats())

	_, ok := c.Get("/api/a", nil)
	assert.False(t, ok)
	_, ok = c.Get("/api/b", nil)
	assert.False(t, ok)

	v, err := store.Read("theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", v)
}

// TestAPICache_Cleanup verifies sweeps remove only expired envelopes.
func TestAPICache_Cleanup(t *testing.T) {
	c, store, clock := newTestCache(t)

	c.Set("/api/short", 1, cache.SetOptions{TTL: time.Second})
	c.Set("/api/long", 2, cache.SetOptions{TTL: time.Hour})
	require.NoError(t, store.Write("api_cache:corrupt", "{{{"))
	require.NoError(t, store.Write("api_cache:noexpiry", `{"data":1}`))
	require.NoError(t, store.Write("elsewhere", `{"data":1,"expiry":0}`))

	assert.Equal(t, 0, c.Cleanup())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, c.Cleanup())

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"api_cache:_api_long",
		"api_cache:corrupt",
		"api_cache:noexpiry",
		"elsewhere",
	}, keys)
}

func TestAPICache_Inspect(t *testing.T) {
	c, store, clock := newTestCache(t)
	c.Set("/api/a", 1, cache.SetOptions{TTL: time.Second})
	c.Set("/api/b", 2, cache.SetOptions{TTL: time.Hour})
	require.NoError(t, store.Write("api_cache:bad", "?"))
	clock.Advance(time.Minute)

	inv := c.Inspect()
	assert.Equal(t, 3, inv.Entries)
	assert.Equal(t, 1, inv.Live)
	assert.Equal(t, 1, inv.Expired)
	assert.Equal(t, 1, inv.Corrupt)
	assert.Positive(t, inv.Bytes)
	assert.Equal(t, 3, store.Len(), "inspect does not modify the store")
}

func TestAPICache_Prefix(t *testing.T) {
	c, store, _ := newTestCache(t, cache.WithPrefix("dash"))
	assert.Equal(t, "dash", c.Prefix())

	c.Set("/api/a", 1, cache.SetOptions{})
	_, err := store.Read("dash:_api_a")
	require.NoError(t, err)

	// A cache with another prefix does not see or clear these entries.
	other := cache.New(cache.NewAdapter(store, zerolog.Nop()))
	_, ok := other.Get("/api/a", nil)
	assert.False(t, ok)
	assert.Equal(t, 0, other.Clear())
	assert.Equal(t, 1, store.Len())
}

// TestAPICache_SetIgnoresParamsByDefault pins the get/set key asymmetry:
// Set keys on identity alone, so a Get with params does not see it.
func TestAPICache_SetIgnoresParamsByDefault(t *testing.T) {
	c, store, _ := newTestCache(t)
	params := map[string]string{"symbol": "AAPL"}

	c.Set("/api/signals", 1, cache.SetOptions{Params: params})

	_, ok := c.Get("/api/signals", params)
	assert.False(t, ok, "get with params misses an entry set without params")

	_, ok = c.Get("/api/signals", nil)
	assert.True(t, ok, "the entry lives under the identity-only key")

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"api_cache:_api_signals"}, keys)
}

func TestAPICache_WithParamsOnSet(t *testing.T) {
	c, _, _ := newTestCache(t, cache.WithParamsOnSet())
	params := map[string]string{"symbol": "AAPL", "range": "1d"}

	c.Set("/api/signals", 1, cache.SetOptions{Params: params})

	n, ok := cache.GetAs[int](c, "/api/signals", map[string]string{"range": "1d", "symbol": "AAPL"})
	require.True(t, ok)
	assert.Equal(t, 1, n)

	_, ok = c.Get("/api/signals", nil)
	assert.False(t, ok)
}

func TestAPICache_CustomTTLPolicy(t *testing.T) {
	c, _, clock := newTestCache(t, cache.WithTTLPolicy(cache.TTLPolicy{Default: time.Second}))
	assert.Equal(t, time.Second, c.ResolveTTL("/api/x/overview"))

	c.Set("/api/x/overview", 1, cache.SetOptions{})
	clock.Advance(time.Second)
	_, ok := c.Get("/api/x/overview", nil)
	assert.False(t, ok)
}

// TestAPICache_PrometheusMetrics verifies events reach the registered counters.
func TestAPICache_PrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := cache.NewPrometheusMetrics(reg, "apicache")
	c, _, clock := newTestCache(t, cache.WithMetrics(m))

	c.Set("/api/a", 1, cache.SetOptions{TTL: time.Second})
	c.Set("/api/b", 1, cache.SetOptions{TTL: time.Hour})
	c.Get("/api/a", nil)
	c.Get("/api/missing", nil)
	clock.Advance(2 * time.Second)
	c.Get("/api/a", nil)
	c.Invalidate("_api_b")

	assert.InDelta(t, 2, testutil.ToFloat64(m.Writes), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Hits), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Misses), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Expired), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Invalidated), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}

func TestStats_JSONShape(t *testing.T) {
	b, err := json.Marshal(cache.Stats{Hits: 1, Misses: 1, HitRate: 0.5, TotalRequests: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hits":1,"misses":1,"hitRate":0.5,"totalRequests":2}`, string(b))
}
