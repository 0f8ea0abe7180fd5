package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/apicache/internal/engine/cache"
)

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestCache builds a cache over a fresh MemoryStore with a fake clock.
func newTestCache(t *testing.T, opts ...cache.Option) (*cache.APICache, *cache.MemoryStore, *fakeClock) {
	t.Helper()
	store := cache.NewMemoryStore()
	clock := newFakeClock()
	all := append([]cache.Option{cache.WithClock(clock.Now)}, opts...)
	c := cache.New(cache.NewAdapter(store, zerolog.Nop()), all...)
	return c, store, clock
}
