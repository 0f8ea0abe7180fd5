package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultFetchTimeout bounds a coalesced fetch.
const DefaultFetchTimeout = time.Minute

// FetchFunc produces a fresh value on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Source reports where a Load result came from.
type Source int

const (
	// SourceFetch means the caller's own fetch produced the value.
	SourceFetch Source = iota
	// SourceCache means a live entry was served.
	SourceCache
	// SourceShared means another caller's in-flight fetch produced the value.
	SourceShared
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceShared:
		return "shared"
	default:
		return "fetch"
	}
}

// WithCache returns the cached value for identity, or calls fetch and caches
// its result. Fetch errors are returned unchanged and nothing is cached.
//
// Concurrent misses for the same identity share a single fetch unless the
// cache was built WithoutCoalescing.
func WithCache[T any](ctx context.Context, c *APICache, identity string, fetch FetchFunc[T], opts SetOptions) (T, error) {
	v, _, err := Load(ctx, c, identity, fetch, opts)
	return v, err
}

type flight[T any] struct {
	value  T
	source Source
}

// Load is WithCache that also reports where the value came from. The
// Source is meaningful only when err is nil.
//
// A coalesced fetch is not cancelled when the caller that started it goes
// away; it runs under the cache's fetch timeout instead. Each caller stops
// waiting when its own ctx is done and gets ctx.Err().
func Load[T any](ctx context.Context, c *APICache, identity string, fetch FetchFunc[T], opts SetOptions) (T, Source, error) {
	if opts.NoCache {
		v, err := fetch(ctx)
		return v, SourceFetch, err
	}

	if v, ok := GetAs[T](c, identity, nil); ok {
		return v, SourceCache, nil
	}

	key, err := DeriveKey(c.prefix, identity, nil)
	if !c.coalesce || !c.store.Available() || err != nil {
		v, err := fetchAndStore(ctx, c, identity, fetch, opts)
		return v, SourceFetch, err
	}

	// Only the goroutine running the flight sets leader; the channel
	// receive below orders it before the read.
	var leader bool

	// Callers asking for different result types never share a fetch.
	group := fmt.Sprintf("%T|%s", (*T)(nil), key)
	ch := c.inflight.DoChan(group, func() (any, error) {
		leader = true

		// A fetch for this key may have completed between our miss and
		// entering the group; serve its result instead of fetching again.
		if data, ok := c.lookup(identity, nil); ok {
			var cached T
			if json.Unmarshal(data, &cached) == nil {
				return flight[T]{value: cached, source: SourceCache}, nil
			}
		}

		fetchCtx, cancel := c.detach(ctx)
		defer cancel()
		v, err := fetchAndStore(fetchCtx, c, identity, fetch, opts)
		return flight[T]{value: v, source: SourceFetch}, err
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, SourceFetch, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, SourceFetch, res.Err
		}
		out, ok := res.Val.(flight[T])
		if !ok {
			v, err := fetchAndStore(ctx, c, identity, fetch, opts)
			return v, SourceFetch, err
		}
		if out.source == SourceFetch && !leader {
			out.source = SourceShared
		}
		return out.value, out.source, nil
	}
}

// detach returns a context that keeps ctx's values but not its
// cancellation, bounded by the cache's fetch timeout.
func (c *APICache) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.fetchTimeout <= 0 {
		return detached, func() {}
	}
	return context.WithTimeout(detached, c.fetchTimeout)
}

func fetchAndStore[T any](ctx context.Context, c *APICache, identity string, fetch FetchFunc[T], opts SetOptions) (T, error) {
	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	opts.NoCache = false
	opts.Params = nil
	c.Set(identity, v, opts)
	return v, nil
}
