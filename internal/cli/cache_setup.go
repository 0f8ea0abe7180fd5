package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/rshade/apicache/internal/config"
	"github.com/rshade/apicache/internal/engine/cache"
	"github.com/rshade/apicache/internal/logging"
)

const sqliteFileName = "cache.db"

// cacheSession is an APICache plus the resources backing it.
type cacheSession struct {
	cache   *cache.APICache
	backend string
	closer  func() error
}

// Close releases the backing store.
func (s *cacheSession) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

// openCache builds the cache described by cfg. A backend that cannot be
// opened is logged and replaced by an unavailable store, so reads miss and
// writes are dropped. reg, when non-nil, receives the cache counters.
func openCache(cfg *config.Config, log zerolog.Logger, reg prometheus.Registerer) *cacheSession {
	cacheLog := logging.ComponentLogger(log, "cache")

	backend, closer := openBackend(cfg, cacheLog)
	opts := []cache.Option{
		cache.WithPrefix(cfg.Cache.Prefix),
		cache.WithTTLPolicy(cfg.TTLPolicy()),
		cache.WithLogger(cacheLog),
		cache.WithSweepInterval(cfg.Cache.SweepInterval),
	}
	if cfg.Cache.ParamsOnSet {
		opts = append(opts, cache.WithParamsOnSet())
	}
	if !cfg.Cache.Coalesce {
		opts = append(opts, cache.WithoutCoalescing())
	}
	if reg != nil {
		opts = append(opts, cache.WithMetrics(cache.NewPrometheusMetrics(reg, "apicache")))
	}

	name := cfg.Cache.Backend
	if backend == nil {
		name = config.BackendNone
	}
	return &cacheSession{
		cache:   cache.New(cache.NewAdapter(backend, cacheLog), opts...),
		backend: name,
		closer:  closer,
	}
}

// openBackend returns the configured Backend, or nil when caching is
// disabled or the store cannot be opened.
func openBackend(cfg *config.Config, log zerolog.Logger) (cache.Backend, func() error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}

	switch strings.ToLower(cfg.Cache.Backend) {
	case config.BackendMemory:
		return cache.NewMemoryStore(), nil
	case config.BackendNone:
		return nil, nil
	}

	dir, err := cfg.CacheDirectory()
	if err != nil {
		log.Warn().Err(err).Msg("cache directory unavailable, caching disabled")
		return nil, nil
	}

	switch strings.ToLower(cfg.Cache.Backend) {
	case config.BackendSQLite:
		store, openErr := openSQLite(dir)
		if openErr != nil {
			log.Warn().Err(openErr).Str("dir", dir).Msg("cannot open cache database, caching disabled")
			return nil, nil
		}
		return store, store.Close
	default:
		store, openErr := cache.NewFileStore(dir)
		if openErr != nil {
			log.Warn().Err(openErr).Str("dir", dir).Msg("cannot open cache directory, caching disabled")
			return nil, nil
		}
		return store, nil
	}
}

func openSQLite(dir string) (*cache.SQLStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	return cache.OpenSQLStore(filepath.Join(dir, sqliteFileName))
}
