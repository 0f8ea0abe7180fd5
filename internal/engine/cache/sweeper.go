package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically calls Cleanup on a cache, independent of read and
// write traffic. Start and Stop are idempotent; a stopped Sweeper may be
// started again.
type Sweeper struct {
	cache    *APICache
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper for c. A non-positive interval selects
// DefaultSweepInterval.
func NewSweeper(c *APICache, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		cache:    c,
		interval: interval,
		logger:   c.logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start launches the sweep loop. It returns false, without starting, when
// the cache has no store or the loop is already running. The loop ends when
// ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeLocked() {
		return false
	}
	if !s.cache.Available() {
		s.logger.Debug().Msg("no persistent store, sweeper not started")
		return false
	}

	if s.cancel != nil {
		s.cancel() // release the context of a loop that ended on its own
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	s.logger.Debug().Dur("interval", s.interval).Msg("sweeper started")
	return true
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Debug().Msg("sweeper stopped")
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// activeLocked reports whether a loop is running. Must be called with mu held.
func (s *Sweeper) activeLocked() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Interval returns the sweep interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.cache.Cleanup(); removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("swept expired cache entries")
			}
		}
	}
}
