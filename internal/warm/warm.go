// Package warm pre-populates an APICache by fetching many targets through
// the cache-aside path, in fixed-size batches with bounded concurrency.
package warm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rshade/apicache/internal/engine/cache"
)

// Batch sizing limits.
const (
	DefaultBatchSize   = 10
	MaxBatchSize       = 1000
	DefaultConcurrency = 4
)

var (
	ErrInvalidBatchSize = fmt.Errorf("batch size must be between 1 and %d", MaxBatchSize)
	ErrNilFetch         = errors.New("warm fetch function cannot be nil")
)

// FetchFunc fetches the document for one target.
type FetchFunc func(ctx context.Context, target string) (json.RawMessage, error)

// ProgressFunc is called after each batch completes.
type ProgressFunc func(p Progress)

// Progress is a snapshot of a warm run.
type Progress struct {
	Total     int
	Done      int
	Failed    int
	StartTime time.Time
}

// PercentComplete returns the share of targets attempted, 0-100.
func (p Progress) PercentComplete() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total) * 100
}

// Elapsed returns the time since the run started.
func (p Progress) Elapsed() time.Duration {
	return time.Since(p.StartTime)
}

// Report summarizes a warm run.
type Report struct {
	Progress
	// Errors maps each failed target to its fetch error.
	Errors map[string]error
}

// Err joins every fetch error, or returns nil when all targets succeeded.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for target, err := range r.Errors {
		errs = append(errs, fmt.Errorf("%s: %w", target, err))
	}
	return errors.Join(errs...)
}

// Warmer fetches targets into a cache.
type Warmer struct {
	cache       *cache.APICache
	fetch       FetchFunc
	batchSize   int
	concurrency int
	opts        cache.SetOptions
	onProgress  ProgressFunc
	logger      zerolog.Logger
}

// Option configures a Warmer.
type Option func(*Warmer)

// WithBatchSize sets how many targets one worker handles at a time.
func WithBatchSize(n int) Option {
	return func(w *Warmer) { w.batchSize = n }
}

// WithConcurrency bounds how many batches run at once. Values below 1 mean 1.
func WithConcurrency(n int) Option {
	return func(w *Warmer) { w.concurrency = max(n, 1) }
}

// WithSetOptions sets the TTL and NoCache behavior applied to every target.
func WithSetOptions(opts cache.SetOptions) Option {
	return func(w *Warmer) { w.opts = opts }
}

// WithProgress registers a callback invoked after each batch.
func WithProgress(fn ProgressFunc) Option {
	return func(w *Warmer) { w.onProgress = fn }
}

// WithLogger sets the warmer logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Warmer) { w.logger = logger }
}

// New creates a Warmer that fills c using fetch.
func New(c *cache.APICache, fetch FetchFunc, opts ...Option) (*Warmer, error) {
	if fetch == nil {
		return nil, ErrNilFetch
	}
	w := &Warmer{
		cache:       c,
		fetch:       fetch,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.batchSize < 1 || w.batchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, w.batchSize)
	}
	return w, nil
}

// Warm fetches every target through the cache. Targets already cached are
// served without a fetch. Fetch errors are collected in the report; a
// cancelled ctx stops scheduling new batches and is returned.
func (w *Warmer) Warm(ctx context.Context, targets []string) (Report, error) {
	report := Report{
		Progress: Progress{Total: len(targets), StartTime: time.Now()},
		Errors:   map[string]error{},
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, w.concurrency)
	)

	for start := 0; start < len(targets); start += w.batchSize {
		select {
		case <-ctx.Done():
			wg.Wait()
			return report, ctx.Err()
		case sem <- struct{}{}:
		}

		batch := targets[start:min(start+w.batchSize, len(targets))]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			failed := w.warmBatch(ctx, batch)

			mu.Lock()
			report.Done += len(batch)
			report.Failed += len(failed)
			for target, err := range failed {
				report.Errors[target] = err
			}
			snapshot := report.Progress
			mu.Unlock()

			if w.onProgress != nil {
				w.onProgress(snapshot)
			}
		}()
	}
	wg.Wait()

	w.logger.Debug().
		Int("targets", report.Total).
		Int("failed", report.Failed).
		Dur("elapsed", report.Elapsed()).
		Msg("cache warm finished")
	return report, nil
}

func (w *Warmer) warmBatch(ctx context.Context, batch []string) map[string]error {
	failed := map[string]error{}
	for _, target := range batch {
		if ctx.Err() != nil {
			failed[target] = ctx.Err()
			continue
		}
		_, err := cache.WithCache(ctx, w.cache, target, func(ctx context.Context) (json.RawMessage, error) {
			return w.fetch(ctx, target)
		}, w.opts)
		if err != nil {
			w.logger.Debug().Err(err).Str("target", target).Msg("warm fetch failed")
			failed[target] = err
		}
	}
	return failed
}
