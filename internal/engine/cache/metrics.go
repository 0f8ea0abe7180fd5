package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives cache lifecycle events. The cache calls it on every
// operation, so implementations must be cheap and non-blocking.
type Metrics interface {
	// Hit is called when Get returns a live entry.
	Hit()

	// Miss is called when Get finds nothing usable.
	Miss()

	// Write is called when Set hands an envelope to the store.
	Write()

	// Expire is called once per expired entry removed, on read or by a sweep.
	Expire()

	// Invalidate is called with the number of entries removed by Invalidate or Clear.
	Invalidate(n int)
}

// NoopMetrics ignores every event.
type NoopMetrics struct{}

func (NoopMetrics) Hit()           {}
func (NoopMetrics) Miss()          {}
func (NoopMetrics) Write()         {}
func (NoopMetrics) Expire()        {}
func (NoopMetrics) Invalidate(int) {}

// PrometheusMetrics exports cache events as Prometheus counters.
type PrometheusMetrics struct {
	Hits        prometheus.Counter
	Misses      prometheus.Counter
	Writes      prometheus.Counter
	Expired     prometheus.Counter
	Invalidated prometheus.Counter
}

// NewPrometheusMetrics registers the cache counters on reg under namespace.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		Hits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache reads that returned a live entry",
		}),
		Misses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache reads that found no live entry",
		}),
		Writes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Total number of entries written to the store",
		}),
		Expired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_expired_total",
			Help:      "Total number of expired entries removed",
		}),
		Invalidated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidated_total",
			Help:      "Total number of entries removed by invalidate or clear",
		}),
	}
}

func (m *PrometheusMetrics) Hit()    { m.Hits.Inc() }
func (m *PrometheusMetrics) Miss()   { m.Misses.Inc() }
func (m *PrometheusMetrics) Write()  { m.Writes.Inc() }
func (m *PrometheusMetrics) Expire() { m.Expired.Inc() }

func (m *PrometheusMetrics) Invalidate(n int) {
	m.Invalidated.Add(float64(n))
}
