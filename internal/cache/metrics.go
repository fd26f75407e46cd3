package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// cacheMetrics holds the Prometheus counters a cache exposes when
// metrics are enabled. Registration failures surface at construction
// time rather than being silently ignored.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	evictions prometheus.Counter
}

func newCacheMetrics(reg prometheus.Registerer, prefix string) (m *cacheMetrics, err error) {
	// promauto panics on duplicate registration; translate to error.
	defer func() {
		if r := recover(); r != nil {
			m = nil
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = prometheus.AlreadyRegisteredError{}
			}
		}
	}()
	factory := promauto.With(reg)
	m = &cacheMetrics{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_cache_hits_total",
			Help: "Number of cache lookups that found an entry.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_cache_misses_total",
			Help: "Number of cache lookups that found nothing.",
		}),
		sets: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_cache_sets_total",
			Help: "Number of cache writes.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_cache_evictions_total",
			Help: "Number of entries evicted by size or expiry.",
		}),
	}
	return m, nil
}

func (m *cacheMetrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *cacheMetrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *cacheMetrics) set() {
	if m != nil {
		m.sets.Inc()
	}
}

func (m *cacheMetrics) evict() {
	if m != nil {
		m.evictions.Inc()
	}
}
