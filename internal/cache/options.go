package cache

import "github.com/prometheus/client_golang/prometheus"

type options struct {
	metricsReg    prometheus.Registerer
	metricsPrefix string
}

// Option configures a cache implementation.
type Option func(*options)

// WithMetrics exposes hit/miss/set/eviction counters on reg, prefixed
// with prefix (e.g. "apq" yields apq_cache_hits_total).
func WithMetrics(reg prometheus.Registerer, prefix string) Option {
	return func(o *options) {
		o.metricsReg = reg
		o.metricsPrefix = prefix
	}
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, f := range opts {
		f(o)
	}
	return o
}
