// Package metrics provides a built-in plugin exposing request-level
// Prometheus metrics: request counts by operation type and outcome,
// per-phase latency histograms, and persisted-query counters.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	gqlerrors "github.com/kevin-foreman/apollo-server/internal/gqlerrors"
	pipeline "github.com/kevin-foreman/apollo-server/internal/pipeline"
)

// Plugin records request metrics. Construct with New.
type Plugin struct {
	requests      *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	apqHits       prometheus.Counter
	apqRegisters  prometheus.Counter
}

// New creates the metrics plugin, registering its collectors on reg.
func New(reg prometheus.Registerer, namespace string) *Plugin {
	factory := promauto.With(reg)
	return &Plugin{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graphql_requests_total",
			Help:      "GraphQL requests by operation type and error code (empty on success).",
		}, []string{"operation_type", "code"}),
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graphql_phase_duration_seconds",
			Help:      "Duration of the parsing, validation, and execution phases.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		apqHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graphql_persisted_query_hits_total",
			Help:      "Requests served from the persisted query store.",
		}),
		apqRegisters: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graphql_persisted_query_registers_total",
			Help:      "Requests that registered a new persisted query.",
		}),
	}
}

// RequestDidStart implements pipeline.Plugin.
func (p *Plugin) RequestDidStart(ctx context.Context, rc *pipeline.RequestContext) (*pipeline.RequestListener, error) {
	phase := func(name string) (pipeline.EndFunc, error) {
		start := time.Now()
		return func(ctx context.Context, err error) error {
			p.phaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			return nil
		}, nil
	}
	return &pipeline.RequestListener{
		ParsingDidStart: func(ctx context.Context, rc *pipeline.RequestContext) (pipeline.EndFunc, error) {
			return phase("parsing")
		},
		ValidationDidStart: func(ctx context.Context, rc *pipeline.RequestContext) (pipeline.EndFunc, error) {
			return phase("validation")
		},
		ExecutionDidStart: func(ctx context.Context, rc *pipeline.RequestContext) (*pipeline.ExecutionListener, error) {
			end, _ := phase("execution")
			return &pipeline.ExecutionListener{ExecutionDidEnd: end}, nil
		},
		WillSendResponse: func(ctx context.Context, rc *pipeline.RequestContext) error {
			opType := ""
			if rc.Operation != nil {
				opType = string(rc.Operation.Operation)
			}
			code := ""
			if len(rc.Errors) > 0 {
				code = string(gqlerrors.CodeOf(rc.Errors[0]))
			}
			p.requests.WithLabelValues(opType, code).Inc()
			if rc.Metrics.PersistedQueryHit {
				p.apqHits.Inc()
			}
			if rc.Metrics.PersistedQueryRegister {
				p.apqRegisters.Inc()
			}
			return nil
		},
	}, nil
}
