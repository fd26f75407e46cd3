// Package otel wires OpenTelemetry tracing to the eventbus. Spans are
// opened and closed by event subscribers keyed on the request ID, so
// the pipeline itself never touches the tracer.
package otel

import (
	"context"
	"sync"

	eventbus "github.com/kevin-foreman/apollo-server/internal/eventbus"
	events "github.com/kevin-foreman/apollo-server/internal/events"
	reqid "github.com/kevin-foreman/apollo-server/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("apollo-server")}
	sub.register()

	return tp.Shutdown, nil
}

type phaseKey struct {
	rid   int64
	phase string
}

type subscriber struct {
	tracer     trace.Tracer
	httpSpans  sync.Map // rid -> trace.Span
	reqSpans   sync.Map // rid -> trace.Span
	phaseSpans sync.Map // phaseKey -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RequestStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.httpSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "graphql.request")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.Bool("graphql.persisted_query", e.PersistedQuery),
		)
		s.reqSpans.Store(rid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.RequestFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.reqSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.String("graphql.operation.type", e.OperationType),
			attribute.Int("graphql.error_count", len(e.Errors)),
			attribute.Int("http.status_code", e.StatusCode),
			attribute.Bool("graphql.persisted_query.hit", e.PersistedQueryHit),
		)
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.PhaseStart) {
		rid, _ := reqid.FromContext(ctx)
		parent := ctx
		if v, ok := s.reqSpans.Load(rid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "graphql."+e.Phase)
		s.phaseSpans.Store(phaseKey{rid, e.Phase}, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.PhaseFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.phaseSpans.LoadAndDelete(phaseKey{rid, e.Phase})
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.CacheError) {
		rid, _ := reqid.FromContext(ctx)
		if v, ok := s.reqSpans.Load(rid); ok {
			v.(trace.Span).AddEvent("cache.error", trace.WithAttributes(
				attribute.String("cache.name", e.Cache),
				attribute.String("cache.op", e.Op),
			))
		}
	})
}
