// Package logging provides a built-in plugin that logs one structured
// line per request through slog.
package logging

import (
	"context"
	"log/slog"
	"time"

	pipeline "github.com/kevin-foreman/apollo-server/internal/pipeline"
)

// Plugin logs request outcomes. Zero value is not usable; construct
// with New.
type Plugin struct {
	logger *slog.Logger
}

// New creates the logging plugin. A nil logger selects slog.Default().
func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{logger: logger}
}

// RequestDidStart implements pipeline.Plugin.
func (p *Plugin) RequestDidStart(ctx context.Context, rc *pipeline.RequestContext) (*pipeline.RequestListener, error) {
	start := time.Now()
	return &pipeline.RequestListener{
		WillSendResponse: func(ctx context.Context, rc *pipeline.RequestContext) error {
			opType := ""
			if rc.Operation != nil {
				opType = string(rc.Operation.Operation)
			}
			attrs := []any{
				slog.String("operation", rc.OperationName),
				slog.String("type", opType),
				slog.Int("status", rc.Response.StatusCode),
				slog.Int("errors", len(rc.Errors)),
				slog.Duration("duration", time.Since(start)),
			}
			if rc.Metrics.PersistedQueryHit {
				attrs = append(attrs, slog.Bool("apq_hit", true))
			}
			if rc.Metrics.PersistedQueryRegister {
				attrs = append(attrs, slog.Bool("apq_register", true))
			}
			if len(rc.Errors) > 0 {
				p.logger.WarnContext(ctx, "graphql request failed", attrs...)
			} else {
				p.logger.InfoContext(ctx, "graphql request", attrs...)
			}
			return nil
		},
	}, nil
}
