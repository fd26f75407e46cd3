// Package respcache provides a built-in plugin caching complete
// responses for query operations, served through the pipeline's
// response short-circuit so execution is skipped entirely on a hit.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/vektah/gqlparser/v2/ast"

	cache "github.com/kevin-foreman/apollo-server/internal/cache"
	pipeline "github.com/kevin-foreman/apollo-server/internal/pipeline"
)

// Entry is a cached response body.
type Entry struct {
	Data       any
	Extensions map[string]any
}

// Plugin caches full responses keyed by query hash, operation name,
// and a fingerprint of the variables. Only successful (status 200,
// error-free) query operations are cached; mutations never are.
type Plugin struct {
	store  cache.KeyValue[Entry]
	ttl    time.Duration
	logger *slog.Logger
}

// New creates the response cache plugin.
func New(store cache.KeyValue[Entry], ttl time.Duration, logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{store: store, ttl: ttl, logger: logger}
}

func cacheKey(rc *pipeline.RequestContext) string {
	fingerprint := ""
	if len(rc.Request.Variables) > 0 {
		// encoding/json sorts map keys, so the fingerprint is stable.
		if raw, err := json.Marshal(rc.Request.Variables); err == nil {
			sum := sha256.Sum256(raw)
			fingerprint = hex.EncodeToString(sum[:])
		}
	}
	return rc.QueryHash + ":" + rc.OperationName + ":" + fingerprint
}

// RequestDidStart implements pipeline.Plugin.
func (p *Plugin) RequestDidStart(ctx context.Context, rc *pipeline.RequestContext) (*pipeline.RequestListener, error) {
	servedFromCache := false
	return &pipeline.RequestListener{
		ResponseForOperation: func(ctx context.Context, rc *pipeline.RequestContext) (*pipeline.Response, error) {
			if rc.Operation.Operation != ast.Query {
				return nil, nil
			}
			entry, found, err := p.store.Get(ctx, cacheKey(rc))
			if err != nil {
				p.logger.WarnContext(ctx, "response cache read failed", "error", err)
				return nil, nil
			}
			if !found {
				return nil, nil
			}
			servedFromCache = true
			return &pipeline.Response{
				StatusCode:  http.StatusOK,
				Data:        entry.Data,
				Extensions:  entry.Extensions,
				IncludeData: true,
			}, nil
		},
		WillSendResponse: func(ctx context.Context, rc *pipeline.RequestContext) error {
			if servedFromCache {
				return nil
			}
			resp := rc.Response
			if rc.Operation == nil || rc.Operation.Operation != ast.Query ||
				resp.StatusCode != http.StatusOK || len(resp.Errors) > 0 || !resp.IncludeData {
				return nil
			}
			key := cacheKey(rc)
			entry := Entry{Data: resp.Data, Extensions: resp.Extensions}
			bg := context.WithoutCancel(ctx)
			go func() {
				if err := p.store.Set(bg, key, entry, p.ttl); err != nil {
					p.logger.WarnContext(bg, "response cache write failed", "error", err)
				}
			}()
			return nil
		},
	}, nil
}
