package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"

	eventbus "github.com/kevin-foreman/apollo-server/internal/eventbus"
	events "github.com/kevin-foreman/apollo-server/internal/events"
	gqlerrors "github.com/kevin-foreman/apollo-server/internal/gqlerrors"
)

// apqVersion is the only persisted-query protocol version the server
// speaks.
const apqVersion = 1

// ComputeQueryHash returns the hex sha256 digest of query text. It is
// the cache key for persisted queries and parsed documents, and the
// integrity check binding a client-declared hash to actual text.
func ComputeQueryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// persistedQueryExtension is the client-declared persisted-query
// reference carried in the request extensions.
type persistedQueryExtension struct {
	Version    int
	Sha256Hash string
}

func parsePersistedQuery(extensions map[string]any) (*persistedQueryExtension, bool) {
	raw, ok := extensions["persistedQuery"]
	if !ok || raw == nil {
		return nil, false
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return &persistedQueryExtension{}, true
	}
	ext := &persistedQueryExtension{}
	switch v := fields["version"].(type) {
	case float64:
		ext.Version = int(v)
	case int:
		ext.Version = v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			ext.Version = int(n)
		}
	}
	if h, ok := fields["sha256Hash"].(string); ok {
		ext.Sha256Hash = h
	}
	return ext, true
}

// resolveIdentity determines the canonical query text and its hash,
// implementing the persisted-query protocol. On success it fills
// rc.QueryHash and rc.Source and marks the Metrics flags; the deferred
// register write happens later, after operation resolution.
func (p *Pipeline) resolveIdentity(ctx context.Context, rc *RequestContext) *gqlerror.Error {
	req := rc.Request
	ext, hasExt := parsePersistedQuery(req.Extensions)

	if hasExt {
		if p.opt.persistedQueries == nil {
			return gqlerrors.New(gqlerrors.CodePersistedQueryNotSupported, "PersistedQueryNotSupported")
		}
		if ext.Version != apqVersion {
			return gqlerrors.New(gqlerrors.CodeProtocolError,
				fmt.Sprintf("Unsupported persisted query version %d.", ext.Version))
		}
		if req.Query == "" {
			text, found := p.persistedQueryGet(ctx, ext.Sha256Hash)
			if !found {
				return gqlerrors.New(gqlerrors.CodePersistedQueryNotFound, "PersistedQueryNotFound")
			}
			rc.QueryHash = ext.Sha256Hash
			rc.Source = text
			rc.Metrics.PersistedQueryHit = true
			return nil
		}
		computed := ComputeQueryHash(req.Query)
		if computed != ext.Sha256Hash {
			return gqlerrors.New(gqlerrors.CodeProtocolError, "provided hash does not match query")
		}
		rc.QueryHash = computed
		rc.Source = req.Query
		rc.Metrics.PersistedQueryRegister = true
		return nil
	}

	if req.Query == "" {
		return gqlerrors.New(gqlerrors.CodeBadRequest,
			"GraphQL operations must contain a non-empty query or a persistedQuery extension.")
	}
	rc.QueryHash = ComputeQueryHash(req.Query)
	rc.Source = req.Query
	return nil
}

// persistedQueryGet reads the store, absorbing failures as misses.
func (p *Pipeline) persistedQueryGet(ctx context.Context, hash string) (string, bool) {
	text, found, err := p.opt.persistedQueries.Get(ctx, hash)
	if err != nil {
		p.opt.logger.WarnContext(ctx, "persisted query cache read failed",
			"hash", hash, "error", err)
		eventbus.Publish(ctx, events.CacheError{Cache: "persisted-query", Op: "get", Key: hash, Err: err})
		return "", false
	}
	return text, found
}

// persistedQueryRegister commits the deferred hash→text write. Fired
// only after operation resolution succeeded without plugin objection,
// and never joined back into the request's control flow.
func (p *Pipeline) persistedQueryRegister(ctx context.Context, rc *RequestContext) {
	hash, text := rc.QueryHash, rc.Source
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := p.opt.persistedQueries.Set(bg, hash, text, p.opt.persistedQueryTTL); err != nil {
			p.opt.logger.WarnContext(bg, "persisted query cache write failed",
				"hash", hash, "error", err)
			eventbus.Publish(bg, events.CacheError{Cache: "persisted-query", Op: "set", Key: hash, Err: err})
		}
	}()
}
