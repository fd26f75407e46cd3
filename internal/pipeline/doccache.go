package pipeline

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"

	eventbus "github.com/kevin-foreman/apollo-server/internal/eventbus"
	events "github.com/kevin-foreman/apollo-server/internal/events"
)

// documentGet looks up a parsed-and-validated document by query hash.
// A read failure is logged and treated as a miss; it never fails the
// request.
func (p *Pipeline) documentGet(ctx context.Context, hash string) *ast.QueryDocument {
	if p.opt.documentCache == nil {
		return nil
	}
	doc, found, err := p.opt.documentCache.Get(ctx, hash)
	if err != nil {
		p.opt.logger.WarnContext(ctx, "document cache read failed",
			"hash", hash, "error", err)
		eventbus.Publish(ctx, events.CacheError{Cache: "document", Op: "get", Key: hash, Err: err})
		return nil
	}
	if !found {
		return nil
	}
	return doc
}

// documentPut stores a freshly validated document, fire-and-forget. A
// write failure is logged and otherwise ignored.
func (p *Pipeline) documentPut(ctx context.Context, hash string, doc *ast.QueryDocument) {
	if p.opt.documentCache == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := p.opt.documentCache.Set(bg, hash, doc, 0); err != nil {
			p.opt.logger.WarnContext(bg, "document cache write failed",
				"hash", hash, "error", err)
			eventbus.Publish(bg, events.CacheError{Cache: "document", Op: "set", Key: hash, Err: err})
		}
	}()
}
