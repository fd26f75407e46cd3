// Package execution defines the contract between the request pipeline
// and the GraphQL execution engine. The engine itself is an external
// collaborator: the pipeline hands it a validated document and consumes
// its result without knowing how fields are resolved.
package execution

import (
	"context"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Func executes one operation against a schema.
//
// General contract
//   - Args.Document has already been parsed and validated; the engine
//     may assume it is well-formed against Args.Schema.
//   - A returned error aborts the request: the pipeline classifies it
//     and never delivers partial data. Variable coercion failures MUST
//     be surfaced this way, as a *Error with the variable-definition
//     node kind attached, so the pipeline can attribute them to the
//     client rather than the server.
//   - Errors inside Result are field-level failures; data may still be
//     partially present and the request completes normally.
//   - When Args.FieldObserver is non-nil the engine must invoke it for
//     every field resolution before resolving the field, and invoke the
//     returned callback (if any) with the field's outcome. When it is
//     nil the engine must run with zero instrumentation overhead.
//   - Args.FieldResolver, when non-nil, replaces the engine's default
//     resolver for fields without an explicit one.
//   - Implementations must be safe for concurrent calls; each call
//     receives an isolated Args value.
type Func func(ctx context.Context, args Args) (*Result, error)

// Args carries one execution attempt into the engine.
type Args struct {
	Schema        *ast.Schema
	Document      *ast.QueryDocument
	OperationName string
	RootValue     any
	ContextValue  any
	Variables     map[string]any

	// FieldResolver is the default resolver for fields without an
	// explicit one. Optional.
	FieldResolver FieldResolver

	// FieldObserver, when set, is invoked around every field
	// resolution. Optional; nil means no per-field instrumentation.
	FieldObserver FieldObserver
}

// FieldInfo describes one field resolution to resolvers and observers.
type FieldInfo struct {
	ObjectType string
	FieldName  string
	Field      *ast.Field
	Args       map[string]any
	Path       ast.Path
	Source     any
}

// FieldResolver resolves a single field value.
type FieldResolver func(ctx context.Context, info FieldInfo) (any, error)

// FieldObserver is notified before a field resolves. The returned
// callback, if non-nil, receives the field's resolved value or error.
type FieldObserver func(ctx context.Context, info FieldInfo) func(value any, err error)

// Result is the outcome of one execution attempt.
type Result struct {
	Data       any
	Errors     []*Error
	Extensions map[string]any
}

// Error is an engine-surfaced error carrying enough structure for the
// pipeline's classifier: the kinds of document nodes the engine
// attributed the failure to, alongside the usual GraphQL error fields.
type Error struct {
	Message    string
	Path       ast.Path
	Locations  []gqlerror.Location
	NodeKinds  []string
	Extensions map[string]any
	Err        error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// GQLError converts e to its wire-level form. Classification is left
// to the pipeline.
func (e *Error) GQLError() *gqlerror.Error {
	var ext map[string]any
	if len(e.Extensions) > 0 {
		ext = make(map[string]any, len(e.Extensions))
		for k, v := range e.Extensions {
			ext[k] = v
		}
	}
	return &gqlerror.Error{
		Message:    e.Message,
		Path:       e.Path,
		Locations:  e.Locations,
		Extensions: ext,
		Err:        e.Err,
	}
}
