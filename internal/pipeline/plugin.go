package pipeline

import "context"

// Plugin is the extension contract. The factory is invoked once per
// request; returning a nil listener opts the plugin out of that
// request. An error aborts the request before identity resolution.
type Plugin interface {
	RequestDidStart(ctx context.Context, rc *RequestContext) (*RequestListener, error)
}

// PluginFunc adapts a function to the Plugin interface.
type PluginFunc func(ctx context.Context, rc *RequestContext) (*RequestListener, error)

func (f PluginFunc) RequestDidStart(ctx context.Context, rc *RequestContext) (*RequestListener, error) {
	return f(ctx, rc)
}

// EndFunc closes a start/end hook pair. It receives the phase's error,
// nil on success. Returning an error aborts the pipeline.
type EndFunc func(ctx context.Context, err error) error

// RequestListener is a plugin's capability set for one request. Every
// hook is optional; a nil hook is simply absent from dispatch.
//
// Ordering: hooks are invoked in plugin registration order, one at a
// time. End hooks returned by the *DidStart pairs run in reverse
// registration order once the phase completes or fails. Any hook may
// return an error to abort the pipeline, except WillSendResponse and
// DidEncounterErrors whose errors are logged and absorbed because the
// request outcome is already decided when they fire.
type RequestListener struct {
	// DidResolveSource fires once the canonical query text is known,
	// before it is guaranteed syntactically valid.
	DidResolveSource func(ctx context.Context, rc *RequestContext) error

	// ParsingDidStart fires before parsing; skipped entirely when the
	// document cache hits.
	ParsingDidStart func(ctx context.Context, rc *RequestContext) (EndFunc, error)

	// ValidationDidStart fires before validation; skipped entirely when
	// the document cache hits.
	ValidationDidStart func(ctx context.Context, rc *RequestContext) (EndFunc, error)

	// DidResolveOperation fires after the operation has been selected
	// from the document. Returning an error rejects the request before
	// any deferred persisted-query write happens.
	DidResolveOperation func(ctx context.Context, rc *RequestContext) error

	// ResponseForOperation may supply a terminal response and skip
	// execution entirely. The first non-nil response wins.
	ResponseForOperation func(ctx context.Context, rc *RequestContext) (*Response, error)

	// ExecutionDidStart fires before the execution engine runs.
	ExecutionDidStart func(ctx context.Context, rc *RequestContext) (*ExecutionListener, error)

	// DidEncounterErrors fires whenever errors are attached to the
	// request, before formatting.
	DidEncounterErrors func(ctx context.Context, rc *RequestContext) error

	// WillSendResponse fires exactly once per request, on every exit
	// path, after the response has been assembled.
	WillSendResponse func(ctx context.Context, rc *RequestContext) error
}

// ExecutionListener is the capability set bound to one execution
// attempt, produced by ExecutionDidStart.
type ExecutionListener struct {
	// WillResolveField is notified before each field resolution, in
	// registration order. The returned callback, if non-nil, receives
	// the field's outcome. These are per-event notifications, not
	// start/end pairs: callbacks are not reversed.
	WillResolveField FieldHook

	// ExecutionDidEnd closes the execution phase; end hooks run in
	// reverse registration order.
	ExecutionDidEnd EndFunc
}
