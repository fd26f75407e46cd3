package pipeline

import (
	"context"
	"sync"

	execution "github.com/kevin-foreman/apollo-server/internal/execution"
)

// RecorderPlugin implements Plugin with every hook wired to an ordered
// call log. Tests use it to assert hook ordering, short-circuiting,
// and skip behavior.
type RecorderPlugin struct {
	// Name prefixes every recorded call, so several recorders can
	// share expectations about interleaving.
	Name string

	// Fail maps a hook name to the error that hook returns.
	Fail map[string]error

	// Respond, when set, is returned from ResponseForOperation.
	Respond *Response

	// ObserveFields registers a WillResolveField hook on the execution
	// listener.
	ObserveFields bool

	mu    sync.Mutex
	calls []string
}

// Calls returns a snapshot of the recorded hook invocations in order.
func (r *RecorderPlugin) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// CallCount returns how many times the named hook fired.
func (r *RecorderPlugin) CallCount(hook string) int {
	prefix := r.Name + "." + hook
	n := 0
	for _, c := range r.Calls() {
		if c == prefix {
			n++
		}
	}
	return n
}

func (r *RecorderPlugin) record(hook string) {
	r.mu.Lock()
	r.calls = append(r.calls, r.Name+"."+hook)
	r.mu.Unlock()
}

func (r *RecorderPlugin) fail(hook string) error {
	if r.Fail == nil {
		return nil
	}
	return r.Fail[hook]
}

// RequestDidStart implements Plugin.
func (r *RecorderPlugin) RequestDidStart(ctx context.Context, rc *RequestContext) (*RequestListener, error) {
	r.record("requestDidStart")
	if err := r.fail("requestDidStart"); err != nil {
		return nil, err
	}
	return &RequestListener{
		DidResolveSource: func(ctx context.Context, rc *RequestContext) error {
			r.record("didResolveSource")
			return r.fail("didResolveSource")
		},
		ParsingDidStart: func(ctx context.Context, rc *RequestContext) (EndFunc, error) {
			r.record("parsingDidStart")
			return func(ctx context.Context, err error) error {
				r.record("parsingDidEnd")
				return r.fail("parsingDidEnd")
			}, r.fail("parsingDidStart")
		},
		ValidationDidStart: func(ctx context.Context, rc *RequestContext) (EndFunc, error) {
			r.record("validationDidStart")
			return func(ctx context.Context, err error) error {
				r.record("validationDidEnd")
				return r.fail("validationDidEnd")
			}, r.fail("validationDidStart")
		},
		DidResolveOperation: func(ctx context.Context, rc *RequestContext) error {
			r.record("didResolveOperation")
			return r.fail("didResolveOperation")
		},
		ResponseForOperation: func(ctx context.Context, rc *RequestContext) (*Response, error) {
			r.record("responseForOperation")
			return r.Respond, r.fail("responseForOperation")
		},
		ExecutionDidStart: func(ctx context.Context, rc *RequestContext) (*ExecutionListener, error) {
			r.record("executionDidStart")
			el := &ExecutionListener{
				ExecutionDidEnd: func(ctx context.Context, err error) error {
					r.record("executionDidEnd")
					return r.fail("executionDidEnd")
				},
			}
			if r.ObserveFields {
				el.WillResolveField = func(ctx context.Context, info execution.FieldInfo) func(any, error) {
					r.record("willResolveField:" + info.FieldName)
					return func(any, error) {
						r.record("didResolveField:" + info.FieldName)
					}
				}
			}
			return el, r.fail("executionDidStart")
		},
		DidEncounterErrors: func(ctx context.Context, rc *RequestContext) error {
			r.record("didEncounterErrors")
			return r.fail("didEncounterErrors")
		},
		WillSendResponse: func(ctx context.Context, rc *RequestContext) error {
			r.record("willSendResponse")
			return r.fail("willSendResponse")
		},
	}, nil
}
