package pipeline

import (
	"context"

	execution "github.com/kevin-foreman/apollo-server/internal/execution"
)

// FieldHook is notified before one field resolution. The returned
// callback, if non-nil, receives the field's outcome.
type FieldHook func(ctx context.Context, info execution.FieldInfo) func(value any, err error)

// buildFieldDispatch produces the field observer handed to the
// execution engine. When no execution listener declared interest the
// observer is nil and the engine runs unmodified: zero instrumentation
// overhead. The user-supplied default field resolver is passed through
// untouched, so user resolution logic still executes after
// observation.
func buildFieldDispatch(hooks []FieldHook) execution.FieldObserver {
	if len(hooks) == 0 {
		return nil
	}
	return func(ctx context.Context, info execution.FieldInfo) func(value any, err error) {
		// Per-event notifications in registration order, not reversed.
		var dones []func(any, error)
		for _, hook := range hooks {
			if done := hook(ctx, info); done != nil {
				dones = append(dones, done)
			}
		}
		if len(dones) == 0 {
			return nil
		}
		return func(value any, err error) {
			for _, done := range dones {
				done(value, err)
			}
		}
	}
}
