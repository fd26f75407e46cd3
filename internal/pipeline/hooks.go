package pipeline

import "context"

// dispatcher fans hook invocations out to the listeners collected for
// one request. Listeners are always awaited one at a time in
// registration order; ordering is a correctness requirement, not an
// optimization.
type dispatcher struct {
	listeners []*RequestListener
}

// notifyAll invokes the hook selected by pick on every listener in
// registration order, failing fast on the first error.
func (d *dispatcher) notifyAll(ctx context.Context, rc *RequestContext,
	pick func(*RequestListener) func(context.Context, *RequestContext) error) error {
	for _, l := range d.listeners {
		hook := pick(l)
		if hook == nil {
			continue
		}
		if err := hook(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

// phaseEnd replays the end callbacks collected by a start/end phase in
// reverse registration order, passing the phase's error to each. It
// fails fast if an end callback itself errors.
type phaseEnd func(ctx context.Context, err error) error

func makePhaseEnd(ends []EndFunc) phaseEnd {
	return func(ctx context.Context, phaseErr error) error {
		for i := len(ends) - 1; i >= 0; i-- {
			if err := ends[i](ctx, phaseErr); err != nil {
				return err
			}
		}
		return nil
	}
}

// startPhase invokes each listener's start hook in registration order,
// collecting the non-nil end callbacks it returns. When a start hook
// errors, the callbacks collected so far are still returned so the
// caller can close the phase before propagating the error.
func (d *dispatcher) startPhase(ctx context.Context, rc *RequestContext,
	pick func(*RequestListener) func(context.Context, *RequestContext) (EndFunc, error)) (phaseEnd, error) {
	var ends []EndFunc
	for _, l := range d.listeners {
		start := pick(l)
		if start == nil {
			continue
		}
		end, err := start(ctx, rc)
		if end != nil {
			ends = append(ends, end)
		}
		if err != nil {
			return makePhaseEnd(ends), err
		}
	}
	return makePhaseEnd(ends), nil
}

// responseForOperation runs the first-non-null-wins dispatch: listeners
// are consulted in registration order and the first non-nil response
// short-circuits execution. A nil result means default handling.
func (d *dispatcher) responseForOperation(ctx context.Context, rc *RequestContext) (*Response, error) {
	for _, l := range d.listeners {
		if l.ResponseForOperation == nil {
			continue
		}
		resp, err := l.ResponseForOperation(ctx, rc)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

// startExecution runs the ExecutionDidStart hooks, splitting the
// produced execution listeners into end callbacks (reverse-order
// discipline) and field hooks (forward per-event notifications).
func (d *dispatcher) startExecution(ctx context.Context, rc *RequestContext) (phaseEnd, []FieldHook, error) {
	var ends []EndFunc
	var fields []FieldHook
	for _, l := range d.listeners {
		if l.ExecutionDidStart == nil {
			continue
		}
		el, err := l.ExecutionDidStart(ctx, rc)
		if el != nil {
			if el.ExecutionDidEnd != nil {
				ends = append(ends, el.ExecutionDidEnd)
			}
			if el.WillResolveField != nil {
				fields = append(fields, el.WillResolveField)
			}
		}
		if err != nil {
			return makePhaseEnd(ends), fields, err
		}
	}
	return makePhaseEnd(ends), fields, nil
}
