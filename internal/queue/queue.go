package queue

import (
	"context"
	"encoding/json"
)

// Queue accepts jobs.
type Queue interface {
	Enqueue(ctx context.Context, spec Spec) (*Handle, error)
	Close() error
}

// Runner executes a job and returns its JSON output.
type Runner interface {
	Run(ctx context.Context, spec Spec) (json.RawMessage, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, spec Spec) (json.RawMessage, error)

func (f RunnerFunc) Run(ctx context.Context, spec Spec) (json.RawMessage, error) {
	return f(ctx, spec)
}

// EnqueueAfter returns a handle for spec that is enqueued on q only once
// every dep has settled, whatever their outcome. The handle mirrors the
// enqueued job. Cancelling ctx before release fails the handle.
func EnqueueAfter(ctx context.Context, q Queue, spec Spec, deps ...*Handle) *Handle {
	h := NewHandle(spec)
	go func() {
		for _, dep := range deps {
			select {
			case <-dep.Done():
			case <-ctx.Done():
				h.Settle(StateFailed, nil, ctx.Err())
				return
			}
		}

		inner, err := q.Enqueue(ctx, h.Spec())
		if err != nil {
			h.Settle(StateFailed, nil, err)
			return
		}

		select {
		case <-inner.Done():
		case <-ctx.Done():
			h.Settle(StateFailed, nil, ctx.Err())
			return
		}
		h.MarkRunning()
		var output json.RawMessage
		if r := inner.Result(); r != nil {
			output = r.Output
		}
		h.Settle(inner.State(), output, inner.Err())
	}()
	return h
}
