package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// State is a job lifecycle state.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed-out"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// Result is the outcome of a succeeded job.
type Result struct {
	Output   json.RawMessage `json:"output,omitempty"`
	Attempts int             `json:"attempts"`
	Duration time.Duration   `json:"duration"`
}

// Handle observes one enqueued job.
type Handle struct {
	spec Spec
	done chan struct{}

	mu       sync.Mutex
	state    State
	result   *Result
	err      error
	attempts int
	started  time.Time
}

// NewHandle returns a queued handle for spec. Queue implementations settle
// it with Settle.
func NewHandle(spec Spec) *Handle {
	return &Handle{spec: spec.withID(), state: StateQueued, done: make(chan struct{})}
}

func (h *Handle) ID() string { return h.spec.ID }

func (h *Handle) Spec() Spec { return h.spec }

// Done is closed once the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Result returns nil until the job has succeeded.
func (h *Handle) Result() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Err returns the failure of a failed or timed-out job.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the job settles or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.Result(), h.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MarkRunning moves a queued job to running and counts an attempt.
func (h *Handle) MarkRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return
	}
	if h.state == StateQueued {
		h.started = time.Now()
	}
	h.state = StateRunning
	h.attempts++
}

// Settle moves the job to a terminal state. Only the first call has effect;
// it reports whether this call settled the handle.
func (h *Handle) Settle(state State, output json.RawMessage, err error) bool {
	if !state.Terminal() {
		panic("queue: Settle with non-terminal state " + string(state))
	}

	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return false
	}
	h.state = state
	if h.attempts == 0 {
		h.attempts = 1
	}
	var elapsed time.Duration
	if !h.started.IsZero() {
		elapsed = time.Since(h.started)
	}
	if state == StateSucceeded {
		h.result = &Result{Output: output, Attempts: h.attempts, Duration: elapsed}
	} else {
		h.err = err
	}
	h.mu.Unlock()

	close(h.done)
	return true
}

// Attempts returns how many times the job has started.
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}
