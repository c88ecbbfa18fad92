package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tiler/internal/logging"
	"tiler/internal/metrics"

	"github.com/gammazero/deque"
)

// Pauser blocks job pickup under memory pressure.
type Pauser interface {
	WaitIfPaused(ctx context.Context) error
}

// LocalConfig configures a Local queue.
type LocalConfig struct {
	// Workers defaults to 1.
	Workers int
	// Timeout applies to jobs whose Spec has none; 0 means no timeout.
	Timeout time.Duration
	// MaxAttempts applies to jobs whose Spec has none; defaults to 3.
	MaxAttempts int
	// RetryBackoff is the delay before the second attempt; it doubles for
	// each further attempt. Defaults to 500ms.
	RetryBackoff time.Duration
	// Pauser may be nil.
	Pauser Pauser
}

// DefaultMaxAttempts is used when neither the Spec nor the LocalConfig sets one.
const DefaultMaxAttempts = 3

// Local is an in-process worker pool with three priority lanes.
type Local struct {
	runner Runner
	config LocalConfig

	mu     sync.Mutex
	cond   *sync.Cond
	lanes  [numPriorities]*deque.Deque[*Handle]
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
}

// NewLocal returns a stopped pool. Jobs enqueued before Start wait in their
// lanes.
func NewLocal(runner Runner, config LocalConfig) *Local {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Local{runner: runner, config: config, ctx: ctx, cancel: cancel}
	q.cond = sync.NewCond(&q.mu)
	for i := range q.lanes {
		q.lanes[i] = deque.New[*Handle]()
	}
	return q
}

// Start launches the workers.
func (q *Local) Start() {
	q.start.Do(func() {
		logging.Info("Starting local job queue with %d workers", q.config.Workers)
		for i := 0; i < q.config.Workers; i++ {
			q.wg.Add(1)
			go q.worker(i)
		}
	})
}

// Enqueue adds spec to its priority lane.
func (q *Local) Enqueue(_ context.Context, spec Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, Permanent(err)
	}
	h := NewHandle(spec)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	q.lanes[spec.Priority].PushBack(h)
	metrics.QueueDepth.WithLabelValues(spec.Priority.String()).Inc()
	q.cond.Signal()
	return h, nil
}

// Len returns the number of queued jobs.
func (q *Local) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, lane := range q.lanes {
		n += lane.Len()
	}
	return n
}

// Close stops the workers, cancels running jobs and fails queued ones with
// ErrClosed.
func (q *Local) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	var pending []*Handle
	for p, lane := range q.lanes {
		for lane.Len() > 0 {
			pending = append(pending, lane.PopFront())
		}
		metrics.QueueDepth.WithLabelValues(Priority(p).String()).Set(0)
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	for _, h := range pending {
		h.Settle(StateFailed, nil, ErrClosed)
	}
	return nil
}

// next blocks until a job is available, highest priority first. It returns
// nil once the queue is closed.
func (q *Local) next() *Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil
		}
		for p, lane := range q.lanes {
			if lane.Len() > 0 {
				metrics.QueueDepth.WithLabelValues(Priority(p).String()).Dec()
				return lane.PopFront()
			}
		}
		q.cond.Wait()
	}
}

func (q *Local) worker(id int) {
	defer q.wg.Done()
	for {
		if q.config.Pauser != nil {
			if err := q.config.Pauser.WaitIfPaused(q.ctx); err != nil {
				return
			}
		}
		h := q.next()
		if h == nil {
			return
		}
		logging.Debug("worker %d: running %s", id, h.Spec())
		q.execute(h)
	}
}

func (q *Local) execute(h *Handle) {
	spec := h.Spec()
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.config.MaxAttempts
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = q.config.Timeout
	}

	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()
	start := time.Now()

	state, output, err := q.attempt(h, spec, maxAttempts, timeout)
	h.Settle(state, output, err)

	metrics.JobsTotal.WithLabelValues(string(spec.Kind), string(state)).Inc()
	metrics.JobDuration.WithLabelValues(string(spec.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		logging.Warn("job %s %s after %d attempts: %v", spec, state, h.Attempts(), err)
	}
}

func (q *Local) attempt(h *Handle, spec Spec, maxAttempts int, timeout time.Duration) (State, json.RawMessage, error) {
	backoff := q.config.RetryBackoff
	for attempt := 1; ; attempt++ {
		h.MarkRunning()

		ctx, cancel := q.ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(q.ctx, timeout)
		}
		output, err := q.runner.Run(ctx, spec)
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		cancel()

		switch {
		case err == nil:
			return StateSucceeded, output, nil
		case timedOut:
			return StateTimedOut, nil, fmt.Errorf("timed out after %v: %w", timeout, err)
		case q.ctx.Err() != nil:
			return StateFailed, nil, ErrClosed
		case IsPermanent(err), attempt >= maxAttempts:
			return StateFailed, nil, err
		}

		metrics.JobRetries.WithLabelValues(string(spec.Kind)).Inc()
		logging.Debug("job %s attempt %d failed, retrying in %v: %v", spec, attempt, backoff, err)
		select {
		case <-time.After(backoff):
		case <-q.ctx.Done():
			return StateFailed, nil, ErrClosed
		}
		backoff *= 2
	}
}
