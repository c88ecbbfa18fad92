package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func spec(kind Kind, p Priority, zoom int) Spec {
	return Spec{Kind: kind, Priority: p, FileID: "abcdefghi", Ext: "jpg", Zoom: zoom}
}

func waitAll(t *testing.T, handles ...*Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			t.Fatalf("job %s did not settle (state %s)", h.Spec(), h.State())
		}
	}
}

func TestPriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runner := RunnerFunc(func(_ context.Context, s Spec) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s.Priority.String()+"-"+string(s.Kind))
		return nil, nil
	})

	q := NewLocal(runner, LocalConfig{Workers: 1})
	defer q.Close()

	var handles []*Handle
	for _, s := range []Spec{
		spec(KindOptimize, PriorityLow, 2),
		spec(KindTiles, PriorityDefault, 2),
		spec(KindResize, PriorityHigh, 2),
		spec(KindThumbnail, PriorityDefault, 2),
		spec(KindResize, PriorityHigh, 3),
	} {
		h, err := q.Enqueue(context.Background(), s)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	if q.Len() != 5 {
		t.Errorf("Len = %d, want 5", q.Len())
	}

	q.Start()
	waitAll(t, handles...)

	want := []string{"high-resize", "high-resize", "default-tiles", "default-thumbnail", "low-optimize"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestResultNilUntilSuccess(t *testing.T) {
	release := make(chan struct{})
	runner := RunnerFunc(func(context.Context, Spec) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{"generated":16}`), nil
	})
	q := NewLocal(runner, LocalConfig{Workers: 1})
	q.Start()
	defer q.Close()

	h, err := q.Enqueue(context.Background(), spec(KindTiles, PriorityDefault, 2))
	if err != nil {
		t.Fatal(err)
	}
	if h.Result() != nil {
		t.Error("Result non-nil before the job ran")
	}

	close(release)
	res, err := h.Wait(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || string(res.Output) != `{"generated":16}` {
		t.Errorf("result = %+v", res)
	}
	if h.State() != StateSucceeded || res.Attempts != 1 {
		t.Errorf("state = %s, attempts = %d", h.State(), res.Attempts)
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	runner := RunnerFunc(func(context.Context, Spec) (json.RawMessage, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("resource busy")
		}
		return nil, nil
	})
	q := NewLocal(runner, LocalConfig{Workers: 1, RetryBackoff: time.Millisecond})
	q.Start()
	defer q.Close()

	h, _ := q.Enqueue(context.Background(), spec(KindResize, PriorityHigh, 2))
	waitAll(t, h)

	if h.State() != StateSucceeded {
		t.Fatalf("state = %s, err = %v", h.State(), h.Err())
	}
	if h.Result().Attempts != 3 {
		t.Errorf("attempts = %d, want 3", h.Result().Attempts)
	}
}

func TestRetriesExhausted(t *testing.T) {
	boom := errors.New("vips crashed")
	var calls atomic.Int32
	runner := RunnerFunc(func(context.Context, Spec) (json.RawMessage, error) {
		calls.Add(1)
		return nil, boom
	})
	q := NewLocal(runner, LocalConfig{Workers: 1, RetryBackoff: time.Millisecond})
	q.Start()
	defer q.Close()

	s := spec(KindResize, PriorityHigh, 2)
	s.MaxAttempts = 2
	h, _ := q.Enqueue(context.Background(), s)
	waitAll(t, h)

	if h.State() != StateFailed || !errors.Is(h.Err(), boom) {
		t.Errorf("state = %s, err = %v", h.State(), h.Err())
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if h.Result() != nil {
		t.Error("failed job has a result")
	}
}

func TestPermanentNotRetried(t *testing.T) {
	var calls atomic.Int32
	notFound := errors.New("source image not found")
	runner := RunnerFunc(func(context.Context, Spec) (json.RawMessage, error) {
		calls.Add(1)
		return nil, Permanent(notFound)
	})
	q := NewLocal(runner, LocalConfig{Workers: 1, RetryBackoff: time.Millisecond})
	q.Start()
	defer q.Close()

	h, _ := q.Enqueue(context.Background(), spec(KindTiles, PriorityDefault, 2))
	waitAll(t, h)

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if !errors.Is(h.Err(), notFound) || !IsPermanent(h.Err()) {
		t.Errorf("err = %v", h.Err())
	}
}

func TestTimeout(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, _ Spec) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q := NewLocal(runner, LocalConfig{Workers: 1, Timeout: 10 * time.Millisecond})
	q.Start()
	defer q.Close()

	h, _ := q.Enqueue(context.Background(), spec(KindTiles, PriorityDefault, 5))
	waitAll(t, h)

	if h.State() != StateTimedOut {
		t.Errorf("state = %s, want timed-out", h.State())
	}
	if !errors.Is(h.Err(), context.DeadlineExceeded) {
		t.Errorf("err = %v", h.Err())
	}
}

func TestInvalidSpecRejected(t *testing.T) {
	q := NewLocal(RunnerFunc(func(context.Context, Spec) (json.RawMessage, error) { return nil, nil }), LocalConfig{})
	defer q.Close()

	if _, err := q.Enqueue(context.Background(), Spec{Kind: "explode", FileID: "abcdefghi"}); err == nil || !IsPermanent(err) {
		t.Errorf("unknown kind err = %v", err)
	}
	if _, err := q.Enqueue(context.Background(), Spec{Kind: KindResize}); err == nil {
		t.Error("spec without fileid accepted")
	}
}

func TestCloseFailsQueued(t *testing.T) {
	q := NewLocal(RunnerFunc(func(context.Context, Spec) (json.RawMessage, error) { return nil, nil }), LocalConfig{})
	h, err := q.Enqueue(context.Background(), spec(KindResize, PriorityHigh, 2))
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	waitAll(t, h)
	if !errors.Is(h.Err(), ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", h.Err())
	}
	if _, err := q.Enqueue(context.Background(), spec(KindResize, PriorityHigh, 2)); !errors.Is(err, ErrClosed) {
		t.Errorf("enqueue after close err = %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

type gatePauser struct {
	open chan struct{}
}

func (g *gatePauser) WaitIfPaused(ctx context.Context) error {
	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestPauserBlocksPickup(t *testing.T) {
	gate := &gatePauser{open: make(chan struct{})}
	var ran atomic.Bool
	q := NewLocal(RunnerFunc(func(context.Context, Spec) (json.RawMessage, error) {
		ran.Store(true)
		return nil, nil
	}), LocalConfig{Workers: 2, Pauser: gate})
	q.Start()
	defer q.Close()

	h, _ := q.Enqueue(context.Background(), spec(KindResize, PriorityHigh, 2))
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("job ran while paused")
	}

	close(gate.open)
	waitAll(t, h)
	if !ran.Load() {
		t.Error("job did not run after resume")
	}
}

func TestEnqueueAfter(t *testing.T) {
	release := make(chan struct{})
	var optimizeStarted atomic.Bool
	runner := RunnerFunc(func(_ context.Context, s Spec) (json.RawMessage, error) {
		switch s.Kind {
		case KindTiles:
			<-release
			return nil, errors.New("tiles failed")
		case KindOptimize:
			optimizeStarted.Store(true)
			return json.RawMessage(`{"files":1}`), nil
		}
		return nil, nil
	})
	q := NewLocal(runner, LocalConfig{Workers: 2, MaxAttempts: 1})
	q.Start()
	defer q.Close()

	producer, _ := q.Enqueue(context.Background(), spec(KindTiles, PriorityDefault, 2))
	opt := EnqueueAfter(context.Background(), q, spec(KindOptimize, PriorityLow, 2), producer)

	time.Sleep(20 * time.Millisecond)
	if optimizeStarted.Load() {
		t.Fatal("optimize released before its producer settled")
	}
	if opt.State() != StateQueued {
		t.Errorf("state before release = %s", opt.State())
	}

	close(release)
	waitAll(t, opt)
	if opt.State() != StateSucceeded || string(opt.Result().Output) != `{"files":1}` {
		t.Errorf("optimize state = %s, result = %+v", opt.State(), opt.Result())
	}
}

func TestEnqueueAfterCancelled(t *testing.T) {
	q := NewLocal(RunnerFunc(func(context.Context, Spec) (json.RawMessage, error) { return nil, nil }), LocalConfig{})
	defer q.Close()

	dep := NewHandle(spec(KindTiles, PriorityDefault, 2))
	ctx, cancel := context.WithCancel(context.Background())
	h := EnqueueAfter(ctx, q, spec(KindOptimize, PriorityLow, 2), dep)
	cancel()
	waitAll(t, h)
	if !errors.Is(h.Err(), context.Canceled) {
		t.Errorf("err = %v", h.Err())
	}
}

func TestSettleOnce(t *testing.T) {
	h := NewHandle(spec(KindResize, PriorityHigh, 2))
	if h.ID() == "" {
		t.Error("handle has no id")
	}
	if !h.Settle(StateSucceeded, nil, nil) {
		t.Error("first Settle returned false")
	}
	if h.Settle(StateFailed, nil, errors.New("late")) {
		t.Error("second Settle returned true")
	}
	if h.State() != StateSucceeded || h.Err() != nil {
		t.Errorf("state = %s, err = %v", h.State(), h.Err())
	}
}

func TestSpecWireForm(t *testing.T) {
	in := Spec{ID: "job-1", Kind: KindTiles, Priority: PriorityDefault, FileID: "abcdefghi", Ext: "png", Zoom: 3, TileSize: 256, Rows: 8, Cols: 8, Timeout: time.Minute}
	data, err := EncodeSpec(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeSpec(data)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("decoded %+v, want %+v", out, in)
	}
	if _, err := DecodeSpec([]byte(`{"kind":"resize"}`)); err == nil {
		t.Error("spec without fileid decoded")
	}
}

func TestPriorityAMQP(t *testing.T) {
	if !(PriorityHigh.AMQP() > PriorityDefault.AMQP() && PriorityDefault.AMQP() > PriorityLow.AMQP()) {
		t.Error("AMQP priorities not ordered")
	}
}
