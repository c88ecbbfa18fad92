package amqpqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tiler/internal/queue"

	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	key string
	msg amqp.Publishing
}

// fakeChannel records publishes and serves deliveries from test channels.
type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	declArgs  map[string]amqp.Table
	published []published
	qos       int
	consumers map[string]chan amqp.Delivery
	closed    bool
	onPublish func(key string, msg amqp.Publishing)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{consumers: map[string]chan amqp.Delivery{}, declArgs: map[string]amqp.Table{}}
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		name = "amq.gen-reply"
	}
	f.declared = append(f.declared, name)
	f.declArgs[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Qos(prefetch, _ int, _ bool) error {
	f.qos = prefetch
	return nil
}

func (f *fakeChannel) deliveries(queue string) chan amqp.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.consumers[queue]
	if !ok {
		ch = make(chan amqp.Delivery, 16)
		f.consumers[queue] = ch
	}
	return ch
}

func (f *fakeChannel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries(queue), nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	f.published = append(f.published, published{key: key, msg: msg})
	hook := f.onPublish
	f.mu.Unlock()
	if hook != nil {
		hook(key, msg)
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) publishes() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

type fakeAck struct {
	mu      sync.Mutex
	acks    int
	requeue int
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		a.requeue++
	}
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error { return nil }

func (a *fakeAck) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.requeue
}

func tileSpec() queue.Spec {
	return queue.Spec{Kind: queue.KindTiles, Priority: queue.PriorityDefault, FileID: "abcdefghi", Ext: "jpg", Zoom: 2, TileSize: 256, Rows: 3, Cols: 3}
}

func reply(t *testing.T, id string, r Reply) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	return amqp.Delivery{CorrelationId: id, Body: body}
}

func TestPublisherPublishesAndSettles(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewPublisher(ch, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if got := ch.declArgs[DefaultQueueName]["x-max-priority"]; got != int32(10) {
		t.Errorf("x-max-priority = %v", got)
	}

	h, err := p.Enqueue(context.Background(), tileSpec())
	if err != nil {
		t.Fatal(err)
	}

	pubs := ch.publishes()
	if len(pubs) != 1 {
		t.Fatalf("published %d messages", len(pubs))
	}
	msg := pubs[0].msg
	if pubs[0].key != DefaultQueueName || msg.ReplyTo != "amq.gen-reply" || msg.CorrelationId != h.ID() {
		t.Errorf("publishing = %+v", pubs[0])
	}
	if msg.Priority != queue.PriorityDefault.AMQP() || msg.DeliveryMode != amqp.Persistent {
		t.Errorf("priority = %d, mode = %d", msg.Priority, msg.DeliveryMode)
	}
	spec, err := queue.DecodeSpec(msg.Body)
	if err != nil || spec.ID != h.ID() || spec.Rows != 3 {
		t.Errorf("body spec = %+v, %v", spec, err)
	}

	replies := ch.deliveries("amq.gen-reply")
	replies <- reply(t, h.ID(), Reply{ID: h.ID(), State: queue.StateRunning})
	replies <- reply(t, h.ID(), Reply{ID: h.ID(), State: queue.StateSucceeded, Output: json.RawMessage(`{"generated":16}`)})

	res, err := h.Wait(contextWithTimeout(t))
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Output) != `{"generated":16}` {
		t.Errorf("output = %s", res.Output)
	}
	if p.Pending() != 0 {
		t.Errorf("pending = %d", p.Pending())
	}
}

func TestPublisherPermanentReply(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewPublisher(ch, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	h, _ := p.Enqueue(context.Background(), tileSpec())
	ch.deliveries("amq.gen-reply") <- reply(t, h.ID(), Reply{State: queue.StateFailed, Error: "source image not found", Permanent: true})

	if _, err := h.Wait(contextWithTimeout(t)); err == nil || !queue.IsPermanent(err) {
		t.Errorf("err = %v, want permanent", err)
	}
	if h.State() != queue.StateFailed {
		t.Errorf("state = %s", h.State())
	}
}

func TestPublisherConnectionLoss(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewPublisher(ch, Config{})
	if err != nil {
		t.Fatal(err)
	}

	h, _ := p.Enqueue(context.Background(), tileSpec())
	close(ch.deliveries("amq.gen-reply"))

	if _, err := h.Wait(contextWithTimeout(t)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("err = %v, want ErrConnectionClosed", err)
	}
}

func TestPublisherClose(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewPublisher(ch, Config{})
	if err != nil {
		t.Fatal(err)
	}
	h, _ := p.Enqueue(context.Background(), tileSpec())

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Wait(contextWithTimeout(t)); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("err = %v", err)
	}
	if _, err := p.Enqueue(context.Background(), tileSpec()); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("enqueue after close = %v", err)
	}
	if !ch.closed {
		t.Error("channel not closed")
	}
}

func TestWorkerRunsAndReplies(t *testing.T) {
	ch := newFakeChannel()
	local := queue.NewLocal(queue.RunnerFunc(func(_ context.Context, s queue.Spec) (json.RawMessage, error) {
		return json.RawMessage(`{"zoom":` + string(rune('0'+s.Zoom)) + `}`), nil
	}), queue.LocalConfig{Workers: 1})
	local.Start()
	defer local.Close()

	w := NewWorker(ch, Config{Prefetch: 2}, local)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- w.Serve(ctx) }()

	spec := tileSpec()
	spec.ID = "job-1"
	body, _ := queue.EncodeSpec(spec)
	ack := &fakeAck{}
	ch.deliveries(DefaultQueueName) <- amqp.Delivery{Acknowledger: ack, CorrelationId: "job-1", ReplyTo: "replies", Body: body}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if acks, _ := ack.counts(); acks == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("delivery not acked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-served; err != nil {
		t.Errorf("Serve = %v", err)
	}

	if ch.qos != 2 {
		t.Errorf("prefetch = %d", ch.qos)
	}
	pubs := ch.publishes()
	if len(pubs) != 2 {
		t.Fatalf("published %d replies, want running + terminal", len(pubs))
	}
	var final Reply
	if err := json.Unmarshal(pubs[1].msg.Body, &final); err != nil {
		t.Fatal(err)
	}
	if pubs[1].key != "replies" || pubs[1].msg.CorrelationId != "job-1" {
		t.Errorf("reply routing = %+v", pubs[1])
	}
	if final.State != queue.StateSucceeded || string(final.Output) != `{"zoom":2}` {
		t.Errorf("final reply = %+v", final)
	}
}

func TestWorkerRejectsGarbage(t *testing.T) {
	ch := newFakeChannel()
	local := queue.NewLocal(queue.RunnerFunc(func(context.Context, queue.Spec) (json.RawMessage, error) { return nil, nil }), queue.LocalConfig{})
	local.Start()
	defer local.Close()

	w := NewWorker(ch, Config{}, local)
	ack := &fakeAck{}
	w.handle(context.Background(), amqp.Delivery{Acknowledger: ack, CorrelationId: "x", ReplyTo: "replies", Body: []byte("{")})

	if acks, _ := ack.counts(); acks != 1 {
		t.Errorf("garbage delivery acked %d times, want 1", acks)
	}
	var r Reply
	if err := json.Unmarshal(ch.publishes()[0].msg.Body, &r); err != nil {
		t.Fatal(err)
	}
	if r.State != queue.StateFailed || !r.Permanent {
		t.Errorf("reply = %+v", r)
	}
}

func TestWorkerRequeuesWhenPoolClosed(t *testing.T) {
	ch := newFakeChannel()
	local := queue.NewLocal(queue.RunnerFunc(func(context.Context, queue.Spec) (json.RawMessage, error) { return nil, nil }), queue.LocalConfig{})
	_ = local.Close()

	w := NewWorker(ch, Config{}, local)
	body, _ := queue.EncodeSpec(tileSpec())
	ack := &fakeAck{}
	w.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body})

	if acks, requeued := ack.counts(); acks != 0 || requeued != 1 {
		t.Errorf("acks = %d, requeued = %d", acks, requeued)
	}
}

func TestReplyErr(t *testing.T) {
	if (Reply{}).Err() != nil {
		t.Error("empty reply has an error")
	}
	if err := (Reply{Error: "boom"}).Err(); err == nil || queue.IsPermanent(err) {
		t.Errorf("transient reply err = %v", err)
	}
}

func contextWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
