package amqpqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"tiler/internal/logging"
	"tiler/internal/metrics"
	"tiler/internal/queue"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is a queue.Queue backed by RabbitMQ.
type Publisher struct {
	conn       *amqp.Connection
	ch         Channel
	cfg        Config
	replyQueue string

	mu      sync.Mutex
	pending map[string]*queue.Handle
	closed  bool
	done    chan struct{}
}

// Dial connects to cfg.URL and returns a ready Publisher.
func Dial(cfg Config) (*Publisher, error) {
	conn, ch, err := dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	p, err := NewPublisher(ch, cfg)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher declares the work queue and an exclusive reply queue on ch
// and starts reading replies.
func NewPublisher(ch Channel, cfg Config) (*Publisher, error) {
	cfg = cfg.withDefaults()
	if err := declareJobs(ch, cfg); err != nil {
		return nil, err
	}

	reply, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare reply queue: %w", err)
	}

	replies, err := ch.Consume(
		reply.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume replies: %w", err)
	}

	p := &Publisher{
		ch:         ch,
		cfg:        cfg,
		replyQueue: reply.Name,
		pending:    make(map[string]*queue.Handle),
		done:       make(chan struct{}),
	}
	go p.readReplies(replies)
	logging.Info("AMQP publisher ready on queue %s (replies on %s)", cfg.Queue, reply.Name)
	return p, nil
}

// Enqueue publishes spec and returns a handle settled by the worker's reply.
func (p *Publisher) Enqueue(ctx context.Context, spec queue.Spec) (*queue.Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, queue.Permanent(err)
	}
	h := queue.NewHandle(spec)
	body, err := queue.EncodeSpec(h.Spec())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, queue.ErrClosed
	}
	p.pending[h.ID()] = h
	p.mu.Unlock()

	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(
		pubCtx,
		"",          // exchange
		p.cfg.Queue, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode:  amqp.Persistent,
			ContentType:   "application/json",
			Priority:      spec.Priority.AMQP(),
			CorrelationId: h.ID(),
			MessageId:     h.ID(),
			ReplyTo:       p.replyQueue,
			Type:          string(spec.Kind),
			Body:          body,
		})
	if err != nil {
		p.forget(h.ID())
		metrics.AMQPMessagesTotal.WithLabelValues("publish", "error").Inc()
		return nil, fmt.Errorf("failed to publish job %s: %w", spec, err)
	}
	metrics.AMQPMessagesTotal.WithLabelValues("publish", "success").Inc()
	return h, nil
}

func (p *Publisher) forget(id string) *queue.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.pending[id]
	delete(p.pending, id)
	return h
}

// Pending returns the number of published jobs without a terminal reply.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Publisher) readReplies(replies <-chan amqp.Delivery) {
	defer close(p.done)
	for d := range replies {
		p.handleReply(d)
	}
	p.failPending(ErrConnectionClosed)
}

func (p *Publisher) handleReply(d amqp.Delivery) {
	var r Reply
	if err := json.Unmarshal(d.Body, &r); err != nil {
		logging.Warn("AMQP reply %s: %v", d.CorrelationId, err)
		metrics.AMQPMessagesTotal.WithLabelValues("reply", "error").Inc()
		return
	}
	metrics.AMQPMessagesTotal.WithLabelValues("reply", "success").Inc()

	if !r.State.Terminal() {
		p.mu.Lock()
		h := p.pending[d.CorrelationId]
		p.mu.Unlock()
		if h != nil {
			h.MarkRunning()
		}
		return
	}

	h := p.forget(d.CorrelationId)
	if h == nil {
		logging.Debug("AMQP reply for unknown job %s", d.CorrelationId)
		return
	}
	h.Settle(r.State, r.Output, r.Err())
}

func (p *Publisher) failPending(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]*queue.Handle)
	p.mu.Unlock()
	for _, h := range pending {
		h.Settle(queue.StateFailed, nil, err)
	}
}

// Close fails every pending handle and closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.failPending(queue.ErrClosed)
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
