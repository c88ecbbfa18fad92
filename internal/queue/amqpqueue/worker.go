package amqpqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"tiler/internal/logging"
	"tiler/internal/metrics"
	"tiler/internal/queue"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Worker consumes jobs and runs them on a local pool.
type Worker struct {
	conn  *amqp.Connection
	ch    Channel
	cfg   Config
	local *queue.Local
}

// DialWorker connects to cfg.URL.
func DialWorker(cfg Config, local *queue.Local) (*Worker, error) {
	conn, ch, err := dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	w := NewWorker(ch, cfg, local)
	w.conn = conn
	return w, nil
}

// NewWorker returns a worker consuming from ch. local must be started.
func NewWorker(ch Channel, cfg Config, local *queue.Local) *Worker {
	return &Worker{ch: ch, cfg: cfg.withDefaults(), local: local}
}

// Serve consumes until ctx is done or the delivery channel closes. In-flight
// jobs are waited for before it returns.
func (w *Worker) Serve(ctx context.Context) error {
	if err := declareJobs(w.ch, w.cfg); err != nil {
		return err
	}
	if err := w.ch.Qos(
		w.cfg.Prefetch, // prefetch count
		0,              // prefetch size
		false,          // global
	); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.ch.Consume(
		w.cfg.Queue, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	logging.Info("AMQP worker consuming %s (prefetch %d)", w.cfg.Queue, w.cfg.Prefetch)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			logging.Info("AMQP worker shutting down")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrConnectionClosed
			}
			metrics.AMQPMessagesTotal.WithLabelValues("consume", "success").Inc()
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.handle(ctx, d)
			}()
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	spec, err := queue.DecodeSpec(d.Body)
	if err != nil {
		logging.Error("ERROR unmarshaling job %s: %v", d.CorrelationId, err)
		w.reply(ctx, d, Reply{ID: d.CorrelationId, State: queue.StateFailed, Error: err.Error(), Permanent: true})
		w.ack(d)
		return
	}

	h, err := w.local.Enqueue(ctx, spec)
	if err != nil {
		w.requeue(d, spec)
		return
	}
	w.reply(ctx, d, Reply{ID: spec.ID, State: queue.StateRunning})

	<-h.Done()
	if errors.Is(h.Err(), queue.ErrClosed) {
		w.requeue(d, spec)
		return
	}
	r := Reply{ID: spec.ID, State: h.State()}
	if res := h.Result(); res != nil {
		r.Output = res.Output
	}
	if jobErr := h.Err(); jobErr != nil {
		r.Error = jobErr.Error()
		r.Permanent = queue.IsPermanent(jobErr)
	}
	w.reply(context.WithoutCancel(ctx), d, r)
	w.ack(d)
}

func (w *Worker) reply(ctx context.Context, d amqp.Delivery, r Reply) {
	if d.ReplyTo == "" {
		return
	}
	body, err := json.Marshal(r)
	if err != nil {
		logging.Error("marshal reply %s: %v", r.ID, err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, w.cfg.PublishTimeout)
	defer cancel()
	err = w.ch.PublishWithContext(
		pubCtx,
		"",        // exchange
		d.ReplyTo, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          body,
		})
	if err != nil {
		metrics.AMQPMessagesTotal.WithLabelValues("reply", "error").Inc()
		logging.Error("failed to publish reply for %s: %v", r.ID, err)
		return
	}
	metrics.AMQPMessagesTotal.WithLabelValues("reply", "success").Inc()
}

// requeue hands a job the closing pool could not finish back to the broker.
func (w *Worker) requeue(d amqp.Delivery, spec queue.Spec) {
	logging.Warn("requeueing job %s", spec)
	if err := d.Nack(false, true); err != nil {
		logging.Warn("nack %s: %v", spec, err)
	}
}

func (w *Worker) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		logging.Warn("ack %s: %v", d.CorrelationId, err)
	}
}

// Close closes the channel and connection.
func (w *Worker) Close() error {
	err := w.ch.Close()
	if w.conn != nil {
		if cerr := w.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
