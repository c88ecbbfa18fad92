package amqpqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tiler/internal/queue"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueueName is the work queue jobs are published to.
const DefaultQueueName = "tiler.jobs"

// ErrConnectionClosed settles pending handles when the broker goes away.
var ErrConnectionClosed = errors.New("amqp connection closed")

// Config configures both sides of the transport.
type Config struct {
	URL            string
	Queue          string
	MaxPriority    uint8
	PublishTimeout time.Duration
	// Prefetch bounds unacknowledged deliveries per worker.
	Prefetch int
}

func (c Config) withDefaults() Config {
	if c.Queue == "" {
		c.Queue = DefaultQueueName
	}
	if c.MaxPriority == 0 {
		c.MaxPriority = 10
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 1
	}
	return c
}

// Channel is the subset of *amqp.Channel the transport uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Reply is the wire form of a job outcome.
type Reply struct {
	ID        string          `json:"id"`
	State     queue.State     `json:"state"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Permanent bool            `json:"permanent,omitempty"`
}

// Err rebuilds the job error carried by the reply.
func (r Reply) Err() error {
	if r.Error == "" {
		return nil
	}
	err := errors.New(r.Error)
	if r.Permanent {
		return queue.Permanent(err)
	}
	return err
}

// declareJobs declares the durable priority work queue.
func declareJobs(ch Channel, cfg Config) error {
	_, err := ch.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		amqp.Table{"x-max-priority": int32(cfg.MaxPriority)},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
	}
	return nil
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return conn, ch, nil
}
