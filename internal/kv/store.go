package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tiler/internal/metrics"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store closed")

// Store is a string key/value store with per-key expiry.
type Store interface {
	// Get returns the value for key. ok is false when the key is missing
	// or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set stores value under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// TTL returns the remaining lifetime of key. ok is false when the key
	// is missing; a key without expiry reports 0 and ok true.
	TTL(ctx context.Context, key string) (remaining time.Duration, ok bool, err error)
	Close() error
}

// Open returns the store for backend ("memory" or "bolt"). path is only used
// by the bolt backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "bolt":
		return OpenBolt(path, BoltOptions{})
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", backend)
	}
}

func observe(backend, op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.KVOperationsTotal.WithLabelValues(backend, op, status).Inc()
}

// expireAt converts a ttl into an absolute deadline. The zero time means no
// expiry.
func expireAt(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}

func remaining(deadline, now time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	if d := deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}
