package kv

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/erni27/imcache"
)

const memoryCleanInterval = time.Minute

type memoryEntry struct {
	value    string
	expireAt time.Time
}

// MemoryStore is an in-process Store backed by imcache.
type MemoryStore struct {
	cache  *imcache.Cache[string, memoryEntry]
	now    func() time.Time
	closed atomic.Bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		cache: imcache.New[string, memoryEntry](
			imcache.WithCleanerOption[string, memoryEntry](memoryCleanInterval),
		),
		now: now,
	}
}

// lookup returns the live entry for key. Expiry is checked against the
// store clock so tests can move time without sleeping.
func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.cache.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if expired(e.expireAt, s.now()) {
		s.cache.Remove(key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.closed.Load() {
		observe("memory", "get", ErrClosed)
		return "", false, ErrClosed
	}
	e, ok := s.lookup(key)
	observe("memory", "get", nil)
	return e.value, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if s.closed.Load() {
		observe("memory", "set", ErrClosed)
		return ErrClosed
	}
	e := memoryEntry{value: value, expireAt: expireAt(s.now(), ttl)}
	// imcache expiry runs on the wall clock; keep it as a backstop so the
	// cleaner reclaims memory for keys nobody reads again.
	exp := imcache.WithNoExpiration()
	if ttl > 0 {
		exp = imcache.WithExpiration(ttl)
	}
	s.cache.Set(key, e, exp)
	observe("memory", "set", nil)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if s.closed.Load() {
		observe("memory", "delete", ErrClosed)
		return ErrClosed
	}
	s.cache.Remove(key)
	observe("memory", "delete", nil)
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	if s.closed.Load() {
		return 0, false, ErrClosed
	}
	e, ok := s.lookup(key)
	if !ok {
		return 0, false, nil
	}
	return remaining(e.expireAt, s.now()), true, nil
}

// Close stops the background cleaner. Further operations fail with
// ErrClosed.
func (s *MemoryStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.cache.Close()
	}
	return nil
}
