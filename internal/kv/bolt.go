package kv

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"tiler/internal/logging"
)

const (
	dataBucketName = "data"
	ttlBucketName  = "ttl"

	// DefaultCleanupInterval is how often BoltStore drops expired keys.
	DefaultCleanupInterval = time.Minute

	expireAtSize = 8
)

// BoltOptions configures a BoltStore.
type BoltOptions struct {
	// CleanupInterval defaults to DefaultCleanupInterval. A negative value
	// disables the background cleaner.
	CleanupInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// Timeout bounds how long Open waits for the file lock. Defaults to 5s.
	Timeout time.Duration
}

// BoltStore is a persistent Store backed by a bbolt file.
//
// Each value is stored in the data bucket behind an 8 byte big-endian
// expiry (unix millis, 0 for none). Keys with an expiry are also indexed in
// the ttl bucket as <expireAt><key> so the cleaner can walk them in
// deadline order.
type BoltStore struct {
	db     *bolt.DB
	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// OpenBolt opens or creates the bbolt file at path.
func OpenBolt(path string, opts BoltOptions) (*BoltStore, error) {
	if path == "" {
		return nil, errors.New("kv: bolt path is empty")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("kv: failed to create directory for %s: %w", path, err)
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("kv: failed to open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(dataBucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(ttlBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: failed to initialize %s: %w", path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &BoltStore{db: db, now: opts.Now, cancel: cancel}
	if opts.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.backgroundCleaner(ctx, opts.CleanupInterval)
	}
	return s, nil
}

func encodeValue(deadline time.Time, value string) []byte {
	buf := make([]byte, expireAtSize+len(value))
	if !deadline.IsZero() {
		binary.BigEndian.PutUint64(buf, uint64(deadline.UnixMilli()))
	}
	copy(buf[expireAtSize:], value)
	return buf
}

func decodeValue(raw []byte) (time.Time, string, error) {
	if len(raw) < expireAtSize {
		return time.Time{}, "", fmt.Errorf("kv: corrupt value of %d bytes", len(raw))
	}
	var deadline time.Time
	if ms := binary.BigEndian.Uint64(raw[:expireAtSize]); ms > 0 {
		deadline = time.UnixMilli(int64(ms))
	}
	return deadline, string(raw[expireAtSize:]), nil
}

func ttlIndexKey(raw []byte, key string) []byte {
	k := make([]byte, expireAtSize+len(key))
	copy(k, raw[:expireAtSize])
	copy(k[expireAtSize:], key)
	return k
}

// read returns the decoded entry for key, or ok false when missing or
// expired.
func (s *BoltStore) read(key string) (deadline time.Time, value string, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(dataBucketName)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		d, v, err := decodeValue(raw)
		if err != nil {
			return err
		}
		if expired(d, s.now()) {
			return nil
		}
		deadline, value, ok = d, v, true
		return nil
	})
	return deadline, value, ok, err
}

func (s *BoltStore) Get(_ context.Context, key string) (string, bool, error) {
	_, value, ok, err := s.read(key)
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		err = ErrClosed
	}
	observe("bolt", "get", err)
	return value, ok, err
}

func (s *BoltStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(dataBucketName))
		index := tx.Bucket([]byte(ttlBucketName))
		if err := unindex(data, index, key); err != nil {
			return err
		}
		raw := encodeValue(expireAt(s.now(), ttl), value)
		if err := data.Put([]byte(key), raw); err != nil {
			return err
		}
		if ttl > 0 {
			return index.Put(ttlIndexKey(raw, key), nil)
		}
		return nil
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		err = ErrClosed
	}
	observe("bolt", "set", err)
	return err
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(dataBucketName))
		if err := unindex(data, tx.Bucket([]byte(ttlBucketName)), key); err != nil {
			return err
		}
		return data.Delete([]byte(key))
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		err = ErrClosed
	}
	observe("bolt", "delete", err)
	return err
}

func (s *BoltStore) TTL(_ context.Context, key string) (time.Duration, bool, error) {
	deadline, _, ok, err := s.read(key)
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return 0, false, ErrClosed
	}
	if err != nil || !ok {
		return 0, false, err
	}
	return remaining(deadline, s.now()), true, nil
}

// unindex drops the ttl index entry of the current value of key, if any.
func unindex(data, index *bolt.Bucket, key string) error {
	raw := data.Get([]byte(key))
	if len(raw) < expireAtSize || bytes.Equal(raw[:expireAtSize], make([]byte, expireAtSize)) {
		return nil
	}
	return index.Delete(ttlIndexKey(raw, key))
}

// Cleanup removes every expired key and returns how many were removed.
func (s *BoltStore) Cleanup() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(dataBucketName))
		index := tx.Bucket([]byte(ttlBucketName))
		now := s.now()

		var due [][]byte
		cr := index.Cursor()
		for k, _ := cr.First(); k != nil; k, _ = cr.Next() {
			deadline := time.UnixMilli(int64(binary.BigEndian.Uint64(k[:expireAtSize])))
			if deadline.After(now) {
				break
			}
			due = append(due, append([]byte(nil), k...))
		}

		for _, k := range due {
			key := k[expireAtSize:]
			// Only drop the data row when it still carries this deadline.
			if raw := data.Get(key); raw != nil && bytes.Equal(raw[:expireAtSize], k[:expireAtSize]) {
				if err := data.Delete(key); err != nil {
					return err
				}
				removed++
			}
			if err := index.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}

func (s *BoltStore) backgroundCleaner(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Cleanup()
			if err != nil {
				logging.Error("kv: failed to clean up expired keys: %v", err)
				continue
			}
			if n > 0 {
				logging.Debug("kv: removed %d expired keys", n)
			}
		}
	}
}

// Close stops the cleaner and closes the bbolt file.
func (s *BoltStore) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
