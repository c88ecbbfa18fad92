package kv

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	// UploadLockTTL is how long a fresh upload lock holds.
	UploadLockTTL = time.Hour
	// TileCountTTL is how long a cached tile count stays valid.
	TileCountTTL = 5 * time.Minute
)

// UploadLockKey returns the key of the upload lock of fileid.
func UploadLockKey(fileid string) string { return "uploading:" + fileid }

// TileCountKey returns the key of the cached tile count of fileid.
func TileCountKey(fileid string) string { return "count_all_tiles:" + fileid }

// UploadLock is the advisory "image is being processed" flag. The stored
// value is the unix time the lock was set; the key TTL carries the expiry.
type UploadLock struct {
	store Store
	now   func() time.Time
}

// NewUploadLock wraps store.
func NewUploadLock(store Store) *UploadLock {
	return &UploadLock{store: store, now: time.Now}
}

// Lock sets the lock for UploadLockTTL, replacing any existing one.
func (l *UploadLock) Lock(ctx context.Context, fileid string) error {
	return l.set(ctx, fileid, UploadLockTTL)
}

// Unlock removes the lock.
func (l *UploadLock) Unlock(ctx context.Context, fileid string) error {
	if err := l.store.Delete(ctx, UploadLockKey(fileid)); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", fileid, err)
	}
	return nil
}

// LockMore extends the lock by UploadLockTTL past its current expiry, or
// past now when the image is not locked. It returns the new remaining time.
func (l *UploadLock) LockMore(ctx context.Context, fileid string) (time.Duration, error) {
	left, _, err := l.Remaining(ctx, fileid)
	if err != nil {
		return 0, err
	}
	ttl := left + UploadLockTTL
	if err := l.set(ctx, fileid, ttl); err != nil {
		return 0, err
	}
	return ttl, nil
}

// LockedAt returns the time the lock was last set. ok is false when the
// image is not locked or the value is unreadable.
func (l *UploadLock) LockedAt(ctx context.Context, fileid string) (at time.Time, ok bool, err error) {
	v, ok, err := l.store.Get(ctx, UploadLockKey(fileid))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(sec, 0), true, nil
}

// Remaining reports how long the lock still holds. locked is false when
// the image is not locked.
func (l *UploadLock) Remaining(ctx context.Context, fileid string) (left time.Duration, locked bool, err error) {
	left, locked, err = l.store.TTL(ctx, UploadLockKey(fileid))
	if err != nil {
		return 0, false, fmt.Errorf("failed to read lock of %s: %w", fileid, err)
	}
	return left, locked, nil
}

func (l *UploadLock) set(ctx context.Context, fileid string, ttl time.Duration) error {
	since := l.now().Unix()
	if err := l.store.Set(ctx, UploadLockKey(fileid), strconv.FormatInt(since, 10), ttl); err != nil {
		return fmt.Errorf("failed to lock %s: %w", fileid, err)
	}
	return nil
}

// FormatRemaining renders a lock duration the way the admin views show it.
func FormatRemaining(left time.Duration) string {
	if left >= time.Minute {
		return fmt.Sprintf("%d minutes left", int(left/time.Minute))
	}
	return fmt.Sprintf("%d seconds left", int(left/time.Second))
}

// TileCountCache caches the number of tiles found on disk for an image.
type TileCountCache struct {
	store Store
}

// NewTileCountCache wraps store.
func NewTileCountCache(store Store) *TileCountCache {
	return &TileCountCache{store: store}
}

// Get returns the cached count. ok is false on a miss or an unparsable
// value.
func (c *TileCountCache) Get(ctx context.Context, fileid string) (count int, ok bool, err error) {
	v, ok, err := c.store.Get(ctx, TileCountKey(fileid))
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// Set caches count for TileCountTTL.
func (c *TileCountCache) Set(ctx context.Context, fileid string, count int) error {
	return c.store.Set(ctx, TileCountKey(fileid), strconv.Itoa(count), TileCountTTL)
}

// Invalidate drops the cached count.
func (c *TileCountCache) Invalidate(ctx context.Context, fileid string) error {
	return c.store.Delete(ctx, TileCountKey(fileid))
}

// DeleteAll removes every flag kept for fileid.
func DeleteAll(ctx context.Context, store Store, fileid string) error {
	for _, key := range []string{UploadLockKey(fileid), TileCountKey(fileid)} {
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}
