package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"tiler/internal/filesystem"
)

// ErrNotExist is returned by Open for missing artifacts.
var ErrNotExist = fs.ErrNotExist

// Store persists artifacts by path. Write must be atomic: a concurrent Exists
// or Open observes either nothing or the complete content.
type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Write(ctx context.Context, path string, write func(w io.Writer) error) error
	Remove(ctx context.Context, path string) error
	// RemoveAll removes path and everything below it.
	RemoveAll(ctx context.Context, path string) error
	// Glob returns the artifact paths matching pattern, sorted.
	Glob(ctx context.Context, pattern string) ([]string, error)
	// Size returns the artifact size in bytes.
	Size(ctx context.Context, path string) (int64, error)
}

// DiskStore stores artifacts on the local (or NFS mounted) filesystem.
type DiskStore struct {
	Retry filesystem.RetryConfig
}

// NewDiskStore returns a DiskStore using the default NFS retry settings.
func NewDiskStore() *DiskStore {
	return &DiskStore{Retry: filesystem.DefaultRetryConfig()}
}

func (s *DiskStore) Exists(_ context.Context, path string) (bool, error) {
	return filesystem.Exists(path)
}

func (s *DiskStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := filesystem.OpenWithRetry(path, s.Retry)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *DiskStore) Write(ctx context.Context, path string, write func(w io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return filesystem.WriteAtomic(path, 0o644, write)
}

func (s *DiskStore) Remove(_ context.Context, path string) error {
	return filesystem.RemoveIfExists(path)
}

func (s *DiskStore) RemoveAll(_ context.Context, path string) error {
	return os.RemoveAll(path)
}

func (s *DiskStore) Glob(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *DiskStore) Size(_ context.Context, path string) (int64, error) {
	info, err := filesystem.StatWithRetry(path, s.Retry)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// MemoryStore keeps artifacts in memory. Used by tests and dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	files  map[string][]byte
	writes map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte), writes: make(map[string]int)}
}

func (s *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[filepath.Clean(path)]
	return ok, nil
}

func (s *MemoryStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[filepath.Clean(path)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Write(ctx context.Context, path string, write func(w io.Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := filepath.Clean(path)
	s.files[key] = buf.Bytes()
	s.writes[key]++
	return nil
}

// Put stores data at path directly.
func (s *MemoryStore) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[filepath.Clean(path)] = append([]byte(nil), data...)
}

// Writes returns how many times path was written.
func (s *MemoryStore) Writes(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[filepath.Clean(path)]
}

func (s *MemoryStore) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, filepath.Clean(path))
	return nil
}

func (s *MemoryStore) RemoveAll(_ context.Context, path string) error {
	prefix := filepath.Clean(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.files {
		if key == prefix || strings.HasPrefix(key, prefix+string(filepath.Separator)) {
			delete(s.files, key)
		}
	}
	return nil
}

func (s *MemoryStore) Glob(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []string
	for key := range s.files {
		ok, err := filepath.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, key)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *MemoryStore) Size(_ context.Context, path string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[filepath.Clean(path)]
	if !ok {
		return 0, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return int64(len(data)), nil
}

// FindUpload returns the first existing upload of fileid and its extension.
// It returns ErrNotExist when neither a jpg nor a png upload exists.
func FindUpload(ctx context.Context, store Store, layout Layout, fileid string) (string, string, error) {
	candidates, err := layout.UploadCandidates(fileid)
	if err != nil {
		return "", "", err
	}
	for _, path := range candidates {
		ok, err := store.Exists(ctx, path)
		if err != nil {
			return "", "", fmt.Errorf("stat %s: %w", path, err)
		}
		if ok {
			return path, strings.TrimPrefix(filepath.Ext(path), "."), nil
		}
	}
	return "", "", fmt.Errorf("upload for %s: %w", fileid, ErrNotExist)
}

// IsNotExist reports whether err means the artifact is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
