package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestMonitor(limit int64, alloc *atomic.Uint64) *Monitor {
	config := DefaultConfig()
	config.LimitBytes = limit
	m := NewMonitor(config)
	m.read = alloc.Load
	return m
}

func TestMonitorPauseResume(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(1000, &alloc)
	defer m.Stop()

	alloc.Store(500)
	m.check()
	if m.IsPaused() {
		t.Fatal("paused at 50%")
	}
	if err := m.WaitIfPaused(context.Background()); err != nil {
		t.Fatalf("WaitIfPaused while running = %v", err)
	}

	alloc.Store(900)
	m.check()
	if !m.IsPaused() {
		t.Fatal("not paused at 90%")
	}

	released := make(chan error, 1)
	go func() { released <- m.WaitIfPaused(context.Background()) }()

	// Between the marks the monitor stays paused.
	alloc.Store(800)
	m.check()
	select {
	case <-released:
		t.Fatal("waiter released above the high water mark")
	case <-time.After(20 * time.Millisecond):
	}

	alloc.Store(100)
	m.check()
	select {
	case err := <-released:
		if err != nil {
			t.Errorf("WaitIfPaused = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released after recovery")
	}
	if got := m.Usage(); got != 0.1 {
		t.Errorf("Usage = %v, want 0.1", got)
	}
}

func TestWaitIfPausedContextAndStop(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(1000, &alloc)
	alloc.Store(1000)
	m.check()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := m.WaitIfPaused(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitIfPaused = %v, want deadline exceeded", err)
	}

	m.Stop()
	m.Stop()
	if err := m.WaitIfPaused(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("WaitIfPaused after Stop = %v, want ErrStopped", err)
	}
}

func TestMonitorWithoutLimit(t *testing.T) {
	var alloc atomic.Uint64
	m := newTestMonitor(0, &alloc)
	m.limit = 0
	alloc.Store(1 << 40)
	m.check()
	if m.IsPaused() || m.Usage() != 0 {
		t.Error("monitor without limit must never pause")
	}
}

func TestConfigureFromEnv(t *testing.T) {
	t.Setenv("GOMEMLIMIT", "")
	t.Setenv("MEMORY_LIMIT", "")

	if got := ConfigureFromEnv(); got.Configured || got.Source != "none" {
		t.Errorf("no env: %+v", got)
	}

	t.Setenv("MEMORY_LIMIT", "not-a-number")
	if got := ConfigureFromEnv(); got.Configured {
		t.Errorf("invalid MEMORY_LIMIT configured: %+v", got)
	}
}

func TestParseRatio(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", DefaultMemoryRatio},
		{"0.5", 0.5},
		{"1", 1},
		{"0", DefaultMemoryRatio},
		{"1.5", DefaultMemoryRatio},
		{"abc", DefaultMemoryRatio},
	}
	for _, tt := range tests {
		if got := parseRatio(tt.in); got != tt.want {
			t.Errorf("parseRatio(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{128 << 20, "128.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
