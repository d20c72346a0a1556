// Package testutil provides shared helpers for store and worker tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pranav1703/queuectl/internal/storage"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewSQLiteStore opens a migrated SQLite store in a temporary directory. The
// store is closed via t.Cleanup.
func NewSQLiteStore(t *testing.T, opts ...storage.Option) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := storage.NewStore(context.Background(), path, opts...)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("close sqlite store: %v", err)
		}
	})
	return s
}
