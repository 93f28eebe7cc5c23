package store

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/demetra.report/internal/timeutil"
)

// NewTestDB returns a migrated store in a temporary directory. It is closed
// when the test finishes.
func NewTestDB(t testing.TB) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// NewTestDBWithClock is NewTestDB driven by clock.
func NewTestDBWithClock(t testing.TB, clock timeutil.Clock) *Store {
	t.Helper()
	s := NewTestDB(t)
	s.SetClock(clock)
	return s
}
