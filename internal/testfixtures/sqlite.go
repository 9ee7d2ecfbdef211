package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/peer-scheduler/internal/persistence/sqlite"
)

// SQLiteHarness wraps a migrated Storage backed by a temporary file.
type SQLiteHarness struct {
	*sqlite.Storage

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens and migrates a SQLite file under tb.TempDir. Close
// is registered with tb.Cleanup, so calling it is optional.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "peer.db")

	storage, err := sqlite.Open(path)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Storage: storage,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
