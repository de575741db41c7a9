// Package testutil provides shared test helpers for setting up stores and spool directories.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/fraudlink/internal/store"
	"github.com/starford/fraudlink/internal/store/badgerstore"
	"github.com/starford/fraudlink/internal/store/sqlite"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "fraudlink-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := sqlite.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBadger creates an in-memory badger store closed at test end.
func TestBadger(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.OpenInMemory(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Backends returns one fresh store per supported driver, keyed by driver name.
func Backends(t *testing.T) map[string]store.Store {
	t.Helper()
	return map[string]store.Store{
		"sqlite": TestDB(t),
		"badger": TestBadger(t),
	}
}

// TestSpool creates a temporary spool directory with its inbox, done and failed folders.
func TestSpool(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, sub := range []string{"inbox", "done", "failed"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}
