// Package testutil provides shared test helpers for document roots and request logs.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/othala/internal/requests"
	"github.com/starford/othala/internal/storage"
)

// TestRequests creates a temporary SQLite request log that is automatically cleaned up.
func TestRequests(t *testing.T) *requests.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "othala-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := requests.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary documents directory with a storage.FS.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}
