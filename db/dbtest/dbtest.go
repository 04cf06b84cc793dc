// Package dbtest opens throwaway SQLite databases for store tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"shortsgen/db"
)

// New returns a migrated SQLite database in t's temp dir, closed on cleanup.
func New(t testing.TB) *db.CompatDB {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	d, err := db.Open(ctx, db.DialectSQLite, path)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if _, err := db.Migrate(ctx, d); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return d
}
