// Package testutil provides a throwaway SQLite database for tests that
// exercise the real repositories and schema.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/iliyamo/vcpool/internal/database"
)

// OpenDB creates a migrated SQLite database under t.TempDir().  The handle
// is closed automatically when the test ends.
func OpenDB(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "vcpool.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(context.Background(), db, database.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db, database.SQLite
}
