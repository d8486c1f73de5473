// Package dbtest opens migrated in-memory stores for tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"climate-server/internal/migrate"
)

// OpenSQLite returns a private in-memory database with the schema applied.
// It is closed when the test ends.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// One connection keeps every query on the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if _, err := migrate.Run(context.Background(), db, migrate.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
