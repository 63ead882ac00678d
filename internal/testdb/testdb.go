// Package testdb opens migrated in-memory SQLite databases for tests.
package testdb

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/walletbot/core/database"
	"github.com/m3rciful/walletbot/migrations"
)

// Open returns a fresh in-memory database with every migration applied.
// The database is closed when the test ends.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, Path: ":memory:"}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize db config: %v", err)
	}
	ctx := context.Background()
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("connect sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.RunMigrations(ctx, cfg, db, migrations.FS); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db
}
