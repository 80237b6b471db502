package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/iliyamo/gear-rental/internal/config"
	"github.com/iliyamo/gear-rental/internal/database"
)

// NewSQLite returns a migrated SQLite database stored in a temporary
// directory.  It is closed when the test finishes.
func NewSQLite(tb testing.TB) *database.DB {
	tb.Helper()

	cfg := config.Config{
		DBDriver:   config.DriverSQLite,
		SQLitePath: filepath.Join(tb.TempDir(), "gear.db"),
	}
	if err := database.RunMigrations(cfg); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	db, err := database.Open(context.Background(), cfg)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return db
}
