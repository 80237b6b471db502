package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gear-rental/internal/config"
)

func sqliteConfig(t *testing.T) config.Config {
	return config.Config{
		DBDriver:   config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "gear.db"),
	}
}

func tableCount(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users','sessions','gear_items','requests','request_items')`).Scan(&n))
	return n
}

func TestMigrations_UpIsIdempotentAndDownDropsSchema(t *testing.T) {
	cfg := sqliteConfig(t)
	require.NoError(t, RunMigrations(cfg))
	require.NoError(t, RunMigrations(cfg))

	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, SQLite, db.Dialect)
	assert.Equal(t, 5, tableCount(t, db))
	require.NoError(t, db.Close())

	require.NoError(t, MigrateDown(cfg, 1))
	db, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 0, tableCount(t, db))
}

func TestIsUniqueViolation(t *testing.T) {
	cfg := sqliteConfig(t)
	require.NoError(t, RunMigrations(cfg))
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE probe (email TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO probe (email) VALUES ('a@example.com')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO probe (email) VALUES ('a@example.com')`)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(context.Canceled))
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "gear@tcp(db:3306)/gear?charset=utf8mb4&parseTime=true&loc=UTC&clientFoundRows=true",
		MySQLDSN("gear", "", "db", "3306", "gear"))
	assert.Contains(t, MySQLDSN("gear", "pw", "db", "3306", "gear"), "gear:pw@tcp(db:3306)")

	u, err := MigrationURL(config.Config{DBDriver: config.DriverSQLite, SQLitePath: "/tmp/x.db"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/x.db", u)

	_, err = MigrationURL(config.Config{DBDriver: "postgres"})
	assert.Error(t, err)
}
