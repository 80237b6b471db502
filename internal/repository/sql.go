package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/gear-rental/internal/database"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so that the plain and the
// ...Tx variants of a method share one implementation.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// placeholders returns "?, ?, ?" for n parameters.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func idArgs(ids []uint64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// lockRowsTx takes write locks on the rows of table whose id is in ids and
// holds them until tx ends.  MySQL uses SELECT ... FOR UPDATE.  SQLite has
// no row locks; a no-op UPDATE acquires the database write lock instead.
func lockRowsTx(ctx context.Context, tx *sql.Tx, dialect database.Dialect, table string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	var q string
	switch dialect {
	case database.SQLite:
		q = "UPDATE " + table + " SET id = id WHERE id IN (" + placeholders(len(ids)) + ")"
		_, err := tx.ExecContext(ctx, q, idArgs(ids)...)
		return err
	default:
		q = "SELECT id FROM " + table + " WHERE id IN (" + placeholders(len(ids)) + ") ORDER BY id FOR UPDATE"
		rows, err := tx.QueryContext(ctx, q, idArgs(ids)...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
		}
		return rows.Err()
	}
}

// likePattern builds a lower-cased substring pattern for use with
// "LIKE ? ESCAPE '!'".
func likePattern(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(s) + "%"
}
