package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/gear-rental/internal/database"
	"github.com/iliyamo/gear-rental/internal/model"
)

// SessionRepo persists login sessions keyed by the hash of their token.
type SessionRepo struct{ db *database.DB }

func NewSessionRepo(db *database.DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionColumns = "id, user_id, token_hash, expires_at, created_at"

// Create inserts a session row and fills in its ID.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO sessions (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)",
		s.UserID, s.TokenHash, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetByHash returns the session stored under tokenHash, expired or not.
func (r *SessionRepo) GetByHash(ctx context.Context, tokenHash string) (model.Session, error) {
	var s model.Session
	err := r.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE token_hash = ? LIMIT 1",
		tokenHash).Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// Extend moves the expiry of a session.  A session deleted concurrently is
// not an error.
func (r *SessionRepo) Extend(ctx context.Context, id uint64, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE sessions SET expires_at = ? WHERE id = ?", expiresAt, id)
	return err
}

// DeleteByHash removes the session with tokenHash.  Deleting a missing
// session is not an error.
func (r *SessionRepo) DeleteByHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", tokenHash)
	return err
}

// DeleteByID removes one session of userID.
func (r *SessionRepo) DeleteByID(ctx context.Context, userID, id uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAllForUser removes every session owned by userID.
func (r *SessionRepo) DeleteAllForUser(ctx context.Context, userID uint64) (int64, error) {
	return deleteAllSessions(ctx, r.db, userID)
}

// DeleteAllForUserTx is DeleteAllForUser inside tx.
func (r *SessionRepo) DeleteAllForUserTx(ctx context.Context, tx *sql.Tx, userID uint64) (int64, error) {
	return deleteAllSessions(ctx, tx, userID)
}

func deleteAllSessions(ctx context.Context, q dbtx, userID uint64) (int64, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM sessions WHERE user_id = ?", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes sessions whose expiry is at or before now,
// optionally only those of one user.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time, userID *uint64) (int64, error) {
	q := "DELETE FROM sessions WHERE expires_at <= ?"
	args := []any{now}
	if userID != nil {
		q += " AND user_id = ?"
		args = append(args, *userID)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListForUser returns the sessions of userID still valid at now, newest
// first.
func (r *SessionRepo) ListForUser(ctx context.Context, userID uint64, now time.Time) ([]model.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE user_id = ? AND expires_at > ? ORDER BY created_at DESC, id DESC",
		userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Session{}
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
