package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/gear-rental/internal/database"
	"github.com/iliyamo/gear-rental/internal/model"
)

type UserRepo struct{ db *database.DB }

func NewUserRepo(db *database.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = "id, email, password_hash, name, phone, role, club_id, is_active, is_approved, approved_by, approved_at, created_at, updated_at"

func scanUser(sc interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := sc.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Phone, &u.Role, &u.ClubID,
		&u.IsActive, &u.IsApproved, &u.ApprovedBy, &u.ApprovedAt, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// NormalizeEmail lower-cases and trims an address before it is stored or
// looked up.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts u and fills in its ID.  The email is normalized.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	res, err := r.db.ExecContext(ctx, `
INSERT INTO users (email, password_hash, name, phone, role, club_id, is_active, is_approved, approved_by, approved_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.Name, u.Phone, u.Role, u.ClubID, u.IsActive, u.IsApproved,
		u.ApprovedBy, u.ApprovedAt, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return getUser(ctx, r.db, id)
}

// GetForUpdateTx locks the row of user id for the rest of tx and returns
// it.
func (r *UserRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.User, error) {
	if err := lockRowsTx(ctx, tx, r.db.Dialect, "users", []uint64{id}); err != nil {
		return model.User{}, err
	}
	return getUser(ctx, tx, id)
}

func getUser(ctx context.Context, q dbtx, id uint64) (model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// UserFilter narrows List.  Zero values do not filter.
type UserFilter struct {
	ClubID          string
	Role            model.Role
	Search          string // case-insensitive match on name or email
	IncludeInactive bool
	PendingOnly     bool // active and not yet approved
}

// List returns users matching f ordered by name.
func (r *UserRepo) List(ctx context.Context, f UserFilter) ([]model.User, error) {
	q := "SELECT " + userColumns + " FROM users WHERE 1 = 1"
	var args []any
	if !f.IncludeInactive || f.PendingOnly {
		q += " AND is_active = 1"
	}
	if f.PendingOnly {
		q += " AND is_approved = 0"
	}
	if f.ClubID != "" {
		q += " AND club_id = ?"
		args = append(args, f.ClubID)
	}
	if f.Role != "" {
		q += " AND role = ?"
		args = append(args, f.Role)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := likePattern(s)
		q += " AND (LOWER(name) LIKE ? ESCAPE '!' OR LOWER(email) LIKE ? ESCAPE '!')"
		args = append(args, p, p)
	}
	if f.PendingOnly {
		q += " ORDER BY created_at, id"
	} else {
		q += " ORDER BY name, id"
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateTx writes every mutable column of u inside tx.
func (r *UserRepo) UpdateTx(ctx context.Context, tx *sql.Tx, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	res, err := tx.ExecContext(ctx, `
UPDATE users SET email = ?, password_hash = ?, name = ?, phone = ?, role = ?, club_id = ?,
  is_active = ?, is_approved = ?, approved_by = ?, approved_at = ?, updated_at = ?
WHERE id = ?`,
		u.Email, u.PasswordHash, u.Name, u.Phone, u.Role, u.ClubID, u.IsActive, u.IsApproved,
		u.ApprovedBy, u.ApprovedAt, u.UpdatedAt, u.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrEmailExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAdminsTx returns the number of active, approved admins as seen by
// tx.  On MySQL the admin rows stay locked until tx ends, so two demotions
// cannot both count the other admin.
func (r *UserRepo) CountAdminsTx(ctx context.Context, tx *sql.Tx) (int, error) {
	q := "SELECT id FROM users WHERE role = ? AND is_active = 1 AND is_approved = 1"
	if r.db.Dialect == database.MySQL {
		q += " FOR UPDATE"
	}
	rows, err := tx.QueryContext(ctx, q, model.RoleAdmin)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}
