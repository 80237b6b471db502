package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/gear-rental/internal/availability"
	"github.com/iliyamo/gear-rental/internal/database"
	"github.com/iliyamo/gear-rental/internal/model"
)

// GearRepo provides access to gear_items and to the committed bookings
// that reference them.
type GearRepo struct {
	db *database.DB
}

// NewGearRepo returns a new GearRepo bound to the given database.
func NewGearRepo(db *database.DB) *GearRepo { return &GearRepo{db: db} }

const gearColumns = "id, name, brand, model, category, description, gear_condition, size, weight, image_url, club_id, purchase_price_cents, notes, is_active, created_at, updated_at"

func scanGear(sc interface{ Scan(...any) error }) (model.GearItem, error) {
	var g model.GearItem
	err := sc.Scan(&g.ID, &g.Name, &g.Brand, &g.Model, &g.Category, &g.Description, &g.Condition,
		&g.Size, &g.Weight, &g.ImageURL, &g.ClubID, &g.PurchasePrice, &g.Notes, &g.IsActive,
		&g.CreatedAt, &g.UpdatedAt)
	return g, err
}

// Create inserts g and fills in its ID.
func (r *GearRepo) Create(ctx context.Context, g *model.GearItem) error {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO gear_items (name, brand, model, category, description, gear_condition, size, weight, image_url,
  club_id, purchase_price_cents, notes, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.Name, g.Brand, g.Model, g.Category, g.Description, g.Condition, g.Size, g.Weight, g.ImageURL,
		g.ClubID, g.PurchasePrice, g.Notes, g.IsActive, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	g.ID = uint64(id)
	return nil
}

// GetByID returns a gear item whether active or not.
func (r *GearRepo) GetByID(ctx context.Context, id uint64) (model.GearItem, error) {
	g, err := scanGear(r.db.QueryRowContext(ctx, "SELECT "+gearColumns+" FROM gear_items WHERE id = ? LIMIT 1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return g, ErrNotFound
	}
	return g, err
}

// Update writes every mutable column of g.
func (r *GearRepo) Update(ctx context.Context, g *model.GearItem) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE gear_items SET name = ?, brand = ?, model = ?, category = ?, description = ?, gear_condition = ?,
  size = ?, weight = ?, image_url = ?, club_id = ?, purchase_price_cents = ?, notes = ?, is_active = ?, updated_at = ?
WHERE id = ?`,
		g.Name, g.Brand, g.Model, g.Category, g.Description, g.Condition, g.Size, g.Weight, g.ImageURL,
		g.ClubID, g.PurchasePrice, g.Notes, g.IsActive, g.UpdatedAt, g.ID)
	if err != nil {
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

// GearQuery narrows List.  Only active items are ever listed.
type GearQuery struct {
	ClubID   string
	Category model.GearCategory
	Search   string // case-insensitive match on name, brand or model
}

// List returns the active gear items matching q ordered by category and
// name.
func (r *GearRepo) List(ctx context.Context, q GearQuery) ([]model.GearItem, error) {
	query := "SELECT " + gearColumns + " FROM gear_items WHERE is_active = 1"
	var args []any
	if q.ClubID != "" {
		query += " AND club_id = ?"
		args = append(args, q.ClubID)
	}
	if q.Category != "" {
		query += " AND category = ?"
		args = append(args, q.Category)
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		p := likePattern(s)
		query += ` AND (LOWER(name) LIKE ? ESCAPE '!'
  OR LOWER(COALESCE(brand, '')) LIKE ? ESCAPE '!'
  OR LOWER(COALESCE(model, '')) LIKE ? ESCAPE '!')`
		args = append(args, p, p, p)
	}
	query += " ORDER BY category, name, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.GearItem{}
	for rows.Next() {
		g, err := scanGear(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// LockedGear is the state of a gear row read under lock.
type LockedGear struct {
	ID       uint64
	Name     string
	ClubID   string
	IsActive bool
}

// LockTx locks the gear rows in ids for the rest of tx and returns them
// keyed by id.  Unknown ids are absent from the result.
func (r *GearRepo) LockTx(ctx context.Context, tx *sql.Tx, ids []uint64) (map[uint64]LockedGear, error) {
	out := make(map[uint64]LockedGear, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if err := lockRowsTx(ctx, tx, r.db.Dialect, "gear_items", ids); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx,
		"SELECT id, name, club_id, is_active FROM gear_items WHERE id IN ("+placeholders(len(ids))+")",
		idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var g LockedGear
		if err := rows.Scan(&g.ID, &g.Name, &g.ClubID, &g.IsActive); err != nil {
			return nil, err
		}
		out[g.ID] = g
	}
	return out, rows.Err()
}

// CommittedBookings returns one booking per request line on the given gear
// whose request is APPROVED or CHECKED_OUT.  Inactive gear is included.
func (r *GearRepo) CommittedBookings(ctx context.Context, gearIDs []uint64) ([]availability.Booking, error) {
	return committedBookings(ctx, r.db, committedBookingsQuery(len(gearIDs), false), gearIDs)
}

// CommittedBookingsTx is CommittedBookings inside tx.  On MySQL the rows are
// read with a locking read so that the scan sees bookings committed after
// tx took its snapshot.
func (r *GearRepo) CommittedBookingsTx(ctx context.Context, tx *sql.Tx, gearIDs []uint64) ([]availability.Booking, error) {
	return committedBookings(ctx, tx, committedBookingsQuery(len(gearIDs), r.db.Dialect == database.MySQL), gearIDs)
}

func committedBookingsQuery(n int, locking bool) string {
	q := `
SELECT ri.request_id, ri.gear_item_id, g.name, r.status, r.start_date, r.end_date
FROM request_items ri
JOIN requests r ON r.id = ri.request_id
JOIN gear_items g ON g.id = ri.gear_item_id
WHERE ri.gear_item_id IN (` + placeholders(n) + `)
  AND r.status IN (` + placeholders(len(model.CommittedStatuses)) + `)
ORDER BY ri.gear_item_id, r.start_date`
	if locking {
		q += " LOCK IN SHARE MODE"
	}
	return q
}

func committedBookings(ctx context.Context, q dbtx, query string, gearIDs []uint64) ([]availability.Booking, error) {
	if len(gearIDs) == 0 {
		return nil, nil
	}
	args := idArgs(gearIDs)
	for _, st := range model.CommittedStatuses {
		args = append(args, st)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []availability.Booking
	for rows.Next() {
		var b availability.Booking
		if err := rows.Scan(&b.RequestID, &b.GearItemID, &b.GearName, &b.Status, &b.Range.Start, &b.Range.End); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// History returns every request line that ever referenced gearID, newest
// start date first.
func (r *GearRepo) History(ctx context.Context, gearID uint64) ([]model.GearBooking, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT r.id, u.name, u.email, r.start_date, r.end_date, r.status, ri.quantity
FROM request_items ri
JOIN requests r ON r.id = ri.request_id
JOIN users u ON u.id = r.user_id
WHERE ri.gear_item_id = ?
ORDER BY r.start_date DESC, r.id DESC`, gearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.GearBooking{}
	for rows.Next() {
		var b model.GearBooking
		if err := rows.Scan(&b.RequestID, &b.UserName, &b.UserEmail, &b.StartDate, &b.EndDate, &b.Status, &b.Quantity); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CategoryStats counts active items per category, optionally within one
// club.  Categories without items are omitted.
func (r *GearRepo) CategoryStats(ctx context.Context, clubID string) ([]model.CategoryCount, error) {
	q := "SELECT category, COUNT(*) FROM gear_items WHERE is_active = 1"
	var args []any
	if clubID != "" {
		q += " AND club_id = ?"
		args = append(args, clubID)
	}
	q += " GROUP BY category ORDER BY category"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.CategoryCount{}
	for rows.Next() {
		var c model.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
