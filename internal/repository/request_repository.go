package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/gear-rental/internal/database"
	"github.com/iliyamo/gear-rental/internal/model"
)

// RequestRepo provides CRUD operations for rental requests and their
// items.  All timestamps are stored in UTC.
type RequestRepo struct {
	db *database.DB
}

// NewRequestRepo returns a new RequestRepo bound to the given database.
func NewRequestRepo(db *database.DB) *RequestRepo { return &RequestRepo{db: db} }

const requestColumns = `r.id, r.user_id, u.name, u.email, r.start_date, r.end_date, r.trip_name, r.intentions_code,
  r.purpose, r.experience, r.notes, r.status, r.reviewed_by, r.reviewed_at, r.review_notes, r.created_at, r.updated_at`

const requestFrom = " FROM requests r JOIN users u ON u.id = r.user_id"

func scanRequest(sc interface{ Scan(...any) error }) (model.Request, error) {
	var q model.Request
	err := sc.Scan(&q.ID, &q.UserID, &q.UserName, &q.UserEmail, &q.StartDate, &q.EndDate, &q.TripName,
		&q.IntentionsCode, &q.Purpose, &q.Experience, &q.Notes, &q.Status, &q.ReviewedBy, &q.ReviewedAt,
		&q.ReviewNotes, &q.CreatedAt, &q.UpdatedAt)
	return q, err
}

// CreateTx inserts a new request within the scope of an existing
// transaction and populates its generated ID.  Items are inserted
// separately with InsertItemsTx.
func (r *RequestRepo) CreateTx(ctx context.Context, tx *sql.Tx, q *model.Request) error {
	res, err := tx.ExecContext(ctx, `
INSERT INTO requests (user_id, start_date, end_date, trip_name, intentions_code, purpose, experience, notes, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.UserID, q.StartDate, q.EndDate, q.TripName, q.IntentionsCode, q.Purpose, q.Experience, q.Notes,
		q.Status, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	q.ID = uint64(id)
	return nil
}

// InsertItemsTx inserts the item lines of a request in a single statement,
// preserving their order.  Passing an empty slice has no effect.
func (r *RequestRepo) InsertItemsTx(ctx context.Context, tx *sql.Tx, requestID uint64, items []model.ItemLine) error {
	if len(items) == 0 {
		return nil
	}
	query := "INSERT INTO request_items (request_id, gear_item_id, quantity) VALUES "
	args := make([]any, 0, len(items)*3)
	for i, it := range items {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?, ?)"
		args = append(args, requestID, it.GearItemID, it.Quantity)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// DeleteItemsTx removes every item of a request.
func (r *RequestRepo) DeleteItemsTx(ctx context.Context, tx *sql.Tx, requestID uint64) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM request_items WHERE request_id = ?", requestID)
	return err
}

// GetForUpdateTx locks the request row for the rest of tx and returns it
// with its items.
func (r *RequestRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Request, error) {
	if err := lockRowsTx(ctx, tx, r.db.Dialect, "requests", []uint64{id}); err != nil {
		return model.Request{}, err
	}
	return getRequest(ctx, tx, id)
}

// Get returns a request with its items and their gear summaries.
func (r *RequestRepo) Get(ctx context.Context, id uint64) (model.Request, error) {
	return getRequest(ctx, r.db, id)
}

func getRequest(ctx context.Context, q dbtx, id uint64) (model.Request, error) {
	req, err := scanRequest(q.QueryRowContext(ctx, "SELECT "+requestColumns+requestFrom+" WHERE r.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	items, err := loadItems(ctx, q, []uint64{id})
	if err != nil {
		return req, err
	}
	req.Items = items[id]
	if req.Items == nil {
		req.Items = []model.RequestItem{}
	}
	return req, nil
}

// StatusChange is an audited status update.
type StatusChange struct {
	From       model.RequestStatus
	To         model.RequestStatus
	ReviewedBy *uint64
	Notes      *string
	At         time.Time
}

// UpdateStatusTx moves a request from c.From to c.To and stamps the review
// audit.  It returns ErrConflict when the stored status is no longer
// c.From.
func (r *RequestRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, c StatusChange) error {
	res, err := tx.ExecContext(ctx, `
UPDATE requests SET status = ?, reviewed_by = ?, reviewed_at = ?, review_notes = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		c.To, c.ReviewedBy, c.At, c.Notes, c.At, id, c.From)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

// TouchTx bumps updated_at.
func (r *RequestRepo) TouchTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	_, err := tx.ExecContext(ctx, "UPDATE requests SET updated_at = ? WHERE id = ?", at, id)
	return err
}

// RequestFilter narrows List.  Zero values do not filter.
type RequestFilter struct {
	UserID *uint64
	Status model.RequestStatus
	ClubID string // club of the requesting member
}

// List returns requests matching f, newest first, with their items.
func (r *RequestRepo) List(ctx context.Context, f RequestFilter) ([]model.Request, error) {
	q := "SELECT " + requestColumns + requestFrom + " WHERE 1 = 1"
	var args []any
	if f.UserID != nil {
		q += " AND r.user_id = ?"
		args = append(args, *f.UserID)
	}
	if f.Status != "" {
		q += " AND r.status = ?"
		args = append(args, f.Status)
	}
	if f.ClubID != "" {
		q += " AND u.club_id = ?"
		args = append(args, f.ClubID)
	}
	q += " ORDER BY r.created_at DESC, r.id DESC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	out := []model.Request{}
	var ids []uint64
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, req)
		ids = append(ids, req.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	items, err := loadItems(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
		if out[i].Items == nil {
			out[i].Items = []model.RequestItem{}
		}
	}
	return out, nil
}

// loadItems fetches the items of the given requests keyed by request id,
// each list in insertion order.
func loadItems(ctx context.Context, q dbtx, requestIDs []uint64) (map[uint64][]model.RequestItem, error) {
	out := make(map[uint64][]model.RequestItem, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `
SELECT ri.id, ri.request_id, ri.gear_item_id, ri.quantity, g.id, g.name, g.brand, g.category, g.image_url
FROM request_items ri
JOIN gear_items g ON g.id = ri.gear_item_id
WHERE ri.request_id IN (`+placeholders(len(requestIDs))+`)
ORDER BY ri.request_id, ri.id`, idArgs(requestIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it model.RequestItem
		var g model.GearSummary
		if err := rows.Scan(&it.ID, &it.RequestID, &it.GearItemID, &it.Quantity, &g.ID, &g.Name, &g.Brand, &g.Category, &g.ImageURL); err != nil {
			return nil, err
		}
		it.Gear = &g
		out[it.RequestID] = append(out[it.RequestID], it)
	}
	return out, rows.Err()
}
