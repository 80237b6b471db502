package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iliyamo/gear-rental/internal/database"
	"github.com/iliyamo/gear-rental/internal/model"
)

var userCounter uint64

var referenceTime = time.Date(2025, time.August, 1, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Day parses a YYYY-MM-DD date as UTC midnight.
func Day(tb testing.TB, s string) time.Time {
	tb.Helper()
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		tb.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

// UserOption configures a seeded user.
type UserOption func(*model.User)

// AsAdmin gives the user the ADMIN role.
func AsAdmin() UserOption { return func(u *model.User) { u.Role = model.RoleAdmin } }

// Unapproved leaves the user awaiting approval.
func Unapproved() UserOption { return func(u *model.User) { u.IsApproved = false } }

// Inactive marks the user soft deleted.
func Inactive() UserOption { return func(u *model.User) { u.IsActive = false } }

// InClub overrides the club, "club-1" by default.
func InClub(club string) UserOption { return func(u *model.User) { u.ClubID = club } }

// WithPasswordHash sets the stored bcrypt hash.
func WithPasswordHash(h string) UserOption { return func(u *model.User) { u.PasswordHash = h } }

// SeedUser inserts an approved, active member and returns it.
func SeedUser(tb testing.TB, db *database.DB, opts ...UserOption) model.User {
	tb.Helper()
	idx := atomic.AddUint64(&userCounter, 1)
	u := model.User{
		Email:        fmt.Sprintf("user-%03d@example.com", idx),
		PasswordHash: "x",
		Name:         fmt.Sprintf("User %03d", idx),
		Role:         model.RoleMember,
		ClubID:       "club-1",
		IsActive:     true,
		IsApproved:   true,
		CreatedAt:    referenceTime,
		UpdatedAt:    referenceTime,
	}
	for _, opt := range opts {
		opt(&u)
	}
	res, err := db.ExecContext(context.Background(), `
INSERT INTO users (email, password_hash, name, role, club_id, is_active, is_approved, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.Name, string(u.Role), u.ClubID, u.IsActive, u.IsApproved, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	id, _ := res.LastInsertId()
	u.ID = uint64(id)
	return u
}

// GearOption configures a seeded gear item.
type GearOption func(*model.GearItem)

// GearInClub overrides the owning club.
func GearInClub(club string) GearOption { return func(g *model.GearItem) { g.ClubID = club } }

// GearCategory overrides the category, TENT by default.
func GearCategory(c model.GearCategory) GearOption {
	return func(g *model.GearItem) { g.Category = c }
}

// GearInactive marks the item soft deleted.
func GearInactive() GearOption { return func(g *model.GearItem) { g.IsActive = false } }

// SeedGear inserts an active gear item named name.
func SeedGear(tb testing.TB, db *database.DB, name string, opts ...GearOption) model.GearItem {
	tb.Helper()
	g := model.GearItem{
		Name:      name,
		Category:  model.CategoryTent,
		Condition: model.ConditionGood,
		ClubID:    "club-1",
		IsActive:  true,
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&g)
	}
	res, err := db.ExecContext(context.Background(), `
INSERT INTO gear_items (name, category, gear_condition, club_id, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.Name, string(g.Category), string(g.Condition), g.ClubID, g.IsActive, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		tb.Fatalf("seed gear: %v", err)
	}
	id, _ := res.LastInsertId()
	g.ID = uint64(id)
	return g
}

// SeedRequest inserts a request for user over [start, end) with one line
// of quantity 1 per gear id, in the given status.
func SeedRequest(tb testing.TB, db *database.DB, userID uint64, start, end time.Time, status model.RequestStatus, gearIDs ...uint64) uint64 {
	tb.Helper()
	ctx := context.Background()
	res, err := db.ExecContext(ctx, `
INSERT INTO requests (user_id, start_date, end_date, trip_name, intentions_code, purpose, experience, status, created_at, updated_at)
VALUES (?, ?, ?, 'Seeded trip', 'INT-0', 'tramping', 'intermediate', ?, ?, ?)`,
		userID, start, end, string(status), referenceTime, referenceTime)
	if err != nil {
		tb.Fatalf("seed request: %v", err)
	}
	id, _ := res.LastInsertId()
	for _, g := range gearIDs {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO request_items (request_id, gear_item_id, quantity) VALUES (?, ?, 1)`, id, g); err != nil {
			tb.Fatalf("seed request item: %v", err)
		}
	}
	return uint64(id)
}
