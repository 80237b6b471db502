package model

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of roles a club member can hold.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// ParseRole normalizes s and returns the matching Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleMember:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMember:
		return true
	}
	return false
}

// User represents a row in the `users` table.  Users are created at
// registration unapproved and active, approved by an admin, and soft
// deleted by clearing IsActive.  They are never removed.
//
// Fields:
//
//	ID           – primary key identifier.
//	Email        – unique, lower-cased email address.
//	PasswordHash – bcrypt hash.
//	Name         – display name.
//	Phone        – optional contact number.
//	Role         – ADMIN or MEMBER.
//	ClubID       – club the user belongs to.
//	IsActive     – soft-delete flag.
//	IsApproved   – set once an admin approves the registration.
//	ApprovedBy   – admin who approved or rejected the account.
//	ApprovedAt   – when that decision was taken.
type User struct {
	ID           uint64     `json:"id"`                    // users.id
	Email        string     `json:"email"`                 // users.email
	PasswordHash string     `json:"-"`                     // users.password_hash
	Name         string     `json:"name"`                  // users.name
	Phone        *string    `json:"phone,omitempty"`       // users.phone (nullable)
	Role         Role       `json:"role"`                  // users.role
	ClubID       string     `json:"club_id"`               // users.club_id
	IsActive     bool       `json:"is_active"`             // users.is_active
	IsApproved   bool       `json:"is_approved"`           // users.is_approved
	ApprovedBy   *uint64    `json:"approved_by,omitempty"` // users.approved_by (nullable)
	ApprovedAt   *time.Time `json:"approved_at,omitempty"` // users.approved_at (nullable)
	CreatedAt    time.Time  `json:"created_at"`            // users.created_at
	UpdatedAt    time.Time  `json:"updated_at"`            // users.updated_at
}

// CanAuthenticate reports whether the account may hold a session.
func (u User) CanAuthenticate() bool { return u.IsActive && u.IsApproved }

// View returns the read-only projection handed to request handlers.
func (u User) View() UserView {
	return UserView{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Role:       u.Role,
		ClubID:     u.ClubID,
		IsActive:   u.IsActive,
		IsApproved: u.IsApproved,
	}
}

// UserView is the identity resolved from a valid session.
type UserView struct {
	ID         uint64 `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	ClubID     string `json:"club_id"`
	IsActive   bool   `json:"is_active"`
	IsApproved bool   `json:"is_approved"`
}

// IsAdmin reports whether the viewer holds the ADMIN role.
func (v UserView) IsAdmin() bool { return v.Role == RoleAdmin }
