package model

import "time"

// Session models an entry in the `sessions` table.  Only the SHA-256
// hash of the token handed to the client is stored.  ExpiresAt slides
// forward on every successful validation.
type Session struct {
	ID        uint64    `json:"id"`         // sessions.id
	UserID    uint64    `json:"user_id"`    // sessions.user_id
	TokenHash string    `json:"-"`          // sessions.token_hash
	ExpiresAt time.Time `json:"expires_at"` // sessions.expires_at
	CreatedAt time.Time `json:"created_at"` // sessions.created_at
}

// Expired reports whether the session is no longer valid at now.  A
// session is valid only while now < ExpiresAt.
func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }
