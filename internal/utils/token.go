package utils // package utils provides helper functions for session tokens and password hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// SessionTokenBytes is the amount of random data behind a session token
// (256 bits).
const SessionTokenBytes = 32

// NewSessionToken returns a hex-encoded random session token.  The raw
// string is handed to the client once; only its hash is persisted.
func NewSessionToken() (string, error) {
	return randomHex(SessionTokenBytes)
}

// HashSessionToken returns the SHA-256 hash of a raw session token as a hex
// string.  Sessions are looked up by this value so a leaked table cannot be
// replayed as cookies.
func HashSessionToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
