// Package repository holds the SQL data access for users, sessions, gear
// and rental requests.  The sentinel errors below let higher layers
// distinguish failure scenarios without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when a lookup by key matches no row.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.  Handlers translate it into a 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when a write cannot be applied because the row
// changed underneath it, e.g. a status update guarded by the previous
// status.  Handlers translate it into a 409 response.
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned when a user insert or update violates the
// unique email constraint.
var ErrEmailExists = errors.New("email already exists")
