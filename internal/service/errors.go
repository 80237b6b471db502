package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/iliyamo/gear-rental/internal/availability"
	"github.com/iliyamo/gear-rental/internal/model"
)

var (
	// ErrNotFound is returned when the requested resource does not exist
	// or is not visible to the caller.
	ErrNotFound = errors.New("service: not found")
	// ErrForbidden is returned when the caller lacks permission.
	ErrForbidden = errors.New("service: forbidden")
	// ErrUnauthenticated is returned when no valid session backs a call.
	ErrUnauthenticated = errors.New("service: authentication required")
	// ErrInvalidCredentials is returned by Login for a bad email/password.
	ErrInvalidCredentials = errors.New("service: invalid credentials")
	// ErrPendingApproval is returned by Login while an admin has not yet
	// approved the account.
	ErrPendingApproval = errors.New("service: account pending approval")
	// ErrAccountDisabled is returned by Login for deactivated accounts.
	ErrAccountDisabled = errors.New("service: account disabled")
	// ErrInvalidSession is returned for unknown tokens and for sessions
	// whose owner may not currently authenticate.
	ErrInvalidSession = errors.New("service: invalid session")
	// ErrSessionExpired is returned when a session was found past its
	// expiry; the session has been deleted.
	ErrSessionExpired = errors.New("service: session expired")
	// ErrEmailExists is returned when an email address is already taken.
	ErrEmailExists = errors.New("service: email already registered")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for f := range v.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.  The first message for a
// field wins.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, ok := v.FieldErrors[field]; !ok {
		v.FieldErrors[field] = message
	}
}

// errOrNil returns v as an error only when it holds issues.
func (v *ValidationError) errOrNil() error {
	if v.HasErrors() {
		return v
	}
	return nil
}

// ConflictError reports that an operation cannot proceed given current
// state: either gear is already booked for an overlapping period, or the
// request is in a status that forbids the attempted transition.
type ConflictError struct {
	Conflicts []availability.Conflict
	Current   model.RequestStatus
	Attempted model.RequestStatus
	Reason    string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	switch {
	case len(e.Conflicts) > 0:
		return "gear unavailable for the requested dates: " + strings.Join(e.GearNames(), ", ")
	case e.Reason != "":
		return e.Reason
	case e.Attempted != "":
		return fmt.Sprintf("cannot move request from %s to %s", e.Current, e.Attempted)
	}
	return fmt.Sprintf("operation not allowed while request is %s", e.Current)
}

// GearNames lists the names of the conflicting gear items.
func (e *ConflictError) GearNames() []string { return availability.Names(e.Conflicts) }

func bookingConflict(conflicts []availability.Conflict) *ConflictError {
	return &ConflictError{Conflicts: conflicts}
}

func statusConflict(current, attempted model.RequestStatus) *ConflictError {
	return &ConflictError{Current: current, Attempted: attempted}
}
