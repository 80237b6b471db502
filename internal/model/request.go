package model

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus is the lifecycle state of a rental request.
type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusApproved   RequestStatus = "APPROVED"
	StatusCheckedOut RequestStatus = "CHECKED_OUT"
	StatusReturned   RequestStatus = "RETURNED"
	StatusRejected   RequestStatus = "REJECTED"
	StatusCancelled  RequestStatus = "CANCELLED"
)

// CommittedStatuses are the statuses that block gear availability.
var CommittedStatuses = []RequestStatus{StatusApproved, StatusCheckedOut}

// ParseRequestStatus returns the status named by s.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusCheckedOut, StatusReturned, StatusRejected, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

// IsCommitted reports whether a request in this status holds its gear.
func (s RequestStatus) IsCommitted() bool {
	switch s {
	case StatusApproved, StatusCheckedOut:
		return true
	case StatusPending, StatusReturned, StatusRejected, StatusCancelled:
		return false
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusReturned, StatusRejected, StatusCancelled:
		return true
	case StatusPending, StatusApproved, StatusCheckedOut:
		return false
	}
	return true
}

// AllowsItemChanges reports whether the item set may be replaced.
func (s RequestStatus) AllowsItemChanges() bool {
	return s == StatusPending || s == StatusApproved
}

// CanTransition reports whether the state machine has an edge from -> to.
//
//	PENDING     -> APPROVED | REJECTED | CANCELLED
//	APPROVED    -> CHECKED_OUT | CANCELLED
//	CHECKED_OUT -> RETURNED
func CanTransition(from, to RequestStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected || to == StatusCancelled
	case StatusApproved:
		return to == StatusCheckedOut || to == StatusCancelled
	case StatusCheckedOut:
		return to == StatusReturned
	case StatusReturned, StatusRejected, StatusCancelled:
		return false
	}
	return false
}

// TripPurpose describes what the gear is borrowed for.
type TripPurpose string

const (
	PurposeTramping TripPurpose = "tramping"
	PurposeClimbing TripPurpose = "climbing"
	PurposeKayaking TripPurpose = "kayaking"
	PurposeCamping  TripPurpose = "camping"
	PurposeCourse   TripPurpose = "course"
	PurposeOther    TripPurpose = "other"
)

// ParseTripPurpose returns the purpose named by s.
func ParseTripPurpose(s string) (TripPurpose, error) {
	switch p := TripPurpose(strings.ToLower(strings.TrimSpace(s))); p {
	case PurposeTramping, PurposeClimbing, PurposeKayaking, PurposeCamping, PurposeCourse, PurposeOther:
		return p, nil
	}
	return "", fmt.Errorf("unknown trip purpose %q", s)
}

// ExperienceLevel is the requester's self-declared experience.
type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceAdvanced     ExperienceLevel = "advanced"
	ExperienceExpert       ExperienceLevel = "expert"
)

// ParseExperienceLevel returns the level named by s.
func ParseExperienceLevel(s string) (ExperienceLevel, error) {
	switch l := ExperienceLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case ExperienceBeginner, ExperienceIntermediate, ExperienceAdvanced, ExperienceExpert:
		return l, nil
	}
	return "", fmt.Errorf("unknown experience level %q", s)
}

// Request records a member's rental of one or more gear items over the
// half-open date range [StartDate, EndDate).
//
// Fields:
//
//	ID             – primary key identifier.
//	UserID         – member who owns the request.
//	StartDate      – first day of the rental.
//	EndDate        – day the gear is due back.
//	TripName       – short trip label.
//	IntentionsCode – code of the intentions form filed for the trip.
//	Purpose        – trip purpose.
//	Experience     – requester's experience level.
//	Notes          – optional free text from the member.
//	Status         – lifecycle state.
//	ReviewedBy     – admin who last moved the request.
//	ReviewedAt     – when that happened.
//	ReviewNotes    – optional admin notes.
//	Items          – requested gear lines, in insertion order.
type Request struct {
	ID             uint64          `json:"id"`
	UserID         uint64          `json:"user_id"`
	UserName       string          `json:"user_name,omitempty"`
	UserEmail      string          `json:"user_email,omitempty"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	TripName       string          `json:"trip_name"`
	IntentionsCode string          `json:"intentions_code"`
	Purpose        TripPurpose     `json:"purpose"`
	Experience     ExperienceLevel `json:"experience"`
	Notes          *string         `json:"notes,omitempty"`
	Status         RequestStatus   `json:"status"`
	ReviewedBy     *uint64         `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNotes    *string         `json:"review_notes,omitempty"`
	Items          []RequestItem   `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// GearIDs returns the gear ids referenced by the request's items.
func (r Request) GearIDs() []uint64 {
	ids := make([]uint64, 0, len(r.Items))
	for _, it := range r.Items {
		ids = append(ids, it.GearItemID)
	}
	return ids
}

// RequestItem links a request to a gear item with a quantity.
type RequestItem struct {
	ID         uint64       `json:"id"`
	RequestID  uint64       `json:"request_id"`
	GearItemID uint64       `json:"gear_item_id"`
	Quantity   uint32       `json:"quantity"`
	Gear       *GearSummary `json:"gear,omitempty"`
}

// GearSummary is the slice of a gear item embedded in request listings.
type GearSummary struct {
	ID       uint64       `json:"id"`
	Name     string       `json:"name"`
	Brand    *string      `json:"brand,omitempty"`
	Category GearCategory `json:"category"`
	ImageURL *string      `json:"image_url,omitempty"`
}

// ItemLine is a {gear, quantity} pair supplied by a caller.
type ItemLine struct {
	GearItemID uint64 `json:"gear_id" validate:"required,gt=0"`
	Quantity   uint32 `json:"quantity" validate:"required,gte=1"`
}

// GearBooking is one entry of a gear item's reservation history.
type GearBooking struct {
	RequestID uint64        `json:"request_id"`
	UserName  string        `json:"user_name"`
	UserEmail string        `json:"user_email"`
	StartDate time.Time     `json:"start_date"`
	EndDate   time.Time     `json:"end_date"`
	Status    RequestStatus `json:"status"`
	Quantity  uint32        `json:"quantity"`
}
