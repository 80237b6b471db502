// Package queue defines the domain events exchanged over RabbitMQ and the
// publisher and consumer that move them.
package queue

import "time"

// Event type names, also used as the AMQP message type.
const (
	TypeRequestStatusChanged = "request.status_changed"
	TypeGearImageReleased    = "gear.image_released"
)

// RequestStatusChanged is published after a request changes status.  It
// carries enough information for downstream consumers to log or notify
// without querying the primary database.
type RequestStatusChanged struct {
	RequestID  uint64    `json:"request_id"`
	UserID     uint64    `json:"user_id"`
	UserEmail  string    `json:"user_email"`
	TripName   string    `json:"trip_name"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ActorID    uint64    `json:"actor_id"`
	Notes      string    `json:"notes,omitempty"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	GearNames  []string  `json:"gear"`
	OccurredAt time.Time `json:"occurred_at"`
}

// GearImageReleased is published when a gear item's image reference is
// replaced or cleared.  The consumer removes the file if it lives under
// the upload directory.
type GearImageReleased struct {
	GearItemID uint64    `json:"gear_item_id"`
	ImageURL   string    `json:"image_url"`
	ReleasedAt time.Time `json:"released_at"`
}
