package service

import (
	"context"

	"github.com/iliyamo/gear-rental/internal/queue"
)

// EventPublisher delivers domain events.  Publishing happens after the
// originating transaction committed and failures never undo it.
type EventPublisher interface {
	PublishRequestStatusChanged(ctx context.Context, ev queue.RequestStatusChanged) error
	PublishGearImageReleased(ctx context.Context, ev queue.GearImageReleased) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishRequestStatusChanged(context.Context, queue.RequestStatusChanged) error {
	return nil
}

func (NopPublisher) PublishGearImageReleased(context.Context, queue.GearImageReleased) error {
	return nil
}

// CacheInvalidator drops cached catalog responses after gear or booking
// state changed.
type CacheInvalidator interface {
	InvalidateGear(ctx context.Context) error
}

type nopInvalidator struct{}

func (nopInvalidator) InvalidateGear(context.Context) error { return nil }
