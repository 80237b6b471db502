// Package availability decides whether gear can be reserved for a date
// range.  It works purely on the committed bookings handed to it and
// performs no I/O; callers are responsible for loading the bookings and
// for holding whatever lock makes the answer stable until they commit.
package availability

import (
	"sort"
	"time"

	"github.com/iliyamo/gear-rental/internal/model"
)

// DateRange is a rental period.  Requests store it half-open as
// [Start, End), but overlap is decided with inclusive bounds so a
// booking ending on the day another starts still conflicts (same-day
// handover is not allowed).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the range is non-empty.
func (r DateRange) Valid() bool { return r.Start.Before(r.End) }

// Overlaps reports whether a and b share at least one instant, treating
// both ends as inclusive: a.Start <= b.End && b.Start <= a.End.
func Overlaps(a, b DateRange) bool {
	return !a.Start.After(b.End) && !b.Start.After(a.End)
}

// Booking is one request line that references a gear item.
type Booking struct {
	RequestID  uint64
	GearItemID uint64
	GearName   string
	Status     model.RequestStatus
	Range      DateRange
}

// Conflict names a gear item that is already held for an overlapping
// period.
type Conflict struct {
	GearItemID uint64 `json:"gear_item_id"`
	GearName   string `json:"gear_name"`
	RequestID  uint64 `json:"request_id"`
}

// Compute derives the availability of a single item from its bookings.
// Bookings whose status is not committed are ignored.  With a nil
// window the item is available only when it has no committed booking at
// all; with a window it is available when no committed booking overlaps
// the window.  NextAvailable is the earliest End among the committed
// bookings considered, or nil when there are none.
func Compute(bookings []Booking, window *DateRange) model.Availability {
	var next *time.Time
	blocking := 0
	for _, b := range bookings {
		if !b.Status.IsCommitted() {
			continue
		}
		if window != nil && !Overlaps(*window, b.Range) {
			continue
		}
		blocking++
		if next == nil || b.Range.End.Before(*next) {
			end := b.Range.End
			next = &end
		}
	}
	return model.Availability{IsAvailable: blocking == 0, NextAvailable: next}
}

// CheckConflicts returns the distinct gear items among gearIDs that have
// a committed booking overlapping candidate.  Bookings belonging to
// excludeRequestID are skipped so that a request is never in conflict
// with itself.  The result is ordered by gear id.
func CheckConflicts(candidate DateRange, gearIDs []uint64, bookings []Booking, excludeRequestID uint64) []Conflict {
	if len(gearIDs) == 0 {
		return nil
	}
	wanted := make(map[uint64]struct{}, len(gearIDs))
	for _, id := range gearIDs {
		wanted[id] = struct{}{}
	}
	found := make(map[uint64]Conflict)
	for _, b := range bookings {
		if excludeRequestID != 0 && b.RequestID == excludeRequestID {
			continue
		}
		if !b.Status.IsCommitted() {
			continue
		}
		if _, ok := wanted[b.GearItemID]; !ok {
			continue
		}
		if !Overlaps(candidate, b.Range) {
			continue
		}
		if _, seen := found[b.GearItemID]; !seen {
			found[b.GearItemID] = Conflict{GearItemID: b.GearItemID, GearName: b.GearName, RequestID: b.RequestID}
		}
	}
	if len(found) == 0 {
		return nil
	}
	out := make([]Conflict, 0, len(found))
	for _, c := range found {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GearItemID < out[j].GearItemID })
	return out
}

// GroupByGear indexes bookings by gear item id.
func GroupByGear(bookings []Booking) map[uint64][]Booking {
	out := make(map[uint64][]Booking)
	for _, b := range bookings {
		out[b.GearItemID] = append(out[b.GearItemID], b)
	}
	return out
}

// Names returns the gear names of conflicts, in order.
func Names(conflicts []Conflict) []string {
	names := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		names = append(names, c.GearName)
	}
	return names
}
