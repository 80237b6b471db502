package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gear-rental/internal/model"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func rng(t *testing.T, start, end string) DateRange {
	t.Helper()
	return DateRange{Start: day(t, start), End: day(t, end)}
}

func TestOverlaps_Symmetric(t *testing.T) {
	cases := []struct {
		name string
		a, b DateRange
		want bool
	}{
		{"disjoint", rng(t, "2025-08-01", "2025-08-05"), rng(t, "2025-08-10", "2025-08-15"), false},
		{"contained", rng(t, "2025-08-01", "2025-08-30"), rng(t, "2025-08-10", "2025-08-15"), true},
		{"partial", rng(t, "2025-08-01", "2025-08-12"), rng(t, "2025-08-10", "2025-08-15"), true},
		{"touching", rng(t, "2025-08-10", "2025-08-15"), rng(t, "2025-08-15", "2025-08-20"), true},
		{"one day apart", rng(t, "2025-08-10", "2025-08-14"), rng(t, "2025-08-15", "2025-08-20"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Overlaps(tc.a, tc.b))
			assert.Equal(t, Overlaps(tc.a, tc.b), Overlaps(tc.b, tc.a))
		})
	}
}

func TestOverlaps_Reflexive(t *testing.T) {
	r := rng(t, "2025-08-10", "2025-08-15")
	assert.True(t, Overlaps(r, r))
}

func TestCompute_NoCommittedBookings(t *testing.T) {
	bookings := []Booking{
		{RequestID: 1, GearItemID: 7, Status: model.StatusPending, Range: rng(t, "2025-08-10", "2025-08-15")},
		{RequestID: 2, GearItemID: 7, Status: model.StatusReturned, Range: rng(t, "2025-07-01", "2025-07-03")},
		{RequestID: 3, GearItemID: 7, Status: model.StatusCancelled, Range: rng(t, "2025-09-01", "2025-09-03")},
		{RequestID: 4, GearItemID: 7, Status: model.StatusRejected, Range: rng(t, "2025-09-01", "2025-09-03")},
	}

	got := Compute(bookings, nil)

	assert.True(t, got.IsAvailable)
	assert.Nil(t, got.NextAvailable)
}

func TestCompute_UndatedAnyCommittedBlocks(t *testing.T) {
	bookings := []Booking{
		{RequestID: 1, GearItemID: 7, Status: model.StatusApproved, Range: rng(t, "2025-09-10", "2025-09-15")},
		{RequestID: 2, GearItemID: 7, Status: model.StatusCheckedOut, Range: rng(t, "2025-08-01", "2025-08-04")},
	}

	got := Compute(bookings, nil)

	assert.False(t, got.IsAvailable)
	require.NotNil(t, got.NextAvailable)
	assert.Equal(t, day(t, "2025-08-04"), *got.NextAvailable)
}

func TestCompute_WindowIgnoresNonOverlapping(t *testing.T) {
	bookings := []Booking{
		{RequestID: 1, GearItemID: 7, Status: model.StatusApproved, Range: rng(t, "2025-09-10", "2025-09-15")},
	}
	window := rng(t, "2025-08-01", "2025-08-05")

	got := Compute(bookings, &window)

	assert.True(t, got.IsAvailable)
	assert.Nil(t, got.NextAvailable)
}

func TestCompute_WindowOverlapping(t *testing.T) {
	bookings := []Booking{
		{RequestID: 1, GearItemID: 7, Status: model.StatusApproved, Range: rng(t, "2025-08-10", "2025-08-15")},
		{RequestID: 2, GearItemID: 7, Status: model.StatusApproved, Range: rng(t, "2025-08-01", "2025-08-12")},
	}
	window := rng(t, "2025-08-11", "2025-08-13")

	got := Compute(bookings, &window)

	assert.False(t, got.IsAvailable)
	require.NotNil(t, got.NextAvailable)
	assert.Equal(t, day(t, "2025-08-12"), *got.NextAvailable)
}

func TestCheckConflicts_EmptyGearList(t *testing.T) {
	bookings := []Booking{
		{RequestID: 1, GearItemID: 7, Status: model.StatusApproved, Range: rng(t, "2025-08-10", "2025-08-15")},
	}
	assert.Empty(t, CheckConflicts(rng(t, "2025-08-10", "2025-08-15"), nil, bookings, 0))
}

func TestCheckConflicts_ReportsSharedGearOnly(t *testing.T) {
	bookings := []Booking{
		{RequestID: 1, GearItemID: 7, GearName: "Tent", Status: model.StatusApproved, Range: rng(t, "2025-08-10", "2025-08-15")},
		{RequestID: 1, GearItemID: 8, GearName: "Stove", Status: model.StatusApproved, Range: rng(t, "2025-08-10", "2025-08-15")},
		{RequestID: 2, GearItemID: 9, GearName: "Rope", Status: model.StatusPending, Range: rng(t, "2025-08-10", "2025-08-15")},
	}

	got := CheckConflicts(rng(t, "2025-08-12", "2025-08-14"), []uint64{7, 9, 11}, bookings, 0)

	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].GearItemID)
	assert.Equal(t, []string{"Tent"}, Names(got))
}

func TestCheckConflicts_BoundaryTouchingConflicts(t *testing.T) {
	bookings := []Booking{
		{RequestID: 1, GearItemID: 7, GearName: "Tent", Status: model.StatusApproved, Range: rng(t, "2025-08-10", "2025-08-15")},
	}

	got := CheckConflicts(rng(t, "2025-08-15", "2025-08-20"), []uint64{7}, bookings, 0)

	require.Len(t, got, 1)
	assert.Equal(t, "Tent", got[0].GearName)
}

func TestCheckConflicts_ExcludesOwnRequest(t *testing.T) {
	bookings := []Booking{
		{RequestID: 5, GearItemID: 7, GearName: "Tent", Status: model.StatusApproved, Range: rng(t, "2025-08-10", "2025-08-15")},
	}

	assert.Empty(t, CheckConflicts(rng(t, "2025-08-10", "2025-08-15"), []uint64{7}, bookings, 5))
	assert.Len(t, CheckConflicts(rng(t, "2025-08-10", "2025-08-15"), []uint64{7}, bookings, 6), 1)
}

func TestCheckConflicts_DeduplicatesPerGear(t *testing.T) {
	bookings := []Booking{
		{RequestID: 1, GearItemID: 7, GearName: "Tent", Status: model.StatusApproved, Range: rng(t, "2025-08-10", "2025-08-15")},
		{RequestID: 2, GearItemID: 7, GearName: "Tent", Status: model.StatusCheckedOut, Range: rng(t, "2025-08-16", "2025-08-18")},
	}

	got := CheckConflicts(rng(t, "2025-08-01", "2025-08-30"), []uint64{7}, bookings, 0)

	assert.Len(t, got, 1)
}

func TestGroupByGear(t *testing.T) {
	bookings := []Booking{
		{RequestID: 1, GearItemID: 7},
		{RequestID: 2, GearItemID: 8},
		{RequestID: 3, GearItemID: 7},
	}
	g := GroupByGear(bookings)
	assert.Len(t, g[7], 2)
	assert.Len(t, g[8], 1)
}
