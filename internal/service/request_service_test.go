package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/testfixtures"
)

func createInput(t *testing.T, start, end string, gearIDs ...uint64) CreateRequestInput {
	items := make([]model.ItemLine, 0, len(gearIDs))
	for _, id := range gearIDs {
		items = append(items, model.ItemLine{GearItemID: id, Quantity: 1})
	}
	return CreateRequestInput{
		StartDate:      testfixtures.Day(t, start),
		EndDate:        testfixtures.Day(t, end),
		TripName:       "Tararua traverse",
		IntentionsCode: "INT-42",
		Purpose:        "tramping",
		Experience:     "intermediate",
		Items:          items,
	}
}

func TestRequestService_CreateConflictsWithApprovedBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	member := testfixtures.SeedUser(t, env.db)
	tent := testfixtures.SeedGear(t, env.db, "Macpac Minaret")
	stove := testfixtures.SeedGear(t, env.db, "MSR Pocket Rocket")
	testfixtures.SeedRequest(t, env.db, member.ID,
		testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-15"), model.StatusApproved, tent.ID)

	_, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-12", "2025-08-14", tent.ID, stove.ID))
	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, []string{"Macpac Minaret"}, cErr.GearNames())

	req, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-12", "2025-08-14", stove.ID))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, req.Status)
	require.Len(t, req.Items, 1)
	assert.Equal(t, stove.ID, req.Items[0].GearItemID)
}

func TestRequestService_CreateBoundaryTouchingConflicts(t *testing.T) {
	env := newTestEnv(t)
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")
	testfixtures.SeedRequest(t, env.db, member.ID,
		testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-15"), model.StatusApproved, g.ID)

	_, err := env.requests.Create(context.Background(), member.View(), createInput(t, "2025-08-15", "2025-08-20", g.ID))

	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, []string{"G"}, cErr.GearNames())
}

func TestRequestService_PendingAndFinishedRequestsDoNotBlock(t *testing.T) {
	env := newTestEnv(t)
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")
	for _, st := range []model.RequestStatus{model.StatusPending, model.StatusReturned, model.StatusCancelled, model.StatusRejected} {
		testfixtures.SeedRequest(t, env.db, member.ID,
			testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-15"), st, g.ID)
	}

	_, err := env.requests.Create(context.Background(), member.View(), createInput(t, "2025-08-10", "2025-08-15", g.ID))
	assert.NoError(t, err)
}

func TestRequestService_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")
	retired := testfixtures.SeedGear(t, env.db, "Old", testfixtures.GearInactive())

	cases := []struct {
		name  string
		in    CreateRequestInput
		field string
	}{
		{"end before start", createInput(t, "2025-08-10", "2025-08-09", g.ID), "end_date"},
		{"same day", createInput(t, "2025-08-10", "2025-08-10", g.ID), "end_date"},
		{"past start", createInput(t, "2025-07-31", "2025-08-03", g.ID), "start_date"},
		{"no items", createInput(t, "2025-08-10", "2025-08-12"), "items"},
		{"duplicate gear", createInput(t, "2025-08-10", "2025-08-12", g.ID, g.ID), "items"},
		{"inactive gear", createInput(t, "2025-08-10", "2025-08-12", retired.ID), "items"},
		{"unknown gear", createInput(t, "2025-08-10", "2025-08-12", 9999), "items"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.requests.Create(context.Background(), member.View(), tc.in)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.FieldErrors, tc.field)
		})
	}

	in := createInput(t, "2025-08-10", "2025-08-12", g.ID)
	in.Purpose = "sailing"
	in.TripName = " "
	in.Items[0].Quantity = 0
	_, err := env.requests.Create(context.Background(), member.View(), in)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "purpose")
	assert.Contains(t, vErr.FieldErrors, "trip_name")
	assert.Contains(t, vErr.FieldErrors, "items")
}

func TestRequestService_StartTodayIsAllowed(t *testing.T) {
	env := newTestEnv(t)
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")

	// The clock is at 09:00 on 2025-08-01; midnight of the same day is
	// still "today".
	_, err := env.requests.Create(context.Background(), member.View(), createInput(t, "2025-08-01", "2025-08-03", g.ID))
	assert.NoError(t, err)
}

func TestRequestService_IllegalTransitionLeavesStatusUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")
	id := testfixtures.SeedRequest(t, env.db, member.ID,
		testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-15"), model.StatusReturned, g.ID)

	_, err := env.requests.Transition(ctx, admin.View(), id, model.StatusApproved, nil)
	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, model.StatusReturned, cErr.Current)
	assert.Equal(t, model.StatusApproved, cErr.Attempted)

	got, err := env.requests.Get(ctx, admin.View(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReturned, got.Status)
	assert.Nil(t, got.ReviewedBy)
	assert.Empty(t, env.events.statuses)
}

func TestRequestService_TransitionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")
	req, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-10", "2025-08-15", g.ID))
	require.NoError(t, err)

	_, err = env.requests.Transition(ctx, member.View(), req.ID, model.StatusApproved, nil)
	assert.ErrorIs(t, err, ErrForbidden)

	notes := "  enjoy  "
	approved, err := env.requests.Transition(ctx, admin.View(), req.ID, model.StatusApproved, &notes)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, admin.ID, *approved.ReviewedBy)
	require.NotNil(t, approved.ReviewNotes)
	assert.Equal(t, "enjoy", *approved.ReviewNotes)
	require.NotNil(t, approved.ReviewedAt)
	assert.True(t, approved.ReviewedAt.Equal(testfixtures.ReferenceTime()))
	// Create and approval both change the gear's booking history.
	assert.Equal(t, 2, env.cache.count())

	for _, to := range []model.RequestStatus{model.StatusCheckedOut, model.StatusReturned} {
		got, err := env.requests.Transition(ctx, admin.View(), req.ID, to, nil)
		require.NoError(t, err)
		assert.Equal(t, to, got.Status)
	}
	assert.Equal(t, 4, env.cache.count())

	require.Len(t, env.events.statuses, 3)
	last := env.events.statuses[2]
	assert.Equal(t, "CHECKED_OUT", last.From)
	assert.Equal(t, "RETURNED", last.To)
	assert.Equal(t, member.Email, last.UserEmail)
	assert.Equal(t, []string{"G"}, last.GearNames)

	// Returned gear is free again.
	_, err = env.requests.Create(ctx, member.View(), createInput(t, "2025-08-10", "2025-08-15", g.ID))
	assert.NoError(t, err)
}

func TestRequestService_ApprovalRechecksConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")
	first, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-10", "2025-08-15", g.ID))
	require.NoError(t, err)
	second, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-12", "2025-08-18", g.ID))
	require.NoError(t, err)

	_, err = env.requests.Transition(ctx, admin.View(), first.ID, model.StatusApproved, nil)
	require.NoError(t, err)

	_, err = env.requests.Transition(ctx, admin.View(), second.ID, model.StatusApproved, nil)
	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, []string{"G"}, cErr.GearNames())

	got, err := env.requests.Get(ctx, admin.View(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	// Rejecting the loser is still possible.
	_, err = env.requests.Transition(ctx, admin.View(), second.ID, model.StatusRejected, nil)
	assert.NoError(t, err)
}

func TestRequestService_ConcurrentCommitsAtMostOneSucceeds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")

	const n = 4
	ids := make([]uint64, n)
	for i := range ids {
		req, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-10", "2025-08-15", g.ID))
		require.NoError(t, err)
		ids[i] = req.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.requests.Transition(ctx, admin.View(), ids[i], model.StatusApproved, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var cErr *ConflictError
		assert.True(t, errors.As(err, &cErr), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)
}

func TestRequestService_ConcurrentCreatesAgainstApproval(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")
	pending, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-10", "2025-08-15", g.ID))
	require.NoError(t, err)

	const creators = 6
	var wg sync.WaitGroup
	var approveErr error
	created := make([]uint64, creators)
	createErrs := make([]error, creators)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, approveErr = env.requests.Transition(ctx, admin.View(), pending.ID, model.StatusApproved, nil)
	}()
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-12", "2025-08-13", g.ID))
			created[i], createErrs[i] = req.ID, err
		}(i)
	}
	wg.Wait()
	require.NoError(t, approveErr)

	for i, err := range createErrs {
		if err != nil {
			var cErr *ConflictError
			require.ErrorAs(t, err, &cErr)
			continue
		}
		// A create that won the race is pending and can no longer be
		// approved over the committed booking.
		_, err = env.requests.Transition(ctx, admin.View(), created[i], model.StatusApproved, nil)
		var cErr *ConflictError
		assert.ErrorAs(t, err, &cErr)
	}
}

func TestRequestService_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	owner := testfixtures.SeedUser(t, env.db)
	other := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")

	pending := testfixtures.SeedRequest(t, env.db, owner.ID,
		testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-12"), model.StatusPending, g.ID)
	approved := testfixtures.SeedRequest(t, env.db, owner.ID,
		testfixtures.Day(t, "2025-09-10"), testfixtures.Day(t, "2025-09-12"), model.StatusApproved, g.ID)
	checkedOut := testfixtures.SeedRequest(t, env.db, owner.ID,
		testfixtures.Day(t, "2025-10-10"), testfixtures.Day(t, "2025-10-12"), model.StatusCheckedOut, g.ID)

	_, err := env.requests.Cancel(ctx, other.View(), pending)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.requests.Cancel(ctx, owner.View(), approved)
	var cErr *ConflictError
	assert.ErrorAs(t, err, &cErr)

	got, err := env.requests.Cancel(ctx, owner.View(), pending)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Nil(t, got.ReviewedBy)

	got, err = env.requests.Cancel(ctx, admin.View(), approved)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	_, err = env.requests.Cancel(ctx, admin.View(), checkedOut)
	assert.ErrorAs(t, err, &cErr)
}

func TestRequestService_ReplaceItemsEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	member := testfixtures.SeedUser(t, env.db)
	g1 := testfixtures.SeedGear(t, env.db, "G1")
	g2 := testfixtures.SeedGear(t, env.db, "G2")
	req, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-10", "2025-08-15", g1.ID))
	require.NoError(t, err)

	_, err = env.requests.ReplaceItems(ctx, member.View(), req.ID, []model.ItemLine{{GearItemID: g2.ID, Quantity: 1}})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.requests.ReplaceItems(ctx, admin.View(), req.ID, []model.ItemLine{
		{GearItemID: g1.ID, Quantity: 1},
		{GearItemID: g2.ID, Quantity: 2},
	})
	require.NoError(t, err)

	got, err := env.requests.Get(ctx, member.View(), req.ID)
	require.NoError(t, err)
	lines := map[uint64]uint32{}
	for _, it := range got.Items {
		lines[it.GearItemID] = it.Quantity
	}
	assert.Equal(t, map[uint64]uint32{g1.ID: 1, g2.ID: 2}, lines)

	// Once approved, G2 blocks future requests for the same dates.
	_, err = env.requests.Transition(ctx, admin.View(), req.ID, model.StatusApproved, nil)
	require.NoError(t, err)
	_, err = env.requests.Create(ctx, member.View(), createInput(t, "2025-08-11", "2025-08-12", g2.ID))
	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, []string{"G2"}, cErr.GearNames())
}

func TestRequestService_ReplaceItemsGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	member := testfixtures.SeedUser(t, env.db)
	g1 := testfixtures.SeedGear(t, env.db, "G1")
	g2 := testfixtures.SeedGear(t, env.db, "G2")
	retired := testfixtures.SeedGear(t, env.db, "Retired", testfixtures.GearInactive())

	returned := testfixtures.SeedRequest(t, env.db, member.ID,
		testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-12"), model.StatusReturned, g1.ID)
	_, err := env.requests.ReplaceItems(ctx, admin.View(), returned, []model.ItemLine{{GearItemID: g2.ID, Quantity: 1}})
	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, model.StatusReturned, cErr.Current)

	pending := testfixtures.SeedRequest(t, env.db, member.ID,
		testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-12"), model.StatusPending, g1.ID)
	_, err = env.requests.ReplaceItems(ctx, admin.View(), pending, []model.ItemLine{{GearItemID: retired.ID, Quantity: 1}})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)

	// Approved requests are conflict-checked against other bookings.
	testfixtures.SeedRequest(t, env.db, member.ID,
		testfixtures.Day(t, "2025-08-20"), testfixtures.Day(t, "2025-08-25"), model.StatusApproved, g2.ID)
	approved := testfixtures.SeedRequest(t, env.db, member.ID,
		testfixtures.Day(t, "2025-08-22"), testfixtures.Day(t, "2025-08-23"), model.StatusApproved, g1.ID)
	_, err = env.requests.ReplaceItems(ctx, admin.View(), approved, []model.ItemLine{{GearItemID: g2.ID, Quantity: 1}})
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, []string{"G2"}, cErr.GearNames())

	got, err := env.requests.Get(ctx, admin.View(), approved)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, g1.ID, got.Items[0].GearItemID)

	// Keeping its own gear does not conflict with itself.
	_, err = env.requests.ReplaceItems(ctx, admin.View(), approved, []model.ItemLine{{GearItemID: g1.ID, Quantity: 3}})
	assert.NoError(t, err)
}

func TestRequestService_Listing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	a := testfixtures.SeedUser(t, env.db)
	b := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")
	testfixtures.SeedRequest(t, env.db, a.ID, testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-12"), model.StatusPending, g.ID)
	other := testfixtures.SeedRequest(t, env.db, b.ID, testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-12"), model.StatusApproved, g.ID)

	mine, err := env.requests.ListMine(ctx, a.View())
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].UserID)

	_, err = env.requests.Get(ctx, a.View(), other)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.requests.ListAll(ctx, a.View(), RequestListFilter{})
	assert.ErrorIs(t, err, ErrForbidden)

	all, err := env.requests.ListAll(ctx, admin.View(), RequestListFilter{Status: "all"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approved, err := env.requests.ListAll(ctx, admin.View(), RequestListFilter{Status: "approved"})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, other, approved[0].ID)

	_, err = env.requests.ListAll(ctx, admin.View(), RequestListFilter{Status: "lost"})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestRequestService_CreateRejectsOtherClubsGear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin(), testfixtures.InClub("club-2"))
	member := testfixtures.SeedUser(t, env.db)
	foreign := testfixtures.SeedGear(t, env.db, "Club2 Tent", testfixtures.GearInClub("club-2"))
	testfixtures.SeedRequest(t, env.db, admin.ID,
		testfixtures.Day(t, "2025-08-10"), testfixtures.Day(t, "2025-08-15"), model.StatusApproved, foreign.ID)

	for _, dates := range [][2]string{{"2025-08-12", "2025-08-13"}, {"2025-09-01", "2025-09-02"}} {
		_, err := env.requests.Create(ctx, member.View(), createInput(t, dates[0], dates[1], foreign.ID))
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr, dates[0])
		assert.Contains(t, vErr.FieldErrors, "items")
		assert.NotContains(t, err.Error(), "Club2 Tent")
	}

	mine, err := env.requests.ListMine(ctx, member.View())
	require.NoError(t, err)
	assert.Empty(t, mine)

	// Admins are not bound to a club.
	_, err = env.requests.Create(ctx, admin.View(), createInput(t, "2025-09-01", "2025-09-02", foreign.ID))
	assert.NoError(t, err)
}

func TestRequestService_PendingChangesInvalidateGearCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := testfixtures.SeedUser(t, env.db, testfixtures.AsAdmin())
	member := testfixtures.SeedUser(t, env.db)
	g := testfixtures.SeedGear(t, env.db, "G")

	first, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-10", "2025-08-15", g.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, env.cache.count())

	_, err = env.requests.Cancel(ctx, member.View(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, env.cache.count())

	second, err := env.requests.Create(ctx, member.View(), createInput(t, "2025-08-10", "2025-08-15", g.ID))
	require.NoError(t, err)
	_, err = env.requests.Transition(ctx, admin.View(), second.ID, model.StatusRejected, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, env.cache.count())

	// A refused change leaves the cache alone.
	_, err = env.requests.Cancel(ctx, member.View(), second.ID)
	require.Error(t, err)
	assert.Equal(t, 4, env.cache.count())
}
