package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/gear-rental/internal/availability"
	"github.com/iliyamo/gear-rental/internal/metrics"
	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/queue"
	"github.com/iliyamo/gear-rental/internal/repository"
)

// TxBeginner starts database transactions.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// RequestStore is the persistence the ledger needs for requests.
type RequestStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, q *model.Request) error
	InsertItemsTx(ctx context.Context, tx *sql.Tx, requestID uint64, items []model.ItemLine) error
	DeleteItemsTx(ctx context.Context, tx *sql.Tx, requestID uint64) error
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Request, error)
	Get(ctx context.Context, id uint64) (model.Request, error)
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, c repository.StatusChange) error
	TouchTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error
	List(ctx context.Context, f repository.RequestFilter) ([]model.Request, error)
}

// GearLocker locks gear rows and reads their committed bookings inside a
// transaction.
type GearLocker interface {
	LockTx(ctx context.Context, tx *sql.Tx, ids []uint64) (map[uint64]repository.LockedGear, error)
	CommittedBookingsTx(ctx context.Context, tx *sql.Tx, gearIDs []uint64) ([]availability.Booking, error)
}

// RequestService is the reservation ledger.  It validates requests, runs
// the conflict engine and drives the status state machine.  Every check
// that guards a write runs in the same transaction as the write, after the
// affected gear rows were locked.
type RequestService struct {
	db       TxBeginner
	requests RequestStore
	gear     GearLocker
	events   EventPublisher
	cache    CacheInvalidator
	locks    *keyedMutex
	now      func() time.Time
	logger   *slog.Logger
}

// NewRequestService constructs a RequestService.  Nil collaborators are
// replaced with no-op implementations.
func NewRequestService(db TxBeginner, requests RequestStore, gear GearLocker, events EventPublisher, cache CacheInvalidator, now func() time.Time, logger *slog.Logger) *RequestService {
	if events == nil {
		events = NopPublisher{}
	}
	if cache == nil {
		cache = nopInvalidator{}
	}
	if now == nil {
		now = time.Now
	}
	return &RequestService{
		db:       db,
		requests: requests,
		gear:     gear,
		events:   events,
		cache:    cache,
		locks:    newKeyedMutex(),
		now:      now,
		logger:   defaultLogger(logger),
	}
}

func (s *RequestService) clock() time.Time { return s.now().UTC().Truncate(time.Second) }

// CreateRequestInput is a member's rental request.
type CreateRequestInput struct {
	StartDate      time.Time
	EndDate        time.Time
	TripName       string
	IntentionsCode string
	Purpose        string
	Experience     string
	Notes          *string
	Items          []model.ItemLine
}

// Create validates in, checks it against committed bookings and stores it
// as PENDING.  Overlap with a committed booking on any requested gear
// yields a *ConflictError naming that gear.
func (s *RequestService) Create(ctx context.Context, actor model.UserView, in CreateRequestInput) (req model.Request, err error) {
	logger := serviceLogger(ctx, s.logger, "RequestService", "Create", "actor_id", actor.ID)
	defer func() { logResult(ctx, logger.With("request_id", req.ID), err, "create request") }()

	now := s.clock()
	req, ids, err := s.validateCreate(in, now)
	if err != nil {
		return model.Request{}, err
	}
	req.UserID = actor.ID
	req.Status = model.StatusPending
	req.CreatedAt = now
	req.UpdatedAt = now

	unlock := s.locks.Lock(ids)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Request{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	r := availability.DateRange{Start: req.StartDate, End: req.EndDate}
	if err = s.checkGearTx(ctx, tx, ids, actorClub(actor), &r, 0, "create"); err != nil {
		return model.Request{}, err
	}
	if err = s.requests.CreateTx(ctx, tx, &req); err != nil {
		return model.Request{}, err
	}
	if err = s.requests.InsertItemsTx(ctx, tx, req.ID, in.Items); err != nil {
		return model.Request{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.Request{}, err
	}
	committed = true
	metrics.IncRequestsCreated()
	s.invalidateGear(ctx, logger)

	created, gerr := s.requests.Get(ctx, req.ID)
	if gerr != nil {
		logger.WarnContext(ctx, "reload after create failed", "error", gerr)
		return req, nil
	}
	return created, nil
}

func (s *RequestService) validateCreate(in CreateRequestInput, now time.Time) (model.Request, []uint64, error) {
	var vErr ValidationError
	req := model.Request{
		TripName:       strings.TrimSpace(in.TripName),
		IntentionsCode: strings.TrimSpace(in.IntentionsCode),
		Notes:          trimmed(in.Notes),
		StartDate:      in.StartDate.UTC().Truncate(time.Second),
		EndDate:        in.EndDate.UTC().Truncate(time.Second),
	}
	if req.TripName == "" {
		vErr.add("trip_name", "trip name is required")
	}
	if req.IntentionsCode == "" {
		vErr.add("intentions_code", "intentions code is required")
	}
	purpose, err := model.ParseTripPurpose(in.Purpose)
	if err != nil {
		vErr.add("purpose", "unknown purpose")
	}
	req.Purpose = purpose
	exp, err := model.ParseExperienceLevel(in.Experience)
	if err != nil {
		vErr.add("experience", "unknown experience level")
	}
	req.Experience = exp

	switch {
	case in.StartDate.IsZero():
		vErr.add("start_date", "start date is required")
	case in.EndDate.IsZero():
		vErr.add("end_date", "end date is required")
	case !req.StartDate.Before(req.EndDate):
		vErr.add("end_date", "end date must be after start date")
	case req.StartDate.Before(startOfDay(now)):
		vErr.add("start_date", "request cannot be for past dates")
	}

	ids, msg := validateItems(in.Items)
	if msg != "" {
		vErr.add("items", msg)
	}
	if err := vErr.errOrNil(); err != nil {
		return model.Request{}, nil, err
	}
	return req, ids, nil
}

// validateItems checks an item list and returns its gear ids in order.
func validateItems(items []model.ItemLine) ([]uint64, string) {
	if len(items) == 0 {
		return nil, "at least one gear item is required"
	}
	ids := make([]uint64, 0, len(items))
	seen := make(map[uint64]bool, len(items))
	for _, it := range items {
		if it.GearItemID == 0 {
			return nil, "gear id is required"
		}
		if it.Quantity < 1 {
			return nil, "quantity must be at least 1"
		}
		if seen[it.GearItemID] {
			return nil, fmt.Sprintf("gear %d listed more than once", it.GearItemID)
		}
		seen[it.GearItemID] = true
		ids = append(ids, it.GearItemID)
	}
	return ids, ""
}

// actorClub is the club an actor's requests are restricted to.  Admins
// are not restricted.
func actorClub(actor model.UserView) string {
	if actor.IsAdmin() {
		return ""
	}
	return actor.ClubID
}

// checkGearTx locks the gear rows in ids and verifies they exist and are
// active.  A non-empty club also requires every item to belong to it; items
// of other clubs are reported like unknown gear.  With a non-nil r it then
// runs the conflict engine against their committed bookings, ignoring those
// of excludeRequestID.
func (s *RequestService) checkGearTx(ctx context.Context, tx *sql.Tx, ids []uint64, club string, r *availability.DateRange, excludeRequestID uint64, op string) error {
	locked, err := s.gear.LockTx(ctx, tx, ids)
	if err != nil {
		return err
	}
	var unavailable []string
	for _, id := range ids {
		g, ok := locked[id]
		if !ok || !g.IsActive || (club != "" && g.ClubID != club) {
			unavailable = append(unavailable, fmt.Sprint(id))
		}
	}
	if len(unavailable) > 0 {
		return &ValidationError{FieldErrors: map[string]string{
			"items": "some gear items are not available: " + strings.Join(unavailable, ", "),
		}}
	}
	if r == nil {
		return nil
	}
	bookings, err := s.gear.CommittedBookingsTx(ctx, tx, ids)
	if err != nil {
		return err
	}
	if conflicts := availability.CheckConflicts(*r, ids, bookings, excludeRequestID); len(conflicts) > 0 {
		metrics.IncConflict(op)
		return bookingConflict(conflicts)
	}
	return nil
}

// Transition moves request id to status to on behalf of an admin and
// stamps the review audit.  Approval re-runs the conflict check against
// every other committed booking.
func (s *RequestService) Transition(ctx context.Context, actor model.UserView, id uint64, to model.RequestStatus, notes *string) (model.Request, error) {
	if !actor.IsAdmin() {
		return model.Request{}, ErrForbidden
	}
	return s.transition(ctx, actor, id, to, notes, "Transition")
}

// Cancel cancels request id.  Owners may cancel only while PENDING;
// admins may also cancel APPROVED requests.  Requests of other members
// are reported as not found.
func (s *RequestService) Cancel(ctx context.Context, actor model.UserView, id uint64) (model.Request, error) {
	return s.transition(ctx, actor, id, model.StatusCancelled, nil, "Cancel")
}

func (s *RequestService) transition(ctx context.Context, actor model.UserView, id uint64, to model.RequestStatus, notes *string, op string) (req model.Request, err error) {
	logger := serviceLogger(ctx, s.logger, "RequestService", op, "actor_id", actor.ID, "request_id", id, "to", string(to))
	defer func() { logResult(ctx, logger, err, "change request status") }()

	// The gear set is read before locking to know which keys to take; the
	// row locks below are what makes the approval check stable.
	current, err := s.requests.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Request{}, ErrNotFound
	}
	if err != nil {
		return model.Request{}, err
	}
	if !actor.IsAdmin() && current.UserID != actor.ID {
		return model.Request{}, ErrNotFound
	}
	unlock := s.locks.Lock(current.GearIDs())
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Request{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	current, err = s.requests.GetForUpdateTx(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Request{}, ErrNotFound
	}
	if err != nil {
		return model.Request{}, err
	}
	from := current.Status
	if !model.CanTransition(from, to) {
		return model.Request{}, statusConflict(from, to)
	}
	if !actor.IsAdmin() && (to != model.StatusCancelled || from != model.StatusPending) {
		return model.Request{}, statusConflict(from, to)
	}
	if to == model.StatusApproved {
		r := availability.DateRange{Start: current.StartDate, End: current.EndDate}
		if err = s.checkGearTx(ctx, tx, current.GearIDs(), "", &r, id, "approve"); err != nil {
			return model.Request{}, err
		}
	}

	now := s.clock()
	change := repository.StatusChange{From: from, To: to, At: now, Notes: trimmed(notes)}
	if actor.IsAdmin() {
		change.ReviewedBy = &actor.ID
	}
	if err = s.requests.UpdateStatusTx(ctx, tx, id, change); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return model.Request{}, statusConflict(from, to)
		}
		return model.Request{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.Request{}, err
	}
	committed = true
	metrics.IncTransition(string(from), string(to))

	s.invalidateGear(ctx, logger)

	req, err = s.requests.Get(ctx, id)
	if err != nil {
		return model.Request{}, err
	}
	s.publishStatusChange(ctx, logger, req, from, actor.ID)
	return req, nil
}

func (s *RequestService) publishStatusChange(ctx context.Context, logger *slog.Logger, req model.Request, from model.RequestStatus, actorID uint64) {
	names := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Gear != nil {
			names = append(names, it.Gear.Name)
		}
	}
	ev := queue.RequestStatusChanged{
		RequestID:  req.ID,
		UserID:     req.UserID,
		UserEmail:  req.UserEmail,
		TripName:   req.TripName,
		From:       string(from),
		To:         string(req.Status),
		ActorID:    actorID,
		StartDate:  req.StartDate.Format(time.DateOnly),
		EndDate:    req.EndDate.Format(time.DateOnly),
		GearNames:  names,
		OccurredAt: req.UpdatedAt,
	}
	if req.ReviewNotes != nil {
		ev.Notes = *req.ReviewNotes
	}
	if err := s.events.PublishRequestStatusChanged(ctx, ev); err != nil {
		logger.WarnContext(ctx, "status change not published", "error", err)
	}
}

// ReplaceItems swaps the whole item set of request id for items.  Only
// admins may do so and only while the request is PENDING or APPROVED.  For
// an APPROVED request the new set must not conflict with other committed
// bookings.
func (s *RequestService) ReplaceItems(ctx context.Context, actor model.UserView, id uint64, items []model.ItemLine) (req model.Request, err error) {
	logger := serviceLogger(ctx, s.logger, "RequestService", "ReplaceItems", "actor_id", actor.ID, "request_id", id)
	defer func() { logResult(ctx, logger, err, "replace request items") }()

	if !actor.IsAdmin() {
		return model.Request{}, ErrForbidden
	}
	ids, msg := validateItems(items)
	if msg != "" {
		return model.Request{}, &ValidationError{FieldErrors: map[string]string{"items": msg}}
	}

	unlock := s.locks.Lock(ids)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Request{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	current, err := s.requests.GetForUpdateTx(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Request{}, ErrNotFound
	}
	if err != nil {
		return model.Request{}, err
	}
	if !current.Status.AllowsItemChanges() {
		return model.Request{}, &ConflictError{
			Current: current.Status,
			Reason:  fmt.Sprintf("items can only be changed while PENDING or APPROVED, request is %s", current.Status),
		}
	}
	// Pending requests hold nothing, so only the gear itself is checked.
	var window *availability.DateRange
	if current.Status.IsCommitted() {
		window = &availability.DateRange{Start: current.StartDate, End: current.EndDate}
	}
	if err = s.checkGearTx(ctx, tx, ids, "", window, id, "replace_items"); err != nil {
		return model.Request{}, err
	}

	now := s.clock()
	if err = s.requests.DeleteItemsTx(ctx, tx, id); err != nil {
		return model.Request{}, err
	}
	if err = s.requests.InsertItemsTx(ctx, tx, id, items); err != nil {
		return model.Request{}, err
	}
	if err = s.requests.TouchTx(ctx, tx, id, now); err != nil {
		return model.Request{}, err
	}
	if err = tx.Commit(); err != nil {
		return model.Request{}, err
	}
	committed = true

	s.invalidateGear(ctx, logger)
	return s.requests.Get(ctx, id)
}

// invalidateGear drops cached catalog responses.  Gear details embed the
// booking history, so every ledger write makes them stale.
func (s *RequestService) invalidateGear(ctx context.Context, logger *slog.Logger) {
	if err := s.cache.InvalidateGear(ctx); err != nil {
		logger.WarnContext(ctx, "gear cache invalidation failed", "error", err)
	}
}

// Get returns request id to its owner or to an admin.
func (s *RequestService) Get(ctx context.Context, actor model.UserView, id uint64) (model.Request, error) {
	req, err := s.requests.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Request{}, ErrNotFound
	}
	if err != nil {
		return model.Request{}, err
	}
	if !actor.IsAdmin() && req.UserID != actor.ID {
		return model.Request{}, ErrNotFound
	}
	return req, nil
}

// ListMine returns the caller's requests, newest first.
func (s *RequestService) ListMine(ctx context.Context, actor model.UserView) ([]model.Request, error) {
	return s.requests.List(ctx, repository.RequestFilter{UserID: &actor.ID})
}

// RequestListFilter narrows the admin listing.
type RequestListFilter struct {
	Status string
	UserID *uint64
	ClubID string
}

// ListAll returns every request matching f, newest first.  Admin only.
func (s *RequestService) ListAll(ctx context.Context, actor model.UserView, f RequestListFilter) ([]model.Request, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	rf := repository.RequestFilter{UserID: f.UserID, ClubID: strings.TrimSpace(f.ClubID)}
	if st := strings.TrimSpace(f.Status); st != "" && !strings.EqualFold(st, "all") {
		status, err := model.ParseRequestStatus(st)
		if err != nil {
			return nil, &ValidationError{FieldErrors: map[string]string{"status": "unknown status"}}
		}
		rf.Status = status
	}
	return s.requests.List(ctx, rf)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
