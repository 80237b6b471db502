package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/gear-rental/internal/availability"
	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/queue"
	"github.com/iliyamo/gear-rental/internal/repository"
)

// GearStore is the persistence the gear inventory needs.
type GearStore interface {
	Create(ctx context.Context, g *model.GearItem) error
	GetByID(ctx context.Context, id uint64) (model.GearItem, error)
	Update(ctx context.Context, g *model.GearItem) error
	List(ctx context.Context, q repository.GearQuery) ([]model.GearItem, error)
	CommittedBookings(ctx context.Context, gearIDs []uint64) ([]availability.Booking, error)
	History(ctx context.Context, gearID uint64) ([]model.GearBooking, error)
	CategoryStats(ctx context.Context, clubID string) ([]model.CategoryCount, error)
}

// GearService manages the gear catalog and attaches availability to it.
type GearService struct {
	gear   GearStore
	events EventPublisher
	cache  CacheInvalidator
	now    func() time.Time
	logger *slog.Logger
}

// NewGearService constructs a GearService.  Nil collaborators are replaced
// with no-op implementations.
func NewGearService(gear GearStore, events EventPublisher, cache CacheInvalidator, now func() time.Time, logger *slog.Logger) *GearService {
	if events == nil {
		events = NopPublisher{}
	}
	if cache == nil {
		cache = nopInvalidator{}
	}
	if now == nil {
		now = time.Now
	}
	return &GearService{gear: gear, events: events, cache: cache, now: now, logger: defaultLogger(logger)}
}

// GearFilter narrows a catalog listing.  StartDate and EndDate must be
// given together.
type GearFilter struct {
	Category      string
	ClubID        string
	Search        string
	StartDate     *time.Time
	EndDate       *time.Time
	AvailableOnly bool
}

// List returns active gear matching f with availability attached.  Members
// only ever see gear of their own club.
func (s *GearService) List(ctx context.Context, actor model.UserView, f GearFilter) ([]model.GearWithAvailability, error) {
	var vErr ValidationError
	q := repository.GearQuery{ClubID: f.ClubID, Search: f.Search}
	if c := strings.TrimSpace(f.Category); c != "" && !strings.EqualFold(c, "all") {
		cat, err := model.ParseGearCategory(c)
		if err != nil {
			vErr.add("category", "unknown category")
		}
		q.Category = cat
	}
	window, err := optionalWindow(f.StartDate, f.EndDate)
	if err != nil {
		vErr.add("start_date", err.Error())
	}
	if err := vErr.errOrNil(); err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		q.ClubID = actor.ClubID
	}

	items, err := s.gear.List(ctx, q)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(items))
	for i, g := range items {
		ids[i] = g.ID
	}
	bookings, err := s.gear.CommittedBookings(ctx, ids)
	if err != nil {
		return nil, err
	}
	byGear := availability.GroupByGear(bookings)

	out := make([]model.GearWithAvailability, 0, len(items))
	for _, g := range items {
		av := availability.Compute(byGear[g.ID], window)
		if f.AvailableOnly && !av.IsAvailable {
			continue
		}
		out = append(out, model.GearWithAvailability{GearItem: g, Availability: av})
	}
	return out, nil
}

func optionalWindow(start, end *time.Time) (*availability.DateRange, error) {
	switch {
	case start == nil && end == nil:
		return nil, nil
	case start == nil || end == nil:
		return nil, errors.New("start_date and end_date must be given together")
	}
	r := availability.DateRange{Start: start.UTC(), End: end.UTC()}
	if r.End.Before(r.Start) {
		return nil, errors.New("end_date must not be before start_date")
	}
	return &r, nil
}

// GearDetail is a catalog entry with its booking history.
type GearDetail struct {
	model.GearWithAvailability
	History []model.GearBooking `json:"history"`
}

// Get returns one gear item with availability and history.  Inactive
// items are only visible to admins; members may not read other clubs'
// gear.
func (s *GearService) Get(ctx context.Context, actor model.UserView, id uint64) (GearDetail, error) {
	g, err := s.gear.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return GearDetail{}, ErrNotFound
	}
	if err != nil {
		return GearDetail{}, err
	}
	if !actor.IsAdmin() {
		if !g.IsActive {
			return GearDetail{}, ErrNotFound
		}
		if g.ClubID != actor.ClubID {
			return GearDetail{}, ErrForbidden
		}
	}
	bookings, err := s.gear.CommittedBookings(ctx, []uint64{id})
	if err != nil {
		return GearDetail{}, err
	}
	history, err := s.gear.History(ctx, id)
	if err != nil {
		return GearDetail{}, err
	}
	return GearDetail{
		GearWithAvailability: model.GearWithAvailability{GearItem: g, Availability: availability.Compute(bookings, nil)},
		History:              history,
	}, nil
}

// GearInput carries the attributes of a new gear item.
type GearInput struct {
	Name          string  `json:"name" validate:"required,max=255"`
	Brand         *string `json:"brand" validate:"omitempty,max=255"`
	Model         *string `json:"model" validate:"omitempty,max=255"`
	Category      string  `json:"category" validate:"required"`
	Description   *string `json:"description"`
	Condition     string  `json:"condition"`
	Size          *string `json:"size" validate:"omitempty,max=64"`
	Weight        *string `json:"weight" validate:"omitempty,max=64"`
	ImageURL      *string `json:"image_url" validate:"omitempty,max=512"`
	ClubID        string  `json:"club_id" validate:"omitempty,max=64"`
	PurchasePrice *uint32 `json:"purchase_price"`
	Notes         *string `json:"notes"`
}

// Create adds a gear item.  ClubID defaults to the admin's club.
func (s *GearService) Create(ctx context.Context, actor model.UserView, in GearInput) (g model.GearItem, err error) {
	logger := serviceLogger(ctx, s.logger, "GearService", "Create", "actor_id", actor.ID)
	defer func() { logResult(ctx, logger.With("gear_id", g.ID), err, "create gear") }()

	if !actor.IsAdmin() {
		return g, ErrForbidden
	}
	var vErr ValidationError
	name := strings.TrimSpace(in.Name)
	if name == "" {
		vErr.add("name", "name is required")
	}
	cat, cerr := model.ParseGearCategory(in.Category)
	if cerr != nil {
		vErr.add("category", "unknown category")
	}
	cond, cerr := model.ParseGearCondition(in.Condition)
	if cerr != nil {
		vErr.add("condition", "unknown condition")
	}
	if err = vErr.errOrNil(); err != nil {
		return g, err
	}
	club := strings.TrimSpace(in.ClubID)
	if club == "" {
		club = actor.ClubID
	}

	now := s.now().UTC().Truncate(time.Second)
	g = model.GearItem{
		Name:          name,
		Brand:         trimmed(in.Brand),
		Model:         trimmed(in.Model),
		Category:      cat,
		Description:   trimmed(in.Description),
		Condition:     cond,
		Size:          trimmed(in.Size),
		Weight:        trimmed(in.Weight),
		ImageURL:      trimmed(in.ImageURL),
		ClubID:        club,
		PurchasePrice: in.PurchasePrice,
		Notes:         trimmed(in.Notes),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = s.gear.Create(ctx, &g); err != nil {
		return g, err
	}
	s.invalidate(ctx, logger)
	return g, nil
}

// GearPatch is a partial update; nil fields are left unchanged.  An empty
// ImageURL clears the image.
type GearPatch struct {
	Name          *string `json:"name" validate:"omitempty,max=255"`
	Brand         *string `json:"brand" validate:"omitempty,max=255"`
	Model         *string `json:"model" validate:"omitempty,max=255"`
	Category      *string `json:"category"`
	Description   *string `json:"description"`
	Condition     *string `json:"condition"`
	Size          *string `json:"size" validate:"omitempty,max=64"`
	Weight        *string `json:"weight" validate:"omitempty,max=64"`
	ImageURL      *string `json:"image_url" validate:"omitempty,max=512"`
	ClubID        *string `json:"club_id" validate:"omitempty,max=64"`
	PurchasePrice *uint32 `json:"purchase_price"`
	Notes         *string `json:"notes"`
	IsActive      *bool   `json:"is_active"`
}

// Update applies p to gear item id.  When the image reference changes the
// previous image is released.
func (s *GearService) Update(ctx context.Context, actor model.UserView, id uint64, p GearPatch) (g model.GearItem, err error) {
	logger := serviceLogger(ctx, s.logger, "GearService", "Update", "actor_id", actor.ID, "gear_id", id)
	defer func() { logResult(ctx, logger, err, "update gear") }()

	if !actor.IsAdmin() {
		return g, ErrForbidden
	}
	g, err = s.gear.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	oldImage := g.ImageURL

	var vErr ValidationError
	if p.Name != nil {
		if n := strings.TrimSpace(*p.Name); n == "" {
			vErr.add("name", "name must not be empty")
		} else {
			g.Name = n
		}
	}
	if p.Category != nil {
		cat, cerr := model.ParseGearCategory(*p.Category)
		if cerr != nil {
			vErr.add("category", "unknown category")
		}
		g.Category = cat
	}
	if p.Condition != nil {
		cond, cerr := model.ParseGearCondition(*p.Condition)
		if cerr != nil {
			vErr.add("condition", "unknown condition")
		}
		g.Condition = cond
	}
	if p.ClubID != nil {
		if c := strings.TrimSpace(*p.ClubID); c == "" {
			vErr.add("club_id", "club_id must not be empty")
		} else {
			g.ClubID = c
		}
	}
	if err = vErr.errOrNil(); err != nil {
		return g, err
	}
	if p.Brand != nil {
		g.Brand = trimmed(p.Brand)
	}
	if p.Model != nil {
		g.Model = trimmed(p.Model)
	}
	if p.Description != nil {
		g.Description = trimmed(p.Description)
	}
	if p.Size != nil {
		g.Size = trimmed(p.Size)
	}
	if p.Weight != nil {
		g.Weight = trimmed(p.Weight)
	}
	if p.ImageURL != nil {
		g.ImageURL = trimmed(p.ImageURL)
	}
	if p.PurchasePrice != nil {
		g.PurchasePrice = p.PurchasePrice
	}
	if p.Notes != nil {
		g.Notes = trimmed(p.Notes)
	}
	if p.IsActive != nil {
		g.IsActive = *p.IsActive
	}
	now := s.now().UTC().Truncate(time.Second)
	g.UpdatedAt = now

	if err = s.gear.Update(ctx, &g); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = ErrNotFound
		}
		return g, err
	}
	if oldImage != nil && (g.ImageURL == nil || *g.ImageURL != *oldImage) {
		s.releaseImage(ctx, logger, g.ID, *oldImage, now)
	}
	s.invalidate(ctx, logger)
	return g, nil
}

// Deactivate soft deletes gear item id.  Its booking history is kept and
// its committed bookings still take part in conflict checks.
func (s *GearService) Deactivate(ctx context.Context, actor model.UserView, id uint64) (err error) {
	inactive := false
	_, err = s.Update(ctx, actor, id, GearPatch{IsActive: &inactive})
	return err
}

// CategoryStats counts active items per category within the caller's
// scope.
func (s *GearService) CategoryStats(ctx context.Context, actor model.UserView) ([]model.CategoryCount, error) {
	club := ""
	if !actor.IsAdmin() {
		club = actor.ClubID
	}
	return s.gear.CategoryStats(ctx, club)
}

func (s *GearService) releaseImage(ctx context.Context, logger *slog.Logger, gearID uint64, url string, at time.Time) {
	if strings.TrimSpace(url) == "" {
		return
	}
	ev := queue.GearImageReleased{GearItemID: gearID, ImageURL: url, ReleasedAt: at}
	if err := s.events.PublishGearImageReleased(ctx, ev); err != nil {
		logger.WarnContext(ctx, "image release not published", "error", err, "image_url", url)
	}
}

func (s *GearService) invalidate(ctx context.Context, logger *slog.Logger) {
	if err := s.cache.InvalidateGear(ctx); err != nil {
		logger.WarnContext(ctx, "gear cache invalidation failed", "error", err)
	}
}

// trimmed returns nil for nil or blank strings and the trimmed value
// otherwise.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
