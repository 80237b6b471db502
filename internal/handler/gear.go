package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gear-rental/internal/service"
)

// GearHandler serves the gear catalog.
type GearHandler struct {
	gear *service.GearService
}

func NewGearHandler(gear *service.GearService) *GearHandler {
	return &GearHandler{gear: gear}
}

// List handles GET /api/gear.  Query parameters: category, club_id,
// search, start_date and end_date (YYYY-MM-DD, both or neither) and
// available_only.
func (h *GearHandler) List(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	var vErr service.ValidationError
	f := service.GearFilter{
		Category: c.QueryParam("category"),
		ClubID:   strings.TrimSpace(c.QueryParam("club_id")),
		Search:   strings.TrimSpace(c.QueryParam("search")),
	}
	f.StartDate = queryDate(c, "start_date", &vErr)
	f.EndDate = queryDate(c, "end_date", &vErr)
	if raw := c.QueryParam("available_only"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			addField(&vErr, "available_only", "must be true or false")
		}
		f.AvailableOnly = b
	}
	if vErr.HasErrors() {
		return respondError(c, &vErr)
	}

	items, err := h.gear.List(c.Request().Context(), actor, f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// Stats handles GET /api/gear/stats.
func (h *GearHandler) Stats(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	stats, err := h.gear.CategoryStats(c.Request().Context(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"categories": stats})
}

// Get handles GET /api/gear/:id.
func (h *GearHandler) Get(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	d, err := h.gear.Get(c.Request().Context(), actor, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Create handles POST /api/gear.
func (h *GearHandler) Create(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	var in service.GearInput
	if err := bindValid(c, &in); err != nil {
		return fail(c, err)
	}
	g, err := h.gear.Create(c.Request().Context(), actor, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, g)
}

// Update handles PUT /api/gear/:id.  Absent fields are left unchanged.
func (h *GearHandler) Update(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	var p service.GearPatch
	if err := bindValid(c, &p); err != nil {
		return fail(c, err)
	}
	g, err := h.gear.Update(c.Request().Context(), actor, id, p)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

// Delete handles DELETE /api/gear/:id.  Gear is soft deleted.
func (h *GearHandler) Delete(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := h.gear.Deactivate(c.Request().Context(), actor, id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(c echo.Context, name string, vErr *service.ValidationError) *time.Time {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return nil
	}
	d, err := parseDay(raw)
	if err != nil {
		addField(vErr, name, "must be a date formatted YYYY-MM-DD")
		return nil
	}
	return &d
}

func parseDay(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(s), time.UTC)
}

func addField(vErr *service.ValidationError, field, msg string) {
	if vErr.FieldErrors == nil {
		vErr.FieldErrors = make(map[string]string)
	}
	if _, ok := vErr.FieldErrors[field]; !ok {
		vErr.FieldErrors[field] = msg
	}
}
