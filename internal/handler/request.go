package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/service"
)

// RequestHandler serves the rental request ledger.
type RequestHandler struct {
	requests *service.RequestService
}

func NewRequestHandler(requests *service.RequestService) *RequestHandler {
	return &RequestHandler{requests: requests}
}

// ----- DTOs -----

type createRequestReq struct {
	StartDate      string           `json:"start_date"`
	EndDate        string           `json:"end_date"`
	TripName       string           `json:"trip_name" validate:"max=255"`
	IntentionsCode string           `json:"intentions_code" validate:"max=64"`
	Purpose        string           `json:"purpose"`
	Experience     string           `json:"experience"`
	Notes          *string          `json:"notes"`
	Items          []model.ItemLine `json:"items" validate:"dive"`
}

type statusReq struct {
	Status string  `json:"status" validate:"required"`
	Notes  *string `json:"notes"`
}

type itemsReq struct {
	Items []model.ItemLine `json:"items" validate:"dive"`
}

// Mine handles GET /api/requests/mine.
func (h *RequestHandler) Mine(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	list, err := h.requests.ListMine(c.Request().Context(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": list, "count": len(list)})
}

// Create handles POST /api/requests.  The request starts PENDING; a
// committed booking overlapping any requested gear yields 409 naming it.
func (h *RequestHandler) Create(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	var req createRequestReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, err)
	}
	var vErr service.ValidationError
	start := bodyDate(req.StartDate, "start_date", &vErr)
	end := bodyDate(req.EndDate, "end_date", &vErr)
	if vErr.HasErrors() {
		return respondError(c, &vErr)
	}

	r, err := h.requests.Create(c.Request().Context(), actor, service.CreateRequestInput{
		StartDate:      start,
		EndDate:        end,
		TripName:       req.TripName,
		IntentionsCode: req.IntentionsCode,
		Purpose:        req.Purpose,
		Experience:     req.Experience,
		Notes:          req.Notes,
		Items:          req.Items,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// Get handles GET /api/requests/:id.  Members only see their own.
func (h *RequestHandler) Get(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	r, err := h.requests.Get(c.Request().Context(), actor, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// Cancel handles DELETE /api/requests/:id.
func (h *RequestHandler) Cancel(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	r, err := h.requests.Cancel(c.Request().Context(), actor, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// All handles GET /api/requests/all.  Query parameters: status (or
// "all"), user_id and club_id.
func (h *RequestHandler) All(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	f := service.RequestListFilter{
		Status: c.QueryParam("status"),
		ClubID: c.QueryParam("club_id"),
	}
	if raw := strings.TrimSpace(c.QueryParam("user_id")); raw != "" {
		uid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return respondError(c, &service.ValidationError{FieldErrors: map[string]string{"user_id": "invalid id"}})
		}
		f.UserID = &uid
	}
	list, err := h.requests.ListAll(c.Request().Context(), actor, f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": list, "count": len(list)})
}

// UpdateStatus handles PUT /api/requests/:id/status.
func (h *RequestHandler) UpdateStatus(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	var req statusReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, err)
	}
	to, err := model.ParseRequestStatus(req.Status)
	if err != nil {
		return respondError(c, &service.ValidationError{FieldErrors: map[string]string{"status": "unknown status"}})
	}
	r, err := h.requests.Transition(c.Request().Context(), actor, id, to, req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// ReplaceItems handles PUT /api/requests/:id/items.
func (h *RequestHandler) ReplaceItems(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	var req itemsReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, err)
	}
	r, err := h.requests.ReplaceItems(c.Request().Context(), actor, id, req.Items)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// bodyDate parses a YYYY-MM-DD body field.  A blank value yields the zero
// time and is reported by the service as missing.
func bodyDate(raw, field string, vErr *service.ValidationError) time.Time {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}
	}
	d, err := parseDay(raw)
	if err != nil {
		addField(vErr, field, "must be a date formatted YYYY-MM-DD")
	}
	return d
}
