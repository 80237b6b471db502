package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/service"
)

// UserHandler serves account administration.  Every route is admin only.
type UserHandler struct {
	users *service.UserService
}

func NewUserHandler(users *service.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// ----- DTOs -----

type createUserReq struct {
	Email    string  `json:"email" validate:"required,max=255"`
	Password string  `json:"password" validate:"required,max=72"`
	Name     string  `json:"name" validate:"required,max=255"`
	Phone    *string `json:"phone" validate:"omitempty,max=32"`
	ClubID   string  `json:"club_id" validate:"omitempty,max=64"`
	Role     string  `json:"role"`
}

type updateUserReq struct {
	Email    *string `json:"email" validate:"omitempty,max=255"`
	Name     *string `json:"name" validate:"omitempty,max=255"`
	Phone    *string `json:"phone" validate:"omitempty,max=32"`
	Role     *string `json:"role"`
	ClubID   *string `json:"club_id" validate:"omitempty,max=64"`
	IsActive *bool   `json:"is_active"`
}

type resetPasswordReq struct {
	Password string `json:"password" validate:"required,max=72"`
}

// List handles GET /api/users.  Query parameters: club_id, role, search
// and include_inactive.
func (h *UserHandler) List(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	f := service.UserListFilter{
		ClubID: c.QueryParam("club_id"),
		Role:   c.QueryParam("role"),
		Search: c.QueryParam("search"),
	}
	if raw := c.QueryParam("include_inactive"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return respondError(c, &service.ValidationError{FieldErrors: map[string]string{"include_inactive": "must be true or false"}})
		}
		f.IncludeInactive = b
	}
	users, err := h.users.List(c.Request().Context(), actor, f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": users, "count": len(users)})
}

// Pending handles GET /api/users/pending.
func (h *UserHandler) Pending(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	users, err := h.users.ListPending(c.Request().Context(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"users": users, "count": len(users)})
}

// Create handles POST /api/users.  The account is approved on creation.
func (h *UserHandler) Create(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	var req createUserReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, err)
	}
	u, err := h.users.CreateUser(c.Request().Context(), actor, service.CreateUserInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		ClubID:   req.ClubID,
		Role:     req.Role,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, u)
}

// Update handles PUT /api/users/:id.
func (h *UserHandler) Update(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	var req updateUserReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, err)
	}
	u, err := h.users.Update(c.Request().Context(), actor, id, service.UserPatch{
		Email:    req.Email,
		Name:     req.Name,
		Phone:    req.Phone,
		Role:     req.Role,
		ClubID:   req.ClubID,
		IsActive: req.IsActive,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// Delete handles DELETE /api/users/:id.  Accounts are soft deleted.
func (h *UserHandler) Delete(c echo.Context) error {
	return h.withID(c, func(c echo.Context, t target) error {
		if err := h.users.Deactivate(c.Request().Context(), t.actor, t.id); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	})
}

// Approve handles POST /api/users/:id/approve.
func (h *UserHandler) Approve(c echo.Context) error {
	return h.withID(c, func(c echo.Context, t target) error {
		u, err := h.users.Approve(c.Request().Context(), t.actor, t.id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, u)
	})
}

// Reject handles POST /api/users/:id/reject.
func (h *UserHandler) Reject(c echo.Context) error {
	return h.withID(c, func(c echo.Context, t target) error {
		u, err := h.users.Reject(c.Request().Context(), t.actor, t.id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, u)
	})
}

// ResetPassword handles POST /api/users/:id/reset-password.
func (h *UserHandler) ResetPassword(c echo.Context) error {
	return h.withID(c, func(c echo.Context, t target) error {
		var req resetPasswordReq
		if err := bindValid(c, &req); err != nil {
			return fail(c, err)
		}
		if err := h.users.ResetPassword(c.Request().Context(), t.actor, t.id, req.Password); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	})
}

// Sessions handles GET /api/users/:id/sessions.
func (h *UserHandler) Sessions(c echo.Context) error {
	return h.withID(c, func(c echo.Context, t target) error {
		list, err := h.users.Sessions(c.Request().Context(), t.actor, t.id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"sessions": list, "count": len(list)})
	})
}

// RevokeSessions handles DELETE /api/users/:id/sessions.
func (h *UserHandler) RevokeSessions(c echo.Context) error {
	return h.withID(c, func(c echo.Context, t target) error {
		n, err := h.users.RevokeSessions(c.Request().Context(), t.actor, t.id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"revoked": n})
	})
}

// RevokeSession handles DELETE /api/users/:id/sessions/:sid.
func (h *UserHandler) RevokeSession(c echo.Context) error {
	return h.withID(c, func(c echo.Context, t target) error {
		sid, err := pathUint(c, "sid")
		if err != nil {
			return respondError(c, err)
		}
		if err := h.users.RevokeSession(c.Request().Context(), t.actor, t.id, sid); err != nil {
			return respondError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	})
}

// target is the caller and the account an /api/users/:id route acts on.
type target struct {
	actor model.UserView
	id    uint64
}

func (h *UserHandler) withID(c echo.Context, fn func(echo.Context, target) error) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := pathID(c)
	if err != nil {
		return respondError(c, err)
	}
	return fn(c, target{actor: actor, id: id})
}
