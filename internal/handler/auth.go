package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gear-rental/internal/config"
	"github.com/iliyamo/gear-rental/internal/middleware"
	"github.com/iliyamo/gear-rental/internal/service"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	cfg   config.Config
	users *service.UserService
}

func NewAuthHandler(cfg config.Config, users *service.UserService) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users}
}

// ----- DTOs -----

type registerReq struct {
	Email    string  `json:"email" validate:"required,max=255"`
	Password string  `json:"password" validate:"required,max=72"`
	Name     string  `json:"name" validate:"required,max=255"`
	Phone    *string `json:"phone" validate:"omitempty,max=32"`
	ClubID   string  `json:"club_id" validate:"required,max=64"`
}

type loginReq struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register creates a member account awaiting admin approval.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, err)
	}
	u, err := h.users.Register(c.Request().Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
		ClubID:   req.ClubID,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"user":    u,
		"message": "registration received; an admin must approve the account before login",
	})
}

// Login verifies the credentials, opens a session and hands its token
// back both as an HTTP-only cookie and in the body.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, err)
	}
	res, err := h.users.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	c.SetCookie(h.sessionCookie(res.Token, res.ExpiresAt))
	return c.JSON(http.StatusOK, res)
}

// Logout deletes the caller's session.  Unknown or missing tokens are not
// an error so that a client can always clear its state.
func (h *AuthHandler) Logout(c echo.Context) error {
	if token := middleware.TokenFromRequest(c); token != "" {
		if err := h.users.Logout(c.Request().Context(), token); err != nil {
			return respondError(c, err)
		}
	}
	c.SetCookie(h.sessionCookie("", time.Unix(0, 0)))
	return c.NoContent(http.StatusNoContent)
}

// Me returns the caller's account.
func (h *AuthHandler) Me(c echo.Context) error {
	actor, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	u, err := h.users.Me(c.Request().Context(), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) sessionCookie(value string, expires time.Time) *http.Cookie {
	ck := &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		ck.MaxAge = -1
	}
	return ck
}
