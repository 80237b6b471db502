package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/service"
)

// SessionCookieName is the HTTP-only cookie carrying the session token.
const SessionCookieName = "session_token"

// SessionValidator resolves a session token to its owner.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (model.UserView, error)
}

// TokenFromRequest returns the session token of the request, preferring
// the session cookie over an "Authorization: Bearer" header.
func TokenFromRequest(c echo.Context) string {
	if ck, err := c.Cookie(SessionCookieName); err == nil && strings.TrimSpace(ck.Value) != "" {
		return strings.TrimSpace(ck.Value)
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// RequireSession validates the request's session token and stores the
// resolved user in the context.  Requests without a valid session are
// answered with 401.
func RequireSession(sessions SessionValidator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := TokenFromRequest(c)
			if token == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			}
			u, err := sessions.Validate(c.Request().Context(), token)
			switch {
			case errors.Is(err, service.ErrSessionExpired):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "session expired"})
			case errors.Is(err, service.ErrInvalidSession):
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid session"})
			case err != nil:
				return err
			}
			SetUser(c, u)
			return next(c)
		}
	}
}
