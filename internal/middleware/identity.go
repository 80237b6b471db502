package middleware

// identity.go holds the helpers that carry the authenticated user through
// the echo context.  The session middleware stores a model.UserView under
// contextKeyUser; handlers and the other middleware read it back.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gear-rental/internal/model"
)

const contextKeyUser = "user"

// SetUser stores the authenticated user in c.
func SetUser(c echo.Context, u model.UserView) { c.Set(contextKeyUser, u) }

// UserFromContext returns the user stored by RequireSession.
func UserFromContext(c echo.Context) (model.UserView, bool) {
	u, ok := c.Get(contextKeyUser).(model.UserView)
	return u, ok
}

// userID returns the caller's id as a string, or "anon" when the request
// is not authenticated.
func userID(c echo.Context) string {
	if u, ok := UserFromContext(c); ok && u.ID != 0 {
		return strconv.FormatUint(u.ID, 10)
	}
	return "anon"
}
