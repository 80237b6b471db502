package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gear-rental/internal/logging"
	"github.com/iliyamo/gear-rental/internal/middleware"
	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/service"
)

// respondError maps a service error to its HTTP status and body.  Storage
// failures are logged and answered with a generic 500 so no internals
// leak to the client.
func respondError(c echo.Context, err error) error {
	var vErr *service.ValidationError
	if errors.As(err, &vErr) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": vErr.FieldErrors})
	}
	var cErr *service.ConflictError
	if errors.As(err, &cErr) {
		body := echo.Map{"error": cErr.Error()}
		if names := cErr.GearNames(); len(names) > 0 {
			body["gear"] = names
		}
		if cErr.Current != "" {
			body["current_status"] = cErr.Current
		}
		if cErr.Attempted != "" {
			body["attempted_status"] = cErr.Attempted
		}
		return c.JSON(http.StatusConflict, body)
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrUnauthenticated):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	case errors.Is(err, service.ErrInvalidSession):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid session"})
	case errors.Is(err, service.ErrSessionExpired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "session expired"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrPendingApproval):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account pending approval"})
	case errors.Is(err, service.ErrAccountDisabled):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "account disabled"})
	case errors.Is(err, service.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
	}

	ctx := c.Request().Context()
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "request failed",
		"error", err, "method", c.Request().Method, "path", c.Path())
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
}

// badBody answers a request whose body could not be decoded.
func badBody(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
}

// currentUser returns the user resolved by the session middleware.
func currentUser(c echo.Context) (model.UserView, error) {
	u, ok := middleware.UserFromContext(c)
	if !ok {
		return model.UserView{}, service.ErrUnauthenticated
	}
	return u, nil
}

// pathID parses the :id route parameter.
func pathID(c echo.Context) (uint64, error) {
	return pathUint(c, "id")
}

func pathUint(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, &service.ValidationError{FieldErrors: map[string]string{name: "invalid id"}}
	}
	return id, nil
}

// bindValid decodes the request body into dst and runs the registered
// validator over it.
func bindValid(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return errBadBody
	}
	return c.Validate(dst)
}

var errBadBody = errors.New("invalid request body")

// fail answers err, treating undecodable bodies separately from the
// service taxonomy.
func fail(c echo.Context, err error) error {
	if errors.Is(err, errBadBody) {
		return badBody(c)
	}
	return respondError(c, err)
}
