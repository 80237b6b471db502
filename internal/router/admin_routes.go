package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gear-rental/internal/handler"
	"github.com/iliyamo/gear-rental/internal/middleware"
	"github.com/iliyamo/gear-rental/internal/model"
)

// RegisterUsers registers account administration under /api/users.  All
// routes require an admin session.
func RegisterUsers(e *echo.Echo, h *handler.UserHandler, sessions middleware.SessionValidator, limit echo.MiddlewareFunc) {
	g := e.Group(
		"/api/users",
		middleware.RequireSession(sessions),
		middleware.RequireRole(model.RoleAdmin),
		limit,
	)
	g.GET("", h.List)
	g.GET("/pending", h.Pending)
	g.POST("", h.Create)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/approve", h.Approve)
	g.POST("/:id/reject", h.Reject)
	g.POST("/:id/reset-password", h.ResetPassword)
	g.GET("/:id/sessions", h.Sessions)
	g.DELETE("/:id/sessions", h.RevokeSessions)
	g.DELETE("/:id/sessions/:sid", h.RevokeSession)
}
