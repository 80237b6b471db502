package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/gear-rental/internal/handler"
	"github.com/iliyamo/gear-rental/internal/middleware"
	"github.com/iliyamo/gear-rental/internal/model"
)

// RegisterGear registers the catalog under /api/gear.  Every route needs a
// session; reads go through the response cache and writes are admin
// only.
func RegisterGear(e *echo.Echo, h *handler.GearHandler, sessions middleware.SessionValidator, limit, cache echo.MiddlewareFunc) {
	g := e.Group("/api/gear", middleware.RequireSession(sessions), limit)
	admin := middleware.RequireRole(model.RoleAdmin)

	g.GET("", h.List, cache)
	g.GET("/stats", h.Stats, cache)
	g.GET("/:id", h.Get, cache)
	g.POST("", h.Create, admin)
	g.PUT("/:id", h.Update, admin)
	g.DELETE("/:id", h.Delete, admin)
}

// RegisterRequests registers the rental ledger under /api/requests.
// Members create, read and cancel their own requests; the listing of all
// requests, status changes and item replacement are admin only.
func RegisterRequests(e *echo.Echo, h *handler.RequestHandler, sessions middleware.SessionValidator, limit echo.MiddlewareFunc) {
	g := e.Group("/api/requests", middleware.RequireSession(sessions), limit)
	admin := middleware.RequireRole(model.RoleAdmin)

	g.GET("/mine", h.Mine)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Cancel)

	g.GET("/all", h.All, admin)
	g.PUT("/:id/status", h.UpdateStatus, admin)
	g.PUT("/:id/items", h.ReplaceItems, admin)
}
