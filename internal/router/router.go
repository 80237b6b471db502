package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/gear-rental/internal/handler"
	"github.com/iliyamo/gear-rental/internal/middleware"
)

// RegisterRoutes registers the routes that do not require authentication:
// liveness, readiness over deps and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, deps map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(deps))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the authentication routes under /api/auth.
// Register, login and logout do not need a session and share the tighter
// login bucket; /me requires one.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, sessions middleware.SessionValidator, loginLimit echo.MiddlewareFunc) {
	g := e.Group("/api/auth")
	g.POST("/register", a.Register, loginLimit)
	g.POST("/login", a.Login, loginLimit)
	g.POST("/logout", a.Logout)
	g.GET("/me", a.Me, middleware.RequireSession(sessions))
}
