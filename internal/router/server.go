package router

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/gear-rental/internal/config"
	"github.com/iliyamo/gear-rental/internal/handler"
	"github.com/iliyamo/gear-rental/internal/middleware"
	"github.com/iliyamo/gear-rental/internal/service"
)

// GearCacheNamespace is the response cache namespace of the catalog
// routes.  Invalidators for gear changes must use the same one.
const GearCacheNamespace = "gear"

// Deps carries everything New needs to assemble the HTTP server.  Redis
// may be nil, in which case rate limiting and response caching are off.
type Deps struct {
	Cfg       config.Config
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Redis     *redis.Client
	Sessions  *service.SessionStore
	Users     *service.UserService
	Gear      *service.GearService
	Requests  *service.RequestService
	Ready     map[string]handler.Pinger
	Logger    *slog.Logger
}

// New returns an echo instance with the global middleware stack and every
// route registered.
func New(d Deps) *echo.Echo {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()

	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.ContextLogger(logger))
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowCredentials: false,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echomw.Secure())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.Metrics())

	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis, logger)
	loginLimit := middleware.NewTokenBucket(d.RateLimit.Login(), d.Redis, logger)
	gearCache := middleware.NewRedisCache(d.Cache, d.Redis, GearCacheNamespace)

	RegisterRoutes(e, d.Ready)
	RegisterAuth(e, handler.NewAuthHandler(d.Cfg, d.Users), d.Sessions, loginLimit)
	RegisterGear(e, handler.NewGearHandler(d.Gear), d.Sessions, limit, gearCache)
	RegisterRequests(e, handler.NewRequestHandler(d.Requests), d.Sessions, limit)
	RegisterUsers(e, handler.NewUserHandler(d.Users), d.Sessions, limit)
	return e
}
