package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/gear-rental/internal/config"
	"github.com/iliyamo/gear-rental/internal/database"
	"github.com/iliyamo/gear-rental/internal/handler"
	"github.com/iliyamo/gear-rental/internal/logging"
	"github.com/iliyamo/gear-rental/internal/middleware"
	"github.com/iliyamo/gear-rental/internal/queue"
	"github.com/iliyamo/gear-rental/internal/repository"
	"github.com/iliyamo/gear-rental/internal/router"
	"github.com/iliyamo/gear-rental/internal/service"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.RunMigrations(cfg); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	logger.Info("database ready", "driver", cfg.DBDriver)

	ready := map[string]handler.Pinger{"database": db}
	rdb := config.NewRedisClient(ctx)
	if rdb != nil {
		defer rdb.Close()
		ready["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		logger.Info("redis connected")
	} else {
		logger.Warn("redis unavailable; rate limiting and response caching disabled")
	}

	eventsCfg := config.LoadEventsConfig()
	var events service.EventPublisher = service.NopPublisher{}
	if eventsCfg.Enabled {
		pub := queue.NewPublisher(eventsCfg, logger)
		defer pub.Close()
		events = pub
		consumer := queue.NewConsumer(eventsCfg, cfg.UploadDir, logger)
		for i := 0; i < eventsCfg.ConsumerCount; i++ {
			go consumer.Run(ctx)
		}
		logger.Info("domain events enabled", "consumers", eventsCfg.ConsumerCount)
	}

	cacheCfg := config.LoadCacheConfig()
	invalidator := middleware.NewCacheInvalidator(cacheCfg, rdb, router.GearCacheNamespace, logger)

	userRepo := repository.NewUserRepo(db)
	gearRepo := repository.NewGearRepo(db)
	sessions := service.NewSessionStore(repository.NewSessionRepo(db), userRepo, cfg.SessionTTL, time.Now, logger)
	go sessions.RunCleanup(ctx, cfg.SessionCleanupInterval)

	e := router.New(router.Deps{
		Cfg:       cfg,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     cacheCfg,
		Redis:     rdb,
		Sessions:  sessions,
		Users:     service.NewUserService(db, userRepo, sessions, cfg.BcryptCost, time.Now, logger),
		Gear:      service.NewGearService(gearRepo, events, invalidator, time.Now, logger),
		Requests:  service.NewRequestService(db, repository.NewRequestRepo(db), gearRepo, events, invalidator, time.Now, logger),
		Ready:     ready,
		Logger:    logger,
	})

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
