package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/entreprinder/connection-service/internal/config"
	"github.com/entreprinder/connection-service/internal/database"
	"github.com/entreprinder/connection-service/internal/handler"
	"github.com/entreprinder/connection-service/internal/middleware"
	"github.com/entreprinder/connection-service/internal/model"
	"github.com/entreprinder/connection-service/internal/queue"
	"github.com/entreprinder/connection-service/internal/repository"
	"github.com/entreprinder/connection-service/internal/router"
	"github.com/entreprinder/connection-service/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win
	cfg := config.Load()
	logger := newLogger(cfg)

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("database unavailable")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	seedAdmin(ctx, cfg, users, logger)

	rdb := config.NewRedisClient() // nil disables rate limiting and caching
	if rdb == nil {
		logger.Warn().Msg("redis unavailable; rate limiting and cache disabled")
	} else {
		defer rdb.Close()
	}

	publisher := queue.NewPublisher(cfg.RabbitURL, logger)
	defer publisher.Close()

	wf := service.New(db, service.Options{
		Driver:   cfg.DBDriver,
		Limits:   cfg.Limits,
		Notifier: publisher,
		Logger:   logger,
	})

	consumer := &queue.Consumer{
		URL:      cfg.RabbitURL,
		LogDir:   cfg.NotifyLogDir,
		Assigner: wf,
		Log:      logger.With().Str("component", "queue").Logger(),
	}
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped")
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()

	httpLog := logger.With().Str("component", "http").Logger()
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger)
	cacheCfg := config.LoadCacheConfig()
	cache := middleware.NewRedisCache(cacheCfg, rdb, logger)

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens, httpLog), cfg.JWTSecret, limiter)
	router.RegisterMember(e, handler.NewMemberHandler(wf, httpLog), cfg.JWTSecret, limiter)
	router.RegisterCoach(e, handler.NewCoachHandler(wf, httpLog), cfg.JWTSecret, limiter)
	router.RegisterAdmin(e, handler.NewAdminHandler(wf, cacheCfg, rdb, httpLog), cfg.JWTSecret, limiter, cache)

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var base zerolog.Logger
	if cfg.Env == "dev" {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		base = zerolog.New(os.Stderr)
	}
	return base.Level(level).With().Timestamp().Str("service", "connection-service").Logger()
}

// seedAdmin creates the bootstrap ADMIN account once.  Admins cannot
// register themselves.
func seedAdmin(ctx context.Context, cfg config.Config, users *repository.UserRepo, log zerolog.Logger) {
	if cfg.AdminEmail == "" {
		return
	}
	id, err := users.Create(ctx, cfg.AdminEmail, cfg.AdminPassword, model.RoleAdmin, "Administrator", cfg.BcryptCost)
	switch {
	case errors.Is(err, repository.ErrEmailExists):
		return
	case err != nil:
		log.Fatal().Err(err).Msg("admin seed failed")
	}
	log.Info().Uint64("user_id", id).Msg("admin account created")
}
