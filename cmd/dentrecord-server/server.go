package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dentrecord/dentrecord/internal/config"
	"github.com/dentrecord/dentrecord/internal/domain/account"
	"github.com/dentrecord/dentrecord/internal/domain/submission"
	"github.com/dentrecord/dentrecord/internal/platform/apierr"
	"github.com/dentrecord/dentrecord/internal/platform/auth"
	"github.com/dentrecord/dentrecord/internal/platform/blobstore"
	"github.com/dentrecord/dentrecord/internal/platform/db"
	"github.com/dentrecord/dentrecord/internal/platform/middleware"
	"github.com/dentrecord/dentrecord/internal/platform/mongodb"
	"github.com/dentrecord/dentrecord/internal/platform/pdfreport"
	"github.com/dentrecord/dentrecord/internal/platform/validation"
)

// stores holds the record store selected by RECORD_STORE.
type stores struct {
	users       account.UserRepository
	submissions submission.SubmissionRepository
	checker     db.Checker
	close       func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.RecordStore {
	case config.StoreMongo:
		mdb, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := mongodb.EnsureIndexes(ctx, mdb); err != nil {
			_ = mdb.Client().Disconnect(ctx)
			return nil, err
		}
		return &stores{
			users:       account.NewUserRepoMongo(mdb.Collection(mongodb.UsersCollection)),
			submissions: submission.NewSubmissionRepoMongo(mdb.Collection(mongodb.SubmissionsCollection)),
			checker:     mongodb.Checker{DB: mdb},
			close: func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = mdb.Client().Disconnect(ctx)
			},
		}, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &stores{
			users:       account.NewUserRepoPG(pool),
			submissions: submission.NewSubmissionRepoPG(pool),
			checker:     db.PoolChecker{Pool: pool},
			close:       pool.Close,
		}, nil
	}
}

// artifacts is the artifact store selected by ARTIFACT_STORE. memory is set
// only for the in-memory store, whose blobs the server itself serves.
type artifacts struct {
	store  blobstore.Store
	memory *blobstore.MemoryStore
	close  func() error
}

func openArtifacts(ctx context.Context, cfg *config.Config) (*artifacts, error) {
	if cfg.ArtifactStore == config.ArtifactGCS {
		gcs, err := blobstore.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPublicBaseURL)
		if err != nil {
			return nil, err
		}
		return &artifacts{store: gcs, close: gcs.Close}, nil
	}
	mem := blobstore.NewMemoryStore(cfg.PublicBaseURL)
	return &artifacts{store: mem, memory: mem, close: func() error { return nil }}, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// newLimiter returns a Redis-backed limiter when REDIS_URL is set so that
// every replica shares one budget.
func newLimiter(cfg *config.Config, logger zerolog.Logger) (middleware.Limiter, func() error, error) {
	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(rl), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	logger.Info().Str("addr", opts.Addr).Msg("using redis rate limiter")
	return middleware.NewRedisLimiter(client, rl.BurstSize, time.Second), client.Close, nil
}

type routerDeps struct {
	users       account.UserRepository
	submissions submission.SubmissionRepository
	checker     db.Checker
	artifacts   *artifacts
	limiter     middleware.Limiter
}

func newRouter(cfg *config.Config, logger zerolog.Logger, deps routerDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apierr.ErrorHandler(logger)
	e.Validator = validation.New()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.MaxUploadSize))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/blobs/"))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "ok", "status": "healthy"})
	})
	e.GET("/health/store", db.HealthHandler(deps.checker))

	accountSvc := account.NewService(deps.users, cfg.ExternalTimeout)
	issuer := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL)
	authn := auth.Authenticate(auth.VerifierConfig{
		Secret:     []byte(cfg.JWTSecret),
		CookieName: cfg.AuthCookieName,
		Resolver:   accountSvc,
	})

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimitWith(deps.limiter, cfg.RateLimitRPS))

	account.NewHandler(accountSvc, issuer, account.CookieConfig{
		Name:   cfg.AuthCookieName,
		Secure: !cfg.IsDev(),
	}).RegisterRoutes(apiV1, authn)

	submissionSvc := submission.NewService(deps.submissions, deps.artifacts.store, pdfreport.New(), cfg.ExternalTimeout)
	submission.NewHandler(submissionSvc).RegisterRoutes(apiV1, authn)

	if deps.artifacts.memory != nil {
		blobstore.NewHandler(deps.artifacts.memory).RegisterRoutes(e.Group(""))
	}

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	log.Logger = logger

	ctx := context.Background()
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.RecordStore).Msg("failed to connect to record store")
	}
	defer st.close()
	logger.Info().Str("store", cfg.RecordStore).Msg("connected to record store")

	arts, err := openArtifacts(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("artifact_store", cfg.ArtifactStore).Msg("failed to open artifact store")
	}
	defer arts.close()

	limiter, closeLimiter, err := newLimiter(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure rate limiter")
	}
	defer closeLimiter()

	e := newRouter(cfg, logger, routerDeps{
		users:       st.users,
		submissions: st.submissions,
		checker:     st.checker,
		artifacts:   arts,
		limiter:     limiter,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
