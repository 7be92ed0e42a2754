package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/anonto42/nano-midea/fanout/internal/activity"
	"github.com/anonto42/nano-midea/fanout/internal/aggregator"
	"github.com/anonto42/nano-midea/fanout/internal/feed"
	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/middleware"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/router"
	"github.com/anonto42/nano-midea/fanout/internal/storage/memory"
	"github.com/anonto42/nano-midea/fanout/internal/verb"
	"github.com/anonto42/nano-midea/fanout/internal/worker"
	"github.com/anonto42/nano-midea/fanout/pkg/config"
	"github.com/anonto42/nano-midea/fanout/pkg/firebase"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

const (
	flatFeed         = "flat"
	aggregatedFeed   = "aggregated"
	notificationFeed = "notification"
)

type backend struct {
	timeline   feed.TimelineStorage
	activities repositories.ActivityRepository
	follows    repositories.FollowRepository
	db         *config.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verbs := verb.Default()
	store, err := openBackend(ctx, cfg, verbs, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	if store.db != nil {
		defer store.db.CloseDB()
	}

	opts := feed.Options{
		Timeline:   store.timeline,
		Activities: store.activities,
		MaxLength:  cfg.FeedMaxLength,
		TrimChance: cfg.TrimChance,
		Logger:     logger,
	}
	// TRIM_CHANCE=0 turns trimming off.
	if cfg.TrimChance == 0 {
		opts.TrimChance = feed.NoTrim
	}
	userOpts := opts
	userOpts.MaxLength = 0
	userFeed, err := feed.NewUserType(userOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("user feed")
	}
	feedTypes, err := buildFeedTypes(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("feed types")
	}

	pools := map[manager.Priority]*worker.Pool{
		manager.PriorityHigh: worker.New(poolConfig(cfg, "high", cfg.HighPriorityWorkers), logger),
		manager.PriorityLow:  worker.New(poolConfig(cfg, "low", cfg.LowPriorityWorkers), logger),
	}
	// Workers outlive the signal context so queued fan-out can drain.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	lanes := make(map[manager.Priority]worker.Dispatcher, len(pools))
	for p, pool := range pools {
		pool.Start(workCtx)
		lanes[p] = pool
	}

	m, err := manager.New(manager.Config{
		FeedTypes:           feedTypes,
		UserFeed:            userFeed,
		Followers:           store.follows,
		Lanes:               lanes,
		DefaultLane:         pools[manager.PriorityLow],
		FollowActivityLimit: cfg.FollowActivityLimit,
		FanoutChunkSize:     cfg.FanoutChunkSize,
		Logger:              logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build feed manager")
	}

	e := echo.New()
	e.HideBanner = true
	config.SetupMiddleware(e, logger)
	router.SetupRoutes(e, router.Dependencies{
		Manager:              m,
		Activities:           store.activities,
		Follows:              store.follows,
		Verbs:                verbs,
		Auth:                 authMiddleware(ctx, cfg, logger),
		DefaultFeedType:      flatFeed,
		NotificationFeedType: notificationFeed,
		Pools:                []*worker.Pool{pools[manager.PriorityHigh], pools[manager.PriorityLow]},
		Logger:               logger,
	})

	go func() {
		logger.Info().Str("port", cfg.Port).Str("backend", cfg.StorageBackend).Msg("starting server")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	for _, pool := range pools {
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("lane", pool.Name()).Msg("worker shutdown")
		}
	}
}

func openBackend(ctx context.Context, cfg *config.Config, verbs *verb.Registry, logger zerolog.Logger) (*backend, error) {
	if cfg.StorageBackend == config.BackendMemory {
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
		return &backend{
			timeline:   memory.NewTimeline(),
			activities: memory.NewActivities(),
			follows:    repositories.NewMemoryFollowRepository(),
		}, nil
	}

	db, err := config.InitDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := repositories.Migrate(db.Postgres); err != nil {
		db.CloseDB()
		return nil, err
	}
	logger.Info().Msg("database migration completed")

	return &backend{
		timeline:   repositories.NewPostgresTimelineRepository(db.Postgres),
		activities: repositories.NewMongoActivityRepository(db.Activities, verbs),
		follows:    repositories.NewPostgresFollowRepository(db.Postgres),
		db:         db,
	}, nil
}

func buildFeedTypes(opts feed.Options) (map[string]feed.Factory, error) {
	flatOpts := opts
	flatOpts.Name = flatFeed
	flat, err := feed.NewType(flatOpts)
	if err != nil {
		return nil, err
	}

	aggOpts := opts
	aggOpts.Name = aggregatedFeed
	aggregated, err := feed.NewAggregatedType(aggOpts, aggregator.New(aggregator.RecentVerb{}), 0)
	if err != nil {
		return nil, err
	}

	notifOpts := opts
	notifOpts.Name = notificationFeed
	notifOpts.KeyFormat = "notification_feed_%d"
	notifications, err := feed.NewAggregatedType(notifOpts, aggregator.New(aggregator.Notification{}), 0)
	if err != nil {
		return nil, err
	}

	return map[string]feed.Factory{
		flatFeed:         flat,
		aggregatedFeed:   aggregated,
		notificationFeed: notifications,
	}, nil
}

func poolConfig(cfg *config.Config, name string, workers int) worker.Config {
	return worker.Config{
		Name:         name,
		Workers:      workers,
		QueueSize:    cfg.FanoutQueueSize,
		MaxAttempts:  cfg.FanoutMaxAttempts,
		RetryBackoff: cfg.FanoutRetryBackoff,
		Permanent: func(err error) bool {
			return errors.Is(err, activity.ErrValidation)
		},
	}
}

// authMiddleware prefers Firebase ID tokens when credentials are configured.
func authMiddleware(ctx context.Context, cfg *config.Config, logger zerolog.Logger) echo.MiddlewareFunc {
	if cfg.FirebaseCredentialsPath != "" {
		app, err := firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize Firebase")
		}
		return middleware.FirebaseAuthMiddleware(app.AuthClient)
	}
	return middleware.JWTAuthMiddleware(cfg.JWTSecret)
}
