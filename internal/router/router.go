package router

import (
	"github.com/anonto42/nano-midea/fanout/internal/handlers"
	"github.com/anonto42/nano-midea/fanout/internal/manager"
	"github.com/anonto42/nano-midea/fanout/internal/repositories"
	"github.com/anonto42/nano-midea/fanout/internal/verb"
	"github.com/anonto42/nano-midea/fanout/internal/worker"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Dependencies are what the routes need.
type Dependencies struct {
	Manager    *manager.Manager
	Activities repositories.ActivityRepository
	Follows    repositories.FollowRepository
	Verbs      *verb.Registry
	// Auth authenticates every /api/v1 route.
	Auth                 echo.MiddlewareFunc
	DefaultFeedType      string
	NotificationFeedType string
	Pools                []*worker.Pool
	Logger               zerolog.Logger
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, deps Dependencies) {
	logger := deps.Logger.With().Str("component", "router").Logger()

	// Health check - always accessible
	e.GET("/health", handlers.NewHealthHandler(deps.Pools...).HealthCheck)

	// --- Protected routes ---
	api := e.Group("/api/v1")
	api.Use(deps.Auth)

	handlers.NewActivityHandler(deps.Manager, deps.Activities, deps.Follows, deps.Verbs).RegisterActivityRoutes(api)
	handlers.NewFeedHandler(deps.Manager, deps.Follows, deps.DefaultFeedType).RegisterFeedRoutes(api)
	handlers.NewFollowHandler(deps.Follows, deps.Manager).RegisterFollowRoutes(api)
	if deps.NotificationFeedType != "" {
		handlers.NewNotificationHandler(deps.Manager, deps.NotificationFeedType).RegisterNotificationRoutes(api)
	}

	logger.Info().Int("routes", len(e.Routes())).Msg("all routes configured")
}
