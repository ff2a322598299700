package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/internal/database"
	"github.com/showsync/recs/internal/handlers"
	"github.com/showsync/recs/internal/messaging"
	"github.com/showsync/recs/internal/middleware"
	"github.com/showsync/recs/internal/services"
	"github.com/showsync/recs/internal/validation"
)

type App struct {
	config   *config.Config
	logger   *logrus.Logger
	db       *database.Database
	services *services.Services
	handlers *handlers.Handlers
	router   *gin.Engine
	consumer *messaging.InteractionConsumer

	consumerCancel context.CancelFunc
}

func New(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	svc, err := services.New(cfg, logger, db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc

	configValidator, err := validation.NewConfigValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}

	app.handlers = handlers.New(svc, configValidator, logger)
	app.handlers.Admin.SetConfig(&cfg.Recommendation)

	if len(cfg.Kafka.Brokers) > 0 {
		app.consumer = messaging.NewInteractionConsumer(cfg, svc.Profiles, db.Redis.Hot, logger)
	}

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Start launches the background machinery: the cron scheduler and, when
// brokers are configured, the interaction consumer.
func (a *App) Start() error {
	if err := a.services.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.consumer != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.consumerCancel = cancel
		go func() {
			if err := a.consumer.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.WithError(err).Error("Interaction consumer stopped")
			}
		}()
	}

	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	a.services.Scheduler.Stop()

	if a.consumerCancel != nil {
		a.consumerCancel()
	}
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.WithError(err).Warn("Error closing interaction consumer")
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}
	return nil
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config))

	// Probes and metrics stay outside auth.
	router.GET("/health", a.handlers.Health.Health)
	router.GET("/ready", a.handlers.Health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(a.services.Auth, a.logger))
	api.Use(middleware.RateLimit(a.services.RateLimit, a.logger))

	recs := api.Group("/recommendations")
	{
		recs.GET("/personal", a.handlers.Recommendation.Personal)
		recs.GET("/realtime", a.handlers.Recommendation.Realtime)
		recs.GET("/trending", a.handlers.Recommendation.Trending)
		recs.GET("/groups", a.handlers.Recommendation.GroupSuggestions)
		recs.GET("/groups/:groupId/content", a.handlers.Recommendation.GroupContent)
		recs.GET("/similar/:mediaId", a.handlers.Recommendation.Similar)
		recs.GET("/by-type", a.handlers.Recommendation.ByType)
		recs.GET("/insights/me", a.handlers.Recommendation.Insights)
		recs.GET("/summary/me", a.handlers.Recommendation.Summary)

		recs.POST("/view/:kind/:id", a.handlers.Feedback.View)
		recs.POST("/dismiss/:kind/:id", a.handlers.Feedback.Dismiss)
		recs.POST("/feedback/:kind/:id", a.handlers.Feedback.Feedback)

		recs.POST("/generate/me", a.handlers.Admin.GenerateMe)

		admin := recs.Group("")
		admin.Use(middleware.RequireRole(middleware.AdminRole))
		{
			admin.POST("/generate", a.handlers.Admin.GenerateAll)
			admin.POST("/jobs/:name", a.handlers.Admin.TriggerJob)
			admin.GET("/analytics", a.handlers.Admin.Analytics)
			admin.GET("/config", a.handlers.Admin.GetConfig)
			admin.PUT("/config", a.handlers.Admin.PutConfig)
		}
	}

	a.router = router
}
