package services

import (
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/internal/database"
)

type Services struct {
	Auth          *AuthService
	Health        *HealthService
	RateLimit     *RateLimitService
	Catalog       *CatalogService
	Profiles      *ProfileBuilderService
	Collaborative *CollaborativeService
	Trending      *TrendingService
	Generator     *GeneratorService
	Store         *StoreService
	Feedback      *FeedbackService
	Insights      *InsightsService
	Scheduler     *SchedulerService
	Metrics       *MetricsCollector
	Locks         *UserLocks
}

func New(cfg *config.Config, logger *logrus.Logger, db *database.Database) (*Services, error) {
	authService := NewAuthService(cfg, logger, db.Redis.Hot)
	healthService := NewHealthService(cfg, logger, db)
	rateLimitService := NewRateLimitService(cfg, logger, db.Redis.Hot)
	metrics := NewMetricsCollector(db.PG, logger)
	locks := NewUserLocks()

	recCfg := &cfg.Recommendation

	catalog := NewCatalogService(db.PG, logger)
	trending := NewTrendingService(db.PG, db.Redis.Cold, recCfg, logger)
	profiles := NewProfileBuilderService(db.PG, catalog, trending, db.Redis.Warm, recCfg, logger)
	collaborative := NewCollaborativeService(db.PG, db.Neo4j, recCfg, logger)
	store := NewStoreService(db.PG, db.Redis.Warm, metrics, recCfg, logger)
	generator := NewGeneratorService(catalog, profiles, collaborative, trending, store, recCfg, logger)
	feedback := NewFeedbackService(db.PG, store, profiles, locks, metrics, logger)
	insights := NewInsightsService(db.PG, store, profiles, db.Redis.Warm, db.Redis.Cold, recCfg, logger)
	scheduler := NewSchedulerService(catalog, profiles, generator, store, collaborative, trending,
		locks, db.Redis.Hot, metrics, recCfg, logger)

	return &Services{
		Auth:          authService,
		Health:        healthService,
		RateLimit:     rateLimitService,
		Catalog:       catalog,
		Profiles:      profiles,
		Collaborative: collaborative,
		Trending:      trending,
		Generator:     generator,
		Store:         store,
		Feedback:      feedback,
		Insights:      insights,
		Scheduler:     scheduler,
		Metrics:       metrics,
		Locks:         locks,
	}, nil
}
