package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/showsync/recs/internal/config"
)

// activeUsersKey is the hot-tier set of users seen interacting since the
// last hourly refresh, fed by the interaction-event consumer.
const activeUsersKey = "active_users"

// generationTimeout bounds a single user's pipeline run.
const generationTimeout = 30 * time.Second

// GenerationResult reports what one pipeline run committed.
type GenerationResult struct {
	UserID        uuid.UUID `json:"user_id"`
	ContentStored int       `json:"content_stored"`
	GroupsStored  int       `json:"groups_stored"`
}

// SchedulerService runs the recommendation pipeline on a schedule and on
// demand. Overlapping triggers for one user collapse into a single run via
// single-flight; total parallelism is bounded by the generation worker pool.
type SchedulerService struct {
	catalog   CatalogReader
	profiles  *ProfileBuilderService
	generator *GeneratorService
	store     *StoreService
	collab    *CollaborativeService
	trending  *TrendingService
	locks     *UserLocks
	hot       *redis.Client
	metrics   *MetricsCollector
	config    *config.RecommendationConfig
	logger    *logrus.Logger

	cron   *cron.Cron
	flight singleflight.Group
	sem    *semaphore.Weighted
}

func NewSchedulerService(
	catalog CatalogReader,
	profiles *ProfileBuilderService,
	generator *GeneratorService,
	store *StoreService,
	collab *CollaborativeService,
	trending *TrendingService,
	locks *UserLocks,
	hot *redis.Client,
	metrics *MetricsCollector,
	cfg *config.RecommendationConfig,
	logger *logrus.Logger,
) *SchedulerService {
	return &SchedulerService{
		catalog:   catalog,
		profiles:  profiles,
		generator: generator,
		store:     store,
		collab:    collab,
		trending:  trending,
		locks:     locks,
		hot:       hot,
		metrics:   metrics,
		config:    cfg,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.Caps.GenerationWorkers)),
	}
}

// Start registers the cron jobs. No-op when scheduling is disabled; jobs can
// still be triggered through the admin endpoints.
func (s *SchedulerService) Start() error {
	if !s.config.Scheduling.Enabled {
		s.logger.Info("Schedulers disabled, jobs available via manual trigger only")
		return nil
	}

	s.cron = cron.New()

	jobs := []struct {
		spec string
		name string
		run  func()
	}{
		{s.config.Scheduling.DailyGenerationCron, "daily_generation", s.runDailyGeneration},
		{s.config.Scheduling.ActiveUsersRefreshCron, "active_users_refresh", s.runActiveUsersRefresh},
		{s.config.Scheduling.EvictionSweepCron, "eviction_sweep", s.runEvictionSweep},
	}
	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("failed to register %s job (%q): %w", job.name, job.spec, err)
		}
	}

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"daily":  s.config.Scheduling.DailyGenerationCron,
		"hourly": s.config.Scheduling.ActiveUsersRefreshCron,
		"sweep":  s.config.Scheduling.EvictionSweepCron,
	}).Info("Recommendation schedulers started")
	return nil
}

func (s *SchedulerService) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// GenerateForUser runs the full pipeline for one user: profile rebuild,
// personal batch, group suggestions, commit. Concurrent calls for the same
// user share one run and its result. Candidates are fetched before the user
// lock is taken; only the commit section holds it.
func (s *SchedulerService) GenerateForUser(ctx context.Context, userID uuid.UUID) (*GenerationResult, error) {
	v, err, _ := s.flight.Do(userID.String(), func() (interface{}, error) {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.sem.Release(1)

		runCtx, cancel := context.WithTimeout(ctx, generationTimeout)
		defer cancel()

		start := time.Now()
		result, err := s.runPipeline(runCtx, userID)
		if s.metrics != nil {
			s.metrics.ObserveGeneration(time.Since(start), err)
		}
		return result, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*GenerationResult), nil
}

func (s *SchedulerService) runPipeline(ctx context.Context, userID uuid.UUID) (*GenerationResult, error) {
	if _, err := s.profiles.BuildProfile(ctx, userID); err != nil {
		return nil, fmt.Errorf("profile rebuild failed: %w", err)
	}

	content, err := s.generator.GeneratePersonal(ctx, userID, s.config.Caps.MaxActivePerUser/2)
	if err != nil {
		return nil, fmt.Errorf("personal generation failed: %w", err)
	}

	groups, err := s.generator.GenerateGroupSuggestions(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Group suggestion generation failed")
		groups = nil
	}
	if len(groups) > 10 {
		groups = groups[:10]
	}

	// Nothing partial gets committed after cancellation.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	contentStored, err := s.store.InsertContentBatch(ctx, userID, content)
	if err != nil {
		return nil, fmt.Errorf("batch commit failed: %w", err)
	}
	groupsStored, err := s.store.InsertGroupBatch(ctx, userID, groups)
	if err != nil {
		return nil, fmt.Errorf("group batch commit failed: %w", err)
	}

	return &GenerationResult{
		UserID:        userID,
		ContentStored: contentStored,
		GroupsStored:  groupsStored,
	}, nil
}

// GenerateForAll fans the pipeline out over the given users. Per-user
// failures are logged and counted, never fatal to the batch.
func (s *SchedulerService) GenerateForAll(ctx context.Context, userIDs []uuid.UUID) {
	batchID := uuid.New()
	failures := 0
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			s.logger.WithField("batch_id", batchID).Warn("Generation batch cancelled")
			return
		}
		if _, err := s.GenerateForUser(ctx, userID); err != nil {
			failures++
			s.logger.WithError(err).WithFields(logrus.Fields{
				"batch_id": batchID,
				"user_id":  userID,
			}).Error("Generation failed for user")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"batch_id": batchID,
		"users":    len(userIDs),
		"failures": failures,
	}).Info("Generation batch completed")
}

func (s *SchedulerService) runDailyGeneration() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	if _, err := s.trending.Refresh(ctx); err != nil {
		s.logger.WithError(err).Warn("Trending refresh failed during daily job")
	}
	if err := s.collab.RefreshMaterialization(ctx); err != nil {
		s.logger.WithError(err).Warn("Similar-user refresh failed during daily job")
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	stale, err := s.profiles.StaleUserIDs(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Daily generation aborted: cannot list stale profiles")
		return
	}

	// Users who interacted but never went through a builder pass have no
	// profile row yet; fold them in.
	recent, err := s.catalog.ActiveUserIDs(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Warn("Daily generation proceeding without recent-user fold-in")
	}
	stale = dedupeUserIDs(append(stale, recent...))

	s.logger.WithField("users", len(stale)).Info("Daily regeneration starting")
	s.GenerateForAll(ctx, stale)
}

func (s *SchedulerService) runActiveUsersRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	since := time.Now().Add(-time.Duration(s.config.Scheduling.ActiveUsersHoursBack) * time.Hour)
	users, err := s.catalog.ActiveUserIDs(ctx, since)
	if err != nil {
		s.logger.WithError(err).Error("Active-user refresh aborted")
		return
	}

	// The event consumer accumulates users into the hot set between runs;
	// fold them in and reset the set.
	if s.hot != nil {
		members, err := s.hot.SMembers(ctx, activeUsersKey).Result()
		if err == nil {
			for _, m := range members {
				if id, err := uuid.Parse(m); err == nil {
					users = append(users, id)
				}
			}
			if err := s.hot.Del(ctx, activeUsersKey).Err(); err != nil {
				s.logger.WithError(err).Debug("Failed to reset active-user set")
			}
		}
	}
	users = dedupeUserIDs(users)

	s.logger.WithField("users", len(users)).Info("Active-user refresh starting")
	s.GenerateForAll(ctx, users)
}

func (s *SchedulerService) runEvictionSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if _, err := s.store.EvictionSweep(ctx); err != nil {
		s.logger.WithError(err).Error("Eviction sweep failed")
	}
}

// TriggerJob runs a scheduled job by name, for the admin surface.
func (s *SchedulerService) TriggerJob(name string) error {
	switch name {
	case "daily_generation":
		go s.runDailyGeneration()
	case "active_users_refresh":
		go s.runActiveUsersRefresh()
	case "eviction_sweep":
		go s.runEvictionSweep()
	default:
		return fmt.Errorf("unknown job %q: %w", name, ErrInvalidArgument)
	}
	return nil
}

// TriggerAllUsers starts a background regeneration over every known profile
// plus recently active users. Returns immediately.
func (s *SchedulerService) TriggerAllUsers() {
	go s.runDailyGeneration()
}

func dedupeUserIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
