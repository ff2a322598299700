package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/algo"
	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/pkg/models"
)

// defaultAvgRating anchors signed influence when a user has no rated history.
const defaultAvgRating = 7.0

// weightEpsilon drops near-zero weights from the normalized maps.
const weightEpsilon = 1e-6

// TrendingLookup is the slice of the trending service the personality
// classifier needs for the trendy/niche overlap signal.
type TrendingLookup interface {
	TrendingMediaIDs(ctx context.Context) (map[uuid.UUID]struct{}, error)
}

// ProfileBuilderService rebuilds preference profiles from user interactions.
// It is the only writer of the preference_profiles table.
type ProfileBuilderService struct {
	db       DatabaseQuerier
	catalog  CatalogReader
	trending TrendingLookup
	warm     *redis.Client
	config   *config.RecommendationConfig
	logger   *logrus.Logger
}

func NewProfileBuilderService(
	db DatabaseQuerier,
	catalog CatalogReader,
	trending TrendingLookup,
	warm *redis.Client,
	cfg *config.RecommendationConfig,
	logger *logrus.Logger,
) *ProfileBuilderService {
	return &ProfileBuilderService{
		db:       db,
		catalog:  catalog,
		trending: trending,
		warm:     warm,
		config:   cfg,
		logger:   logger,
	}
}

// BuildProfile rebuilds the profile from current interactions and persists
// it. A user with no interactions gets a zero-confidence default profile.
// Transient catalog failures surface as errors without touching the stored
// profile.
func (s *ProfileBuilderService) BuildProfile(ctx context.Context, userID uuid.UUID) (*models.PreferenceProfile, error) {
	interactions, err := s.catalog.UserInteractions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read interactions for profile rebuild: %w", err)
	}

	signals, err := s.feedbackSignals(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Rebuilding profile without feedback signals")
		signals = nil
	}

	profile := s.deriveProfile(ctx, userID, interactions, signals, time.Now())

	if err := s.upsertProfile(ctx, profile); err != nil {
		return nil, err
	}
	s.invalidateUserCaches(ctx, userID)

	s.logger.WithFields(logrus.Fields{
		"user_id":      userID,
		"interactions": profile.TotalInteractions,
		"confidence":   profile.Confidence,
		"personality":  profile.Personality,
	}).Debug("Preference profile rebuilt")

	return profile, nil
}

// deriveProfile computes the profile from interactions plus the stored
// feedback signals. A user with no interactions keeps the default profile
// regardless of feedback.
func (s *ProfileBuilderService) deriveProfile(
	ctx context.Context,
	userID uuid.UUID,
	interactions []models.InteractionWithMedia,
	signals []feedbackSignal,
	now time.Time,
) *models.PreferenceProfile {
	profile := models.NewPreferenceProfile(userID)
	profile.LastCalculatedAt = now
	if len(interactions) == 0 {
		return profile
	}

	// Rating statistics first; signed influence anchors on the user's own
	// average so above-average ratings push weights up and below-average
	// ratings push them down.
	var ratings []float64
	for _, iw := range interactions {
		if iw.Rating != nil {
			ratings = append(ratings, *iw.Rating)
		}
	}
	avg := defaultAvgRating
	if len(ratings) > 0 {
		sum := 0.0
		for _, r := range ratings {
			sum += r
		}
		avg = sum / float64(len(ratings))
	}
	variance := 0.0
	if len(ratings) > 1 {
		for _, r := range ratings {
			variance += (r - avg) * (r - avg)
		}
		variance /= float64(len(ratings))
	}

	genreRaw := make(map[string]float64)
	platformRaw := make(map[string]float64)
	eraRaw := make(map[string]float64)
	completed := 0
	favorites := 0
	var runtimeTotal, runtimeCount float64

	for _, iw := range interactions {
		influence := statusInfluence(iw.Status)
		if iw.Rating != nil {
			influence = *iw.Rating - avg
		}
		if iw.Favorite {
			influence += 1.0
		}
		influence = algo.ApplyTimeDecayAt(influence, iw.UpdatedAt, now, s.config.Decay.PerDay)

		for _, genre := range iw.Media.Genres {
			genreRaw[genre] += influence
		}
		if iw.Media.Platform != "" {
			platformRaw[iw.Media.Platform] += influence
		}
		if era := iw.Media.Era(); era != "" {
			eraRaw[era] += influence
		}

		if iw.Status == models.StatusCompleted {
			completed++
		}
		if iw.Favorite {
			favorites++
		}
		if iw.Media.RuntimeMinutes != nil {
			runtimeTotal += float64(*iw.Media.RuntimeMinutes)
			runtimeCount++
		}
	}

	s.applyFeedbackSignals(ctx, signals, genreRaw, platformRaw, eraRaw, now)

	profile.GenreWeights = pruneWeights(algo.NormalizeScores(genreRaw))
	profile.PlatformWeights = pruneWeights(algo.NormalizeScores(platformRaw))
	profile.EraWeights = pruneWeights(algo.NormalizeScores(eraRaw))

	profile.AvgRating = avg
	profile.RatingVariance = variance
	profile.TotalInteractions = len(interactions)
	profile.TotalCompleted = completed
	profile.CompletionRate = float64(completed) / float64(len(interactions))
	profile.PreferredLength = classifyLength(runtimeTotal, runtimeCount)

	diversity := algo.CalculateDiversity(profile.GenreWeights)
	first := interactions[len(interactions)-1].UpdatedAt
	spanDays := now.Sub(first).Hours() / 24
	profile.Confidence = algo.CalculateConfidenceScore(len(interactions), spanDays, diversity)

	profile.Personality = s.classifyPersonality(ctx, userID, classifierSignals{
		interactions:   len(interactions),
		completionRate: profile.CompletionRate,
		variance:       variance,
		avgRating:      avg,
		diversity:      diversity,
		favoriteShare:  float64(favorites) / float64(len(interactions)),
		mediaIDs:       interactionMediaIDs(interactions),
	})

	return profile
}

// feedbackSignal is one explicit reaction awaiting incorporation: the
// feedback type's signed weight aimed at a media item.
type feedbackSignal struct {
	mediaID   uuid.UUID
	weight    int
	createdAt time.Time
}

// feedbackSignals loads the user's non-neutral content feedback. The media id
// was resolved at submit time, so evicted recommendation rows do not lose the
// linkage.
func (s *ProfileBuilderService) feedbackSignals(ctx context.Context, userID uuid.UUID) ([]feedbackSignal, error) {
	rows, err := s.db.Query(ctx, `
		SELECT media_id, feedback_type, created_at
		FROM recommendation_feedback
		WHERE user_id = $1 AND media_id IS NOT NULL AND feedback_type <> 'NEUTRAL'`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback signals: %w", err)
	}
	defer rows.Close()

	var out []feedbackSignal
	for rows.Next() {
		var sig feedbackSignal
		var feedbackType models.FeedbackType
		if err := rows.Scan(&sig.mediaID, &feedbackType, &sig.createdAt); err != nil {
			return nil, err
		}
		sig.weight = feedbackType.Weight()
		out = append(out, sig)
	}
	return out, rows.Err()
}

// applyFeedbackSignals folds explicit feedback into the raw weight maps
// before normalization: positive feedback pushes the target media's genres,
// platform, and era up, negative feedback pushes them down, both decayed from
// the feedback timestamp.
func (s *ProfileBuilderService) applyFeedbackSignals(
	ctx context.Context,
	signals []feedbackSignal,
	genreRaw, platformRaw, eraRaw map[string]float64,
	now time.Time,
) {
	if len(signals) == 0 {
		return
	}

	ids := make([]uuid.UUID, 0, len(signals))
	for _, sig := range signals {
		ids = append(ids, sig.mediaID)
	}
	targets, err := s.catalog.MediaByIDs(ctx, ids)
	if err != nil {
		s.logger.WithError(err).Debug("Feedback targets unavailable for rebuild")
		return
	}

	for _, sig := range signals {
		media, ok := targets[sig.mediaID]
		if !ok {
			continue
		}
		influence := algo.ApplyTimeDecayAt(float64(sig.weight), sig.createdAt, now, s.config.Decay.PerDay)

		for _, genre := range media.Genres {
			genreRaw[genre] += influence
		}
		if media.Platform != "" {
			platformRaw[media.Platform] += influence
		}
		if era := media.Era(); era != "" {
			eraRaw[era] += influence
		}
	}
}

func statusInfluence(status models.InteractionStatus) float64 {
	switch status {
	case models.StatusCompleted:
		return 1.0
	case models.StatusInProgress:
		return 0.5
	case models.StatusPlanned:
		return 0.25
	case models.StatusDropped:
		return -1.0
	}
	return 0
}

func pruneWeights(weights map[string]float64) map[string]float64 {
	for k, v := range weights {
		if v <= weightEpsilon {
			delete(weights, k)
		}
	}
	return weights
}

func classifyLength(runtimeTotal, runtimeCount float64) models.PreferredLength {
	if runtimeCount == 0 {
		return models.LengthMedium
	}
	avg := runtimeTotal / runtimeCount
	switch {
	case avg < 30:
		return models.LengthShort
	case avg > 120:
		return models.LengthLong
	default:
		return models.LengthMedium
	}
}

type classifierSignals struct {
	interactions   int
	completionRate float64
	variance       float64
	avgRating      float64
	diversity      float64
	favoriteShare  float64
	mediaIDs       []uuid.UUID
}

func interactionMediaIDs(interactions []models.InteractionWithMedia) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(interactions))
	for _, iw := range interactions {
		ids = append(ids, iw.MediaID)
	}
	return ids
}

// classifyPersonality evaluates the threshold rules in enum declaration
// order; the first match wins and CASUAL is the fallback.
func (s *ProfileBuilderService) classifyPersonality(ctx context.Context, userID uuid.UUID, sig classifierSignals) models.ViewingPersonality {
	t := s.config.Personality

	groupShare := s.groupActivityShare(ctx, userID)
	trendOverlap := s.trendingOverlap(ctx, sig.mediaIDs)

	for _, p := range models.AllPersonalities {
		switch p {
		case models.PersonalityCasual:
			if sig.interactions < t.CasualMaxInteractions {
				return p
			}
		case models.PersonalityCritic:
			if sig.variance >= t.CriticMinVariance && sig.avgRating <= t.CriticMaxAvgRating {
				return p
			}
		case models.PersonalityBingeWatcher:
			if sig.completionRate >= t.BingeMinCompletionRate && sig.interactions >= t.BingeMinInteractions {
				return p
			}
		case models.PersonalityExplorer:
			if sig.diversity >= t.ExplorerMinDiversity {
				return p
			}
		case models.PersonalityComfortSeeker:
			if sig.favoriteShare >= t.ComfortMinFavoriteShare && sig.diversity <= t.ComfortMaxDiversity {
				return p
			}
		case models.PersonalitySocial:
			if groupShare >= t.SocialMinGroupShare {
				return p
			}
		case models.PersonalityTrendy:
			if trendOverlap >= t.TrendyMinOverlap {
				return p
			}
		case models.PersonalityNiche:
			if trendOverlap <= t.NicheMaxOverlap && sig.diversity <= t.NicheMaxDiversity && sig.diversity > 0 {
				return p
			}
		case models.PersonalityCompletionist:
			if sig.completionRate >= t.CompletionistMinRate {
				return p
			}
		case models.PersonalitySampler:
			if sig.completionRate <= t.SamplerMaxRate {
				return p
			}
		}
	}
	return models.PersonalityCasual
}

// groupActivityShare approximates how social a user is: group memberships
// relative to a saturation point of five groups.
func (s *ProfileBuilderService) groupActivityShare(ctx context.Context, userID uuid.UUID) float64 {
	groups, err := s.catalog.UserGroups(ctx, userID)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to load groups for classifier")
		return 0
	}
	return math.Min(1, float64(len(groups))/5.0)
}

// trendingOverlap is the share of the user's library that sits in the current
// trending snapshot.
func (s *ProfileBuilderService) trendingOverlap(ctx context.Context, mediaIDs []uuid.UUID) float64 {
	if s.trending == nil || len(mediaIDs) == 0 {
		return 0
	}
	trendingIDs, err := s.trending.TrendingMediaIDs(ctx)
	if err != nil || len(trendingIDs) == 0 {
		return 0
	}
	hits := 0
	for _, id := range mediaIDs {
		if _, ok := trendingIDs[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(mediaIDs))
}

const profileColumns = `user_id, genre_weights, platform_weights, era_weights, preferred_length,
	avg_rating, rating_variance, total_interactions, total_completed, completion_rate,
	personality, confidence, last_calculated_at`

// GetProfile loads the stored profile. ErrNotFound when the user has never
// been through a builder pass.
func (s *ProfileBuilderService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.PreferenceProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM preference_profiles WHERE user_id = $1`, profileColumns)

	var p models.PreferenceProfile
	var genreJSON, platformJSON, eraJSON []byte
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &genreJSON, &platformJSON, &eraJSON, &p.PreferredLength,
		&p.AvgRating, &p.RatingVariance, &p.TotalInteractions, &p.TotalCompleted, &p.CompletionRate,
		&p.Personality, &p.Confidence, &p.LastCalculatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if err := json.Unmarshal(genreJSON, &p.GenreWeights); err != nil {
		return nil, fmt.Errorf("failed to decode genre weights: %w", err)
	}
	if err := json.Unmarshal(platformJSON, &p.PlatformWeights); err != nil {
		return nil, fmt.Errorf("failed to decode platform weights: %w", err)
	}
	if err := json.Unmarshal(eraJSON, &p.EraWeights); err != nil {
		return nil, fmt.Errorf("failed to decode era weights: %w", err)
	}
	return &p, nil
}

// GetOrBuildProfile returns the stored profile, rebuilding it when missing or
// flagged stale (confidence zeroed).
func (s *ProfileBuilderService) GetOrBuildProfile(ctx context.Context, userID uuid.UUID) (*models.PreferenceProfile, error) {
	profile, err := s.GetProfile(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return s.BuildProfile(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	if profile.Confidence == 0 && profile.TotalInteractions > 0 {
		return s.BuildProfile(ctx, userID)
	}
	return profile, nil
}

func (s *ProfileBuilderService) upsertProfile(ctx context.Context, p *models.PreferenceProfile) error {
	genreJSON, err := json.Marshal(p.GenreWeights)
	if err != nil {
		return fmt.Errorf("failed to encode genre weights: %w", err)
	}
	platformJSON, err := json.Marshal(p.PlatformWeights)
	if err != nil {
		return fmt.Errorf("failed to encode platform weights: %w", err)
	}
	eraJSON, err := json.Marshal(p.EraWeights)
	if err != nil {
		return fmt.Errorf("failed to encode era weights: %w", err)
	}

	query := `
		INSERT INTO preference_profiles (
			user_id, genre_weights, platform_weights, era_weights, preferred_length,
			avg_rating, rating_variance, total_interactions, total_completed, completion_rate,
			personality, confidence, last_calculated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id) DO UPDATE SET
			genre_weights = EXCLUDED.genre_weights,
			platform_weights = EXCLUDED.platform_weights,
			era_weights = EXCLUDED.era_weights,
			preferred_length = EXCLUDED.preferred_length,
			avg_rating = EXCLUDED.avg_rating,
			rating_variance = EXCLUDED.rating_variance,
			total_interactions = EXCLUDED.total_interactions,
			total_completed = EXCLUDED.total_completed,
			completion_rate = EXCLUDED.completion_rate,
			personality = EXCLUDED.personality,
			confidence = EXCLUDED.confidence,
			last_calculated_at = EXCLUDED.last_calculated_at`

	_, err = s.db.Exec(ctx, query,
		p.UserID, genreJSON, platformJSON, eraJSON, p.PreferredLength,
		p.AvgRating, p.RatingVariance, p.TotalInteractions, p.TotalCompleted, p.CompletionRate,
		p.Personality, p.Confidence, p.LastCalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile for user %s: %w", p.UserID, err)
	}
	return nil
}

// MarkStale zeroes the stored confidence so the next builder pass rebuilds
// the profile. Missing profiles are not an error: the user simply has no
// profile to invalidate yet.
func (s *ProfileBuilderService) MarkStale(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE preference_profiles SET confidence = 0 WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to mark profile stale for user %s: %w", userID, err)
	}
	s.invalidateUserCaches(ctx, userID)
	return nil
}

// StaleUserIDs lists users whose profile is flagged stale or was last
// calculated before the cutoff. The daily regeneration job feeds on this.
func (s *ProfileBuilderService) StaleUserIDs(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id FROM preference_profiles
		WHERE confidence = 0 OR last_calculated_at < $1`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale profiles: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Compatibility is the cosine of two users' genre-weight vectors, cached in
// the warm tier with a symmetric key.
func (s *ProfileBuilderService) Compatibility(ctx context.Context, a, b uuid.UUID) (float64, error) {
	lo, hi := a, b
	if hi.String() < lo.String() {
		lo, hi = hi, lo
	}
	cacheKey := fmt.Sprintf("compat:%s:%s", lo, hi)

	if s.warm != nil {
		if cached, err := s.warm.Get(ctx, cacheKey).Float64(); err == nil {
			return cached, nil
		}
	}

	profileA, err := s.GetProfile(ctx, a)
	if err != nil {
		return 0, err
	}
	profileB, err := s.GetProfile(ctx, b)
	if err != nil {
		return 0, err
	}

	compat := algo.CosineSimilarity(profileA.GenreWeights, profileB.GenreWeights)

	if s.warm != nil {
		if err := s.warm.Set(ctx, cacheKey, compat, s.config.CacheTTL.Compatibility).Err(); err != nil {
			s.logger.WithError(err).Debug("Failed to cache compatibility")
		}
	}
	return compat, nil
}

func (s *ProfileBuilderService) invalidateUserCaches(ctx context.Context, userID uuid.UUID) {
	if s.warm == nil {
		return
	}
	patterns := []string{
		fmt.Sprintf("compat:%s:*", userID),
		fmt.Sprintf("compat:*:%s", userID),
		fmt.Sprintf("insights:%s", userID),
	}
	for _, pattern := range patterns {
		iter := s.warm.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.warm.Del(ctx, iter.Val()).Err(); err != nil {
				s.logger.WithError(err).Debug("Failed to invalidate cache key")
			}
		}
	}
}
