package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/pkg/models"
)

// fakeCatalog is an in-memory CatalogReader for builder and generator tests.
type fakeCatalog struct {
	interactions map[uuid.UUID][]models.InteractionWithMedia
	groups       map[uuid.UUID][]models.Group
	media        map[uuid.UUID]*models.Media
	candidates   []models.Media
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		interactions: make(map[uuid.UUID][]models.InteractionWithMedia),
		groups:       make(map[uuid.UUID][]models.Group),
		media:        make(map[uuid.UUID]*models.Media),
	}
}

func (f *fakeCatalog) MediaByID(_ context.Context, id uuid.UUID) (*models.Media, error) {
	if m, ok := f.media[id]; ok {
		return m, nil
	}
	return nil, ErrNotFound
}

func (f *fakeCatalog) MediaByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Media, error) {
	out := make(map[uuid.UUID]*models.Media)
	for _, id := range ids {
		if m, ok := f.media[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeCatalog) CandidateMedia(_ context.Context, _ uuid.UUID, limit int) ([]models.Media, error) {
	if len(f.candidates) > limit {
		return f.candidates[:limit], nil
	}
	return f.candidates, nil
}

func (f *fakeCatalog) UserInteractions(_ context.Context, userID uuid.UUID) ([]models.InteractionWithMedia, error) {
	return f.interactions[userID], nil
}

func (f *fakeCatalog) UserMediaIDs(_ context.Context, userID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	out := make(map[uuid.UUID]struct{})
	for _, iw := range f.interactions[userID] {
		out[iw.MediaID] = struct{}{}
	}
	return out, nil
}

func (f *fakeCatalog) ActiveUserIDs(_ context.Context, _ time.Time) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeCatalog) UserGroups(_ context.Context, userID uuid.UUID) ([]models.Group, error) {
	return f.groups[userID], nil
}

func (f *fakeCatalog) PublicGroupsNotJoined(_ context.Context, _ uuid.UUID, _ int) ([]models.Group, error) {
	return nil, nil
}

func (f *fakeCatalog) GroupMemberIDs(_ context.Context, _ uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeCatalog) GroupExists(_ context.Context, _ uuid.UUID) (bool, error) {
	return false, nil
}

func testPersonalityConfig() config.PersonalityThresholds {
	return config.PersonalityThresholds{
		CasualMaxInteractions:   10,
		CriticMinVariance:       3.0,
		CriticMaxAvgRating:      6.5,
		BingeMinCompletionRate:  0.8,
		BingeMinInteractions:    20,
		ExplorerMinDiversity:    0.75,
		ComfortMinFavoriteShare: 0.35,
		ComfortMaxDiversity:     0.5,
		SocialMinGroupShare:     0.4,
		TrendyMinOverlap:        0.5,
		NicheMaxOverlap:         0.1,
		NicheMaxDiversity:       0.4,
		CompletionistMinRate:    0.95,
		SamplerMaxRate:          0.2,
	}
}

func testProfileBuilder(catalog CatalogReader) *ProfileBuilderService {
	cfg := testRecConfig()
	cfg.Personality = testPersonalityConfig()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return NewProfileBuilderService(nil, catalog, nil, nil, cfg, logger)
}

func interactionFor(media models.Media, rating *float64, status models.InteractionStatus, ageDays int) models.InteractionWithMedia {
	return models.InteractionWithMedia{
		Interaction: models.Interaction{
			UserID:    uuid.New(),
			MediaID:   media.ID,
			Rating:    rating,
			Status:    status,
			UpdatedAt: time.Now().AddDate(0, 0, -ageDays),
		},
		Media: media,
	}
}

func ratingOf(v float64) *float64 { return &v }

func TestDeriveProfileColdStart(t *testing.T) {
	b := testProfileBuilder(newFakeCatalog())
	userID := uuid.New()

	profile := b.deriveProfile(context.Background(), userID, nil, nil, time.Now())

	assert.Equal(t, userID, profile.UserID)
	assert.Zero(t, profile.Confidence)
	assert.Equal(t, models.PersonalityCasual, profile.Personality)
	assert.Empty(t, profile.GenreWeights)
	assert.Equal(t, models.LengthMedium, profile.PreferredLength)
}

func TestDeriveProfileLowRatingsSuppressGenre(t *testing.T) {
	b := testProfileBuilder(newFakeCatalog())
	userID := uuid.New()

	drama := mediaWithGenres("d1", []string{"drama"}, 8)
	romance := mediaWithGenres("r1", []string{"romance"}, 7)

	// Drama rated far above the user's average, romance far below. After
	// min-max normalization romance lands at 0 and is pruned.
	interactions := []models.InteractionWithMedia{
		interactionFor(drama, ratingOf(9), models.StatusCompleted, 1),
		interactionFor(romance, ratingOf(2), models.StatusCompleted, 1),
	}

	profile := b.deriveProfile(context.Background(), userID, interactions, nil, time.Now())

	require.Contains(t, profile.GenreWeights, "drama")
	assert.NotContains(t, profile.GenreWeights, "romance")
	assert.Equal(t, 1.0, profile.GenreWeights["drama"])
	assert.InDelta(t, 5.5, profile.AvgRating, 1e-9)
}

func TestDeriveProfileFeedbackAdjustsGenreWeights(t *testing.T) {
	catalog := newFakeCatalog()
	b := testProfileBuilder(catalog)
	userID := uuid.New()

	drama := mediaWithGenres("d1", []string{"drama"}, 8)
	romance := mediaWithGenres("r1", []string{"romance"}, 7)
	catalog.media[romance.ID] = &romance

	// Equal ratings: both genres normalize to the midpoint before feedback.
	interactions := []models.InteractionWithMedia{
		interactionFor(drama, ratingOf(9), models.StatusCompleted, 1),
		interactionFor(romance, ratingOf(9), models.StatusCompleted, 1),
	}

	now := time.Now()
	baseline := b.deriveProfile(context.Background(), userID, interactions, nil, now)
	require.Equal(t, 0.5, baseline.GenreWeights["romance"])

	t.Run("negative feedback lowers the weight", func(t *testing.T) {
		adjusted := b.deriveProfile(context.Background(), userID, interactions, []feedbackSignal{
			{mediaID: romance.ID, weight: models.FeedbackNegative.Weight(), createdAt: now},
		}, now)
		assert.Less(t, adjusted.GenreWeights["romance"], baseline.GenreWeights["romance"],
			"rebuilding after negative feedback must strictly decrease the genre weight")
		assert.Equal(t, 1.0, adjusted.GenreWeights["drama"])
	})

	t.Run("positive feedback raises the weight", func(t *testing.T) {
		adjusted := b.deriveProfile(context.Background(), userID, interactions, []feedbackSignal{
			{mediaID: romance.ID, weight: models.FeedbackPositive.Weight(), createdAt: now},
		}, now)
		assert.Greater(t, adjusted.GenreWeights["romance"], baseline.GenreWeights["romance"])
	})

	t.Run("unresolvable media leaves weights untouched", func(t *testing.T) {
		adjusted := b.deriveProfile(context.Background(), userID, interactions, []feedbackSignal{
			{mediaID: uuid.New(), weight: models.FeedbackNegative.Weight(), createdAt: now},
		}, now)
		assert.Equal(t, baseline.GenreWeights, adjusted.GenreWeights)
	})
}

func TestDeriveProfileTracksCompletion(t *testing.T) {
	b := testProfileBuilder(newFakeCatalog())
	userID := uuid.New()

	m1 := mediaWithGenres("a", []string{"drama"}, 8)
	m2 := mediaWithGenres("b", []string{"comedy"}, 7)
	m3 := mediaWithGenres("c", []string{"scifi"}, 7)
	interactions := []models.InteractionWithMedia{
		interactionFor(m1, nil, models.StatusCompleted, 2),
		interactionFor(m2, nil, models.StatusCompleted, 5),
		interactionFor(m3, nil, models.StatusDropped, 9),
	}

	profile := b.deriveProfile(context.Background(), userID, interactions, nil, time.Now())

	assert.Equal(t, 3, profile.TotalInteractions)
	assert.Equal(t, 2, profile.TotalCompleted)
	assert.InDelta(t, 2.0/3.0, profile.CompletionRate, 1e-9)
	assert.InDelta(t, defaultAvgRating, profile.AvgRating, 1e-9, "no ratings anchors on the default average")
}

func TestDeriveProfilePreferredLength(t *testing.T) {
	b := testProfileBuilder(newFakeCatalog())
	userID := uuid.New()

	short := 22
	m := mediaWithGenres("sitcom", []string{"comedy"}, 7)
	m.RuntimeMinutes = &short

	profile := b.deriveProfile(context.Background(), userID, []models.InteractionWithMedia{
		interactionFor(m, nil, models.StatusCompleted, 1),
	}, nil, time.Now())

	assert.Equal(t, models.LengthShort, profile.PreferredLength)
}

func TestClassifyPersonality(t *testing.T) {
	catalog := newFakeCatalog()
	b := testProfileBuilder(catalog)
	ctx := context.Background()

	t.Run("few interactions is casual", func(t *testing.T) {
		got := b.classifyPersonality(ctx, uuid.New(), classifierSignals{interactions: 3})
		assert.Equal(t, models.PersonalityCasual, got)
	})

	t.Run("harsh spread ratings is critic", func(t *testing.T) {
		got := b.classifyPersonality(ctx, uuid.New(), classifierSignals{
			interactions: 30,
			variance:     4.2,
			avgRating:    5.5,
		})
		assert.Equal(t, models.PersonalityCritic, got)
	})

	t.Run("high completion and volume is binge watcher", func(t *testing.T) {
		got := b.classifyPersonality(ctx, uuid.New(), classifierSignals{
			interactions:   40,
			completionRate: 0.9,
			avgRating:      7.5,
		})
		assert.Equal(t, models.PersonalityBingeWatcher, got)
	})

	t.Run("broad taste is explorer", func(t *testing.T) {
		got := b.classifyPersonality(ctx, uuid.New(), classifierSignals{
			interactions:   15,
			completionRate: 0.5,
			avgRating:      7.5,
			diversity:      0.85,
		})
		assert.Equal(t, models.PersonalityExplorer, got)
	})

	t.Run("group-heavy user is social", func(t *testing.T) {
		userID := uuid.New()
		catalog.groups[userID] = []models.Group{{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()}}
		got := b.classifyPersonality(ctx, userID, classifierSignals{
			interactions:   15,
			completionRate: 0.5,
			avgRating:      7.5,
			diversity:      0.6,
		})
		assert.Equal(t, models.PersonalitySocial, got)
	})

	t.Run("critic beats binge watcher when both match", func(t *testing.T) {
		got := b.classifyPersonality(ctx, uuid.New(), classifierSignals{
			interactions:   40,
			completionRate: 0.95,
			variance:       4.0,
			avgRating:      5.0,
		})
		assert.Equal(t, models.PersonalityCritic, got, "declaration order breaks ties")
	})
}

func TestDeriveProfileConfidenceGrowsWithHistory(t *testing.T) {
	b := testProfileBuilder(newFakeCatalog())
	userID := uuid.New()

	genres := [][]string{{"drama"}, {"comedy"}, {"scifi"}, {"horror"}}
	small := make([]models.InteractionWithMedia, 0, 3)
	large := make([]models.InteractionWithMedia, 0, 40)
	for i := 0; i < 3; i++ {
		m := mediaWithGenres("s", genres[i%len(genres)], 8)
		small = append(small, interactionFor(m, ratingOf(8), models.StatusCompleted, i))
	}
	for i := 0; i < 40; i++ {
		m := mediaWithGenres("l", genres[i%len(genres)], 8)
		large = append(large, interactionFor(m, ratingOf(float64(5+i%5)), models.StatusCompleted, i))
	}

	now := time.Now()
	smallProfile := b.deriveProfile(context.Background(), userID, small, nil, now)
	largeProfile := b.deriveProfile(context.Background(), userID, large, nil, now)

	assert.Greater(t, largeProfile.Confidence, smallProfile.Confidence)
}
