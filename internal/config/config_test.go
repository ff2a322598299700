package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRecConfig() RecommendationConfig {
	return RecommendationConfig{
		Weights: ScoringWeights{
			Genre:    0.4,
			Rating:   0.3,
			Platform: 0.15,
			Era:      0.15,
		},
		Factors: FactorConfig{
			Personalization: 0.3,
			Diversity:       0.3,
			Exploration:     0.1,
		},
		Decay: DecayConfig{PerDay: 0.995},
		TTL:   ExpiryConfig{ContentDays: 14, GroupDays: 7},
		Caps: CapsConfig{
			MaxActivePerUser:  50,
			GenerationWorkers: 8,
			CandidatePool:     500,
		},
		Realtime: RealtimeConfig{CollaborativeShare: 0.7},
	}
}

func TestRecommendationConfigValidate(t *testing.T) {
	t.Run("valid config passes", func(t *testing.T) {
		cfg := validRecConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("weights must sum to one", func(t *testing.T) {
		cfg := validRecConfig()
		cfg.Weights.Genre = 0.5
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sum to 1.0")
	})

	t.Run("weights tolerate float error", func(t *testing.T) {
		cfg := validRecConfig()
		cfg.Weights = ScoringWeights{Genre: 0.1, Rating: 0.2, Platform: 0.3, Era: 0.4}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("negative weight rejected", func(t *testing.T) {
		cfg := validRecConfig()
		cfg.Weights = ScoringWeights{Genre: 1.2, Rating: -0.2, Platform: 0, Era: 0}
		assert.Error(t, cfg.Validate())
	})

	t.Run("factors bounded to unit interval", func(t *testing.T) {
		cfg := validRecConfig()
		cfg.Factors.Exploration = 1.5
		assert.Error(t, cfg.Validate())

		cfg = validRecConfig()
		cfg.Factors.Diversity = -0.1
		assert.Error(t, cfg.Validate())
	})

	t.Run("decay must be in half-open unit interval", func(t *testing.T) {
		cfg := validRecConfig()
		cfg.Decay.PerDay = 0
		assert.Error(t, cfg.Validate())

		cfg.Decay.PerDay = 1.01
		assert.Error(t, cfg.Validate())

		cfg.Decay.PerDay = 1
		assert.NoError(t, cfg.Validate())
	})

	t.Run("expiries must be positive", func(t *testing.T) {
		cfg := validRecConfig()
		cfg.TTL.ContentDays = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("caps must be positive", func(t *testing.T) {
		cfg := validRecConfig()
		cfg.Caps.GenerationWorkers = 0
		assert.Error(t, cfg.Validate())

		cfg = validRecConfig()
		cfg.Caps.MaxActivePerUser = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("realtime share bounded", func(t *testing.T) {
		cfg := validRecConfig()
		cfg.Realtime.CollaborativeShare = 1.2
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.InDelta(t, 1.0,
		cfg.Recommendation.Weights.Genre+cfg.Recommendation.Weights.Rating+
			cfg.Recommendation.Weights.Platform+cfg.Recommendation.Weights.Era, 1e-9)
	assert.Equal(t, 50, cfg.Recommendation.Caps.MaxActivePerUser)
	assert.Equal(t, 14, cfg.Recommendation.TTL.ContentDays)
	assert.Equal(t, "15 3 * * *", cfg.Recommendation.Scheduling.DailyGenerationCron)
	assert.True(t, cfg.Recommendation.Features.Collaborative)
}
