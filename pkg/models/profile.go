package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ViewingPersonality is a closed-set label summarizing viewing behavior.
// Adding a value is a schema change and requires a backfill of explanations.
type ViewingPersonality string

const (
	PersonalityCasual        ViewingPersonality = "CASUAL"
	PersonalityCritic        ViewingPersonality = "CRITIC"
	PersonalityBingeWatcher  ViewingPersonality = "BINGE_WATCHER"
	PersonalityExplorer      ViewingPersonality = "EXPLORER"
	PersonalityComfortSeeker ViewingPersonality = "COMFORT_SEEKER"
	PersonalitySocial        ViewingPersonality = "SOCIAL"
	PersonalityTrendy        ViewingPersonality = "TRENDY"
	PersonalityNiche         ViewingPersonality = "NICHE"
	PersonalityCompletionist ViewingPersonality = "COMPLETIONIST"
	PersonalitySampler       ViewingPersonality = "SAMPLER"
)

// AllPersonalities lists the personalities in declaration order. Classifier
// ties break in this order.
var AllPersonalities = []ViewingPersonality{
	PersonalityCasual,
	PersonalityCritic,
	PersonalityBingeWatcher,
	PersonalityExplorer,
	PersonalityComfortSeeker,
	PersonalitySocial,
	PersonalityTrendy,
	PersonalityNiche,
	PersonalityCompletionist,
	PersonalitySampler,
}

type PreferredLength string

const (
	LengthShort  PreferredLength = "SHORT"  // < 30 minutes
	LengthMedium PreferredLength = "MEDIUM" // 30-120 minutes
	LengthLong   PreferredLength = "LONG"   // > 120 minutes
)

// PreferenceProfile is the per-user taste profile derived from interactions.
// Weight maps are always present (possibly empty) with values in [0,1].
type PreferenceProfile struct {
	UserID            uuid.UUID          `json:"user_id" db:"user_id"`
	GenreWeights      map[string]float64 `json:"genre_weights" db:"genre_weights"`
	PlatformWeights   map[string]float64 `json:"platform_weights" db:"platform_weights"`
	EraWeights        map[string]float64 `json:"era_weights" db:"era_weights"`
	PreferredLength   PreferredLength    `json:"preferred_length" db:"preferred_length"`
	AvgRating         float64            `json:"avg_rating" db:"avg_rating"`
	RatingVariance    float64            `json:"rating_variance" db:"rating_variance"`
	TotalInteractions int                `json:"total_interactions" db:"total_interactions"`
	TotalCompleted    int                `json:"total_completed" db:"total_completed"`
	CompletionRate    float64            `json:"completion_rate" db:"completion_rate"`
	Personality       ViewingPersonality `json:"personality" db:"personality"`
	Confidence        float64            `json:"confidence" db:"confidence"`
	LastCalculatedAt  time.Time          `json:"last_calculated_at" db:"last_calculated_at"`
}

// NewPreferenceProfile returns a zero-confidence default profile with all
// weight maps initialized.
func NewPreferenceProfile(userID uuid.UUID) *PreferenceProfile {
	return &PreferenceProfile{
		UserID:          userID,
		GenreWeights:    make(map[string]float64),
		PlatformWeights: make(map[string]float64),
		EraWeights:      make(map[string]float64),
		PreferredLength: LengthMedium,
		Personality:     PersonalityCasual,
	}
}

// HasSufficientData reports whether the profile can drive personalization
// instead of the trending fallback.
func (p *PreferenceProfile) HasSufficientData(minInteractions int, minConfidence float64) bool {
	return p.TotalInteractions >= minInteractions && p.Confidence >= minConfidence
}

// MarkForRecalculation zeroes the confidence so the next builder pass rebuilds
// the profile from scratch.
func (p *PreferenceProfile) MarkForRecalculation() {
	p.Confidence = 0
}

// TopGenres returns up to n genres ordered by descending weight.
func (p *PreferenceProfile) TopGenres(n int) []GenreWeight {
	out := make([]GenreWeight, 0, len(p.GenreWeights))
	for genre, weight := range p.GenreWeights {
		out = append(out, GenreWeight{Genre: genre, Weight: weight})
	}
	sortGenreWeights(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

type GenreWeight struct {
	Genre  string  `json:"genre"`
	Weight float64 `json:"weight"`
}

func sortGenreWeights(ws []GenreWeight) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].Weight != ws[j].Weight {
			return ws[i].Weight > ws[j].Weight
		}
		return ws[i].Genre < ws[j].Genre
	})
}
