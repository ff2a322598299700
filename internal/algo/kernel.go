// Package algo holds the pure mathematical primitives behind profile building
// and recommendation scoring. Everything here is stateless and deterministic.
package algo

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CosineSimilarity computes the cosine of two sparse vectors keyed by string.
// Missing keys contribute 0; an empty vector on either side yields 0.
func CosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for k, va := range a {
		normA += va * va
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// JaccardSimilarity computes set overlap of two tag sets. Two empty sets are
// considered identical (1.0), which is the convention for tag overlap.
func JaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}

	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}

	intersection := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

// PearsonCorrelation returns the Pearson correlation of two samples, or 0 when
// the lengths differ, fewer than two samples exist, or either variance is 0.
func PearsonCorrelation(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// ApplyTimeDecay discounts a score by decayPerDay^daysOld relative to now.
// Timestamps in the future count as zero days old.
func ApplyTimeDecay(score float64, timestamp time.Time, decayPerDay float64) float64 {
	return ApplyTimeDecayAt(score, timestamp, time.Now(), decayPerDay)
}

// ApplyTimeDecayAt is ApplyTimeDecay with an explicit reference instant.
func ApplyTimeDecayAt(score float64, timestamp, now time.Time, decayPerDay float64) float64 {
	daysOld := int(now.Sub(timestamp).Hours() / 24)
	if daysOld < 0 {
		daysOld = 0
	}
	return score * math.Pow(decayPerDay, float64(daysOld))
}

// NormalizeScores min-max scales the values to [0,1]. When all values are
// equal every output is 0.5. Relative order of distinct inputs is preserved.
func NormalizeScores(scores map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	minV := math.Inf(1)
	maxV := math.Inf(-1)
	for _, v := range scores {
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}

	spread := maxV - minV
	for k, v := range scores {
		if spread == 0 {
			out[k] = 0.5
		} else {
			out[k] = (v - minV) / spread
		}
	}
	return out
}

// WeightedAverage returns the weight-normalized mean of values, or 0 when the
// slices mismatch, are empty, or the total weight is 0.
func WeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}
	if floats.Sum(weights) == 0 {
		return 0
	}
	return stat.Mean(values, weights)
}

// CalculateDiversity measures how evenly a weight distribution is spread over
// its categories: Shannon entropy normalized by log2(|categories|). Empty or
// single-category distributions score 0; a uniform distribution scores 1.
func CalculateDiversity(distribution map[string]float64) float64 {
	if len(distribution) <= 1 {
		return 0
	}

	total := 0.0
	for _, v := range distribution {
		if v > 0 {
			total += v
		}
	}
	if total == 0 {
		return 0
	}

	entropy := 0.0
	for _, v := range distribution {
		if v <= 0 {
			continue
		}
		p := v / total
		entropy -= p * math.Log2(p)
	}

	return entropy / math.Log2(float64(len(distribution)))
}

// CalculateConfidenceScore blends interaction volume, history span, and taste
// diversity into a [0,1] confidence estimate. Volume saturates at 50
// interactions, span at 30 days.
func CalculateConfidenceScore(interactionCount int, timeSpanDays, diversity float64) float64 {
	volume := math.Min(1, float64(interactionCount)/50.0)
	span := math.Min(1, timeSpanDays/30.0)
	return 0.5*volume + 0.3*span + 0.2*diversity
}

// Sigmoid maps x to (0,1) with the given steepness.
func Sigmoid(x, steepness float64) float64 {
	return 1.0 / (1.0 + math.Exp(-steepness*x))
}

// RankedScore is one entry of a rank-decayed ordering.
type RankedScore struct {
	Key   string
	Score float64
}

// RankWithDecay sorts scores descending and discounts each by
// decayRate^position, so later positions matter geometrically less.
func RankWithDecay(scores map[string]float64, decayRate float64) []RankedScore {
	ranked := make([]RankedScore, 0, len(scores))
	for k, v := range scores {
		ranked = append(ranked, RankedScore{Key: k, Score: v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Key < ranked[j].Key
	})

	for i := range ranked {
		ranked[i].Score *= math.Pow(decayRate, float64(i))
	}
	return ranked
}
