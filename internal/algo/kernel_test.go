package algo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	vec := map[string]float64{"drama": 0.6, "comedy": 0.3, "horror": 0.1}

	t.Run("identical vectors", func(t *testing.T) {
		assert.InDelta(t, 1.0, CosineSimilarity(vec, vec), 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		other := map[string]float64{"drama": 0.2, "scifi": 0.8}
		assert.InDelta(t, CosineSimilarity(vec, other), CosineSimilarity(other, vec), 1e-9)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		other := map[string]float64{"scifi": 1.0}
		assert.Equal(t, 0.0, CosineSimilarity(vec, other))
	})

	t.Run("empty vector", func(t *testing.T) {
		assert.Equal(t, 0.0, CosineSimilarity(vec, nil))
		assert.Equal(t, 0.0, CosineSimilarity(nil, vec))
	})

	t.Run("zero magnitude", func(t *testing.T) {
		zero := map[string]float64{"drama": 0}
		assert.Equal(t, 0.0, CosineSimilarity(vec, zero))
	})
}

func TestJaccardSimilarity(t *testing.T) {
	t.Run("both empty is identical", func(t *testing.T) {
		assert.Equal(t, 1.0, JaccardSimilarity(nil, nil))
	})

	t.Run("one empty", func(t *testing.T) {
		assert.Equal(t, 0.0, JaccardSimilarity([]string{"drama"}, nil))
	})

	t.Run("partial overlap", func(t *testing.T) {
		a := []string{"drama", "comedy", "horror"}
		b := []string{"drama", "scifi"}
		// intersection 1, union 4
		assert.InDelta(t, 0.25, JaccardSimilarity(a, b), 1e-9)
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		a := []string{"drama", "drama"}
		b := []string{"drama"}
		assert.Equal(t, 1.0, JaccardSimilarity(a, b))
	})
}

func TestPearsonCorrelation(t *testing.T) {
	t.Run("perfect positive", func(t *testing.T) {
		xs := []float64{1, 2, 3, 4}
		ys := []float64{2, 4, 6, 8}
		assert.InDelta(t, 1.0, PearsonCorrelation(xs, ys), 1e-9)
	})

	t.Run("perfect negative", func(t *testing.T) {
		xs := []float64{1, 2, 3}
		ys := []float64{3, 2, 1}
		assert.InDelta(t, -1.0, PearsonCorrelation(xs, ys), 1e-9)
	})

	t.Run("zero variance", func(t *testing.T) {
		assert.Equal(t, 0.0, PearsonCorrelation([]float64{5, 5, 5}, []float64{1, 2, 3}))
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		assert.Equal(t, 0.0, PearsonCorrelation([]float64{1, 2}, []float64{1}))
	})

	t.Run("too few samples", func(t *testing.T) {
		assert.Equal(t, 0.0, PearsonCorrelation([]float64{1}, []float64{1}))
	})
}

func TestApplyTimeDecayAt(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	t.Run("ten days old", func(t *testing.T) {
		then := now.AddDate(0, 0, -10)
		got := ApplyTimeDecayAt(1.0, then, now, 0.995)
		assert.InDelta(t, math.Pow(0.995, 10), got, 1e-9)
	})

	t.Run("same day keeps full score", func(t *testing.T) {
		assert.Equal(t, 0.8, ApplyTimeDecayAt(0.8, now, now, 0.995))
	})

	t.Run("future timestamp counts as fresh", func(t *testing.T) {
		future := now.AddDate(0, 0, 3)
		assert.Equal(t, 0.8, ApplyTimeDecayAt(0.8, future, now, 0.995))
	})
}

func TestNormalizeScores(t *testing.T) {
	t.Run("scales to unit interval preserving order", func(t *testing.T) {
		in := map[string]float64{"a": 2, "b": 6, "c": 10}
		out := NormalizeScores(in)
		require.Len(t, out, 3)
		assert.Equal(t, 0.0, out["a"])
		assert.InDelta(t, 0.5, out["b"], 1e-9)
		assert.Equal(t, 1.0, out["c"])
	})

	t.Run("all equal maps to midpoint", func(t *testing.T) {
		out := NormalizeScores(map[string]float64{"a": 4, "b": 4})
		assert.Equal(t, 0.5, out["a"])
		assert.Equal(t, 0.5, out["b"])
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, NormalizeScores(nil))
	})
}

func TestWeightedAverage(t *testing.T) {
	t.Run("weights dominate", func(t *testing.T) {
		got := WeightedAverage([]float64{10, 0}, []float64{3, 1})
		assert.InDelta(t, 7.5, got, 1e-9)
	})

	t.Run("zero total weight", func(t *testing.T) {
		assert.Equal(t, 0.0, WeightedAverage([]float64{1, 2}, []float64{0, 0}))
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		assert.Equal(t, 0.0, WeightedAverage([]float64{1}, []float64{1, 2}))
	})
}

func TestCalculateDiversity(t *testing.T) {
	t.Run("single category", func(t *testing.T) {
		assert.Equal(t, 0.0, CalculateDiversity(map[string]float64{"drama": 1}))
	})

	t.Run("uniform distribution is maximal", func(t *testing.T) {
		dist := map[string]float64{"a": 0.25, "b": 0.25, "c": 0.25, "d": 0.25}
		assert.InDelta(t, 1.0, CalculateDiversity(dist), 1e-9)
	})

	t.Run("skew lowers diversity", func(t *testing.T) {
		skewed := CalculateDiversity(map[string]float64{"a": 0.9, "b": 0.05, "c": 0.05})
		uniform := CalculateDiversity(map[string]float64{"a": 1, "b": 1, "c": 1})
		assert.Less(t, skewed, uniform)
	})

	t.Run("empty distribution", func(t *testing.T) {
		assert.Equal(t, 0.0, CalculateDiversity(nil))
	})
}

func TestCalculateConfidenceScore(t *testing.T) {
	t.Run("no history", func(t *testing.T) {
		assert.Equal(t, 0.0, CalculateConfidenceScore(0, 0, 0))
	})

	t.Run("saturated history", func(t *testing.T) {
		assert.InDelta(t, 1.0, CalculateConfidenceScore(200, 90, 1.0), 1e-9)
	})

	t.Run("volume saturates at fifty", func(t *testing.T) {
		assert.Equal(t,
			CalculateConfidenceScore(50, 10, 0.5),
			CalculateConfidenceScore(500, 10, 0.5))
	})

	t.Run("partial history", func(t *testing.T) {
		// 0.5*(25/50) + 0.3*(15/30) + 0.2*0.5
		assert.InDelta(t, 0.5, CalculateConfidenceScore(25, 15, 0.5), 1e-9)
	})
}

func TestRankWithDecay(t *testing.T) {
	scores := map[string]float64{"a": 1.0, "b": 0.8, "c": 0.6}
	ranked := RankWithDecay(scores, 0.9)
	require.Len(t, ranked, 3)

	assert.Equal(t, "a", ranked[0].Key)
	assert.Equal(t, 1.0, ranked[0].Score)
	assert.InDelta(t, 0.8*0.9, ranked[1].Score, 1e-9)
	assert.InDelta(t, 0.6*0.81, ranked[2].Score, 1e-9)
}

func TestSigmoid(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0, 1), 1e-9)
	assert.Greater(t, Sigmoid(5, 1), 0.99)
	assert.Less(t, Sigmoid(-5, 1), 0.01)
}
