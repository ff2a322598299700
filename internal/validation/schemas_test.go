package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigPatch(t *testing.T) {
	v, err := NewConfigValidator()
	require.NoError(t, err)

	t.Run("valid payload", func(t *testing.T) {
		payload := []byte(`{
			"weights": {"genre": 0.4, "rating": 0.3, "platform": 0.15, "era": 0.15},
			"factors": {"exploration": 0.2},
			"ttl": {"content_days": 7, "group_days": 3}
		}`)
		assert.NoError(t, v.ValidateConfigPatch(payload))
	})

	t.Run("weight out of range", func(t *testing.T) {
		payload := []byte(`{"weights": {"genre": 1.4, "rating": 0.3, "platform": 0.15, "era": 0.15}}`)
		err := v.ValidateConfigPatch(payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})

	t.Run("partial weights rejected", func(t *testing.T) {
		// Weights reload all four terms or none; a partial set could not
		// satisfy the sum-to-one invariant downstream.
		payload := []byte(`{"weights": {"genre": 0.4}}`)
		assert.Error(t, v.ValidateConfigPatch(payload))
	})

	t.Run("unknown section rejected", func(t *testing.T) {
		payload := []byte(`{"surprise": true}`)
		assert.Error(t, v.ValidateConfigPatch(payload))
	})

	t.Run("wrong type rejected", func(t *testing.T) {
		payload := []byte(`{"ttl": {"content_days": "soon"}}`)
		assert.Error(t, v.ValidateConfigPatch(payload))
	})

	t.Run("zero decay rejected", func(t *testing.T) {
		payload := []byte(`{"decay": {"per_day": 0}}`)
		assert.Error(t, v.ValidateConfigPatch(payload))
	})

	t.Run("malformed json", func(t *testing.T) {
		assert.Error(t, v.ValidateConfigPatch([]byte(`{"weights":`)))
	})
}
