package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// recommendationConfigSchema guards the admin runtime-reload payload before
// it reaches the typed validator: structure and ranges here, the sum-to-one
// invariant in config.Validate.
const recommendationConfigSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"weights": {
			"type": "object",
			"properties": {
				"genre":    {"type": "number", "minimum": 0, "maximum": 1},
				"rating":   {"type": "number", "minimum": 0, "maximum": 1},
				"platform": {"type": "number", "minimum": 0, "maximum": 1},
				"era":      {"type": "number", "minimum": 0, "maximum": 1}
			},
			"required": ["genre", "rating", "platform", "era"],
			"additionalProperties": false
		},
		"factors": {
			"type": "object",
			"properties": {
				"personalization": {"type": "number", "minimum": 0, "maximum": 1},
				"diversity":       {"type": "number", "minimum": 0, "maximum": 1},
				"exploration":     {"type": "number", "minimum": 0, "maximum": 1}
			},
			"additionalProperties": false
		},
		"thresholds": {
			"type": "object",
			"properties": {
				"min_interactions_for_confidence": {"type": "integer", "minimum": 0},
				"min_confidence_to_personalize":   {"type": "number", "minimum": 0, "maximum": 1}
			},
			"additionalProperties": false
		},
		"decay": {
			"type": "object",
			"properties": {
				"per_day": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
			},
			"additionalProperties": false
		},
		"ttl": {
			"type": "object",
			"properties": {
				"content_days": {"type": "integer", "minimum": 1},
				"group_days":   {"type": "integer", "minimum": 1}
			},
			"additionalProperties": false
		},
		"caps": {
			"type": "object",
			"properties": {
				"max_active_per_user": {"type": "integer", "minimum": 1},
				"generation_workers":  {"type": "integer", "minimum": 1},
				"candidate_pool":      {"type": "integer", "minimum": 1}
			},
			"additionalProperties": false
		},
		"features": {
			"type": "object",
			"additionalProperties": {"type": "boolean"}
		},
		"realtime": {
			"type": "object",
			"properties": {
				"collaborative_share": {"type": "number", "minimum": 0, "maximum": 1}
			},
			"additionalProperties": false
		},
		"scheduling":  {"type": "object"},
		"cache_ttl":   {"type": "object"},
		"group_match": {"type": "object"},
		"personality": {"type": "object"}
	},
	"additionalProperties": false
}`

// ConfigValidator validates runtime configuration reloads.
type ConfigValidator struct {
	schema *gojsonschema.Schema
}

func NewConfigValidator() (*ConfigValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(recommendationConfigSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	return &ConfigValidator{schema: schema}, nil
}

// ValidateConfigPatch checks a raw reload payload against the schema.
// Returns a joined, user-facing error list on failure.
func (v *ConfigValidator) ValidateConfigPatch(payload []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("config payload is not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
