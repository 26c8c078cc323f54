package models

import (
	"time"
)

// ModelType classifies what a model is able to do
type ModelType string

const (
	ModelTypeEmbedding      ModelType = "embedding"
	ModelTypeQA             ModelType = "qa"
	ModelTypeClassification ModelType = "classification"
	ModelTypeGeneration     ModelType = "generation"
)

// ModelDescriptor is one catalog entry in the model registry.
// It is created and edited by admin tooling and read-only to the router.
type ModelDescriptor struct {
	ModelID string `json:"model_id" db:"model_id" validate:"required"`

	// Provider names the upstream vendor; it doubles as the circuit
	// breaker service key so that all models of a failing provider trip
	// together.
	Provider string `json:"provider" db:"provider" validate:"required"`

	ModelType ModelType `json:"model_type" db:"model_type" validate:"required,oneof=embedding qa classification generation"`

	// CostPerToken is the price snapshot applied to usage records at call
	// time. Edits never reprice already-appended records.
	CostPerToken float64 `json:"cost_per_token" db:"cost_per_token" validate:"gte=0"`

	MaxTokens int `json:"max_tokens" db:"max_tokens" validate:"gt=0"`

	// AverageLatencyHintMs is the static latency estimate used for ranking
	// until real performance data accumulates.
	AverageLatencyHintMs float64 `json:"average_latency_hint_ms" db:"average_latency_hint_ms" validate:"gte=0"`

	QualityScore float64 `json:"quality_score" db:"quality_score" validate:"gte=0,lte=1"`

	// IsAvailable reflects short-term operational state (e.g. provider
	// maintenance); IsActive is the long-term admin switch.
	IsAvailable bool `json:"is_available" db:"is_available"`
	IsActive    bool `json:"is_active" db:"is_active"`

	Capabilities []string `json:"capabilities" db:"capabilities"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the ModelDescriptor model
func (ModelDescriptor) TableName() string {
	return "model_descriptors"
}

// HasCapabilities reports whether the descriptor advertises every
// capability in required.
func (d *ModelDescriptor) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(d.Capabilities))
	for _, c := range d.Capabilities {
		have[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}

// Eligible reports whether the descriptor can serve a request of the
// given type with the given capabilities.
func (d *ModelDescriptor) Eligible(modelType ModelType, required []string) bool {
	return d.IsActive && d.IsAvailable && d.ModelType == modelType && d.HasCapabilities(required)
}
