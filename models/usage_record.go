package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one append-only ledger row, written once per dispatch
// attempt. Records are immutable after creation and are the sole source
// of truth for billing and audit.
type UsageRecord struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Endpoint       string     `json:"endpoint" db:"endpoint"`
	ModelID        string     `json:"model_id" db:"model_id"`
	TokensUsed     int        `json:"tokens_used" db:"tokens_used"`
	ResponseTimeMs float64    `json:"response_time_ms" db:"response_time_ms"`
	Success        bool       `json:"success" db:"success"`
	Cost           float64    `json:"cost" db:"cost"`
	UserID         *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the UsageRecord model
func (UsageRecord) TableName() string {
	return "usage_records"
}

// NewUsageRecord creates a ledger row with the cost snapshotted from the
// descriptor's per-token price at call time.
func NewUsageRecord(endpoint, modelID string, tokens int, costPerToken float64) *UsageRecord {
	return &UsageRecord{
		ID:         uuid.New(),
		Endpoint:   endpoint,
		ModelID:    modelID,
		TokensUsed: tokens,
		Cost:       float64(tokens) * costPerToken,
		CreatedAt:  time.Now().UTC(),
	}
}
