package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/projecthub/ai-orchestrator/models"
)

// UsageRepository handles the append-only usage ledger rows
type UsageRepository interface {
	// Insert appends one immutable usage record
	Insert(ctx context.Context, record *models.UsageRecord) error

	// SumUserCost totals a user's cost since the window start
	SumUserCost(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error)

	// ListRecent returns the newest records, newest first
	ListRecent(ctx context.Context, limit int) ([]*models.UsageRecord, error)

	// ListByModel returns the newest records for one model, newest first
	ListByModel(ctx context.Context, modelID string, limit int) ([]*models.UsageRecord, error)

	// DeleteBefore prunes records older than the cutoff
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PerformanceRepository handles the per-model performance rollups
type PerformanceRepository interface {
	// Upsert writes a rollup snapshot, replacing any previous one
	Upsert(ctx context.Context, perf *models.ModelPerformance) error

	// Get retrieves one model's rollup
	Get(ctx context.Context, modelID string) (*models.ModelPerformance, error)

	// List retrieves every rollup, ordered by model id
	List(ctx context.Context) ([]*models.ModelPerformance, error)
}

// DescriptorRepository handles the model catalog entries
type DescriptorRepository interface {
	// Upsert writes a descriptor, replacing any previous one
	Upsert(ctx context.Context, d *models.ModelDescriptor) error

	// List retrieves the full catalog, ordered by model id
	List(ctx context.Context) ([]*models.ModelDescriptor, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Usage       UsageRepository
	Performance PerformanceRepository
	Descriptors DescriptorRepository
}
