package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/repositories"
)

// Store adapts the Postgres repositories to the ledger store and the
// registry descriptor store.
type Store struct {
	repos *repositories.Repositories
}

// NewStore creates a store over the given database
func NewStore(db *DB, logger *zap.Logger) *Store {
	return &Store{
		repos: &repositories.Repositories{
			Usage:       NewUsageRepository(db, logger),
			Performance: NewPerformanceRepository(db, logger),
			Descriptors: NewDescriptorRepository(db, logger),
		},
	}
}

// Repositories exposes the underlying repository instances
func (s *Store) Repositories() *repositories.Repositories {
	return s.repos
}

// InsertUsage appends one usage record
func (s *Store) InsertUsage(ctx context.Context, record *models.UsageRecord) error {
	return s.repos.Usage.Insert(ctx, record)
}

// SumUserCost totals a user's ledger cost since the window start
func (s *Store) SumUserCost(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error) {
	return s.repos.Usage.SumUserCost(ctx, userID, since)
}

// UpsertPerformance writes a rollup snapshot
func (s *Store) UpsertPerformance(ctx context.Context, perf *models.ModelPerformance) error {
	return s.repos.Performance.Upsert(ctx, perf)
}

// ListPerformance retrieves every rollup
func (s *Store) ListPerformance(ctx context.Context) ([]*models.ModelPerformance, error) {
	return s.repos.Performance.List(ctx)
}

// DeleteUsageBefore prunes usage records older than the cutoff
func (s *Store) DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repos.Usage.DeleteBefore(ctx, cutoff)
}

// ListDescriptors retrieves the full model catalog
func (s *Store) ListDescriptors(ctx context.Context) ([]*models.ModelDescriptor, error) {
	return s.repos.Descriptors.List(ctx)
}

// UpsertDescriptor writes one catalog entry
func (s *Store) UpsertDescriptor(ctx context.Context, d *models.ModelDescriptor) error {
	return s.repos.Descriptors.Upsert(ctx, d)
}
