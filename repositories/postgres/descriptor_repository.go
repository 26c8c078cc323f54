package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/repositories"
)

// DescriptorRepository implements the repositories.DescriptorRepository interface
type DescriptorRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDescriptorRepository creates a new descriptor repository
func NewDescriptorRepository(db *DB, logger *zap.Logger) repositories.DescriptorRepository {
	return &DescriptorRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert writes a descriptor, replacing any previous one
func (r *DescriptorRepository) Upsert(ctx context.Context, d *models.ModelDescriptor) error {
	query := `
		INSERT INTO model_descriptors (
			model_id, provider, model_type, cost_per_token, max_tokens,
			average_latency_hint_ms, quality_score, is_available, is_active,
			capabilities, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (model_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			model_type = EXCLUDED.model_type,
			cost_per_token = EXCLUDED.cost_per_token,
			max_tokens = EXCLUDED.max_tokens,
			average_latency_hint_ms = EXCLUDED.average_latency_hint_ms,
			quality_score = EXCLUDED.quality_score,
			is_available = EXCLUDED.is_available,
			is_active = EXCLUDED.is_active,
			capabilities = EXCLUDED.capabilities,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		d.ModelID,
		d.Provider,
		d.ModelType,
		d.CostPerToken,
		d.MaxTokens,
		d.AverageLatencyHintMs,
		d.QualityScore,
		d.IsAvailable,
		d.IsActive,
		pq.Array(d.Capabilities),
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert model descriptor: %w", err)
	}

	r.logger.Debug("model descriptor upserted", zap.String("model_id", d.ModelID))
	return nil
}

// List retrieves the full catalog, ordered by model id
func (r *DescriptorRepository) List(ctx context.Context) ([]*models.ModelDescriptor, error) {
	query := `
		SELECT model_id, provider, model_type, cost_per_token, max_tokens,
		       average_latency_hint_ms, quality_score, is_available, is_active,
		       capabilities, created_at, updated_at
		FROM model_descriptors
		ORDER BY model_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list model descriptors: %w", err)
	}
	defer rows.Close()

	var descriptors []*models.ModelDescriptor
	for rows.Next() {
		d := &models.ModelDescriptor{}
		if err := rows.Scan(
			&d.ModelID,
			&d.Provider,
			&d.ModelType,
			&d.CostPerToken,
			&d.MaxTokens,
			&d.AverageLatencyHintMs,
			&d.QualityScore,
			&d.IsAvailable,
			&d.IsActive,
			pq.Array(&d.Capabilities),
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan model descriptor: %w", err)
		}
		descriptors = append(descriptors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model descriptors: %w", err)
	}
	return descriptors, nil
}
