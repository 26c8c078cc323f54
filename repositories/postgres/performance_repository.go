package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/repositories"
)

// ErrPerformanceNotFound is returned when a model has no rollup yet
var ErrPerformanceNotFound = errors.New("performance rollup not found")

// PerformanceRepository implements the repositories.PerformanceRepository interface
type PerformanceRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPerformanceRepository creates a new performance repository
func NewPerformanceRepository(db *DB, logger *zap.Logger) repositories.PerformanceRepository {
	return &PerformanceRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert writes a rollup snapshot, replacing any previous one. The
// in-process rollup is authoritative, so the whole row is overwritten.
func (r *PerformanceRepository) Upsert(ctx context.Context, perf *models.ModelPerformance) error {
	query := `
		INSERT INTO model_performance (
			model_id, total_requests, successful_requests, failed_requests,
			average_latency_ms, average_cost, total_cost, total_tokens,
			last_used_at, last_success_at, last_failure_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (model_id) DO UPDATE SET
			total_requests = EXCLUDED.total_requests,
			successful_requests = EXCLUDED.successful_requests,
			failed_requests = EXCLUDED.failed_requests,
			average_latency_ms = EXCLUDED.average_latency_ms,
			average_cost = EXCLUDED.average_cost,
			total_cost = EXCLUDED.total_cost,
			total_tokens = EXCLUDED.total_tokens,
			last_used_at = EXCLUDED.last_used_at,
			last_success_at = EXCLUDED.last_success_at,
			last_failure_at = EXCLUDED.last_failure_at
	`

	_, err := r.db.ExecContext(ctx, query,
		perf.ModelID,
		perf.TotalRequests,
		perf.SuccessfulRequests,
		perf.FailedRequests,
		perf.AverageLatencyMs,
		perf.AverageCost,
		perf.TotalCost,
		perf.TotalTokens,
		perf.LastUsedAt,
		perf.LastSuccessAt,
		perf.LastFailureAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert performance rollup: %w", err)
	}
	return nil
}

// Get retrieves one model's rollup
func (r *PerformanceRepository) Get(ctx context.Context, modelID string) (*models.ModelPerformance, error) {
	query := `
		SELECT model_id, total_requests, successful_requests, failed_requests,
		       average_latency_ms, average_cost, total_cost, total_tokens,
		       last_used_at, last_success_at, last_failure_at
		FROM model_performance
		WHERE model_id = $1
	`

	perf := &models.ModelPerformance{}
	err := r.db.QueryRowContext(ctx, query, modelID).Scan(
		&perf.ModelID,
		&perf.TotalRequests,
		&perf.SuccessfulRequests,
		&perf.FailedRequests,
		&perf.AverageLatencyMs,
		&perf.AverageCost,
		&perf.TotalCost,
		&perf.TotalTokens,
		&perf.LastUsedAt,
		&perf.LastSuccessAt,
		&perf.LastFailureAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPerformanceNotFound
		}
		return nil, fmt.Errorf("failed to get performance rollup: %w", err)
	}
	return perf, nil
}

// List retrieves every rollup, ordered by model id
func (r *PerformanceRepository) List(ctx context.Context) ([]*models.ModelPerformance, error) {
	query := `
		SELECT model_id, total_requests, successful_requests, failed_requests,
		       average_latency_ms, average_cost, total_cost, total_tokens,
		       last_used_at, last_success_at, last_failure_at
		FROM model_performance
		ORDER BY model_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list performance rollups: %w", err)
	}
	defer rows.Close()

	var rollups []*models.ModelPerformance
	for rows.Next() {
		perf := &models.ModelPerformance{}
		if err := rows.Scan(
			&perf.ModelID,
			&perf.TotalRequests,
			&perf.SuccessfulRequests,
			&perf.FailedRequests,
			&perf.AverageLatencyMs,
			&perf.AverageCost,
			&perf.TotalCost,
			&perf.TotalTokens,
			&perf.LastUsedAt,
			&perf.LastSuccessAt,
			&perf.LastFailureAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan performance rollup: %w", err)
		}
		rollups = append(rollups, perf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate performance rollups: %w", err)
	}
	return rollups, nil
}
