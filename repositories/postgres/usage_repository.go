package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/repositories"
)

// UsageRepository implements the repositories.UsageRepository interface
type UsageRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB, logger *zap.Logger) repositories.UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends one immutable usage record
func (r *UsageRepository) Insert(ctx context.Context, record *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			id, endpoint, model_id, tokens_used, response_time_ms,
			success, cost, user_id, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.Endpoint,
		record.ModelID,
		record.TokensUsed,
		record.ResponseTimeMs,
		record.Success,
		record.Cost,
		record.UserID,
		nullableString(record.ErrorMessage),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	r.logger.Debug("usage record inserted",
		zap.String("id", record.ID.String()),
		zap.String("model_id", record.ModelID))
	return nil
}

// SumUserCost totals a user's cost since the window start. The insert
// above is synchronous, so a sum issued after an append sees it.
func (r *UsageRepository) SumUserCost(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM usage_records
		WHERE user_id = $1 AND created_at >= $2
	`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, userID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum user cost: %w", err)
	}
	return total, nil
}

// ListRecent returns the newest records, newest first
func (r *UsageRepository) ListRecent(ctx context.Context, limit int) ([]*models.UsageRecord, error) {
	query := `
		SELECT id, endpoint, model_id, tokens_used, response_time_ms,
		       success, cost, user_id, error_message, created_at
		FROM usage_records
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	return scanUsageRecords(rows)
}

// ListByModel returns the newest records for one model, newest first
func (r *UsageRepository) ListByModel(ctx context.Context, modelID string, limit int) ([]*models.UsageRecord, error) {
	query := `
		SELECT id, endpoint, model_id, tokens_used, response_time_ms,
		       success, cost, user_id, error_message, created_at
		FROM usage_records
		WHERE model_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, modelID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	defer rows.Close()

	return scanUsageRecords(rows)
}

// DeleteBefore prunes records older than the cutoff
func (r *UsageRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted usage records: %w", err)
	}
	return deleted, nil
}

func scanUsageRecords(rows *sql.Rows) ([]*models.UsageRecord, error) {
	var records []*models.UsageRecord
	for rows.Next() {
		record := &models.UsageRecord{}
		var errMsg sql.NullString

		if err := rows.Scan(
			&record.ID,
			&record.Endpoint,
			&record.ModelID,
			&record.TokensUsed,
			&record.ResponseTimeMs,
			&record.Success,
			&record.Cost,
			&record.UserID,
			&errMsg,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		record.ErrorMessage = errMsg.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage records: %w", err)
	}
	return records, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
