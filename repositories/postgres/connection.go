package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/config"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Model catalog
		CREATE TABLE IF NOT EXISTS model_descriptors (
			model_id VARCHAR(255) PRIMARY KEY,
			provider VARCHAR(100) NOT NULL,
			model_type VARCHAR(50) NOT NULL,
			cost_per_token DECIMAL(12, 8) NOT NULL DEFAULT 0,
			max_tokens INTEGER NOT NULL,
			average_latency_hint_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_available BOOLEAN NOT NULL DEFAULT true,
			is_active BOOLEAN NOT NULL DEFAULT true,
			capabilities TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Append-only usage ledger
		CREATE TABLE IF NOT EXISTS usage_records (
			id UUID PRIMARY KEY,
			endpoint VARCHAR(255) NOT NULL,
			model_id VARCHAR(255) NOT NULL,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			response_time_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			cost DECIMAL(12, 6) NOT NULL DEFAULT 0,
			user_id UUID,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Per-model performance rollups
		CREATE TABLE IF NOT EXISTS model_performance (
			model_id VARCHAR(255) PRIMARY KEY,
			total_requests BIGINT NOT NULL DEFAULT 0,
			successful_requests BIGINT NOT NULL DEFAULT 0,
			failed_requests BIGINT NOT NULL DEFAULT 0,
			average_latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
			average_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_cost DECIMAL(14, 6) NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			last_used_at TIMESTAMP,
			last_success_at TIMESTAMP,
			last_failure_at TIMESTAMP
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_model_descriptors_provider ON model_descriptors(provider);
		CREATE INDEX IF NOT EXISTS idx_model_descriptors_model_type ON model_descriptors(model_type);

		CREATE INDEX IF NOT EXISTS idx_usage_records_model_id ON usage_records(model_id);
		CREATE INDEX IF NOT EXISTS idx_usage_records_user_id ON usage_records(user_id);
		CREATE INDEX IF NOT EXISTS idx_usage_records_created_at ON usage_records(created_at);
		CREATE INDEX IF NOT EXISTS idx_usage_records_user_created ON usage_records(user_id, created_at);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
