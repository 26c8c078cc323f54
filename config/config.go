package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Orchestrator  OrchestratorConfig
	Embedding     EmbeddingConfig
	Chat          ChatConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// OrchestratorConfig holds the routing, breaker and ledger defaults
type OrchestratorConfig struct {
	// RequestTimeout bounds a single provider call
	RequestTimeout time.Duration

	// FallbackMaxRetries bounds how many candidates one dispatch may try
	FallbackMaxRetries int

	// Score weights for candidate ranking
	QualityWeight float64
	CostWeight    float64
	LatencyWeight float64

	// Circuit breaker defaults, applied to every provider circuit
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMaxCalls int

	// Rate limiting defaults
	RequestsPerSecond float64
	Burst             int

	// Budget defaults
	DailyBudget    float64
	BudgetCurrency string

	// Ledger retention
	UsageRetention  time.Duration
	CleanupInterval time.Duration
}

// EmbeddingConfig holds the embedding provider configuration
type EmbeddingConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// ChatConfig holds the OpenAI-compatible chat provider configuration.
// The provider is registered only when BaseURL is set.
type ChatConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Orchestrator: OrchestratorConfig{
			RequestTimeout:     getEnvAsDuration("ORCHESTRATOR_REQUEST_TIMEOUT", 15*time.Second),
			FallbackMaxRetries: getEnvAsInt("ORCHESTRATOR_MAX_RETRIES", 3),
			QualityWeight:      getEnvAsFloat("ORCHESTRATOR_QUALITY_WEIGHT", 0.5),
			CostWeight:         getEnvAsFloat("ORCHESTRATOR_COST_WEIGHT", 0.3),
			LatencyWeight:      getEnvAsFloat("ORCHESTRATOR_LATENCY_WEIGHT", 0.2),
			FailureThreshold:   getEnvAsInt("CIRCUIT_FAILURE_THRESHOLD", 5),
			RecoveryTimeout:    getEnvAsDuration("CIRCUIT_RECOVERY_TIMEOUT", 60*time.Second),
			HalfOpenMaxCalls:   getEnvAsInt("CIRCUIT_HALF_OPEN_MAX_CALLS", 1),
			RequestsPerSecond:  getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:              getEnvAsInt("RATE_LIMIT_BURST", 20),
			DailyBudget:        getEnvAsFloat("BUDGET_DAILY_LIMIT", 0),
			BudgetCurrency:     getEnv("BUDGET_CURRENCY", "USD"),
			UsageRetention:     getEnvAsDuration("USAGE_RETENTION", 90*24*time.Hour),
			CleanupInterval:    getEnvAsDuration("USAGE_CLEANUP_INTERVAL", 6*time.Hour),
		},
		Embedding: EmbeddingConfig{
			BaseURL:    getEnv("EMBEDDING_BASE_URL", "http://localhost:8001"),
			Timeout:    getEnvAsDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvAsInt("EMBEDDING_MAX_RETRIES", 3),
		},
		Chat: ChatConfig{
			Name:       getEnv("CHAT_PROVIDER_NAME", "chat"),
			BaseURL:    getEnv("CHAT_BASE_URL", ""),
			APIKey:     getEnv("CHAT_API_KEY", ""),
			Timeout:    getEnvAsDuration("CHAT_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvAsInt("CHAT_MAX_RETRIES", 3),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Orchestrator.FallbackMaxRetries < 1 {
		return fmt.Errorf("fallback max retries must be at least 1")
	}
	if c.Orchestrator.FailureThreshold < 1 {
		return fmt.Errorf("circuit failure threshold must be at least 1")
	}
	if c.Orchestrator.HalfOpenMaxCalls < 1 {
		return fmt.Errorf("half-open max calls must be at least 1")
	}
	if c.Orchestrator.QualityWeight < 0 || c.Orchestrator.CostWeight < 0 || c.Orchestrator.LatencyWeight < 0 {
		return fmt.Errorf("score weights must be non-negative")
	}

	if c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding base URL is required")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", "orchestrator_password"),
		Database:        getEnv("DB_NAME", "orchestrator"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
