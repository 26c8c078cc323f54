package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/config"
	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/repositories"
	"github.com/projecthub/ai-orchestrator/repositories/postgres"
	"github.com/projecthub/ai-orchestrator/services/budget"
	"github.com/projecthub/ai-orchestrator/services/circuitbreaker"
	"github.com/projecthub/ai-orchestrator/services/ledger"
	"github.com/projecthub/ai-orchestrator/services/providers"
	"github.com/projecthub/ai-orchestrator/services/providers/chat"
	"github.com/projecthub/ai-orchestrator/services/providers/embedding"
	"github.com/projecthub/ai-orchestrator/services/ratelimit"
	"github.com/projecthub/ai-orchestrator/services/registry"
	"github.com/projecthub/ai-orchestrator/services/router"
)

// Dependencies holds all application dependencies. This is the central
// wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Store  *postgres.Store
	Logger *zap.Logger

	// Core services
	Ledger    *ledger.Service
	Catalog   *registry.Registry
	Breaker   *circuitbreaker.Engine
	Limiter   *ratelimit.Service
	Budget    *budget.Service
	Providers *providers.Set
	Router    *router.Service
}

// Repositories exposes the durable repositories for handlers that read
// the ledger directly.
func (d *Dependencies) Repositories() *repositories.Repositories {
	return d.Store.Repositories()
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initServices(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initProviders(cfg)
	deps.initRouter(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL pool, schema and the store
// adapter shared by the ledger and the model catalog.
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Store = postgres.NewStore(db, d.Logger)
	return nil
}

// initServices builds the ledger, catalog, breaker, limiter and budget
// enforcer, warming the in-memory state from the database.
func (d *Dependencies) initServices(ctx context.Context, cfg *config.Config) error {
	d.Ledger = ledger.NewService(d.Store, d.Logger)
	if err := d.Ledger.Load(ctx); err != nil {
		return fmt.Errorf("failed to load performance rollups: %w", err)
	}

	d.Catalog = registry.NewRegistry(d.Store, d.Logger)
	if err := d.Catalog.Load(ctx); err != nil {
		return fmt.Errorf("failed to load model catalog: %w", err)
	}

	d.Breaker = circuitbreaker.NewEngine(models.CircuitBreakerConfig{
		FailureThreshold: cfg.Orchestrator.FailureThreshold,
		RecoveryTimeout:  cfg.Orchestrator.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Orchestrator.HalfOpenMaxCalls,
	}, d.Logger)

	d.Limiter = ratelimit.NewService(d.Logger)
	d.Budget = budget.NewService(d.Ledger, d.Logger)

	d.Logger.Info("core services initialized",
		zap.Int("models", d.Catalog.Count()))
	return nil
}

// initProviders registers the provider adapters.
func (d *Dependencies) initProviders(cfg *config.Config) {
	d.Providers = providers.NewSet()

	embedAdapter := embedding.NewAdapter(embedding.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		Timeout:    cfg.Embedding.Timeout,
		MaxRetries: cfg.Embedding.MaxRetries,
	})
	if err := d.Providers.Register(embedAdapter); err != nil {
		d.Logger.Warn("failed to register embedding provider", zap.Error(err))
	}

	if cfg.Chat.BaseURL != "" {
		chatAdapter := chat.NewAdapter(chat.Config{
			Name:       cfg.Chat.Name,
			BaseURL:    cfg.Chat.BaseURL,
			APIKey:     cfg.Chat.APIKey,
			Timeout:    cfg.Chat.Timeout,
			MaxRetries: cfg.Chat.MaxRetries,
		})
		if err := d.Providers.Register(chatAdapter); err != nil {
			d.Logger.Warn("failed to register chat provider", zap.Error(err))
		}
	}

	d.Logger.Info("providers registered",
		zap.Strings("providers", d.Providers.Names()))
}

// initRouter builds the dispatch router and seeds its defaults from the
// environment configuration.
func (d *Dependencies) initRouter(cfg *config.Config) {
	d.Router = router.NewService(
		d.Catalog,
		d.Breaker,
		d.Limiter,
		d.Budget,
		d.Ledger,
		d.Providers,
		d.Logger,
	)
	d.Router.SetDefaults(serviceDefaults(cfg.Orchestrator))
}

// Close releases held resources in reverse dependency order.
func (d *Dependencies) Close() error {
	if d.Limiter != nil {
		d.Limiter.Stop()
	}
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// serviceDefaults translates the environment orchestrator settings into
// the per-service configuration applied to unconfigured service keys.
func serviceDefaults(o config.OrchestratorConfig) models.ServiceConfig {
	cfg := models.DefaultServiceConfig("")
	cfg.RequestTimeout = o.RequestTimeout
	cfg.Fallback.MaxRetries = o.FallbackMaxRetries
	cfg.Scoring = models.ScoreWeights{
		Quality: o.QualityWeight,
		Cost:    o.CostWeight,
		Latency: o.LatencyWeight,
	}
	cfg.CircuitBreaker = models.CircuitBreakerConfig{
		FailureThreshold: o.FailureThreshold,
		RecoveryTimeout:  o.RecoveryTimeout,
		HalfOpenMaxCalls: o.HalfOpenMaxCalls,
	}
	cfg.RateLimit.RequestsPerSecond = o.RequestsPerSecond
	cfg.RateLimit.Burst = o.Burst
	cfg.Budget.MaxCostPerWindow = o.DailyBudget
	cfg.Budget.Currency = o.BudgetCurrency
	return cfg
}
