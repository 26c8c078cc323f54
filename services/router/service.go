package router

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/services/budget"
	"github.com/projecthub/ai-orchestrator/services/circuitbreaker"
	"github.com/projecthub/ai-orchestrator/services/ledger"
	"github.com/projecthub/ai-orchestrator/services/providers"
)

// Catalog is the model registry surface the router reads.
type Catalog interface {
	Eligible(modelType models.ModelType, requiredCapabilities []string) []*models.ModelDescriptor
}

// Breaker is the circuit breaker surface the router drives.
type Breaker interface {
	Allow(serviceKey string) error
	RecordSuccess(serviceKey string)
	RecordFailure(serviceKey string)
}

// Limiter gates request admission per service.
type Limiter interface {
	Acquire(ctx context.Context, serviceKey string, userID *uuid.UUID, cfg models.RateLimitConfig) error
}

// BudgetChecker answers whether an estimated cost fits the user budget.
type BudgetChecker interface {
	Check(ctx context.Context, req budget.CheckRequest) (*budget.CheckResult, error)
}

// Ledger records attempt outcomes and serves performance rollups.
type Ledger interface {
	Append(ctx context.Context, record *models.UsageRecord) error
	Update(ctx context.Context, modelID string, out ledger.Outcome)
	Performance(modelID string) (models.ModelPerformance, bool)
}

// ProviderSource resolves provider adapters by name.
type ProviderSource interface {
	Get(name string) (providers.Provider, error)
}

// Request is one dispatch through the fallback chain.
type Request struct {
	// ServiceKey names the calling AI service (e.g. "semantic-search").
	ServiceKey string

	ModelType            models.ModelType
	RequiredCapabilities []string

	// Prompt is the input for text-shaped model types.
	Prompt string

	// Inputs is the input batch for embedding-shaped model types.
	Inputs []string
	Normalize bool

	UserID *uuid.UUID

	// EstimatedTokens sizes the budget pre-check. Zero means estimate
	// from the input length.
	EstimatedTokens int

	Metadata map[string]string
}

// Result is a served dispatch, annotated with the candidate that
// actually answered.
type Result struct {
	Response *providers.Response `json:"response"`

	ModelID  string  `json:"model_id"`
	Provider string  `json:"provider"`
	Attempts int     `json:"attempts"`
	Cost     float64 `json:"cost"`

	LatencyMs float64 `json:"latency_ms"`
}

// Service is the model selection and fallback router. Every dispatch
// walks the ranked candidate chain: budget pre-check, circuit check,
// timed provider call, outcome recording, then cascade on failure.
type Service struct {
	catalog   Catalog
	breaker   Breaker
	limiter   Limiter
	budget    BudgetChecker
	ledger    Ledger
	providers ProviderSource
	logger    *zap.Logger

	mu       sync.RWMutex
	configs  map[string]models.ServiceConfig
	defaults *models.ServiceConfig
}

// NewService creates a router over the given collaborators.
func NewService(
	catalog Catalog,
	breaker Breaker,
	limiter Limiter,
	budgetChecker BudgetChecker,
	usageLedger Ledger,
	providerSet ProviderSource,
	logger *zap.Logger,
) *Service {
	return &Service{
		catalog:   catalog,
		breaker:   breaker,
		limiter:   limiter,
		budget:    budgetChecker,
		ledger:    usageLedger,
		providers: providerSet,
		logger:    logger,
		configs:   make(map[string]models.ServiceConfig),
	}
}

// Configure installs per-service routing configuration.
func (s *Service) Configure(cfg models.ServiceConfig) {
	s.mu.Lock()
	s.configs[cfg.ServiceKey] = cfg
	s.mu.Unlock()
}

// SetDefaults replaces the built-in defaults applied to service keys
// without an explicit configuration. The service key field of cfg is
// ignored; it is stamped per lookup.
func (s *Service) SetDefaults(cfg models.ServiceConfig) {
	s.mu.Lock()
	s.defaults = &cfg
	s.mu.Unlock()
}

// Config returns the effective configuration for a service key,
// falling back to defaults for unknown keys.
func (s *Service) Config(serviceKey string) models.ServiceConfig {
	s.mu.RLock()
	cfg, ok := s.configs[serviceKey]
	defaults := s.defaults
	s.mu.RUnlock()
	if ok {
		return cfg
	}
	if defaults != nil {
		d := *defaults
		d.ServiceKey = serviceKey
		return d
	}
	return models.DefaultServiceConfig(serviceKey)
}

// Dispatch routes one request through the ranked fallback chain.
func (s *Service) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	cfg := s.Config(req.ServiceKey)

	candidates := s.catalog.Eligible(req.ModelType, req.RequiredCapabilities)
	if len(candidates) == 0 {
		return nil, &NoEligibleModelError{
			ModelType:            req.ModelType,
			RequiredCapabilities: req.RequiredCapabilities,
		}
	}

	candidates = s.rank(candidates, cfg)
	if cfg.Fallback.MaxRetries > 0 && len(candidates) > cfg.Fallback.MaxRetries {
		candidates = candidates[:cfg.Fallback.MaxRetries]
	}

	// Admission is per dispatch, not per candidate: one user request
	// consumes one token regardless of how many fallbacks it triggers.
	if err := s.limiter.Acquire(ctx, req.ServiceKey, req.UserID, cfg.RateLimit); err != nil {
		return nil, err
	}

	estimatedTokens := req.EstimatedTokens
	if estimatedTokens <= 0 {
		estimatedTokens = estimateTokens(req)
	}

	var causes []*AttemptError
	attempts := 0
	budgetBlocked := 0
	var lastBudgetResult *budget.CheckResult

	for i := 0; i < len(candidates); i++ {
		candidate := candidates[i]

		// Budget pre-check with the candidate's own price: a cheaper
		// fallback may still fit when the preferred one does not.
		check, err := s.budget.Check(ctx, budget.CheckRequest{
			UserID:        req.UserID,
			Config:        cfg.Budget,
			EstimatedCost: float64(estimatedTokens) * candidate.CostPerToken,
		})
		if err != nil {
			return nil, err
		}
		if !check.Allowed {
			budgetBlocked++
			lastBudgetResult = check
			causes = append(causes, &AttemptError{
				ModelID:  candidate.ModelID,
				Provider: candidate.Provider,
				Cause:    &BudgetExceededError{Spent: check.Spent, Limit: check.Limit, Reason: check.ViolationReason},
			})
			// Once the budget bites, the remaining spend matters more
			// than rank: try the cheapest remaining candidate next.
			sortByCost(candidates[i+1:])
			continue
		}

		// An open circuit is a routing signal, not a model failure: it
		// never touches the model's performance rollup.
		if err := s.breaker.Allow(candidate.Provider); err != nil {
			var openErr *circuitbreaker.OpenError
			if errors.As(err, &openErr) {
				causes = append(causes, &AttemptError{
					ModelID:  candidate.ModelID,
					Provider: candidate.Provider,
					Cause:    err,
				})
				continue
			}
			return nil, err
		}

		provider, err := s.providers.Get(candidate.Provider)
		if err != nil {
			s.logger.Warn("catalog names an unregistered provider",
				zap.String("model_id", candidate.ModelID),
				zap.String("provider", candidate.Provider))
			causes = append(causes, &AttemptError{
				ModelID:  candidate.ModelID,
				Provider: candidate.Provider,
				Cause:    err,
			})
			continue
		}

		attempts++
		resp, callErr, latencyMs := s.call(ctx, provider, candidate, req, cfg.RequestTimeout)

		// Record the outcome even when the caller has gone away:
		// accounting must not depend on the caller still listening.
		recordCtx := context.WithoutCancel(ctx)

		if callErr == nil {
			s.breaker.RecordSuccess(candidate.Provider)
			s.record(recordCtx, req, candidate, resp.TokensUsed, latencyMs, true, "")

			s.logger.Info("dispatch served",
				zap.String("service_key", req.ServiceKey),
				zap.String("model_id", candidate.ModelID),
				zap.String("provider", candidate.Provider),
				zap.Int("attempts", attempts),
				zap.Float64("latency_ms", latencyMs))

			resp.ModelID = candidate.ModelID
			resp.Provider = candidate.Provider
			return &Result{
				Response:  resp,
				ModelID:   candidate.ModelID,
				Provider:  candidate.Provider,
				Attempts:  attempts,
				Cost:      float64(resp.TokensUsed) * candidate.CostPerToken,
				LatencyMs: latencyMs,
			}, nil
		}

		s.breaker.RecordFailure(candidate.Provider)
		s.record(recordCtx, req, candidate, 0, latencyMs, false, callErr.Error())
		causes = append(causes, &AttemptError{
			ModelID:  candidate.ModelID,
			Provider: candidate.Provider,
			Cause:    callErr,
		})

		s.logger.Warn("dispatch attempt failed",
			zap.String("service_key", req.ServiceKey),
			zap.String("model_id", candidate.ModelID),
			zap.String("provider", candidate.Provider),
			zap.Error(callErr))

		// A request the provider rejected as malformed will be rejected
		// by every other candidate too: stop the walk. The cause still
		// surfaces inside the exhaustion error, never on its own.
		var provErr *providers.Error
		if errors.As(callErr, &provErr) && !provErr.Retryable {
			return nil, &FallbackExhaustedError{ServiceKey: req.ServiceKey, Causes: causes}
		}
		if ctx.Err() != nil {
			return nil, &FallbackExhaustedError{ServiceKey: req.ServiceKey, Causes: causes}
		}
	}

	if budgetBlocked == len(candidates) && lastBudgetResult != nil {
		return nil, &BudgetExceededError{
			Spent:  lastBudgetResult.Spent,
			Limit:  lastBudgetResult.Limit,
			Reason: lastBudgetResult.ViolationReason,
		}
	}

	return nil, &FallbackExhaustedError{ServiceKey: req.ServiceKey, Causes: causes}
}

// call performs one timed provider invocation. Timeouts surface as
// retryable provider errors so the cascade treats them like any other
// upstream failure.
func (s *Service) call(
	ctx context.Context,
	provider providers.Provider,
	candidate *models.ModelDescriptor,
	req *Request,
	timeout time.Duration,
) (*providers.Response, error, float64) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := provider.Invoke(callCtx, &providers.Request{
		ModelID:   candidate.ModelID,
		ModelType: candidate.ModelType,
		Prompt:    req.Prompt,
		Inputs:    req.Inputs,
		Normalize: req.Normalize,
		MaxTokens: candidate.MaxTokens,
		UserID:    req.UserID,
		Metadata:  req.Metadata,
	})
	latencyMs := float64(time.Since(start).Microseconds()) / 1000

	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = providers.NewError(candidate.Provider, "TIMEOUT",
			"provider call exceeded request timeout", 0, true, err)
	}
	return resp, err, latencyMs
}

// record appends the ledger row and folds the outcome into the model's
// rollup. Recording failures are logged, never surfaced: the dispatch
// outcome stands either way.
func (s *Service) record(ctx context.Context, req *Request, candidate *models.ModelDescriptor, tokens int, latencyMs float64, success bool, errMsg string) {
	record := models.NewUsageRecord(req.ServiceKey, candidate.ModelID, tokens, candidate.CostPerToken)
	record.ResponseTimeMs = latencyMs
	record.Success = success
	record.UserID = req.UserID
	record.ErrorMessage = errMsg

	if err := s.ledger.Append(ctx, record); err != nil {
		s.logger.Error("failed to append usage record",
			zap.String("model_id", candidate.ModelID),
			zap.Error(err))
	}
	s.ledger.Update(ctx, candidate.ModelID, ledger.Outcome{
		Success:   success,
		LatencyMs: latencyMs,
		Cost:      record.Cost,
		Tokens:    tokens,
	})
}

// rank orders candidates. An explicit ordered list wins; otherwise
// score = quality*w_q + w_c/cost + w_l/latency, higher first, model id
// breaking ties for determinism.
func (s *Service) rank(candidates []*models.ModelDescriptor, cfg models.ServiceConfig) []*models.ModelDescriptor {
	if len(cfg.Fallback.OrderedModelIDs) > 0 {
		byID := make(map[string]*models.ModelDescriptor, len(candidates))
		for _, c := range candidates {
			byID[c.ModelID] = c
		}
		ordered := make([]*models.ModelDescriptor, 0, len(cfg.Fallback.OrderedModelIDs))
		for _, id := range cfg.Fallback.OrderedModelIDs {
			if c, ok := byID[id]; ok {
				ordered = append(ordered, c)
			}
		}
		return ordered
	}

	weights := cfg.Scoring
	if weights == (models.ScoreWeights{}) {
		weights = models.DefaultScoreWeights()
	}

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.ModelID] = s.score(c, weights)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := scores[candidates[i].ModelID], scores[candidates[j].ModelID]
		if si != sj {
			return si > sj
		}
		return candidates[i].ModelID < candidates[j].ModelID
	})
	return candidates
}

// sortByCost reorders candidates cheapest first, ties by model id.
func sortByCost(candidates []*models.ModelDescriptor) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CostPerToken != candidates[j].CostPerToken {
			return candidates[i].CostPerToken < candidates[j].CostPerToken
		}
		return candidates[i].ModelID < candidates[j].ModelID
	})
}

// score prefers observed latency over the descriptor's static hint once
// real traffic has accumulated.
func (s *Service) score(c *models.ModelDescriptor, w models.ScoreWeights) float64 {
	const epsilon = 1e-9

	latencyMs := c.AverageLatencyHintMs
	if perf, ok := s.ledger.Performance(c.ModelID); ok && perf.TotalRequests > 0 {
		latencyMs = perf.AverageLatencyMs
	}

	cost := c.CostPerToken
	if cost < epsilon {
		cost = epsilon
	}
	if latencyMs < epsilon {
		latencyMs = epsilon
	}
	return w.Quality*c.QualityScore + w.Cost/cost + w.Latency/latencyMs
}

func estimateTokens(req *Request) int {
	chars := len(req.Prompt)
	for _, in := range req.Inputs {
		chars += len(in)
	}
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
