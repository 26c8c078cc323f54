package models

import "time"

// ServiceConfig is the admin-supplied configuration for one AI service.
// It used to travel through the platform as loosely typed JSON; here it
// is a validated struct with explicit defaults applied at load time.
type ServiceConfig struct {
	ServiceKey string `json:"service_key" validate:"required"`

	RateLimit      RateLimitConfig      `json:"rate_limit"`
	Budget         BudgetConfig         `json:"budget"`
	Fallback       FallbackConfig       `json:"fallback"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Scoring        ScoreWeights         `json:"scoring"`

	// RequestTimeout bounds a single provider call.
	RequestTimeout time.Duration `json:"request_timeout"`
}

// RateLimitConfig configures the token-bucket limiter for a service.
type RateLimitConfig struct {
	// RequestsPerSecond is the bucket refill rate; zero disables limiting.
	RequestsPerSecond float64 `json:"requests_per_second" validate:"gte=0"`
	Burst             int     `json:"burst" validate:"gte=0"`

	// PerUser keys buckets by user id instead of a single global bucket.
	PerUser bool `json:"per_user"`

	// WaitOnExhausted makes exhausted callers wait up to MaxWait for a
	// token instead of failing immediately. Exhaustion is never silent.
	WaitOnExhausted bool          `json:"wait_on_exhausted"`
	MaxWait         time.Duration `json:"max_wait"`
}

// BudgetConfig caps per-user spend over a rolling window.
type BudgetConfig struct {
	// MaxCostPerWindow is the user spend cap; zero disables the check.
	MaxCostPerWindow float64 `json:"max_cost_per_window" validate:"gte=0"`

	// Window is the rolling budget window (default: current UTC day).
	Window   BudgetWindow `json:"window" validate:"omitempty,oneof=daily monthly"`
	Currency string       `json:"currency"`
}

// BudgetWindow names a rolling spend window.
type BudgetWindow string

const (
	WindowDaily   BudgetWindow = "daily"
	WindowMonthly BudgetWindow = "monthly"
)

// Start returns the beginning of the window containing now.
func (w BudgetWindow) Start(now time.Time) time.Time {
	now = now.UTC()
	switch w {
	case WindowMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

// FallbackConfig controls candidate ordering and retry breadth.
type FallbackConfig struct {
	// OrderedModelIDs, when set, overrides score-based ranking.
	OrderedModelIDs []string `json:"ordered_model_ids,omitempty"`

	// MaxRetries bounds how many candidates one dispatch may try.
	MaxRetries int `json:"max_retries" validate:"gte=1"`
}

// CircuitBreakerConfig holds per-service breaker thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold" validate:"gt=0"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" validate:"gt=0"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls" validate:"gt=0"`
}

// ScoreWeights weight the ranking formula
// score = Quality*qualityScore + Cost/cost + Latency/latencyMs.
type ScoreWeights struct {
	Quality float64 `json:"quality" validate:"gte=0"`
	Cost    float64 `json:"cost" validate:"gte=0"`
	Latency float64 `json:"latency" validate:"gte=0"`
}

// DefaultServiceConfig returns the validated defaults for a service key.
func DefaultServiceConfig(serviceKey string) ServiceConfig {
	return ServiceConfig{
		ServiceKey: serviceKey,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			MaxWait:           2 * time.Second,
		},
		Budget: BudgetConfig{
			Window:   WindowDaily,
			Currency: "USD",
		},
		Fallback: FallbackConfig{
			MaxRetries: 3,
		},
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		Scoring:        DefaultScoreWeights(),
		RequestTimeout: 15 * time.Second,
	}
}

// DefaultCircuitBreakerConfig returns the breaker defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// DefaultScoreWeights returns the ranking weights, quality heaviest.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Quality: 0.5,
		Cost:    0.3,
		Latency: 0.2,
	}
}
