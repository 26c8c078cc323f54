package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/projecthub/ai-orchestrator/models"
	"go.uber.org/zap"
)

// State represents the position of one circuit.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// OpenError signals that a circuit rejected the call. It carries the
// earliest time a retry can be admitted.
type OpenError struct {
	ServiceKey string
	RetryAt    time.Time
}

// Error implements the error interface
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s, retry at %s", e.ServiceKey, e.RetryAt.Format(time.RFC3339))
}

// Status is a read-only snapshot of one circuit for observability.
type Status struct {
	ServiceKey       string                      `json:"service_key"`
	State            State                       `json:"state"`
	FailureCount     int                         `json:"failure_count"`
	HalfOpenInFlight int                         `json:"half_open_in_flight"`
	LastFailureAt    *time.Time                  `json:"last_failure_at,omitempty"`
	OpenedAt         *time.Time                  `json:"opened_at,omitempty"`
	Config           models.CircuitBreakerConfig `json:"config"`
}

// circuit holds the mutable state for one service key. All transitions
// are serialized on its own mutex so independent keys never contend.
type circuit struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	halfOpenInFlight int
	lastFailureAt    *time.Time
	openedAt         *time.Time
	config           models.CircuitBreakerConfig
}

// Engine tracks circuit state per named service and decides whether
// calls may proceed. Circuits are created lazily on first use and live
// for the process lifetime.
type Engine struct {
	mu       sync.RWMutex
	circuits map[string]*circuit
	defaults models.CircuitBreakerConfig
	configs  map[string]models.CircuitBreakerConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a circuit breaker engine with the given defaults.
func NewEngine(defaults models.CircuitBreakerConfig, logger *zap.Logger) *Engine {
	if defaults.FailureThreshold <= 0 {
		defaults = models.DefaultCircuitBreakerConfig()
	}
	return &Engine{
		circuits: make(map[string]*circuit),
		defaults: defaults,
		configs:  make(map[string]models.CircuitBreakerConfig),
		logger:   logger,
		now:      time.Now,
	}
}

// Configure overrides the breaker thresholds for one service key.
// Existing circuit state is preserved; only thresholds change.
func (e *Engine) Configure(serviceKey string, cfg models.CircuitBreakerConfig) {
	e.mu.Lock()
	e.configs[serviceKey] = cfg
	if c, ok := e.circuits[serviceKey]; ok {
		c.mu.Lock()
		c.config = cfg
		c.mu.Unlock()
	}
	e.mu.Unlock()
}

// Allow reports whether a call to the service may proceed. In OPEN it
// admits a probe once the recovery timeout has elapsed, transitioning to
// HALF_OPEN; in HALF_OPEN it admits at most HalfOpenMaxCalls in flight.
func (e *Engine) Allow(serviceKey string) error {
	c := e.get(serviceKey)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := e.now()

	switch c.state {
	case StateClosed:
		return nil

	case StateOpen:
		retryAt := c.openedAt.Add(c.config.RecoveryTimeout)
		if now.Before(retryAt) {
			return &OpenError{ServiceKey: serviceKey, RetryAt: retryAt}
		}
		// Recovery timeout elapsed: move to half-open and evaluate the
		// probe admission below.
		c.state = StateHalfOpen
		c.halfOpenInFlight = 0
		e.logger.Info("circuit half-open",
			zap.String("service_key", serviceKey))
		fallthrough

	case StateHalfOpen:
		if c.halfOpenInFlight >= c.config.HalfOpenMaxCalls {
			return &OpenError{
				ServiceKey: serviceKey,
				RetryAt:    e.now(),
			}
		}
		c.halfOpenInFlight++
		return nil
	}

	return nil
}

// RecordSuccess registers a successful call against the service.
func (e *Engine) RecordSuccess(serviceKey string) {
	c := e.get(serviceKey)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		c.failureCount = 0
	case StateHalfOpen:
		c.state = StateClosed
		c.failureCount = 0
		c.halfOpenInFlight = 0
		c.openedAt = nil
		e.logger.Info("circuit closed after successful probe",
			zap.String("service_key", serviceKey))
	}
}

// RecordFailure registers a failed call against the service. A single
// failure while HALF_OPEN re-opens the circuit immediately.
func (e *Engine) RecordFailure(serviceKey string) {
	c := e.get(serviceKey)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := e.now()
	c.lastFailureAt = &now

	switch c.state {
	case StateClosed:
		c.failureCount++
		if c.failureCount >= c.config.FailureThreshold {
			c.state = StateOpen
			opened := now
			c.openedAt = &opened
			e.logger.Warn("circuit opened",
				zap.String("service_key", serviceKey),
				zap.Int("failure_count", c.failureCount))
		}
	case StateHalfOpen:
		c.state = StateOpen
		opened := now
		c.openedAt = &opened
		c.halfOpenInFlight = 0
		e.logger.Warn("circuit re-opened by failed probe",
			zap.String("service_key", serviceKey))
	}
}

// Reset manually forces the circuit back to CLOSED. It is idempotent
// and always succeeds.
func (e *Engine) Reset(serviceKey string) {
	c := e.get(serviceKey)
	c.mu.Lock()
	c.state = StateClosed
	c.failureCount = 0
	c.halfOpenInFlight = 0
	c.openedAt = nil
	c.lastFailureAt = nil
	c.mu.Unlock()

	e.logger.Info("circuit reset", zap.String("service_key", serviceKey))
}

// Status returns a snapshot of one circuit.
func (e *Engine) Status(serviceKey string) Status {
	c := e.get(serviceKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(serviceKey, c)
}

// AllStatuses returns snapshots for every circuit seen so far.
func (e *Engine) AllStatuses() []Status {
	e.mu.RLock()
	keys := make([]string, 0, len(e.circuits))
	for k := range e.circuits {
		keys = append(keys, k)
	}
	e.mu.RUnlock()

	statuses := make([]Status, 0, len(keys))
	for _, k := range keys {
		statuses = append(statuses, e.Status(k))
	}
	return statuses
}

// get returns the circuit for the key, creating it lazily.
func (e *Engine) get(serviceKey string) *circuit {
	e.mu.RLock()
	c, ok := e.circuits[serviceKey]
	e.mu.RUnlock()
	if ok {
		return c
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.circuits[serviceKey]; ok {
		return c
	}
	cfg, ok := e.configs[serviceKey]
	if !ok {
		cfg = e.defaults
	}
	c = &circuit{state: StateClosed, config: cfg}
	e.circuits[serviceKey] = c
	return c
}

func snapshot(serviceKey string, c *circuit) Status {
	s := Status{
		ServiceKey:       serviceKey,
		State:            c.state,
		FailureCount:     c.failureCount,
		HalfOpenInFlight: c.halfOpenInFlight,
		Config:           c.config,
	}
	if c.lastFailureAt != nil {
		t := *c.lastFailureAt
		s.LastFailureAt = &t
	}
	if c.openedAt != nil {
		t := *c.openedAt
		s.OpenedAt = &t
	}
	return s
}
