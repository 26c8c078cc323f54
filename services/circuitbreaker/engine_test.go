package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(cfg models.CircuitBreakerConfig) (*Engine, *time.Time) {
	e := NewEngine(cfg, zap.NewNop())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	e.now = func() time.Time { return *clock }
	return e, clock
}

func TestEngine_OpensAfterThreshold(t *testing.T) {
	e, _ := newTestEngine(models.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	for i := 0; i < 4; i++ {
		e.RecordFailure("chat")
		assert.Equal(t, StateClosed, e.Status("chat").State, "failure %d should not open", i+1)
	}

	e.RecordFailure("chat")
	assert.Equal(t, StateOpen, e.Status("chat").State)

	// Next call before the recovery timeout is rejected with an OpenError.
	err := e.Allow("chat")
	require.Error(t, err)

	var openErr *OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "chat", openErr.ServiceKey)
	assert.False(t, openErr.RetryAt.IsZero())
}

func TestEngine_ClosedAllowsAndSuccessResetsFailures(t *testing.T) {
	e, _ := newTestEngine(models.DefaultCircuitBreakerConfig())

	e.RecordFailure("chat")
	e.RecordFailure("chat")
	assert.Equal(t, 2, e.Status("chat").FailureCount)

	e.RecordSuccess("chat")
	assert.Equal(t, 0, e.Status("chat").FailureCount)
	assert.NoError(t, e.Allow("chat"))
}

func TestEngine_HalfOpenProbeRecovery(t *testing.T) {
	e, clock := newTestEngine(models.CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	for i := 0; i < 3; i++ {
		e.RecordFailure("chat")
	}
	require.Equal(t, StateOpen, e.Status("chat").State)

	// Before the timeout, still rejected.
	require.Error(t, e.Allow("chat"))

	// After the timeout the next Allow transitions to half-open and is
	// permitted.
	*clock = clock.Add(31 * time.Second)
	require.NoError(t, e.Allow("chat"))
	assert.Equal(t, StateHalfOpen, e.Status("chat").State)

	e.RecordSuccess("chat")
	status := e.Status("chat")
	assert.Equal(t, StateClosed, status.State)
	assert.Equal(t, 0, status.FailureCount)
	assert.Equal(t, 0, status.HalfOpenInFlight)
}

func TestEngine_HalfOpenLimitsInFlightProbes(t *testing.T) {
	e, clock := newTestEngine(models.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Second,
		HalfOpenMaxCalls: 2,
	})

	e.RecordFailure("chat")
	require.Equal(t, StateOpen, e.Status("chat").State)
	*clock = clock.Add(11 * time.Second)

	require.NoError(t, e.Allow("chat"))
	require.NoError(t, e.Allow("chat"))

	err := e.Allow("chat")
	require.Error(t, err)
	var openErr *OpenError
	assert.True(t, errors.As(err, &openErr))
}

func TestEngine_HalfOpenFailureReopensImmediately(t *testing.T) {
	e, clock := newTestEngine(models.CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  10 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	for i := 0; i < 5; i++ {
		e.RecordFailure("chat")
	}
	*clock = clock.Add(11 * time.Second)
	require.NoError(t, e.Allow("chat"))
	require.Equal(t, StateHalfOpen, e.Status("chat").State)

	// One probe failure re-opens without accumulating the threshold again.
	e.RecordFailure("chat")
	status := e.Status("chat")
	assert.Equal(t, StateOpen, status.State)
	assert.Equal(t, 0, status.HalfOpenInFlight)
	require.NotNil(t, status.OpenedAt)
}

func TestEngine_ResetAlwaysCloses(t *testing.T) {
	e, _ := newTestEngine(models.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
		HalfOpenMaxCalls: 1,
	})

	e.RecordFailure("chat")
	require.Equal(t, StateOpen, e.Status("chat").State)

	e.Reset("chat")
	status := e.Status("chat")
	assert.Equal(t, StateClosed, status.State)
	assert.Equal(t, 0, status.FailureCount)
	assert.NoError(t, e.Allow("chat"))

	// Idempotent.
	e.Reset("chat")
	assert.Equal(t, StateClosed, e.Status("chat").State)
}

func TestEngine_IndependentServiceKeys(t *testing.T) {
	e, _ := newTestEngine(models.CircuitBreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	})

	e.RecordFailure("circuit-a")
	e.RecordFailure("circuit-a")

	assert.Equal(t, StateOpen, e.Status("circuit-a").State)
	assert.Equal(t, StateClosed, e.Status("circuit-b").State)
	assert.NoError(t, e.Allow("circuit-b"))
}

func TestEngine_PerKeyConfigOverride(t *testing.T) {
	e, _ := newTestEngine(models.DefaultCircuitBreakerConfig())
	e.Configure("strict", models.CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	})

	e.RecordFailure("strict")
	assert.Equal(t, StateOpen, e.Status("strict").State)

	// The default key still needs five failures.
	e.RecordFailure("default")
	assert.Equal(t, StateClosed, e.Status("default").State)
}

func TestEngine_ConcurrentTransitionsStayConsistent(t *testing.T) {
	e, _ := newTestEngine(models.CircuitBreakerConfig{
		FailureThreshold: 1000,
		RecoveryTimeout:  time.Minute,
		HalfOpenMaxCalls: 1,
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				e.RecordFailure("loaded")
			}
		}()
	}
	wg.Wait()

	status := e.Status("loaded")
	assert.Equal(t, 500, status.FailureCount)
	assert.Equal(t, StateClosed, status.State)
}

func TestEngine_AllStatuses(t *testing.T) {
	e, _ := newTestEngine(models.DefaultCircuitBreakerConfig())

	require.NoError(t, e.Allow("a"))
	require.NoError(t, e.Allow("b"))

	statuses := e.AllStatuses()
	assert.Len(t, statuses, 2)
}
