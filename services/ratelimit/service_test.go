package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/projecthub/ai-orchestrator/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewService(zap.NewNop())
	t.Cleanup(s.Stop)
	return s
}

func TestService_ZeroRateDisablesLimiting(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Acquire(ctx, "chat", nil, models.RateLimitConfig{}))
	}
	assert.Equal(t, 0, s.Count())
}

func TestService_BurstThenReject(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{RequestsPerSecond: 1, Burst: 3}

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Acquire(ctx, "chat", nil, cfg), "call %d within burst", i+1)
	}

	err := s.Acquire(ctx, "chat", nil, cfg)
	require.Error(t, err)

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Contains(t, exceeded.Key, "chat")
	assert.Greater(t, exceeded.RetryAfter, time.Duration(0))
}

func TestService_PerUserBucketsAreIndependent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{RequestsPerSecond: 1, Burst: 1, PerUser: true}
	alice := uuid.New()
	bob := uuid.New()

	require.NoError(t, s.Acquire(ctx, "chat", &alice, cfg))
	require.Error(t, s.Acquire(ctx, "chat", &alice, cfg))

	// Bob's bucket is untouched by Alice's exhaustion.
	require.NoError(t, s.Acquire(ctx, "chat", &bob, cfg))
	assert.Equal(t, 2, s.Count())
}

func TestService_GlobalKeyIgnoresUser(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}
	alice := uuid.New()
	bob := uuid.New()

	require.NoError(t, s.Acquire(ctx, "chat", &alice, cfg))
	require.Error(t, s.Acquire(ctx, "chat", &bob, cfg))
	assert.Equal(t, 1, s.Count())
}

func TestService_WaitModeBlocksWithinBound(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             1,
		WaitOnExhausted:   true,
		MaxWait:           time.Second,
	}

	require.NoError(t, s.Acquire(ctx, "chat", nil, cfg))

	// Refill at 50 rps means roughly a 20ms wait for the next token.
	start := time.Now()
	require.NoError(t, s.Acquire(ctx, "chat", nil, cfg))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestService_WaitModeRejectsBeyondMaxWait(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{
		RequestsPerSecond: 0.1, // next token in ~10s
		Burst:             1,
		WaitOnExhausted:   true,
		MaxWait:           50 * time.Millisecond,
	}

	require.NoError(t, s.Acquire(ctx, "chat", nil, cfg))

	err := s.Acquire(ctx, "chat", nil, cfg)
	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
}

func TestService_WaitModeHonorsContextCancellation(t *testing.T) {
	s := newTestService(t)

	cfg := models.RateLimitConfig{
		RequestsPerSecond: 0.5,
		Burst:             1,
		WaitOnExhausted:   true,
		MaxWait:           10 * time.Second,
	}

	require.NoError(t, s.Acquire(context.Background(), "chat", nil, cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Acquire(ctx, "chat", nil, cfg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_CleanupPrunesIdleBuckets(t *testing.T) {
	s := newTestService(t)
	s.entryTTL = 10 * time.Millisecond
	ctx := context.Background()

	cfg := models.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}
	require.NoError(t, s.Acquire(ctx, "chat", nil, cfg))
	require.Equal(t, 1, s.Count())

	time.Sleep(20 * time.Millisecond)
	s.cleanup()
	assert.Equal(t, 0, s.Count())
}

func TestService_Reset(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	cfg := models.RateLimitConfig{RequestsPerSecond: 1, Burst: 1}
	require.NoError(t, s.Acquire(ctx, "chat", nil, cfg))
	require.Error(t, s.Acquire(ctx, "chat", nil, cfg))

	s.Reset()
	assert.NoError(t, s.Acquire(ctx, "chat", nil, cfg))
}
