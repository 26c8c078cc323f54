package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/projecthub/ai-orchestrator/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ExceededError signals an exhausted bucket. Exhaustion is never silent:
// callers either wait within the configured bound or receive this error.
type ExceededError struct {
	Key        string
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Key, e.RetryAfter)
}

// bucketEntry holds one token bucket and its last access time.
type bucketEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Service provides token-bucket rate limiting keyed by service and,
// when configured, by user. Buckets are created lazily and pruned after
// a period of inactivity.
type Service struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry
	logger  *zap.Logger

	cleanupInterval time.Duration
	entryTTL        time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewService creates a rate limit service and starts its cleanup loop.
func NewService(logger *zap.Logger) *Service {
	s := &Service{
		buckets:         make(map[string]*bucketEntry),
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		entryTTL:        15 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Acquire takes one token from the bucket for (serviceKey, user). With
// WaitOnExhausted it blocks up to cfg.MaxWait for a token; otherwise an
// exhausted bucket returns ExceededError immediately. A zero
// RequestsPerSecond disables limiting for the key.
func (s *Service) Acquire(ctx context.Context, serviceKey string, userID *uuid.UUID, cfg models.RateLimitConfig) error {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}

	key := bucketKey(serviceKey, userID, cfg.PerUser)
	limiter := s.limiter(key, cfg)

	reservation := limiter.Reserve()
	if !reservation.OK() {
		return &ExceededError{Key: key, RetryAfter: time.Second}
	}

	delay := reservation.Delay()
	if delay == 0 {
		return nil
	}

	if !cfg.WaitOnExhausted || delay > cfg.MaxWait {
		reservation.Cancel()
		s.logger.Debug("rate limit exhausted",
			zap.String("key", key),
			zap.Duration("retry_after", delay))
		return &ExceededError{Key: key, RetryAfter: delay}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	}
}

// Count returns the number of live buckets.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Reset drops every bucket.
func (s *Service) Reset() {
	s.mu.Lock()
	s.buckets = make(map[string]*bucketEntry)
	s.mu.Unlock()
}

// Stop terminates the cleanup loop.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Service) limiter(key string, cfg models.RateLimitConfig) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.buckets[key]
	if !ok {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &bucketEntry{
			limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		}
		s.buckets[key] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter
}

func (s *Service) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes buckets that have been idle past the TTL.
func (s *Service) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.entryTTL)
	for key, entry := range s.buckets {
		if entry.lastAccess.Before(cutoff) {
			delete(s.buckets, key)
		}
	}
}

func bucketKey(serviceKey string, userID *uuid.UUID, perUser bool) string {
	if perUser && userID != nil {
		return serviceKey + ":user:" + userID.String()
	}
	return serviceKey + ":global"
}
