package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/projecthub/ai-orchestrator/models"
	"go.uber.org/zap"
)

// Store persists usage records and performance rollups. The Postgres
// implementation lives in repositories/postgres; NewMemoryStore provides
// an embedded one for development and tests.
type Store interface {
	InsertUsage(ctx context.Context, record *models.UsageRecord) error
	SumUserCost(ctx context.Context, userID uuid.UUID, since time.Time) (float64, error)
	UpsertPerformance(ctx context.Context, perf *models.ModelPerformance) error
	ListPerformance(ctx context.Context) ([]*models.ModelPerformance, error)
	DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Outcome is one dispatch attempt result folded into the rollup.
type Outcome struct {
	Success   bool
	LatencyMs float64
	Cost      float64
	Tokens    int
}

// perfEntry serializes updates for a single model id. Distinct models
// never contend with each other.
type perfEntry struct {
	mu   sync.Mutex
	perf models.ModelPerformance
}

// Service is the usage ledger and performance aggregator. Appends are
// durable through the store; rollups are maintained in memory with an
// online update and written through best effort.
type Service struct {
	store  Store
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*perfEntry

	now func() time.Time
}

// NewService creates a ledger service backed by the given store.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		logger:  logger,
		entries: make(map[string]*perfEntry),
		now:     time.Now,
	}
}

// Load primes the in-memory rollups from the store. Call once at startup
// before serving traffic.
func (s *Service) Load(ctx context.Context) error {
	rows, err := s.store.ListPerformance(ctx)
	if err != nil {
		return fmt.Errorf("failed to load performance rollups: %w", err)
	}

	s.mu.Lock()
	for _, row := range rows {
		s.entries[row.ModelID] = &perfEntry{perf: *row}
	}
	s.mu.Unlock()

	s.logger.Info("performance rollups loaded", zap.Int("models", len(rows)))
	return nil
}

// Append writes one immutable usage record. It validates shape only and
// never rejects on business grounds: recording must not be blocked by
// budget or circuit state, since the ledger is what those checks read.
func (s *Service) Append(ctx context.Context, record *models.UsageRecord) error {
	if record == nil {
		return fmt.Errorf("usage record is nil")
	}
	if record.ModelID == "" {
		return fmt.Errorf("usage record missing model id")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}

	if err := s.store.InsertUsage(ctx, record); err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	s.logger.Debug("usage record appended",
		zap.String("model_id", record.ModelID),
		zap.Bool("success", record.Success),
		zap.Float64("cost", record.Cost))
	return nil
}

// Update folds an attempt outcome into the model's rollup. Updates for
// the same model are serialized on the model's own mutex so concurrent
// attempts never lose increments.
func (s *Service) Update(ctx context.Context, modelID string, out Outcome) {
	entry := s.entry(modelID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.perf.Apply(out.Success, out.LatencyMs, out.Cost, out.Tokens, s.now().UTC())
	snapshot := entry.perf

	// Persistence is write-through best effort; the in-memory rollup is
	// authoritative within the process. The write happens under the
	// per-model mutex so snapshots reach the store in apply order and a
	// later restart never loads a stale row. Independent models still
	// never contend.
	if err := s.store.UpsertPerformance(ctx, &snapshot); err != nil {
		s.logger.Error("failed to persist performance rollup",
			zap.String("model_id", modelID),
			zap.Error(err))
	}
}

// Performance returns a snapshot of one model's rollup.
func (s *Service) Performance(modelID string) (models.ModelPerformance, bool) {
	s.mu.RLock()
	entry, ok := s.entries[modelID]
	s.mu.RUnlock()
	if !ok {
		return models.ModelPerformance{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.perf, true
}

// AllPerformance returns snapshots for every model, ordered by model id.
func (s *Service) AllPerformance() []models.ModelPerformance {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	out := make([]models.ModelPerformance, 0, len(ids))
	for _, id := range ids {
		if perf, ok := s.Performance(id); ok {
			out = append(out, perf)
		}
	}
	return out
}

// BudgetSpent sums the user's ledger cost since windowStart. It reflects
// every Append completed before the call within this process.
func (s *Service) BudgetSpent(ctx context.Context, userID uuid.UUID, windowStart time.Time) (float64, error) {
	spent, err := s.store.SumUserCost(ctx, userID, windowStart)
	if err != nil {
		return 0, fmt.Errorf("failed to query user spend: %w", err)
	}
	return spent, nil
}

// CleanupOldRecords removes usage records older than the retention
// period. Rollups are unaffected: they accumulate monotonically.
func (s *Service) CleanupOldRecords(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)

	deleted, err := s.store.DeleteUsageBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup usage records: %w", err)
	}

	s.logger.Info("cleaned up old usage records",
		zap.Int64("rows_deleted", deleted),
		zap.Time("cutoff", cutoff))
	return deleted, nil
}

// StartCleanupWorker periodically prunes records past retention until
// the context is cancelled.
func (s *Service) StartCleanupWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started ledger cleanup worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			if _, err := s.CleanupOldRecords(ctx, retention); err != nil {
				s.logger.Error("failed to cleanup usage records", zap.Error(err))
			}
		case <-ctx.Done():
			s.logger.Info("stopping ledger cleanup worker")
			return
		}
	}
}

func (s *Service) entry(modelID string) *perfEntry {
	s.mu.RLock()
	entry, ok := s.entries[modelID]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[modelID]; ok {
		return entry
	}
	entry = &perfEntry{perf: models.ModelPerformance{ModelID: modelID}}
	s.entries[modelID] = entry
	return entry
}
