package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/projecthub/ai-orchestrator/models"
)

// MemoryStore is an embedded Store for development and tests. It keeps
// records in process memory and provides the same read-your-writes
// behavior as the Postgres store.
type MemoryStore struct {
	mu          sync.RWMutex
	records     []*models.UsageRecord
	performance map[string]*models.ModelPerformance
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		performance: make(map[string]*models.ModelPerformance),
	}
}

// InsertUsage appends a copy of the record.
func (m *MemoryStore) InsertUsage(_ context.Context, record *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *record
	m.records = append(m.records, &copied)
	return nil
}

// SumUserCost sums cost for records of the user at or after since.
func (m *MemoryStore) SumUserCost(_ context.Context, userID uuid.UUID, since time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	for _, r := range m.records {
		if r.UserID != nil && *r.UserID == userID && !r.CreatedAt.Before(since) {
			total += r.Cost
		}
	}
	return total, nil
}

// UpsertPerformance replaces the stored rollup for the model.
func (m *MemoryStore) UpsertPerformance(_ context.Context, perf *models.ModelPerformance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *perf
	m.performance[perf.ModelID] = &copied
	return nil
}

// ListPerformance returns copies of every stored rollup.
func (m *MemoryStore) ListPerformance(_ context.Context) ([]*models.ModelPerformance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.ModelPerformance, 0, len(m.performance))
	for _, p := range m.performance {
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

// DeleteUsageBefore removes records older than cutoff.
func (m *MemoryStore) DeleteUsageBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	var deleted int64
	for _, r := range m.records {
		if r.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// Records returns copies of every stored usage record, newest last.
func (m *MemoryStore) Records() []*models.UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.UsageRecord, 0, len(m.records))
	for _, r := range m.records {
		copied := *r
		out = append(out, &copied)
	}
	return out
}
