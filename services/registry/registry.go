package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/projecthub/ai-orchestrator/models"
	"github.com/projecthub/ai-orchestrator/utils"
	"go.uber.org/zap"
)

var (
	// ErrModelNotFound is returned when a model id is not in the catalog
	ErrModelNotFound = errors.New("model not found")
)

// DescriptorStore persists the catalog. Nil is allowed for a purely
// in-memory registry (tests, dev without a database).
type DescriptorStore interface {
	ListDescriptors(ctx context.Context) ([]*models.ModelDescriptor, error)
	UpsertDescriptor(ctx context.Context, d *models.ModelDescriptor) error
}

// Registry is the admin-owned model catalog. Reads vastly outnumber
// writes, so a read-write lock over a plain map is enough.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*models.ModelDescriptor
	store       DescriptorStore
	logger      *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(store DescriptorStore, logger *zap.Logger) *Registry {
	return &Registry{
		descriptors: make(map[string]*models.ModelDescriptor),
		store:       store,
		logger:      logger,
	}
}

// Load replaces the in-memory catalog with the persisted one.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	descriptors, err := r.store.ListDescriptors(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.descriptors = make(map[string]*models.ModelDescriptor, len(descriptors))
	for _, d := range descriptors {
		r.descriptors[d.ModelID] = d
	}
	r.mu.Unlock()

	r.logger.Info("model catalog loaded", zap.Int("models", len(descriptors)))
	return nil
}

// Upsert validates and stores a descriptor, persisting it when a store
// is configured.
func (r *Registry) Upsert(ctx context.Context, d *models.ModelDescriptor) error {
	if err := utils.ValidateStruct(d); err != nil {
		return err
	}

	now := time.Now().UTC()
	d.UpdatedAt = now

	r.mu.Lock()
	if existing, ok := r.descriptors[d.ModelID]; ok {
		d.CreatedAt = existing.CreatedAt
	} else {
		d.CreatedAt = now
	}
	copied := *d
	r.descriptors[d.ModelID] = &copied
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.UpsertDescriptor(ctx, d); err != nil {
			return err
		}
	}

	r.logger.Info("model descriptor upserted",
		zap.String("model_id", d.ModelID),
		zap.String("provider", d.Provider))
	return nil
}

// SetAvailability flips the short-term availability flag for a model.
func (r *Registry) SetAvailability(ctx context.Context, modelID string, available bool) error {
	r.mu.Lock()
	d, ok := r.descriptors[modelID]
	if !ok {
		r.mu.Unlock()
		return ErrModelNotFound
	}
	d.IsAvailable = available
	d.UpdatedAt = time.Now().UTC()
	copied := *d
	r.mu.Unlock()

	if r.store != nil {
		return r.store.UpsertDescriptor(ctx, &copied)
	}
	return nil
}

// Get returns a copy of one descriptor.
func (r *Registry) Get(modelID string) (*models.ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[modelID]
	if !ok {
		return nil, ErrModelNotFound
	}
	copied := *d
	return &copied, nil
}

// List returns copies of every descriptor, ordered by model id.
func (r *Registry) List() []*models.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ModelDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		copied := *d
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Eligible returns active, available descriptors matching the model type
// and required capabilities, ordered by model id for deterministic
// downstream ranking.
func (r *Registry) Eligible(modelType models.ModelType, requiredCapabilities []string) []*models.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ModelDescriptor, 0)
	for _, d := range r.descriptors {
		if d.Eligible(modelType, requiredCapabilities) {
			copied := *d
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Count returns the catalog size.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}
