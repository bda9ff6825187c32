package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"fablecast/server/internal/models"
)

// Sentinel errors for routine absence.
var (
	ErrModelNotFound    = errors.New("model not found")
	ErrNoModelAvailable = errors.New("no model available")
)

// entry pairs an immutable descriptor with its mutable health and usage.
type entry struct {
	desc      *models.ModelDescriptor
	healthy   atomic.Bool
	latency   atomic.Duration
	lastCheck atomic.Time
	usage     atomic.Int64
}

// Registry holds model descriptors with their health and usage counters.
// Insertion order is preserved so selection stays deterministic.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register adds a model, healthy by default. Re-registering an id
// replaces the descriptor but keeps its health, usage and position.
func (r *Registry) Register(desc *models.ModelDescriptor) error {
	if desc == nil || desc.ID == "" {
		return fmt.Errorf("register model: descriptor with an id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[desc.ID]; ok {
		existing.desc = desc
		return nil
	}
	e := &entry{desc: desc}
	e.healthy.Store(true)
	r.entries[desc.ID] = e
	r.order = append(r.order, desc.ID)
	return nil
}

// Unregister removes a model.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return ErrModelNotFound
	}
	delete(r.entries, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (*models.ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrModelNotFound
	}
	return e.desc, nil
}

// Filter narrows List results. Zero values mean no constraint.
type Filter struct {
	Capability  string
	Tier        *int
	HealthyOnly bool
}

// List returns descriptors matching the filter, in registration order.
func (r *Registry) List(f Filter) []*models.ModelDescriptor {
	out := make([]*models.ModelDescriptor, 0)
	for _, e := range r.snapshot() {
		if f.Capability != "" && !e.desc.HasCapability(f.Capability) {
			continue
		}
		if f.Tier != nil && e.desc.Tier != *f.Tier {
			continue
		}
		if f.HealthyOnly && !e.healthy.Load() {
			continue
		}
		out = append(out, e.desc)
	}
	return out
}

// Health returns the mutable view for id.
func (r *Registry) Health(id string) (models.ModelHealth, error) {
	e, ok := r.entryByID(id)
	if !ok {
		return models.ModelHealth{}, ErrModelNotFound
	}
	return models.ModelHealth{
		Healthy:   e.healthy.Load(),
		LastCheck: e.lastCheck.Load(),
		Latency:   e.latency.Load(),
	}, nil
}

// SetHealth records a health-check outcome. A zero latency keeps the
// last measurement.
func (r *Registry) SetHealth(id string, healthy bool, latency time.Duration) {
	e, ok := r.entryByID(id)
	if !ok {
		return
	}
	e.healthy.Store(healthy)
	e.lastCheck.Store(time.Now())
	if latency > 0 {
		e.latency.Store(latency)
	}
}

// RecordUsage bumps the model's usage counter.
func (r *Registry) RecordUsage(id string) {
	if e, ok := r.entryByID(id); ok {
		e.usage.Inc()
	}
}

// Usage returns the model's usage counter.
func (r *Registry) Usage(id string) int64 {
	e, ok := r.entryByID(id)
	if !ok {
		return 0
	}
	return e.usage.Load()
}

// ModelStatus is one row of the registry's externally visible state.
type ModelStatus struct {
	Model  *models.ModelDescriptor `json:"model"`
	Health models.ModelHealth      `json:"health"`
	Usage  int64                   `json:"usage"`
}

// Status reports every model with its health and usage, in
// registration order.
func (r *Registry) Status() []ModelStatus {
	entries := r.snapshot()
	out := make([]ModelStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, ModelStatus{
			Model: e.desc,
			Health: models.ModelHealth{
				Healthy:   e.healthy.Load(),
				LastCheck: e.lastCheck.Load(),
				Latency:   e.latency.Load(),
			},
			Usage: e.usage.Load(),
		})
	}
	return out
}

func (r *Registry) entryByID(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// snapshot returns entries in registration order.
func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}
