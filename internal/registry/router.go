package registry

import (
	"log"
	"sort"
	"sync"
	"time"

	"fablecast/server/internal/models"
)

// Selection priorities.
const (
	PrioritySpeed    = "speed"
	PriorityCost     = "cost"
	PriorityQuality  = "quality"
	PriorityBalanced = "balanced"
)

// Rotation strategies over a fallback chain.
const (
	RotationRoundRobin   = "round_robin"
	RotationQuality      = "quality_based"
	RotationSpeed        = "speed_based"
	RotationAvailability = "availability"
)

// Task labels the router understands.
const (
	TaskGeneral   = "general"
	TaskCreative  = "creative"
	TaskDialogue  = "dialogue"
	TaskReasoning = "reasoning"
	TaskCoding    = "coding"
	TaskVoice     = "voice"
)

// SelectOptions tunes model selection.
type SelectOptions struct {
	Priority         string
	PreferUncensored bool
}

// Router picks models for tasks and maintains per-task failover chains.
type Router struct {
	registry *Registry

	mu     sync.Mutex
	chains map[string][]string
}

// NewRouter creates a router over the registry.
func NewRouter(reg *Registry) *Router {
	return &Router{
		registry: reg,
		chains:   make(map[string][]string),
	}
}

// GetBestModel returns the strongest healthy model advertising the
// capability. An empty capability matches every model. With
// PreferUncensored set, tier-0 models win over stronger restricted
// ones; restricted tiers are used only when no tier-0 model qualifies.
// Selection is deterministic: identical registry state yields the
// same answer.
func (rt *Router) GetBestModel(capability string, opts SelectOptions) (*models.ModelDescriptor, error) {
	candidates := make([]*entry, 0)
	for _, e := range rt.registry.snapshot() {
		if !e.healthy.Load() {
			continue
		}
		if capability != "" && !e.desc.HasCapability(capability) {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, ErrNoModelAvailable
	}

	if opts.PreferUncensored {
		unrestricted := make([]*entry, 0, len(candidates))
		for _, e := range candidates {
			if e.desc.Unrestricted() {
				unrestricted = append(unrestricted, e)
			}
		}
		if len(unrestricted) > 0 {
			candidates = unrestricted
		}
	}

	sortCandidates(candidates, opts.Priority)
	return candidates[0].desc, nil
}

// sortCandidates orders entries by the priority, keeping registration
// order on ties.
func sortCandidates(candidates []*entry, priority string) {
	switch priority {
	case PrioritySpeed:
		// Ascending observed latency; an unmeasured model sorts first
		// and earns a measurement.
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].latency.Load() < candidates[j].latency.Load()
		})
	case PriorityCost:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].desc.CostPerToken < candidates[j].desc.CostPerToken
		})
	case PriorityBalanced:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].usage.Load() < candidates[j].usage.Load()
		})
	default:
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].desc.Quality > candidates[j].desc.Quality
		})
	}
}

// SelectModel resolves a task label to a capability and picks a model,
// degrading to any healthy model before giving up.
func (rt *Router) SelectModel(taskType string, opts SelectOptions) (*models.ModelDescriptor, error) {
	capability := capabilityForTask(taskType)

	desc, err := rt.GetBestModel(capability, opts)
	if err == nil {
		return desc, nil
	}
	if capability != models.CapText {
		if desc, err = rt.GetBestModel(models.CapText, opts); err == nil {
			return desc, nil
		}
	}
	return rt.GetBestModel("", opts)
}

func capabilityForTask(taskType string) string {
	switch taskType {
	case TaskReasoning:
		return models.CapReasoning
	case TaskCreative, TaskDialogue:
		return models.CapCreative
	case TaskCoding:
		return models.CapCoding
	case TaskVoice:
		return models.CapTTS
	default:
		return models.CapText
	}
}

// FallbackChain returns the ordered failover chain for a task, building
// and caching it on first use. Creative and dialogue chains admit only
// tier-0 models.
func (rt *Router) FallbackChain(taskType string) []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if chain, ok := rt.chains[taskType]; ok {
		return append([]string(nil), chain...)
	}
	chain := rt.buildChain(taskType)
	rt.chains[taskType] = chain
	return append([]string(nil), chain...)
}

func (rt *Router) buildChain(taskType string) []string {
	capability := capabilityForTask(taskType)
	tierZeroOnly := taskType == TaskCreative || taskType == TaskDialogue

	candidates := make([]*entry, 0)
	for _, e := range rt.registry.snapshot() {
		if !e.healthy.Load() {
			continue
		}
		if capability != "" && !e.desc.HasCapability(capability) {
			continue
		}
		if tierZeroOnly && !e.desc.Unrestricted() {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].desc.Quality > candidates[j].desc.Quality
	})

	chain := make([]string, 0, len(candidates))
	for _, e := range candidates {
		chain = append(chain, e.desc.ID)
	}
	return chain
}

// NextInChain picks from the task's chain with the given rotation
// strategy, considering only currently healthy members. Unknown
// strategies behave as round_robin.
func (rt *Router) NextInChain(taskType, strategy string) (*models.ModelDescriptor, error) {
	healthy := make([]*entry, 0)
	for _, id := range rt.FallbackChain(taskType) {
		e, ok := rt.registry.entryByID(id)
		if !ok || !e.healthy.Load() {
			continue
		}
		healthy = append(healthy, e)
	}
	if len(healthy) == 0 {
		return nil, ErrNoModelAvailable
	}

	best := healthy[0]
	switch strategy {
	case RotationQuality:
		for _, e := range healthy[1:] {
			if e.desc.Quality > best.desc.Quality {
				best = e
			}
		}
	case RotationSpeed:
		for _, e := range healthy[1:] {
			if e.desc.Speed > best.desc.Speed {
				best = e
			}
		}
	case RotationAvailability:
		for _, e := range healthy[1:] {
			if e.usage.Load() < best.usage.Load() {
				best = e
			}
		}
	}
	return best.desc, nil
}

// ReportFailure marks the model unhealthy and strips it from every
// cached chain so the next pick fails over immediately.
func (rt *Router) ReportFailure(modelID string) {
	rt.registry.SetHealth(modelID, false, 0)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	for task, chain := range rt.chains {
		kept := chain[:0]
		for _, id := range chain {
			if id != modelID {
				kept = append(kept, id)
			}
		}
		rt.chains[task] = kept
	}
	log.Printf("[Router] model %s marked unhealthy after failure", modelID)
}

// ReportSuccess restores the model's health, records the observed
// latency and bumps usage. A recovery invalidates cached chains so the
// model rejoins them.
func (rt *Router) ReportSuccess(modelID string, latency time.Duration) {
	wasHealthy := true
	if h, err := rt.registry.Health(modelID); err == nil {
		wasHealthy = h.Healthy
	}

	rt.registry.SetHealth(modelID, true, latency)
	rt.registry.RecordUsage(modelID)

	if !wasHealthy {
		rt.mu.Lock()
		rt.chains = make(map[string][]string)
		rt.mu.Unlock()
		log.Printf("[Router] model %s recovered", modelID)
	}
}

// InvalidateChains drops every cached chain. The registry calls this
// indirectly through re-registration flows; tests use it directly.
func (rt *Router) InvalidateChains() {
	rt.mu.Lock()
	rt.chains = make(map[string][]string)
	rt.mu.Unlock()
}
