package channels

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"fablecast/server/internal/interfaces"
)

const (
	renderQueueSize    = 100
	renderResultTTL    = 10 * time.Minute
	renderCleanupEvery = 5 * time.Minute
)

// SceneRenderer turns a scene prompt into a hosted asset URL. Image
// backends implement this.
type SceneRenderer interface {
	RenderScene(ctx context.Context, prompt string) (string, error)
}

// renderJob is one queued scene render.
type renderJob struct {
	ID        string
	Prompt    string
	ResultCh  chan *RenderResult
	CreatedAt time.Time
}

// RenderResult is the outcome of a queued render.
type RenderResult struct {
	ID        string
	AssetURL  string
	Err       error
	Duration  time.Duration
	CreatedAt time.Time
}

// VisualAdapter renders scene illustrations through a bounded worker
// queue so a burst of sessions cannot stampede the image backend.
type VisualAdapter struct {
	renderer SceneRenderer
	jobs     chan *renderJob
	workers  int

	mu      sync.RWMutex
	results map[string]*RenderResult

	inputs chan interfaces.PlayerInput

	startOnce sync.Once

	sessMu sync.RWMutex
	active map[string]bool
}

// NewVisualAdapter wires a visual adapter to a renderer. workers caps
// concurrent renders.
func NewVisualAdapter(renderer SceneRenderer, workers int) *VisualAdapter {
	if workers <= 0 {
		workers = 2
	}
	return &VisualAdapter{
		renderer: renderer,
		jobs:     make(chan *renderJob, renderQueueSize),
		workers:  workers,
		results:  make(map[string]*RenderResult),
		inputs:   make(chan interfaces.PlayerInput, 64),
		active:   make(map[string]bool),
	}
}

// Start launches the render workers and the result janitor. Safe to
// call once; later calls are no-ops.
func (a *VisualAdapter) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		for i := 0; i < a.workers; i++ {
			go a.worker(ctx)
		}
		go a.cleanup(ctx)
		log.Printf("[VisualAdapter] Started %d render workers", a.workers)
	})
}

func (a *VisualAdapter) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-a.jobs:
			if !ok {
				return
			}
			start := time.Now()
			url, err := a.renderer.RenderScene(ctx, job.Prompt)
			result := &RenderResult{
				ID:        job.ID,
				AssetURL:  url,
				Err:       err,
				Duration:  time.Since(start),
				CreatedAt: time.Now(),
			}

			a.mu.Lock()
			a.results[job.ID] = result
			a.mu.Unlock()

			select {
			case job.ResultCh <- result:
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
				log.Printf("[VisualAdapter] Nobody waiting on render %s", job.ID)
			}
		}
	}
}

// cleanup drops finished render results past their retention window.
func (a *VisualAdapter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(renderCleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			a.mu.Lock()
			for id, result := range a.results {
				if now.Sub(result.CreatedAt) > renderResultTTL {
					delete(a.results, id)
				}
			}
			a.mu.Unlock()
		}
	}
}

// Name implements interfaces.ChannelAdapter.
func (a *VisualAdapter) Name() string { return ChannelVisual }

// Send queues a scene render for the message and waits for the asset.
// A full queue is a structured failure, not a block.
func (a *VisualAdapter) Send(ctx context.Context, msg *interfaces.Message) (*interfaces.Delivery, error) {
	if a.renderer == nil {
		return &interfaces.Delivery{Channel: ChannelVisual, Success: false, Failed: []string{interfaces.ModalityVisual}},
			fmt.Errorf("visual adapter has no renderer")
	}

	job := &renderJob{
		ID:        uuid.NewString(),
		Prompt:    scenePrompt(msg),
		ResultCh:  make(chan *RenderResult, 1),
		CreatedAt: time.Now(),
	}

	select {
	case a.jobs <- job:
	default:
		return &interfaces.Delivery{Channel: ChannelVisual, Success: false, Failed: []string{interfaces.ModalityVisual}},
			fmt.Errorf("render queue is full")
	}

	select {
	case result := <-job.ResultCh:
		if result.Err != nil {
			return &interfaces.Delivery{Channel: ChannelVisual, Success: false, Failed: []string{interfaces.ModalityVisual}},
				fmt.Errorf("failed to render scene: %w", result.Err)
		}
		return &interfaces.Delivery{
			Channel:  ChannelVisual,
			Success:  true,
			Parts:    []string{interfaces.ModalityVisual},
			AssetURL: result.AssetURL,
		}, nil
	case <-ctx.Done():
		return &interfaces.Delivery{Channel: ChannelVisual, Success: false, Failed: []string{interfaces.ModalityVisual}},
			ctx.Err()
	}
}

// Result returns a finished render by id while it is still retained.
func (a *VisualAdapter) Result(id string) (*RenderResult, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result, ok := a.results[id]
	return result, ok
}

// QueueDepth reports how many renders are waiting.
func (a *VisualAdapter) QueueDepth() int {
	return len(a.jobs)
}

// Receive returns the adapter's input stream. Visual channels carry no
// player input of their own.
func (a *VisualAdapter) Receive(ctx context.Context) (<-chan interfaces.PlayerInput, error) {
	return a.inputs, nil
}

// StartSession implements interfaces.ChannelAdapter.
func (a *VisualAdapter) StartSession(ctx context.Context, sessionID string) error {
	a.sessMu.Lock()
	a.active[sessionID] = true
	a.sessMu.Unlock()
	return nil
}

// EndSession implements interfaces.ChannelAdapter.
func (a *VisualAdapter) EndSession(ctx context.Context, sessionID string) error {
	a.sessMu.Lock()
	delete(a.active, sessionID)
	a.sessMu.Unlock()
	return nil
}

// Capabilities implements interfaces.ChannelAdapter.
func (a *VisualAdapter) Capabilities() interfaces.Capabilities {
	return interfaces.Capabilities{
		Name:            ChannelVisual,
		Modalities:      []string{interfaces.ModalityVisual},
		SupportsChoices: false,
	}
}

// scenePrompt flattens a message into an illustration prompt.
func scenePrompt(msg *interfaces.Message) string {
	if msg.Speaker != "" && msg.Emotion != "" {
		return fmt.Sprintf("%s, %s: %s", msg.Speaker, msg.Emotion, msg.Text)
	}
	if msg.Speaker != "" {
		return fmt.Sprintf("%s: %s", msg.Speaker, msg.Text)
	}
	return msg.Text
}
