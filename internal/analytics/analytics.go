package analytics

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Collector counts orchestration events. All methods are safe on a nil
// receiver so instrumentation points never need guarding.
type Collector struct {
	startedAt time.Time

	sessionsStarted   atomic.Int64
	sessionsEnded     atomic.Int64
	sessionsCompleted atomic.Int64
	inputsReceived    atomic.Int64
	choicesMade       atomic.Int64
	eventsTriggered   atomic.Int64
	generationOK      atomic.Int64
	generationFailed  atomic.Int64
	deliveryFailed    atomic.Int64
	savesCreated      atomic.Int64
	savesLoaded       atomic.Int64

	mu       sync.Mutex
	byStory  map[string]int64
	byChoice map[string]int64
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	UptimeSeconds     int64            `json:"uptime_seconds"`
	SessionsStarted   int64            `json:"sessions_started"`
	SessionsEnded     int64            `json:"sessions_ended"`
	SessionsCompleted int64            `json:"sessions_completed"`
	InputsReceived    int64            `json:"inputs_received"`
	ChoicesMade       int64            `json:"choices_made"`
	EventsTriggered   int64            `json:"events_triggered"`
	GenerationOK      int64            `json:"generation_ok"`
	GenerationFailed  int64            `json:"generation_failed"`
	DeliveryFailed    int64            `json:"delivery_failed"`
	SavesCreated      int64            `json:"saves_created"`
	SavesLoaded       int64            `json:"saves_loaded"`
	SessionsByStory   map[string]int64 `json:"sessions_by_story,omitempty"`
	PopularChoices    []ChoiceCount    `json:"popular_choices,omitempty"`
}

// ChoiceCount is one row of the popular-choice report.
type ChoiceCount struct {
	ChoiceID string `json:"choice_id"`
	Count    int64  `json:"count"`
}

// NewCollector creates a collector stamped with the current time.
func NewCollector() *Collector {
	return &Collector{
		startedAt: time.Now(),
		byStory:   make(map[string]int64),
		byChoice:  make(map[string]int64),
	}
}

// SessionStarted counts a new session against its story.
func (c *Collector) SessionStarted(storyID string) {
	if c == nil {
		return
	}
	c.sessionsStarted.Inc()
	c.mu.Lock()
	c.byStory[storyID]++
	c.mu.Unlock()
}

// SessionEnded counts a teardown.
func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.sessionsEnded.Inc()
}

// SessionCompleted counts a session reaching a terminal node.
func (c *Collector) SessionCompleted() {
	if c == nil {
		return
	}
	c.sessionsCompleted.Inc()
}

// InputReceived counts one player input of any kind.
func (c *Collector) InputReceived() {
	if c == nil {
		return
	}
	c.inputsReceived.Inc()
}

// ChoiceMade counts an accepted choice.
func (c *Collector) ChoiceMade(choiceID string) {
	if c == nil {
		return
	}
	c.choicesMade.Inc()
	c.mu.Lock()
	c.byChoice[choiceID]++
	c.mu.Unlock()
}

// EventTriggered counts a world event application.
func (c *Collector) EventTriggered() {
	if c == nil {
		return
	}
	c.eventsTriggered.Inc()
}

// GenerationSucceeded counts a model response that arrived.
func (c *Collector) GenerationSucceeded() {
	if c == nil {
		return
	}
	c.generationOK.Inc()
}

// GenerationFailed counts a model response that did not.
func (c *Collector) GenerationFailed() {
	if c == nil {
		return
	}
	c.generationFailed.Inc()
}

// DeliveryFailed counts a channel send that errored.
func (c *Collector) DeliveryFailed() {
	if c == nil {
		return
	}
	c.deliveryFailed.Inc()
}

// SaveCreated counts a save point write.
func (c *Collector) SaveCreated() {
	if c == nil {
		return
	}
	c.savesCreated.Inc()
}

// SaveLoaded counts a save point restore.
func (c *Collector) SaveLoaded() {
	if c == nil {
		return
	}
	c.savesLoaded.Inc()
}

// Snapshot copies every counter. The popular-choice list is sorted by
// count, capped at ten rows.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}

	snap := Snapshot{
		UptimeSeconds:     int64(time.Since(c.startedAt).Seconds()),
		SessionsStarted:   c.sessionsStarted.Load(),
		SessionsEnded:     c.sessionsEnded.Load(),
		SessionsCompleted: c.sessionsCompleted.Load(),
		InputsReceived:    c.inputsReceived.Load(),
		ChoicesMade:       c.choicesMade.Load(),
		EventsTriggered:   c.eventsTriggered.Load(),
		GenerationOK:      c.generationOK.Load(),
		GenerationFailed:  c.generationFailed.Load(),
		DeliveryFailed:    c.deliveryFailed.Load(),
		SavesCreated:      c.savesCreated.Load(),
		SavesLoaded:       c.savesLoaded.Load(),
	}

	c.mu.Lock()
	if len(c.byStory) > 0 {
		snap.SessionsByStory = make(map[string]int64, len(c.byStory))
		for k, v := range c.byStory {
			snap.SessionsByStory[k] = v
		}
	}
	choices := make([]ChoiceCount, 0, len(c.byChoice))
	for id, n := range c.byChoice {
		choices = append(choices, ChoiceCount{ChoiceID: id, Count: n})
	}
	c.mu.Unlock()

	sort.Slice(choices, func(i, j int) bool {
		if choices[i].Count != choices[j].Count {
			return choices[i].Count > choices[j].Count
		}
		return choices[i].ChoiceID < choices[j].ChoiceID
	})
	if len(choices) > 10 {
		choices = choices[:10]
	}
	if len(choices) > 0 {
		snap.PopularChoices = choices
	}
	return snap
}
