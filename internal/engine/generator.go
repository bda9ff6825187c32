package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
)

// ResponseRequest carries everything a generator may draw on to answer
// free-form player input.
type ResponseRequest struct {
	Session *models.Session
	Node    *models.StoryNode
	Input   string
	Model   string

	// Memories are related past moments recalled for this input,
	// most relevant first. May be empty.
	Memories []string
}

// ResponseGenerator produces a narrative reply to free-form input. The
// engine treats this as a strategy seam: the rule-table generator is
// the offline reference, the model generator calls a real provider.
type ResponseGenerator interface {
	Respond(ctx context.Context, req *ResponseRequest) (string, error)
}

// responsePools holds canned continuations keyed by the session's
// primary tone. Placeholder %s receives the player's input.
var responsePools = map[string][]string{
	"neutral": {
		"You say: %q. The moment stretches, then the scene presses on.",
		"Your words hang in the air. Nothing answers, but something has heard.",
		"%q. It is noted. The story keeps its own counsel for now.",
	},
	"joy": {
		"Warmth rises as you speak. %q feels, briefly, like the right thing said at the right time.",
		"A small victory: %q lands well, and the mood lifts with it.",
	},
	"tense": {
		"You keep your voice low: %q. Somewhere close, something shifts its weight.",
		"%q. The silence that follows has edges.",
	},
	"somber": {
		"%q. The words fall like stones into still water.",
		"You speak, and the gloom takes your words without returning them.",
	},
	"fear": {
		"Your voice barely carries: %q. You regret the sound at once.",
		"%q. Saying it out loud makes it more real than you wanted.",
	},
	"hopeful": {
		"%q. For the first time in a while, that feels like a door opening.",
		"You say it and mean it: %q. The air seems lighter for it.",
	},
}

// RuleTableGenerator answers from canned pools keyed on the session's
// emotional tone. Deterministic under a fixed seed, it needs no
// network and serves as the fallback strategy.
type RuleTableGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRuleTableGenerator creates a rule-table generator over the given
// random source.
func NewRuleTableGenerator(rng *rand.Rand) *RuleTableGenerator {
	return &RuleTableGenerator{rng: rng}
}

// Respond implements ResponseGenerator.
func (g *RuleTableGenerator) Respond(ctx context.Context, req *ResponseRequest) (string, error) {
	tone := "neutral"
	if req.Session != nil && req.Session.State.Tone.Primary != "" {
		tone = req.Session.State.Tone.Primary
	}
	pool, ok := responsePools[tone]
	if !ok {
		pool = responsePools["neutral"]
	}

	g.mu.Lock()
	line := pool[g.rng.Intn(len(pool))]
	g.mu.Unlock()

	if strings.Contains(line, "%q") {
		return fmt.Sprintf(line, req.Input), nil
	}
	return line, nil
}

// ModelGenerator answers through a live text-generation backend.
type ModelGenerator struct {
	client interfaces.TextGenerator

	// Temperature and MaxTokens shape every request; zero values get
	// provider defaults.
	Temperature float64
	MaxTokens   int
}

// NewModelGenerator wraps a provider client as a response strategy.
func NewModelGenerator(client interfaces.TextGenerator) *ModelGenerator {
	return &ModelGenerator{client: client, Temperature: 0.9, MaxTokens: 400}
}

// Respond implements ResponseGenerator.
func (g *ModelGenerator) Respond(ctx context.Context, req *ResponseRequest) (string, error) {
	result, err := g.client.Generate(ctx, &interfaces.GenerateRequest{
		Model:       req.Model,
		System:      buildSystemPrompt(req),
		Prompt:      req.Input,
		Temperature: g.Temperature,
		MaxTokens:   g.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	return result.Text, nil
}

// buildSystemPrompt flattens session context into generation guidance.
func buildSystemPrompt(req *ResponseRequest) string {
	var b strings.Builder
	b.WriteString("You narrate an interactive story. Continue in second person, two to four sentences, matching the established tone. Never break character.\n")
	if req.Session != nil {
		fmt.Fprintf(&b, "Tone: %s (intensity %.1f). Tension: %d/100. Pacing: %s.\n",
			req.Session.State.Tone.Primary, req.Session.State.Tone.Intensity,
			req.Session.State.Tension, req.Session.State.Pacing)
		if loc := req.Session.Context.World.Location; loc != "" {
			fmt.Fprintf(&b, "Location: %s.\n", loc)
		}
		if threads := req.Session.Context.ActiveThreads; len(threads) > 0 {
			fmt.Fprintf(&b, "Open threads: %s.\n", strings.Join(threads, "; "))
		}
	}
	if req.Node != nil && req.Node.Content != "" {
		fmt.Fprintf(&b, "Current scene: %s\n", req.Node.Content)
	}
	if len(req.Memories) > 0 {
		fmt.Fprintf(&b, "Earlier in this story: %s\n", strings.Join(req.Memories, " | "))
	}
	return b.String()
}
