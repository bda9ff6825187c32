package interfaces

import (
	"context"
	"time"

	"fablecast/server/internal/models"
)

// GenerateRequest asks a model for free-text narrative continuation.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// GenerateResult carries model output plus accounting.
type GenerateResult struct {
	Text    string
	Model   string
	Tokens  int
	Latency time.Duration
}

// TextGenerator produces narrative text through a concrete model.
type TextGenerator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// Embedder turns text into a vector for recall indexing.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Prober checks that one model answers. The health monitor calls it on a
// fixed interval; a probe error marks only that model unhealthy.
type Prober interface {
	Probe(ctx context.Context, modelID string) (time.Duration, error)
}

// SpeechRequest asks for synthesized audio in a persona's voice.
type SpeechRequest struct {
	Text      string
	Voice     models.VoiceProfile
	Emotion   string
	Intensity float64
}

// SpeechResult points at rendered audio.
type SpeechResult struct {
	AudioURL string
	Duration float64 // seconds
}

// SpeechSynthesizer renders text to audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req *SpeechRequest) (*SpeechResult, error)
}
