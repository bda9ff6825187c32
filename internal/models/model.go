package models

import "time"

// Capability labels a model can advertise.
const (
	CapText            = "text"
	CapCreative        = "creative"
	CapReasoning       = "reasoning"
	CapCoding          = "coding"
	CapVoice           = "voice"
	CapUncensored      = "uncensored"
	CapTTS             = "tts"
	CapSTT             = "stt"
	CapSpeechToSpeech  = "speech_to_speech"
	CapFunctionCalling = "function_calling"
	CapVision          = "vision"
	CapStreaming       = "streaming"
)

// ModelDescriptor describes a routable generation model. Descriptors are
// immutable once registered; health lives in the registry, not here.
type ModelDescriptor struct {
	ID              string   `json:"id" yaml:"id"`
	Provider        string   `json:"provider" yaml:"provider"`
	Capabilities    []string `json:"capabilities" yaml:"capabilities"`
	ContextWindow   int      `json:"context_window" yaml:"context_window"`
	MaxOutputTokens int      `json:"max_output_tokens" yaml:"max_output_tokens"`
	Quality         int      `json:"quality" yaml:"quality"`
	Speed           int      `json:"speed" yaml:"speed"`
	Tier            int      `json:"tier" yaml:"tier"`
	CostPerToken    float64  `json:"cost_per_token" yaml:"cost_per_token"`
	RateLimit       int      `json:"rate_limit" yaml:"rate_limit"`
}

// HasCapability reports whether the descriptor advertises name.
func (m *ModelDescriptor) HasCapability(name string) bool {
	for _, c := range m.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// Unrestricted reports whether the model sits in tier 0.
func (m *ModelDescriptor) Unrestricted() bool {
	return m.Tier == 0
}

// ModelHealth is the registry's mutable per-model view.
type ModelHealth struct {
	Healthy   bool          `json:"healthy"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency"`
}
