package interfaces

import (
	"context"

	"fablecast/server/internal/models"
)

// Player input kinds.
const (
	InputChoice = "choice"
	InputText   = "text"
	InputVoice  = "voice"
)

// Delivery modalities.
const (
	ModalityText   = "text"
	ModalityAudio  = "audio"
	ModalityVisual = "visual"
)

// Message is one logical engine response bound for a channel.
type Message struct {
	SessionID string               `json:"session_id"`
	NodeID    string               `json:"node_id,omitempty"`
	Speaker   string               `json:"speaker,omitempty"`
	Emotion   string               `json:"emotion,omitempty"`
	Text      string               `json:"text"`
	Choices   []models.Choice      `json:"choices,omitempty"`
	Voice     *models.VoiceProfile `json:"voice,omitempty"`
	Final     bool                 `json:"final,omitempty"`
}

// Delivery reports what a send actually reached. Parts and Failed name
// modalities for adapters that fan out internally.
type Delivery struct {
	Channel  string   `json:"channel"`
	Success  bool     `json:"success"`
	Parts    []string `json:"parts,omitempty"`
	Failed   []string `json:"failed,omitempty"`
	AudioURL string   `json:"audio_url,omitempty"`
	AssetURL string   `json:"asset_url,omitempty"`
}

// PlayerInput is one inbound player action arriving on a channel.
type PlayerInput struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
	Kind      string `json:"kind"`
	ChoiceID  string `json:"choice_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Capabilities describes what a channel can carry.
type Capabilities struct {
	Name            string   `json:"name"`
	Modalities      []string `json:"modalities"`
	SupportsChoices bool     `json:"supports_choices"`
	MaxTextLength   int      `json:"max_text_length,omitempty"`
}

// ChannelAdapter is one delivery transport. Implementations must be safe
// for concurrent sends across sessions.
type ChannelAdapter interface {
	// Name returns the identifier the router binds sessions with.
	Name() string

	// Send delivers one engine response.
	Send(ctx context.Context, msg *Message) (*Delivery, error)

	// Receive returns the stream of player inputs from this channel.
	Receive(ctx context.Context) (<-chan PlayerInput, error)

	// StartSession prepares channel-side state for a session.
	StartSession(ctx context.Context, sessionID string) error

	// EndSession releases channel-side state for a session.
	EndSession(ctx context.Context, sessionID string) error

	// Capabilities reports what the channel can carry.
	Capabilities() Capabilities
}
