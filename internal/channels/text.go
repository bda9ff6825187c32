package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fablecast/server/internal/interfaces"
)

const defaultMaxTextLength = 4000

// Publisher pushes rendered payloads to connected clients. The web hub
// implements this over websockets.
type Publisher interface {
	Publish(sessionID string, data []byte) error
}

// TextAdapter delivers narrative text and choice prompts through a
// Publisher and collects player input through Inject.
type TextAdapter struct {
	publisher Publisher
	maxLen    int

	inputs chan interfaces.PlayerInput

	mu     sync.RWMutex
	active map[string]bool
}

// textEnvelope is the wire shape pushed to clients.
type textEnvelope struct {
	Type    string              `json:"type"`
	Message *interfaces.Message `json:"message"`
	Part    int                 `json:"part,omitempty"`
	Parts   int                 `json:"parts,omitempty"`
	Time    int64               `json:"time"`
}

// NewTextAdapter wires a text adapter to a publisher. bufferSize caps
// how many pending player inputs are held before drops.
func NewTextAdapter(publisher Publisher, bufferSize int) *TextAdapter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &TextAdapter{
		publisher: publisher,
		maxLen:    defaultMaxTextLength,
		inputs:    make(chan interfaces.PlayerInput, bufferSize),
		active:    make(map[string]bool),
	}
}

// Name implements interfaces.ChannelAdapter.
func (t *TextAdapter) Name() string { return ChannelText }

// Send publishes the message. Text beyond the channel's length cap is
// split into parts; choices ride on the final part only.
func (t *TextAdapter) Send(ctx context.Context, msg *interfaces.Message) (*interfaces.Delivery, error) {
	if t.publisher == nil {
		return &interfaces.Delivery{Channel: ChannelText, Success: false},
			fmt.Errorf("text adapter has no publisher")
	}

	chunks := splitText(msg.Text, t.maxLen)
	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		part := *msg
		part.Text = chunk
		if i < len(chunks)-1 {
			part.Choices = nil
			part.Final = false
		}

		data, err := json.Marshal(textEnvelope{
			Type:    "narrative",
			Message: &part,
			Part:    i + 1,
			Parts:   len(chunks),
			Time:    time.Now().Unix(),
		})
		if err != nil {
			return &interfaces.Delivery{Channel: ChannelText, Success: false, Parts: parts},
				fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := t.publisher.Publish(msg.SessionID, data); err != nil {
			return &interfaces.Delivery{Channel: ChannelText, Success: false, Parts: parts, Failed: []string{interfaces.ModalityText}},
				fmt.Errorf("failed to publish text: %w", err)
		}
		parts = append(parts, interfaces.ModalityText)
	}

	return &interfaces.Delivery{Channel: ChannelText, Success: true, Parts: parts}, nil
}

// Receive returns the adapter's input stream.
func (t *TextAdapter) Receive(ctx context.Context) (<-chan interfaces.PlayerInput, error) {
	return t.inputs, nil
}

// Inject queues a player input arriving from the transport layer. A
// full buffer drops the input and reports it.
func (t *TextAdapter) Inject(input interfaces.PlayerInput) error {
	select {
	case t.inputs <- input:
		return nil
	default:
		return fmt.Errorf("input buffer full, dropped input for session %s", input.SessionID)
	}
}

// StartSession implements interfaces.ChannelAdapter.
func (t *TextAdapter) StartSession(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	t.active[sessionID] = true
	t.mu.Unlock()
	return nil
}

// EndSession implements interfaces.ChannelAdapter.
func (t *TextAdapter) EndSession(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	delete(t.active, sessionID)
	t.mu.Unlock()
	return nil
}

// ActiveSessions reports how many sessions are started on this channel.
func (t *TextAdapter) ActiveSessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// Capabilities implements interfaces.ChannelAdapter.
func (t *TextAdapter) Capabilities() interfaces.Capabilities {
	return interfaces.Capabilities{
		Name:            ChannelText,
		Modalities:      []string{interfaces.ModalityText},
		SupportsChoices: true,
		MaxTextLength:   t.maxLen,
	}
}

// splitText breaks text into rune-safe chunks of at most maxLen. Empty
// text still yields one empty chunk so choice-only messages go out.
func splitText(text string, maxLen int) []string {
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(runes) > maxLen {
		chunks = append(chunks, string(runes[:maxLen]))
		runes = runes[maxLen:]
	}
	return append(chunks, string(runes))
}
