package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fablecast/server/internal/interfaces"
	"fablecast/server/internal/models"
)

const defaultSynthesisTimeout = 30 * time.Second

// VoiceAdapter renders messages to audio through a speech synthesizer.
// Playback transport is the caller's concern; the adapter reports the
// rendered audio URL on the delivery.
type VoiceAdapter struct {
	synth   interfaces.SpeechSynthesizer
	timeout time.Duration

	inputs chan interfaces.PlayerInput

	mu     sync.RWMutex
	active map[string]bool
}

// NewVoiceAdapter wires a voice adapter to a synthesizer.
func NewVoiceAdapter(synth interfaces.SpeechSynthesizer, timeout time.Duration) *VoiceAdapter {
	if timeout <= 0 {
		timeout = defaultSynthesisTimeout
	}
	return &VoiceAdapter{
		synth:   synth,
		timeout: timeout,
		inputs:  make(chan interfaces.PlayerInput, 256),
		active:  make(map[string]bool),
	}
}

// Name implements interfaces.ChannelAdapter.
func (v *VoiceAdapter) Name() string { return ChannelVoice }

// Send synthesizes the message text. Messages without an explicit voice
// fall back to a flat narrator profile.
func (v *VoiceAdapter) Send(ctx context.Context, msg *interfaces.Message) (*interfaces.Delivery, error) {
	if v.synth == nil {
		return &interfaces.Delivery{Channel: ChannelVoice, Success: false, Failed: []string{interfaces.ModalityAudio}},
			fmt.Errorf("voice adapter has no synthesizer")
	}

	voice := models.VoiceProfile{Provider: "sovits", Model: "narrator-v2", Pitch: 1.0, Rate: 1.0, Warmth: 0.5, Assertiveness: 0.5, Breathiness: 0.3}
	if msg.Voice != nil {
		voice = *msg.Voice
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	result, err := v.synth.Synthesize(ctx, &interfaces.SpeechRequest{
		Text:    msg.Text,
		Voice:   voice,
		Emotion: msg.Emotion,
	})
	if err != nil {
		return &interfaces.Delivery{Channel: ChannelVoice, Success: false, Failed: []string{interfaces.ModalityAudio}},
			fmt.Errorf("failed to synthesize speech: %w", err)
	}

	return &interfaces.Delivery{
		Channel:  ChannelVoice,
		Success:  true,
		Parts:    []string{interfaces.ModalityAudio},
		AudioURL: result.AudioURL,
	}, nil
}

// Receive returns the adapter's input stream. Transcribed voice input
// arrives through Inject.
func (v *VoiceAdapter) Receive(ctx context.Context) (<-chan interfaces.PlayerInput, error) {
	return v.inputs, nil
}

// Inject queues a transcribed player utterance.
func (v *VoiceAdapter) Inject(input interfaces.PlayerInput) error {
	select {
	case v.inputs <- input:
		return nil
	default:
		return fmt.Errorf("input buffer full, dropped input for session %s", input.SessionID)
	}
}

// StartSession implements interfaces.ChannelAdapter.
func (v *VoiceAdapter) StartSession(ctx context.Context, sessionID string) error {
	v.mu.Lock()
	v.active[sessionID] = true
	v.mu.Unlock()
	return nil
}

// EndSession implements interfaces.ChannelAdapter.
func (v *VoiceAdapter) EndSession(ctx context.Context, sessionID string) error {
	v.mu.Lock()
	delete(v.active, sessionID)
	v.mu.Unlock()
	return nil
}

// Capabilities implements interfaces.ChannelAdapter.
func (v *VoiceAdapter) Capabilities() interfaces.Capabilities {
	return interfaces.Capabilities{
		Name:            ChannelVoice,
		Modalities:      []string{interfaces.ModalityAudio},
		SupportsChoices: false,
	}
}
