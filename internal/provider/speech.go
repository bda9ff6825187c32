package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fablecast/server/internal/config"
	"fablecast/server/internal/interfaces"
)

// Synthesizer renders speech through an HTTP TTS service. The service
// hosts rendered audio itself and answers with a URL, so deliveries
// stay small.
type Synthesizer struct {
	httpClient *http.Client
	baseURL    string
}

// ttsRequest is the synthesis service's wire shape.
type ttsRequest struct {
	Text          string  `json:"text"`
	Voice         string  `json:"voice"`
	Pitch         float64 `json:"pitch,omitempty"`
	Speed         float64 `json:"speed,omitempty"`
	Warmth        float64 `json:"warmth,omitempty"`
	Assertiveness float64 `json:"assertiveness,omitempty"`
	Breathiness   float64 `json:"breathiness,omitempty"`
	Emotion       string  `json:"emotion,omitempty"`
	Intensity     float64 `json:"intensity,omitempty"`
}

type ttsResponse struct {
	Success  bool    `json:"success"`
	Message  string  `json:"message,omitempty"`
	AudioURL string  `json:"audio_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// NewSynthesizer builds a TTS client from config.
func NewSynthesizer(cfg config.SpeechConfig) *Synthesizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Synthesizer{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
	}
}

// Synthesize implements interfaces.SpeechSynthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, req *interfaces.SpeechRequest) (*interfaces.SpeechResult, error) {
	if req.Text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	if s.baseURL == "" {
		return nil, fmt.Errorf("speech service has no base url configured")
	}

	body, err := json.Marshal(ttsRequest{
		Text:          req.Text,
		Voice:         req.Voice.Model,
		Pitch:         req.Voice.Pitch,
		Speed:         req.Voice.Rate,
		Warmth:        req.Voice.Warmth,
		Assertiveness: req.Voice.Assertiveness,
		Breathiness:   req.Voice.Breathiness,
		Emotion:       req.Emotion,
		Intensity:     req.Intensity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts service returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var out ttsResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("tts failed: %s", out.Message)
	}
	if out.AudioURL == "" {
		return nil, fmt.Errorf("tts succeeded but returned no audio url")
	}

	return &interfaces.SpeechResult{
		AudioURL: out.AudioURL,
		Duration: out.Duration,
	}, nil
}
