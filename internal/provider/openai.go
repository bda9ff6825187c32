package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"fablecast/server/internal/config"
	"fablecast/server/internal/interfaces"
)

const (
	maxRetries = 3
	retryDelay = 1 * time.Second
)

// Client talks to an OpenAI-compatible backend. It implements the
// engine's TextGenerator, Embedder and Prober contracts; transient
// failures are retried with linear backoff before they surface.
type Client struct {
	api            *openai.Client
	embeddingModel string
}

// NewClient builds a provider client from config. An empty base URL
// uses the provider's public endpoint.
func NewClient(cfg config.ProviderConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		api:            openai.NewClientWithConfig(apiCfg),
		embeddingModel: cfg.EmbeddingModel,
	}
}

// Generate implements interfaces.TextGenerator.
func (c *Client) Generate(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err := c.withRetries(ctx, func() error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, chatReq)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model %s returned no choices", req.Model)
	}

	return &interfaces.GenerateResult{
		Text:    strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   resp.Model,
		Tokens:  resp.Usage.TotalTokens,
		Latency: time.Since(start),
	}, nil
}

// Embed implements interfaces.Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	embReq := openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	}

	var resp openai.EmbeddingResponse
	err := c.withRetries(ctx, func() error {
		var callErr error
		resp, callErr = c.api.CreateEmbeddings(ctx, embReq)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response carried no vectors")
	}
	return resp.Data[0].Embedding, nil
}

// Probe implements interfaces.Prober with a model-metadata lookup, the
// cheapest call that still exercises auth and routing for the model.
func (c *Client) Probe(ctx context.Context, modelID string) (time.Duration, error) {
	start := time.Now()
	if _, err := c.api.GetModel(ctx, modelID); err != nil {
		return 0, fmt.Errorf("probe %s: %w", modelID, err)
	}
	return time.Since(start), nil
}

// withRetries runs fn up to maxRetries times, backing off linearly on
// retryable failures.
func (c *Client) withRetries(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
	}
	return lastErr
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "503")
}
