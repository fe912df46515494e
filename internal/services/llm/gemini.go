package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"google.golang.org/genai"
)

// GeminiBackend interprets forms with the Gemini API
type GeminiBackend struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	retry   *RetryConfig
	logger  arbor.ILogger
}

// NewGeminiBackend creates a Gemini backend. The API key must be set.
func NewGeminiBackend(ctx context.Context, cfg *common.GeminiConfig, timeout time.Duration, logger arbor.ILogger) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiBackend{
		client:  client,
		model:   cfg.Model,
		timeout: timeout,
		retry:   NewDefaultRetryConfig(),
		logger:  logger,
	}, nil
}

func (b *GeminiBackend) Name() string {
	return string(common.LLMProviderGemini)
}

// Complete sends one user prompt and returns the text of the first candidate
func (b *GeminiBackend) Complete(ctx context.Context, prompt, systemPrompt string, temperature float32) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(temperature),
		ResponseMIMEType: "application/json",
	}
	if systemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, b.retry, b.logger, b.Name(), func() error {
		var callErr error
		resp, callErr = b.client.Models.GenerateContent(ctx, b.model, contents, config)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from Gemini API")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty text in Gemini response")
	}
	return text.String(), nil
}

func (b *GeminiBackend) Close() error {
	b.client = nil
	return nil
}
