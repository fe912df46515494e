package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
)

// ClaudeBackend interprets forms with the Anthropic Messages API
type ClaudeBackend struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	retry     *RetryConfig
	logger    arbor.ILogger
}

// NewClaudeBackend creates a Claude backend. The API key must be set.
func NewClaudeBackend(cfg *common.ClaudeConfig, timeout time.Duration, logger arbor.ILogger) (*ClaudeBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("claude api key is not configured")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ClaudeBackend{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: maxTokens,
		timeout:   timeout,
		retry:     NewDefaultRetryConfig(),
		logger:    logger,
	}, nil
}

func (b *ClaudeBackend) Name() string {
	return string(common.LLMProviderClaude)
}

// Complete sends one user prompt and returns the concatenated text blocks
func (b *ClaudeBackend) Complete(ctx context.Context, prompt, systemPrompt string, temperature float32) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.model),
		MaxTokens: int64(b.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(float64(temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	var resp *anthropic.Message
	err := withRetry(ctx, b.retry, b.logger, b.Name(), func() error {
		var callErr error
		resp, callErr = b.client.Messages.New(ctx, params)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Claude API")
	}

	b.logger.Debug().
		Str("model", b.model).
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Msg("Claude completion received")

	return text.String(), nil
}

func (b *ClaudeBackend) Close() error {
	return nil
}
