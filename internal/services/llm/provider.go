package llm

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/genieops/internal/common"
	"github.com/ternarybob/genieops/internal/interfaces"
)

// NewBackend builds the configured form interpreter backend. It returns nil
// without error when no provider is configured or its API key is missing;
// the form reader then runs DOM-only.
func NewBackend(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (interfaces.FormInterpreterBackend, error) {
	timeout := common.ParseDuration(cfg.LLM.Timeout, 0)

	provider := cfg.LLM.DefaultProvider
	// fall back to whichever provider has a key
	if provider == common.LLMProviderClaude && cfg.Claude.APIKey == "" && cfg.Gemini.APIKey != "" {
		provider = common.LLMProviderGemini
	}
	if provider == common.LLMProviderGemini && cfg.Gemini.APIKey == "" && cfg.Claude.APIKey != "" {
		provider = common.LLMProviderClaude
	}

	switch provider {
	case common.LLMProviderClaude:
		if cfg.Claude.APIKey == "" {
			break
		}
		backend, err := NewClaudeBackend(&cfg.Claude, timeout, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("provider", backend.Name()).Str("model", cfg.Claude.Model).Msg("Form interpreter backend ready")
		return backend, nil
	case common.LLMProviderGemini:
		if cfg.Gemini.APIKey == "" {
			break
		}
		backend, err := NewGeminiBackend(ctx, &cfg.Gemini, timeout, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("provider", backend.Name()).Str("model", cfg.Gemini.Model).Msg("Form interpreter backend ready")
		return backend, nil
	}

	logger.Info().Str("provider", string(cfg.LLM.DefaultProvider)).Msg("No form interpreter backend available, using DOM-only form analysis")
	return nil, nil
}
