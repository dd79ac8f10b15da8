package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/autostrat/config"
)

var ErrMissingAPIKey = errors.New("api key not configured")

// NewLLMProvider builds the chat model selected in cfg.
func NewLLMProvider(cfg config.LLMConfig) (LLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.Provider, ErrMissingAPIKey)
	}
	switch cfg.Provider {
	case config.LLMProviderGemini:
		return NewGeminiProvider(context.Background(), cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, cfg.MaxRetries)
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, cfg.MaxRetries), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
