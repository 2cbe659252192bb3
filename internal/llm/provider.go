package llm

import (
	"errors"
	"fmt"

	"studylab/internal/config"
)

var (
	ErrUnknownProvider   = errors.New("unknown model provider")
	ErrMissingCredential = errors.New("missing provider credential")
)

// NewProvider 按名称构造；name 为空时使用 provider.default
func NewProvider(cfg config.ProviderConfig, name string) (Provider, error) {
	if name == "" {
		name = cfg.Default
	}
	switch name {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("%w: openai api key is not configured", ErrMissingCredential)
		}
		return NewOpenAIClient(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.MaxTokens, cfg.Timeout), nil
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("%w: anthropic api key is not configured", ErrMissingCredential)
		}
		return NewAnthropicClient(cfg.Anthropic.BaseURL, cfg.Anthropic.APIKey, cfg.MaxTokens, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}
