package ai

import (
	"errors"
	"log/slog"
)

// ErrNoProvider is returned by Providers.Generator when no key is set.
var ErrNoProvider = errors.New("ai: no provider configured")

// Providers holds the credentials for every supported backend. Empty keys
// mean the backend is not configured.
type Providers struct {
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string
}

// Generator builds the Generator for the configured backends. The
// OpenAI-compatible endpoint is primary; Anthropic is the fallback when both
// keys are set.
func (p Providers) Generator(logger *slog.Logger) (Generator, error) {
	var primary, secondary Generator
	if p.OpenAIAPIKey != "" {
		primary = NewOpenAIClient(p.OpenAIAPIKey, p.OpenAIModel, p.OpenAIBaseURL)
	}
	if p.AnthropicAPIKey != "" {
		secondary = NewAnthropicClient(p.AnthropicAPIKey, p.AnthropicModel, p.AnthropicBaseURL)
	}

	switch {
	case primary != nil && secondary != nil:
		logger.Info("ai: using OpenAI-compatible provider with Anthropic fallback",
			"model", p.OpenAIModel,
			"fallback_model", p.AnthropicModel,
		)
		return NewFallbackGenerator(primary, secondary, logger), nil
	case primary != nil:
		logger.Info("ai: using OpenAI-compatible provider only", "model", p.OpenAIModel)
		return primary, nil
	case secondary != nil:
		logger.Info("ai: using Anthropic only", "model", p.AnthropicModel)
		return secondary, nil
	default:
		return nil, ErrNoProvider
	}
}
