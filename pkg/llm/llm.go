// Package llm builds the langchaingo model used for replies and titles.
package llm

import (
	"fmt"

	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/config"
	"github.com/killallgit/converse/pkg/logger"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
)

// New returns the model for the configured provider. A missing Anthropic key
// yields backend.ErrNotConfigured so callers can start without credentials
// and report the problem per request.
func New(settings *config.Settings) (llms.Model, error) {
	switch settings.Provider {
	case config.ProviderOllama:
		logger.Debug("Using ollama at %s with model %s", settings.Ollama.Host, settings.Ollama.Model)
		model, err := ollama.New(
			ollama.WithServerURL(settings.Ollama.Host),
			ollama.WithModel(settings.Ollama.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return model, nil

	case config.ProviderAnthropic, "":
		if settings.Anthropic.APIKey == "" {
			return nil, backend.ErrNotConfigured
		}
		opts := []anthropic.Option{
			anthropic.WithToken(settings.Anthropic.APIKey),
			anthropic.WithModel(settings.Anthropic.Model),
		}
		if settings.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(settings.Anthropic.BaseURL))
		}
		logger.Debug("Using anthropic with model %s", settings.Anthropic.Model)
		model, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		return model, nil

	default:
		return nil, fmt.Errorf("unknown provider %q", settings.Provider)
	}
}
