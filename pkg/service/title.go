package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
	"github.com/tmc/langchaingo/llms"
)

const titlePrompt = "Based on this conversation, generate a concise 3-5 word title that captures the main topic. " +
	"Return ONLY the title, no quotes or extra text.\n\nUser: %s\n\nAssistant: %s"

// GenerateTitle asks the model for a short title summarising one exchange.
// An empty answer falls back to chat.DefaultTitle.
func (s *Service) GenerateTitle(ctx context.Context, userMessage, assistantResponse string) (string, error) {
	if s.model == nil {
		return "", backend.ErrNotConfigured
	}

	prompt := fmt.Sprintf(titlePrompt, userMessage, truncateRunes(assistantResponse, s.opts.TitleMaxAssistantChars))

	options := []llms.CallOption{
		llms.WithMaxTokens(s.opts.TitleMaxTokens),
		llms.WithTemperature(s.opts.TitleTemperature),
	}
	if s.opts.TitleModel != "" {
		options = append(options, llms.WithModel(s.opts.TitleModel))
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, s.model, prompt, options...)
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}

	title := cleanTitle(out)
	if title == "" {
		return chat.DefaultTitle, nil
	}
	return title, nil
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// cleanTitle trims whitespace and the quotes models like to add anyway
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'`")
	return strings.TrimSpace(title)
}
