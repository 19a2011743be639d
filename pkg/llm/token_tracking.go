package llm

import (
	"context"
	"sync"

	"github.com/killallgit/converse/pkg/tokens"
	"github.com/tmc/langchaingo/llms"
)

// Usage is the running token total of a TokenTracker
type Usage struct {
	Sent int
	Recv int
}

// TokenTracker wraps a model and counts the tokens going in and out of it
type TokenTracker struct {
	model   llms.Model
	counter *tokens.TokenCounter

	mu    sync.Mutex
	usage Usage
}

var _ llms.Model = (*TokenTracker)(nil)

func NewTokenTracker(model llms.Model, counter *tokens.TokenCounter) *TokenTracker {
	return &TokenTracker{
		model:   model,
		counter: counter,
	}
}

// GenerateContent forwards to the wrapped model and records usage
func (t *TokenTracker) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	sent := 0
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				sent += t.counter.CountTokens(text.Text)
			}
		}
	}
	t.add(Usage{Sent: sent})

	resp, err := t.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, err
	}

	recv := 0
	for _, choice := range resp.Choices {
		recv += t.counter.CountTokens(choice.Content)
	}
	t.add(Usage{Recv: recv})

	return resp, nil
}

// Call implements the single prompt form on top of GenerateContent
func (t *TokenTracker) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, t, prompt, options...)
}

func (t *TokenTracker) add(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.Sent += u.Sent
	t.usage.Recv += u.Recv
}

// Usage returns the totals so far
func (t *TokenTracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}
