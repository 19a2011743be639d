package tokens

import (
	"strings"
	"sync"

	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/logger"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter provides methods for counting tokens in text
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.RWMutex
}

// NewTokenCounter creates a new token counter with the specified model.
// tiktoken may have to download its vocabulary; when that fails the counter
// falls back to estimating instead of returning an error.
func NewTokenCounter(modelName string) *TokenCounter {
	encoder, err := tiktoken.GetEncoding(getEncodingForModel(modelName))
	if err != nil {
		logger.Warn("Token encoder unavailable for %s, estimating instead: %v", modelName, err)
		return NewEstimator()
	}
	return &TokenCounter{encoder: encoder}
}

// NewEstimator returns a counter that never loads an encoder
func NewEstimator() *TokenCounter {
	return &TokenCounter{}
}

// Exact reports whether counts come from a real encoder
func (tc *TokenCounter) Exact() bool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.encoder != nil
}

// CountTokens counts the number of tokens in the given text
func (tc *TokenCounter) CountTokens(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.count(text)
}

func (tc *TokenCounter) count(text string) int {
	if tc.encoder == nil {
		return estimateTokens(text)
	}
	return len(tc.encoder.Encode(text, nil, nil))
}

// CountMessages counts tokens for a conversation
func (tc *TokenCounter) CountMessages(messages []chat.Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	if len(messages) == 0 {
		return 0
	}

	totalTokens := 0
	for _, msg := range messages {
		totalTokens += tc.countSingleMessage(msg)
	}

	// Every reply is primed with assistant
	totalTokens += 3

	return totalTokens
}

func (tc *TokenCounter) countSingleMessage(msg chat.Message) int {
	tokens := tc.count(string(msg.Role))
	tokens += tc.count(msg.Content)

	// <|start|>role<|end|> type markers
	tokens += 4

	return tokens
}

// getEncodingForModel returns the appropriate encoding for a model
func getEncodingForModel(modelName string) string {
	modelLower := strings.ToLower(modelName)

	if strings.Contains(modelLower, "gpt-4") || strings.Contains(modelLower, "gpt-3.5") {
		return "cl100k_base"
	}

	if strings.Contains(modelLower, "davinci") || strings.Contains(modelLower, "curie") {
		return "p50k_base"
	}

	// Claude and local models have no public encoding; cl100k_base is close enough
	return "cl100k_base"
}

// estimateTokens provides a rough token estimation when encoder is not available.
// 1 token per word or 1 token per 4 characters, whichever is higher.
func estimateTokens(text string) int {
	wordEstimate := len(strings.Fields(text))
	charEstimate := len(text) / 4

	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}
