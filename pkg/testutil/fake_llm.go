package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

var _ llms.Model = (*FakeLLM)(nil)

// FakeLLM implements a fake language model for testing. When the caller
// passes llms.WithStreamingFunc the response is delivered in chunkSize
// pieces before GenerateContent returns.
type FakeLLM struct {
	mu           sync.Mutex
	responses    []string
	currentIndex int
	callCount    int
	lastPrompt   string
	lastMessages []llms.MessageContent
	lastOptions  llms.CallOptions
	errorOnCall  int // If > 0, return error on this call number
	errorMessage string
	chunkSize    int
	failAfter    int           // stream this many chunks, then fail (0 = never)
	gate         chan struct{} // when set, streaming waits for it before each chunk
}

// NewFakeLLM creates a new fake LLM with predefined responses
func NewFakeLLM(responses ...string) *FakeLLM {
	return &FakeLLM{
		responses: responses,
		chunkSize: 5,
	}
}

// Call implements the LLM interface
func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// GenerateContent implements the LLM interface for message-based generation
func (f *FakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	response, err := f.next(messages, opts)
	if err != nil {
		return nil, err
	}

	if opts.StreamingFunc != nil {
		if err := f.stream(ctx, response, opts.StreamingFunc); err != nil {
			return nil, err
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content: response,
			},
		},
	}, nil
}

func (f *FakeLLM) next(messages []llms.MessageContent, opts llms.CallOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callCount++
	f.lastMessages = messages
	f.lastOptions = opts
	f.lastPrompt = promptText(messages)

	if f.errorOnCall > 0 && f.callCount == f.errorOnCall {
		if f.errorMessage != "" {
			return "", errors.New(f.errorMessage)
		}
		return "", fmt.Errorf("fake error on call %d", f.callCount)
	}

	if len(f.responses) == 0 {
		return "", fmt.Errorf("no responses configured")
	}

	response := f.responses[f.currentIndex]
	f.currentIndex = (f.currentIndex + 1) % len(f.responses)
	return response, nil
}

func (f *FakeLLM) stream(ctx context.Context, response string, fn func(ctx context.Context, chunk []byte) error) error {
	f.mu.Lock()
	size, failAfter, gate := f.chunkSize, f.failAfter, f.gate
	f.mu.Unlock()

	runes := []rune(response)
	sent := 0
	for start := 0; start < len(runes); start += size {
		if failAfter > 0 && sent == failAfter {
			return fmt.Errorf("fake stream failure after %d chunks", sent)
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if err := fn(ctx, []byte(string(runes[start:end]))); err != nil {
			return err
		}
		sent++
	}
	return nil
}

func promptText(messages []llms.MessageContent) string {
	var parts []string
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				parts = append(parts, text.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Reset resets the response index and call count
func (f *FakeLLM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentIndex = 0
	f.callCount = 0
	f.lastPrompt = ""
	f.lastMessages = nil
	f.lastOptions = llms.CallOptions{}
}

// AddResponse adds a new response to the LLM
func (f *FakeLLM) AddResponse(response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, response)
}

// SetErrorOnCall configures the LLM to return an error on a specific call
func (f *FakeLLM) SetErrorOnCall(callNumber int, errorMessage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorOnCall = callNumber
	f.errorMessage = errorMessage
}

// SetChunkSize sets how many characters each streamed chunk carries
func (f *FakeLLM) SetChunkSize(size int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size > 0 {
		f.chunkSize = size
	}
}

// SetFailAfter makes streaming fail once n chunks have been delivered
func (f *FakeLLM) SetFailAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAfter = n
}

// SetGate makes streaming wait for a value on gate before every chunk
func (f *FakeLLM) SetGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

// GetCallCount returns the number of generations requested
func (f *FakeLLM) GetCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// GetLastPrompt returns the text parts of the last request joined by newlines
func (f *FakeLLM) GetLastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}

// GetLastMessages returns the messages of the last request
func (f *FakeLLM) GetLastMessages() []llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessages
}

// GetLastOptions returns the resolved options of the last request
func (f *FakeLLM) GetLastOptions() llms.CallOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOptions
}
