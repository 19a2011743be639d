// Package headless runs a single exchange against the conversation store
// and prints the reply to the terminal as it streams in.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/llm"
	"github.com/killallgit/converse/pkg/logger"
	"github.com/killallgit/converse/pkg/store"
)

// RunOptions selects where the prompt goes. An empty ChatID starts a new
// chat in ProjectID.
type RunOptions struct {
	ChatID    string
	ProjectID string
	Send      chat.SendOptions
}

// Runner drives one store through a send and waits for the reply
type Runner struct {
	store  *store.Store
	output *Output
	usage  func() llm.Usage
	log    *logger.Logger
}

type RunnerOption func(*Runner)

// WithUsage reports token usage after the reply
func WithUsage(usage func() llm.Usage) RunnerOption {
	return func(r *Runner) { r.usage = usage }
}

func WithOutput(output *Output) RunnerOption {
	return func(r *Runner) { r.output = output }
}

func NewRunner(st *store.Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:  st,
		output: NewOutput(),
		log:    logger.WithComponent("headless"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sends prompt and blocks until the reply has been committed, the
// exchange failed, or ctx ends. A title generated for a new chat is
// awaited and printed too. It returns the chat the exchange happened in.
func (r *Runner) Run(ctx context.Context, prompt string, opts RunOptions) (chat.Chat, error) {
	if strings.TrimSpace(prompt) == "" && !opts.Send.HasAttachments() {
		return chat.Chat{}, fmt.Errorf("prompt cannot be empty in headless mode")
	}

	current, err := r.selectChat(ctx, opts)
	if err != nil {
		return chat.Chat{}, err
	}

	handler := newStreamHandler(r.output)
	remove := r.store.OnChange(handler.OnChange)
	defer remove()

	send := opts.Send
	if send.ProjectID == "" {
		send.ProjectID = current.ProjectID
	}

	r.log.Debug("Sending prompt to chat %s", current.ID)
	if err := r.store.SendMessage(ctx, prompt, send); err != nil {
		r.output.Error(err.Error())
		return current, err
	}

	select {
	case reason := <-handler.Done():
		r.output.Newline()
		if reason != "" {
			r.output.Error(reason)
			return current, fmt.Errorf("%w: %s", store.ErrGenerationFailed, reason)
		}
	case <-ctx.Done():
		r.output.Newline()
		r.output.Error("timed out waiting for the reply")
		return current, fmt.Errorf("waiting for reply: %w", ctx.Err())
	}

	if err := r.store.WaitTitles(ctx); err != nil {
		r.log.Warn("Stopped waiting for title: %v", err)
	}

	if snapshot := r.store.Snapshot(); snapshot.CurrentChat != nil {
		current = *snapshot.CurrentChat
		if !current.HasDefaultTitle() && opts.ChatID == "" {
			r.output.Title(current.Title)
		}
	}

	if r.usage != nil {
		r.output.Tokens(r.usage())
	}
	return current, nil
}

// selectChat opens the requested chat or creates a fresh one
func (r *Runner) selectChat(ctx context.Context, opts RunOptions) (chat.Chat, error) {
	if opts.ChatID == "" {
		created, err := r.store.CreateChat(ctx, opts.ProjectID)
		if err != nil {
			return chat.Chat{}, err
		}
		return created, nil
	}

	if err := r.store.LoadChats(ctx, opts.ProjectID); err != nil {
		return chat.Chat{}, err
	}
	chats := r.store.Snapshot().Chats
	idx := chat.FindChat(chats, opts.ChatID)
	if idx < 0 {
		return chat.Chat{}, fmt.Errorf("chat %s: %w", opts.ChatID, backend.ErrNotFound)
	}

	selected := chats[idx]
	if err := r.store.SelectChat(ctx, &selected); err != nil {
		return chat.Chat{}, err
	}
	return selected, nil
}

// IsGenerationFailure reports whether err came from a failed reply rather
// than from setup
func IsGenerationFailure(err error) bool {
	return errors.Is(err, store.ErrGenerationFailed)
}
