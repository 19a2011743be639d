package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/killallgit/converse/pkg/chat"
)

var errEmptyTitle = errors.New("generated title is empty")

// startTitle spawns the one-shot auto-title task for chatID. A chat gets at
// most one task per store, whatever its outcome. Called with mu held.
func (s *Store) startTitle(chatID string, messages []chat.Message, assistantText string) {
	if _, started := s.titles[chatID]; started {
		return
	}

	first, ok := chat.FirstUserMessage(messages)
	if !ok {
		return
	}
	userText := first.Content

	task, err := s.tasks.Go(context.Background(), "title", "title chat "+chatID, func(ctx context.Context) error {
		return s.generateTitle(ctx, chatID, userText, assistantText)
	})
	if err != nil {
		s.log.Warn("Could not start title generation for %s: %v", chatID, err)
		return
	}
	s.titles[chatID] = task
}

// generateTitle asks the backend for a title and applies it locally.
// Failures are logged and leave the default title in place.
func (s *Store) generateTitle(ctx context.Context, chatID, userText, assistantText string) error {
	title, err := s.commands.GenerateTitle(ctx, userText, assistantText)
	if err != nil {
		s.log.Warn("Title generation failed for %s: %v", chatID, err)
		return fmt.Errorf("failed to generate title: %w", err)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		s.log.Warn("Title generation for %s returned nothing", chatID)
		return errEmptyTitle
	}

	if err := s.commands.UpdateChatTitle(ctx, chatID, title); err != nil {
		s.log.Warn("Failed to save title for %s: %v", chatID, err)
		return fmt.Errorf("failed to update chat title: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.titled[chatID] = title
	if current := s.state.CurrentChat; current != nil && current.ID == chatID {
		renamed := current.WithTitle(title)
		s.state.CurrentChat = &renamed
	}
	if idx := chat.FindChat(s.state.Chats, chatID); idx >= 0 {
		s.state.Chats[idx] = s.state.Chats[idx].WithTitle(title)
	}

	s.log.Info("Chat %s titled %q", chatID, title)
	s.notify()
	return nil
}
