package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// ErrInvalidRequest rejects a send whose session is tagged with another chat
var ErrInvalidRequest = errors.New("invalid request")

// thinkingFloor is the max-tokens value below which extended thinking
// raises the budget to ThinkingMaxTokens
const thinkingFloor = 12000

type generationParams struct {
	model        string
	systemPrompt string
	maxTokens    int
	temperature  float64
}

// SendMessage stores the user's message and starts generating the reply in
// the background. It returns once the request is accepted; the reply is
// delivered as chunks tagged with req.Session. A zero Session is tagged
// with the chat id alone.
func (s *Service) SendMessage(ctx context.Context, req backend.SendRequest) error {
	if s.model == nil {
		return backend.ErrNotConfigured
	}

	if req.Session.IsZero() {
		req.Session = backend.SessionID{ChatID: req.ChatID}
	}
	if req.Session.ChatID != req.ChatID {
		return fmt.Errorf("%w: session %s does not belong to chat %s", ErrInvalidRequest, req.Session, req.ChatID)
	}

	if _, err := s.db.GetChat(ctx, req.ChatID); err != nil {
		return err
	}

	params, err := s.resolveParams(ctx, req)
	if err != nil {
		return err
	}

	_, err = s.db.AddMessage(ctx, chat.Message{
		ChatID:           req.ChatID,
		Role:             chat.RoleUser,
		Content:          req.Content,
		Images:           req.Images,
		Documents:        req.Documents,
		Model:            params.model,
		ExtendedThinking: req.ExtendedThinking,
	})
	if err != nil {
		return fmt.Errorf("failed to save user message: %w", err)
	}

	history, err := s.db.ListMessages(ctx, req.ChatID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	_, err = s.tasks.Go(context.Background(), "generate", "reply for "+req.Session.String(), func(ctx context.Context) error {
		return s.generate(ctx, req.ChatID, req.Session, history, params)
	})
	return err
}

// resolveParams picks model and limits: project settings when the request
// names a project, the service defaults otherwise, then request overrides.
func (s *Service) resolveParams(ctx context.Context, req backend.SendRequest) (generationParams, error) {
	params := generationParams{
		model:       s.opts.DefaultModel,
		maxTokens:   s.opts.MaxTokens,
		temperature: s.opts.Temperature,
	}

	if req.ProjectID != "" {
		settings, err := s.ProjectSettings(ctx, req.ProjectID)
		if err != nil {
			return generationParams{}, err
		}
		params.model = settings.Model
		params.systemPrompt = settings.SystemPrompt
		params.maxTokens = settings.MaxTokens
		params.temperature = settings.Temperature
	}

	if req.Model != "" {
		params.model = req.Model
	}
	if req.ExtendedThinking && params.maxTokens < thinkingFloor {
		params.maxTokens = s.opts.ThinkingMaxTokens
	}
	return params, nil
}

// generate streams the reply. Every piece of text becomes one chunk; a
// final Done chunk closes the session, carrying Err when generation failed.
func (s *Service) generate(ctx context.Context, chatID string, session backend.SessionID, history []chat.Message, params generationParams) error {
	var (
		index   uint64
		content strings.Builder
	)
	emit := func(chunk backend.Chunk) {
		chunk.Session = session
		chunk.Index = index
		index++
		s.emitter.Emit(chunk)
	}

	options := []llms.CallOption{
		llms.WithMaxTokens(params.maxTokens),
		llms.WithTemperature(params.temperature),
		llms.WithStreamingFunc(func(ctx context.Context, piece []byte) error {
			if len(piece) == 0 {
				return nil
			}
			content.Write(piece)
			emit(backend.Chunk{Delta: string(piece)})
			return nil
		}),
	}
	if params.model != "" {
		options = append(options, llms.WithModel(params.model))
	}

	s.log.Debug("Generating %s with %s (max tokens %d)", session, params.model, params.maxTokens)
	resp, err := s.model.GenerateContent(ctx, buildContent(params.systemPrompt, history, s.log.Warn), options...)
	if err != nil {
		s.log.Error("Generation %s failed: %v", session, err)
		emit(backend.Chunk{Done: true, Err: err.Error()})
		return fmt.Errorf("generation failed: %w", err)
	}

	// providers that ignore the streaming callback still return the text
	if content.Len() == 0 && resp != nil && len(resp.Choices) > 0 && resp.Choices[0].Content != "" {
		content.WriteString(resp.Choices[0].Content)
		emit(backend.Chunk{Delta: resp.Choices[0].Content})
	}

	if content.Len() > 0 {
		_, err := s.db.AddMessage(context.WithoutCancel(ctx), chat.Message{
			ChatID:  chatID,
			Role:    chat.RoleAssistant,
			Content: content.String(),
			Model:   params.model,
		})
		if err != nil {
			// the reply was still delivered; only persistence failed
			s.log.Error("Failed to save reply for %s: %v", session, err)
		}
	}

	emit(backend.Chunk{Done: true})
	return nil
}

// buildContent converts stored history into provider messages. Attachments
// that cannot be decoded are reported through warn and skipped.
func buildContent(systemPrompt string, history []chat.Message, warn func(string, ...interface{})) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt))
	}

	for _, msg := range history {
		if msg.IsAssistant() {
			messages = append(messages, llms.TextParts(schema.ChatMessageTypeAI, msg.Content))
			continue
		}

		var parts []llms.ContentPart
		for _, image := range msg.Images {
			data, err := base64.StdEncoding.DecodeString(image.Data)
			if err != nil {
				warn("Skipping undecodable image %q: %v", image.Name, err)
				continue
			}
			parts = append(parts, llms.BinaryPart(image.MediaType, data))
		}
		for _, doc := range msg.Documents {
			data, err := base64.StdEncoding.DecodeString(doc.Data)
			if err != nil {
				warn("Skipping undecodable document %q: %v", doc.Name, err)
				continue
			}
			if strings.HasPrefix(doc.MediaType, "text/") {
				parts = append(parts, llms.TextContent{Text: fmt.Sprintf("<document name=%q>\n%s\n</document>", doc.Name, data)})
				continue
			}
			parts = append(parts, llms.BinaryPart(doc.MediaType, data))
		}
		if msg.Content != "" {
			parts = append(parts, llms.TextContent{Text: msg.Content})
		}
		if len(parts) == 0 {
			continue
		}
		messages = append(messages, llms.MessageContent{Role: schema.ChatMessageTypeHuman, Parts: parts})
	}
	return messages
}
