// Package service is a local implementation of the backend command surface:
// SQLite persistence plus streamed generation through langchaingo.
package service

import (
	"context"
	"fmt"

	"github.com/killallgit/converse/pkg/async"
	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/config"
	"github.com/killallgit/converse/pkg/logger"
	"github.com/tmc/langchaingo/llms"
)

// Emitter receives the chunks of a generation in order
type Emitter interface {
	Emit(chunk backend.Chunk)
}

// Options tune generation and titling
type Options struct {
	// DefaultModel is used for chats outside any project
	DefaultModel      string
	MaxTokens         int
	Temperature       float64
	ThinkingMaxTokens int

	TitleModel             string
	TitleMaxTokens         int
	TitleTemperature       float64
	TitleMaxAssistantChars int
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions() Options {
	return Options{
		DefaultModel:           chat.DefaultModel,
		MaxTokens:              chat.DefaultMaxTokens,
		Temperature:            chat.DefaultTemperature,
		ThinkingMaxTokens:      16000,
		TitleMaxTokens:         20,
		TitleTemperature:       0.5,
		TitleMaxAssistantChars: 500,
	}
}

// OptionsFromSettings derives Options from loaded configuration
func OptionsFromSettings(settings *config.Settings) Options {
	opts := Options{
		DefaultModel:           settings.DefaultModel(),
		MaxTokens:              settings.Generation.MaxTokens,
		Temperature:            settings.Generation.Temperature,
		ThinkingMaxTokens:      settings.Generation.ThinkingMaxTokens,
		TitleMaxTokens:         settings.Title.MaxTokens,
		TitleTemperature:       settings.Title.Temperature,
		TitleMaxAssistantChars: settings.Title.MaxAssistantChars,
	}
	if settings.Provider == config.ProviderAnthropic {
		opts.TitleModel = settings.Anthropic.TitleModel
	}
	return opts
}

// Service implements backend.Commands
type Service struct {
	db      *DB
	model   llms.Model
	emitter Emitter
	opts    Options
	tasks   *async.Manager
	log     *logger.Logger
}

var _ backend.Commands = (*Service)(nil)

// New creates a service. model may be nil, in which case SendMessage and
// GenerateTitle fail with backend.ErrNotConfigured while storage keeps working.
func New(db *DB, model llms.Model, emitter Emitter, opts Options) *Service {
	return &Service{
		db:      db,
		model:   model,
		emitter: emitter,
		opts:    opts,
		tasks:   async.NewManager(),
		log:     logger.WithComponent("service"),
	}
}

// Wait blocks until in-flight generations have finished or ctx ends
func (s *Service) Wait(ctx context.Context) error {
	return s.tasks.Wait(ctx)
}

// Close cancels in-flight generations and waits for them to stop. The
// database is left open; it belongs to the caller.
func (s *Service) Close() {
	s.tasks.Close()
}

func (s *Service) ListProjects(ctx context.Context) ([]chat.Project, error) {
	return s.db.ListProjects(ctx)
}

func (s *Service) CreateProject(ctx context.Context, name string) (chat.Project, error) {
	if name == "" {
		return chat.Project{}, fmt.Errorf("project name is required")
	}
	project, err := s.db.CreateProject(ctx, name)
	if err != nil {
		return chat.Project{}, err
	}
	s.log.Info("Created project %s (%s)", project.ID, name)
	return project, nil
}

func (s *Service) GetProject(ctx context.Context, projectID string) (chat.Project, error) {
	return s.db.GetProject(ctx, projectID)
}

func (s *Service) ProjectSettings(ctx context.Context, projectID string) (chat.ProjectSettings, error) {
	project, err := s.db.GetProject(ctx, projectID)
	if err != nil {
		return chat.ProjectSettings{}, err
	}
	return project.Settings()
}

func (s *Service) UpdateProjectSettings(ctx context.Context, projectID string, settings chat.ProjectSettings) error {
	return s.db.UpdateProjectSettings(ctx, projectID, settings)
}

func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	return s.db.DeleteProject(ctx, projectID)
}

func (s *Service) ListChats(ctx context.Context, projectID string) ([]chat.Chat, error) {
	return s.db.ListChats(ctx, projectID)
}

func (s *Service) CreateChat(ctx context.Context, projectID string) (chat.Chat, error) {
	if projectID != "" {
		if _, err := s.db.GetProject(ctx, projectID); err != nil {
			return chat.Chat{}, err
		}
	}
	c, err := s.db.CreateChat(ctx, projectID)
	if err != nil {
		return chat.Chat{}, err
	}
	s.log.Info("Created chat %s", c.ID)
	return c, nil
}

func (s *Service) GetChat(ctx context.Context, chatID string) (chat.Chat, error) {
	return s.db.GetChat(ctx, chatID)
}

func (s *Service) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	return s.db.UpdateChatTitle(ctx, chatID, title)
}

func (s *Service) DeleteChat(ctx context.Context, chatID string) error {
	return s.db.DeleteChat(ctx, chatID)
}

func (s *Service) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	return s.db.ListMessages(ctx, chatID)
}
