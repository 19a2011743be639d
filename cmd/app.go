package cmd

import (
	"errors"
	"fmt"

	"github.com/killallgit/converse/pkg/async"
	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/config"
	"github.com/killallgit/converse/pkg/events"
	"github.com/killallgit/converse/pkg/llm"
	"github.com/killallgit/converse/pkg/logger"
	"github.com/killallgit/converse/pkg/service"
	"github.com/killallgit/converse/pkg/store"
	"github.com/killallgit/converse/pkg/tokens"
	"github.com/tmc/langchaingo/llms"
)

// replaced in tests
var (
	newModel   = llm.New
	newCounter = tokens.NewTokenCounter
)

// app wires the local service, the event channel and the stores
type app struct {
	settings *config.Settings
	db       *service.DB
	tracker  *llm.TokenTracker
	bus      *events.EventBus
	tasks    *async.Manager
	service  *service.Service
	store    *store.Store
	projects *store.Projects
}

func newApp(settings *config.Settings) (*app, error) {
	log := logger.WithComponent("app")

	db, err := service.OpenDB(settings.Database.Path)
	if err != nil {
		return nil, err
	}

	var model llms.Model
	var tracker *llm.TokenTracker
	base, err := newModel(settings)
	switch {
	case errors.Is(err, backend.ErrNotConfigured):
		// storage still works; sends and titles report the missing key
		log.Warn("No model configured: %v", err)
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("failed to create model: %w", err)
	default:
		tracker = llm.NewTokenTracker(base, newCounter(settings.DefaultModel()))
		model = tracker
	}

	bus := events.NewEventBus()
	chunks := events.NewChunkChannel(bus, "service")
	svc := service.New(db, model, chunks, service.OptionsFromSettings(settings))

	tasks := async.NewManager()
	st := store.New(svc, store.WithTasks(tasks))
	st.Attach(chunks)

	return &app{
		settings: settings,
		db:       db,
		tracker:  tracker,
		bus:      bus,
		tasks:    tasks,
		service:  svc,
		store:    st,
		projects: store.NewProjects(svc),
	}, nil
}

// usage reports token counts, or zero when no model is configured
func (a *app) usage() llm.Usage {
	if a.tracker == nil {
		return llm.Usage{}
	}
	return a.tracker.Usage()
}

// Close stops in-flight work in dependency order
func (a *app) Close() {
	a.store.Close()
	a.tasks.Close()
	a.service.Close()
	a.bus.Close()
	if err := a.db.Close(); err != nil {
		logger.Warn("Failed to close database: %v", err)
	}
}
