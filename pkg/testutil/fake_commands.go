package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
)

var _ backend.Commands = (*FakeCommands)(nil)

// TitleCall records one GenerateTitle invocation
type TitleCall struct {
	User      string
	Assistant string
}

// FakeCommands is an in-memory backend.Commands. Errors can be injected per
// operation name (the method name, e.g. "SendMessage"), and ListMessages can
// be held open to exercise races.
type FakeCommands struct {
	mu sync.Mutex

	projects map[string]chat.Project
	chats    map[string]chat.Chat
	messages map[string][]chat.Message

	errors     map[string]error
	title      string
	sends      []backend.SendRequest
	titleCalls []TitleCall
	titleSaves map[string]string

	// holds, when set for a chat id, block ListMessages until closed
	holds map[string]chan struct{}

	// OnSend runs after a send is recorded, outside the fake's lock
	OnSend func(req backend.SendRequest)
}

func NewFakeCommands() *FakeCommands {
	return &FakeCommands{
		projects:   make(map[string]chat.Project),
		chats:      make(map[string]chat.Chat),
		messages:   make(map[string][]chat.Message),
		errors:     make(map[string]error),
		titleSaves: make(map[string]string),
		holds:      make(map[string]chan struct{}),
		title:      "Generated Title",
	}
}

// FailOn makes the named operation return err until cleared with a nil err
func (f *FakeCommands) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errors, op)
		return
	}
	f.errors[op] = err
}

// SetTitle sets what GenerateTitle returns
func (f *FakeCommands) SetTitle(title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.title = title
}

// HoldMessages blocks ListMessages for chatID until the returned func is called
func (f *FakeCommands) HoldMessages(chatID string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.holds[chatID] = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// AddChat seeds a chat with optional history
func (f *FakeCommands) AddChat(c chat.Chat, history ...chat.Message) chat.Chat {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Title == "" {
		c.Title = chat.DefaultTitle
	}
	f.chats[c.ID] = c
	f.messages[c.ID] = append([]chat.Message(nil), history...)
	return c
}

func (f *FakeCommands) Sends() []backend.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.SendRequest(nil), f.sends...)
}

func (f *FakeCommands) TitleCalls() []TitleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TitleCall(nil), f.titleCalls...)
}

// SavedTitle returns the title persisted through UpdateChatTitle, if any
func (f *FakeCommands) SavedTitle(chatID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	title, ok := f.titleSaves[chatID]
	return title, ok
}

func (f *FakeCommands) fail(op string) error {
	return f.errors[op]
}

func (f *FakeCommands) ListProjects(ctx context.Context) ([]chat.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListProjects"); err != nil {
		return nil, err
	}
	out := make([]chat.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *FakeCommands) CreateProject(ctx context.Context, name string) (chat.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateProject"); err != nil {
		return chat.Project{}, err
	}
	settings, _ := chat.DefaultProjectSettings().JSON()
	now := time.Now().UTC()
	p := chat.Project{ID: uuid.NewString(), Name: name, SettingsJSON: settings, CreatedAt: now, UpdatedAt: now}
	f.projects[p.ID] = p
	return p, nil
}

func (f *FakeCommands) GetProject(ctx context.Context, projectID string) (chat.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetProject"); err != nil {
		return chat.Project{}, err
	}
	p, ok := f.projects[projectID]
	if !ok {
		return chat.Project{}, fmt.Errorf("project %s: %w", projectID, backend.ErrNotFound)
	}
	return p, nil
}

func (f *FakeCommands) ProjectSettings(ctx context.Context, projectID string) (chat.ProjectSettings, error) {
	p, err := f.GetProject(ctx, projectID)
	if err != nil {
		return chat.ProjectSettings{}, err
	}
	return p.Settings()
}

func (f *FakeCommands) UpdateProjectSettings(ctx context.Context, projectID string, settings chat.ProjectSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateProjectSettings"); err != nil {
		return err
	}
	p, ok := f.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s: %w", projectID, backend.ErrNotFound)
	}
	raw, err := settings.JSON()
	if err != nil {
		return err
	}
	p.SettingsJSON = raw
	f.projects[projectID] = p
	return nil
}

func (f *FakeCommands) DeleteProject(ctx context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteProject"); err != nil {
		return err
	}
	delete(f.projects, projectID)
	return nil
}

func (f *FakeCommands) ListChats(ctx context.Context, projectID string) ([]chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListChats"); err != nil {
		return nil, err
	}
	out := []chat.Chat{}
	for _, c := range f.chats {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *FakeCommands) CreateChat(ctx context.Context, projectID string) (chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateChat"); err != nil {
		return chat.Chat{}, err
	}
	now := time.Now().UTC()
	c := chat.Chat{ID: uuid.NewString(), ProjectID: projectID, Title: chat.DefaultTitle, CreatedAt: now, UpdatedAt: now}
	f.chats[c.ID] = c
	return c, nil
}

func (f *FakeCommands) GetChat(ctx context.Context, chatID string) (chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetChat"); err != nil {
		return chat.Chat{}, err
	}
	c, ok := f.chats[chatID]
	if !ok {
		return chat.Chat{}, fmt.Errorf("chat %s: %w", chatID, backend.ErrNotFound)
	}
	return c, nil
}

func (f *FakeCommands) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateChatTitle"); err != nil {
		return err
	}
	f.titleSaves[chatID] = title
	if c, ok := f.chats[chatID]; ok {
		f.chats[chatID] = c.WithTitle(title)
	}
	return nil
}

func (f *FakeCommands) DeleteChat(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteChat"); err != nil {
		return err
	}
	delete(f.chats, chatID)
	delete(f.messages, chatID)
	return nil
}

func (f *FakeCommands) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	f.mu.Lock()
	gate := f.holds[chatID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListMessages"); err != nil {
		return nil, err
	}
	return chat.CloneMessages(f.messages[chatID]), nil
}

func (f *FakeCommands) SendMessage(ctx context.Context, req backend.SendRequest) error {
	f.mu.Lock()
	if err := f.fail("SendMessage"); err != nil {
		f.mu.Unlock()
		return err
	}
	f.sends = append(f.sends, req)
	hook := f.OnSend
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	return nil
}

func (f *FakeCommands) GenerateTitle(ctx context.Context, userMessage, assistantResponse string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titleCalls = append(f.titleCalls, TitleCall{User: userMessage, Assistant: assistantResponse})
	if err := f.fail("GenerateTitle"); err != nil {
		return "", err
	}
	return f.title, nil
}
