// Package store holds the client-side state of the selected conversation
// and reduces streamed reply chunks into committed messages.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/killallgit/converse/pkg/async"
	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/logger"
	"github.com/killallgit/converse/pkg/process"
)

var (
	ErrNoChatSelected = errors.New("no chat selected")
	ErrEmptyMessage   = errors.New("message has no content or attachments")
	// ErrBusy is returned when a send is already in flight or the selected
	// chat's history is still loading.
	ErrBusy = errors.New("a message is already being sent")
	// ErrGenerationFailed wraps the reason carried by an error chunk for
	// callers that wait on the store.
	ErrGenerationFailed = errors.New("generation failed")
)

// State is a point-in-time copy of the store
type State struct {
	Chats        []chat.Chat
	CurrentChat  *chat.Chat
	Messages     []chat.Message
	Sending      bool
	Thinking     bool
	StreamBuffer string
	Loading      bool
	Error        string
}

// Phase reports where the current exchange is
func (s State) Phase() process.State {
	return process.Derive(s.Sending, s.Thinking, len(s.StreamBuffer))
}

func (s State) clone() State {
	out := s
	out.Chats = chat.CloneChats(s.Chats)
	out.Messages = chat.CloneMessages(s.Messages)
	if s.CurrentChat != nil {
		current := *s.CurrentChat
		out.CurrentChat = &current
	}
	return out
}

// Store owns the selected chat, its history and the single in-flight
// exchange. Every mutation happens under mu, and mu is never held across a
// call into backend.Commands.
type Store struct {
	mu       sync.Mutex
	commands backend.Commands
	log      *logger.Logger

	tasks     *async.Manager
	ownsTasks bool
	titles    map[string]*async.Task

	// titled holds generated titles so a chat list fetched before the title
	// was saved does not revert it
	titled map[string]string

	state   State
	session *streamSession
	seq     uint64

	// loadSeq invalidates message loads that finish after the selection changed
	loadSeq         uint64
	loadingMessages bool

	listeners    map[int]func(State)
	nextListener int
	detach       []func()
	closed       bool
}

type Option func(*Store)

func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithTasks runs title generation on a shared task manager. The store
// will not close a manager it did not create.
func WithTasks(m *async.Manager) Option {
	return func(s *Store) {
		s.tasks = m
		s.ownsTasks = false
	}
}

func New(commands backend.Commands, opts ...Option) *Store {
	s := &Store{
		commands:  commands,
		log:       logger.WithComponent("store"),
		titles:    make(map[string]*async.Task),
		titled:    make(map[string]string),
		listeners: make(map[int]func(State)),
		state: State{
			Chats:    []chat.Chat{},
			Messages: []chat.Message{},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tasks == nil {
		s.tasks = async.NewManager()
		s.ownsTasks = true
	}
	return s
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// OnChange registers fn to receive a snapshot after every state change.
// Listeners run with the store locked, in mutation order, and must not call
// back into the store.
func (s *Store) OnChange(fn func(State)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify() {
	if len(s.listeners) == 0 {
		return
	}
	snapshot := s.state.clone()
	for _, fn := range s.listeners {
		fn(snapshot)
	}
}

// Attach subscribes the reducer to an event channel
func (s *Store) Attach(events backend.Events) (unsubscribe func()) {
	unsubscribe = events.Subscribe(s.HandleChunk)

	s.mu.Lock()
	s.detach = append(s.detach, unsubscribe)
	s.mu.Unlock()

	return unsubscribe
}

// LoadChats replaces the chat list. On failure the previous list is kept.
func (s *Store) LoadChats(ctx context.Context, projectID string) error {
	s.mu.Lock()
	s.state.Loading = true
	s.state.Error = ""
	s.notify()
	s.mu.Unlock()

	chats, err := s.commands.ListChats(ctx, projectID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Loading = s.loadingMessages

	if err != nil {
		s.fail("load chats", err)
		return fmt.Errorf("failed to load chats: %w", err)
	}

	s.state.Chats = chat.CloneChats(chats)
	for i, c := range s.state.Chats {
		if title, ok := s.titled[c.ID]; ok && c.HasDefaultTitle() {
			s.state.Chats[i] = c.WithTitle(title)
		}
	}
	s.log.Debug("Loaded %d chats (project %q)", len(chats), projectID)
	s.notify()
	return nil
}

// SelectChat makes c the current chat and loads its history. A nil chat
// clears the selection. Any open exchange is abandoned locally.
func (s *Store) SelectChat(ctx context.Context, c *chat.Chat) error {
	s.mu.Lock()
	s.abandonSession()
	s.state.Messages = []chat.Message{}
	s.state.StreamBuffer = ""
	s.loadSeq++
	token := s.loadSeq

	if c == nil {
		s.state.CurrentChat = nil
		s.loadingMessages = false
		s.state.Loading = false
		s.notify()
		s.mu.Unlock()
		return nil
	}

	selected := *c
	s.state.CurrentChat = &selected
	s.loadingMessages = true
	s.state.Loading = true
	s.state.Error = ""
	s.notify()
	s.mu.Unlock()

	messages, err := s.commands.ListMessages(ctx, selected.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.loadSeq {
		s.log.Debug("Discarding stale history for chat %s", selected.ID)
		return nil
	}
	s.loadingMessages = false
	s.state.Loading = false

	if err != nil {
		s.fail("load messages", err)
		return fmt.Errorf("failed to load messages for chat %s: %w", selected.ID, err)
	}

	s.state.Messages = chat.CloneMessages(messages)
	s.notify()
	return nil
}

// CreateChat creates a chat, puts it at the head of the list and selects it
func (s *Store) CreateChat(ctx context.Context, projectID string) (chat.Chat, error) {
	created, err := s.commands.CreateChat(ctx, projectID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.fail("create chat", err)
		return chat.Chat{}, fmt.Errorf("failed to create chat: %w", err)
	}

	s.abandonSession()
	s.loadSeq++
	s.loadingMessages = false
	s.state.Loading = false

	s.state.Chats = append([]chat.Chat{created}, s.state.Chats...)
	current := created
	s.state.CurrentChat = &current
	s.state.Messages = []chat.Message{}
	s.state.StreamBuffer = ""
	s.log.Info("Created chat %s", created.ID)
	s.notify()
	return created, nil
}

// DeleteChat deletes a chat and clears the selection when it was current.
// The error is recorded and also returned.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	err := s.commands.DeleteChat(ctx, chatID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.fail("delete chat", err)
		return fmt.Errorf("failed to delete chat %s: %w", chatID, err)
	}

	if idx := chat.FindChat(s.state.Chats, chatID); idx >= 0 {
		s.state.Chats = append(s.state.Chats[:idx:idx], s.state.Chats[idx+1:]...)
	}

	if s.state.CurrentChat != nil && s.state.CurrentChat.ID == chatID {
		s.abandonSession()
		s.loadSeq++
		s.loadingMessages = false
		s.state.Loading = false
		s.state.CurrentChat = nil
		s.state.Messages = []chat.Message{}
		s.state.StreamBuffer = ""
	}

	if task, ok := s.titles[chatID]; ok {
		task.Cancel()
	}
	delete(s.titled, chatID)

	s.log.Info("Deleted chat %s", chatID)
	s.notify()
	return nil
}

// SendMessage appends the user's message, opens a stream session and
// dispatches the request. The reply arrives through HandleChunk.
func (s *Store) SendMessage(ctx context.Context, content string, opts chat.SendOptions) error {
	s.mu.Lock()

	if s.state.CurrentChat == nil {
		s.mu.Unlock()
		return ErrNoChatSelected
	}
	if strings.TrimSpace(content) == "" && !opts.HasAttachments() {
		s.mu.Unlock()
		return ErrEmptyMessage
	}
	if s.session != nil || s.state.Sending || s.loadingMessages {
		s.mu.Unlock()
		return ErrBusy
	}

	chatID := s.state.CurrentChat.ID
	userMessage := chat.NewUserMessage(chatID, content, opts)
	s.state.Messages = append(s.state.Messages, userMessage)
	s.state.Sending = true
	s.state.Thinking = opts.ExtendedThinking
	s.state.StreamBuffer = ""
	s.state.Error = ""

	s.seq++
	session := newStreamSession(backend.SessionID{ChatID: chatID, Seq: s.seq})
	s.session = session
	request := backend.NewSendRequest(session.id, content, opts)

	s.log.Debug("Opened session %s", session.id)
	s.notify()
	s.mu.Unlock()

	if err := s.commands.SendMessage(ctx, request); err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		// the user's message stays; only the exchange is torn down
		if s.session == session {
			s.session = nil
			s.state.Sending = false
			s.state.Thinking = false
		}
		s.fail("send message", err)
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// ClearMessages empties the visible history without touching the selection
func (s *Store) ClearMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Messages = []chat.Message{}
	s.state.StreamBuffer = ""
	s.notify()
}

// WaitTitles blocks until every title task started so far has finished
func (s *Store) WaitTitles(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]*async.Task, 0, len(s.titles))
	for _, task := range s.titles {
		tasks = append(tasks, task)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		select {
		case <-task.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close detaches from event channels and stops background title tasks
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	detach := s.detach
	s.detach = nil
	tasks := make([]*async.Task, 0, len(s.titles))
	for _, task := range s.titles {
		tasks = append(tasks, task)
	}
	s.mu.Unlock()

	for _, unsubscribe := range detach {
		unsubscribe()
	}

	if s.ownsTasks {
		s.tasks.Close()
		return
	}
	for _, task := range tasks {
		task.Cancel()
		<-task.Done()
	}
}

// abandonSession drops the open exchange. Late chunks for it are discarded
// because their session id no longer matches.
func (s *Store) abandonSession() {
	if s.session != nil {
		s.log.Debug("Abandoning session %s", s.session.id)
		s.session = nil
	}
	s.state.Sending = false
	s.state.Thinking = false
}

func (s *Store) fail(op string, err error) {
	s.log.Error("Failed to %s: %v", op, err)
	s.state.Error = err.Error()
	s.notify()
}
