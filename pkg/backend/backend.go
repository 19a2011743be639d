// Package backend declares the command and event surfaces the conversation
// store talks to. Implementations live elsewhere (see pkg/service and
// pkg/events); the store only depends on these interfaces.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/killallgit/converse/pkg/chat"
)

var (
	// ErrNotFound is returned when a project, chat or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotConfigured is returned when no model provider is available.
	ErrNotConfigured = errors.New("API key not configured. Please set ANTHROPIC_API_KEY environment variable.")
)

// Commands is the request/response surface of the backend.
type Commands interface {
	ListProjects(ctx context.Context) ([]chat.Project, error)
	CreateProject(ctx context.Context, name string) (chat.Project, error)
	GetProject(ctx context.Context, projectID string) (chat.Project, error)
	ProjectSettings(ctx context.Context, projectID string) (chat.ProjectSettings, error)
	UpdateProjectSettings(ctx context.Context, projectID string, settings chat.ProjectSettings) error
	DeleteProject(ctx context.Context, projectID string) error

	// ListChats lists chats for projectID; an empty projectID lists chats
	// that belong to no project.
	ListChats(ctx context.Context, projectID string) ([]chat.Chat, error)
	CreateChat(ctx context.Context, projectID string) (chat.Chat, error)
	GetChat(ctx context.Context, chatID string) (chat.Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	DeleteChat(ctx context.Context, chatID string) error

	ListMessages(ctx context.Context, chatID string) ([]chat.Message, error)

	// SendMessage only acknowledges dispatch. The reply arrives as Chunks
	// tagged with req.Session on the event channel.
	SendMessage(ctx context.Context, req SendRequest) error

	GenerateTitle(ctx context.Context, userMessage, assistantResponse string) (string, error)
}

// Events is the push surface delivering stream chunks.
type Events interface {
	Subscribe(handler func(Chunk)) (unsubscribe func())
}

// SessionID identifies one generation: the chat it belongs to and a
// sequence number that increases with every send from the same store.
type SessionID struct {
	ChatID string `json:"chat_id"`
	Seq    uint64 `json:"seq"`
}

func (s SessionID) IsZero() bool {
	return s.ChatID == "" && s.Seq == 0
}

func (s SessionID) String() string {
	return fmt.Sprintf("%s#%d", s.ChatID, s.Seq)
}

// Chunk is one event of a streamed reply. Index starts at 0 and grows by
// one per chunk of the same session. A Done chunk may carry a final Delta.
// Err is set on the terminal chunk of a generation that failed.
type Chunk struct {
	Session SessionID `json:"session"`
	Index   uint64    `json:"index"`
	Delta   string    `json:"delta"`
	Done    bool      `json:"done"`
	Err     string    `json:"error,omitempty"`
}

// SendRequest is the payload of Commands.SendMessage.
type SendRequest struct {
	Session          SessionID
	ChatID           string
	Content          string
	ProjectID        string
	Model            string
	Images           []chat.Attachment
	Documents        []chat.Attachment
	ExtendedThinking bool
}

// NewSendRequest assembles a request from the store's submission parameters.
func NewSendRequest(session SessionID, content string, opts chat.SendOptions) SendRequest {
	return SendRequest{
		Session:          session,
		ChatID:           session.ChatID,
		Content:          content,
		ProjectID:        opts.ProjectID,
		Model:            opts.Model,
		Images:           opts.Images,
		Documents:        opts.Documents,
		ExtendedThinking: opts.ExtendedThinking,
	}
}
