package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the placeholder every chat starts with until a title is generated.
const DefaultTitle = "New Chat"

const localIDPrefix = "local-"

type Chat struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDefaultTitle reports whether the chat still carries the placeholder title.
func (c Chat) HasDefaultTitle() bool {
	return c.Title == DefaultTitle
}

func (c Chat) WithTitle(title string) Chat {
	c.Title = title
	return c
}

// NewLocalID returns a collision resistant identifier for records created
// on this side before the backend has confirmed them.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was produced by NewLocalID.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix) && len(id) > len(localIDPrefix)
}

func CloneChats(chats []Chat) []Chat {
	result := make([]Chat, len(chats))
	copy(result, chats)
	return result
}

// FindChat returns the index of the chat with the given id, or -1.
func FindChat(chats []Chat, id string) int {
	for i, c := range chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}
