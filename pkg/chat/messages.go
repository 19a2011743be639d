package chat

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment is a base64 encoded image or document sent alongside a user message.
type Attachment struct {
	Data      string `json:"data"`
	MediaType string `json:"media_type"`
	Name      string `json:"name,omitempty"`
}

type Message struct {
	ID               string       `json:"id"`
	ChatID           string       `json:"chat_id"`
	Role             Role         `json:"role"`
	Content          string       `json:"content"`
	Images           []Attachment `json:"images,omitempty"`
	Documents        []Attachment `json:"documents,omitempty"`
	Model            string       `json:"model,omitempty"`
	ExtendedThinking bool         `json:"extended_thinking,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// SendOptions carries the optional parts of a user submission.
type SendOptions struct {
	ProjectID        string
	Model            string
	Images           []Attachment
	Documents        []Attachment
	ExtendedThinking bool
}

// HasAttachments reports whether any image or document is attached.
func (o SendOptions) HasAttachments() bool {
	return len(o.Images) > 0 || len(o.Documents) > 0
}

// NewUserMessage builds the optimistic local record for a submission.
// The id is local until the backend persists its own copy.
func NewUserMessage(chatID, content string, opts SendOptions) Message {
	return Message{
		ID:               NewLocalID(),
		ChatID:           chatID,
		Role:             RoleUser,
		Content:          content,
		Images:           cloneAttachments(opts.Images),
		Documents:        cloneAttachments(opts.Documents),
		Model:            opts.Model,
		ExtendedThinking: opts.ExtendedThinking,
		CreatedAt:        time.Now().UTC(),
	}
}

func NewAssistantMessage(chatID, content string) Message {
	return Message{
		ID:        NewLocalID(),
		ChatID:    chatID,
		Role:      RoleAssistant,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) HasAttachments() bool {
	return len(m.Images) > 0 || len(m.Documents) > 0
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && !m.HasAttachments()
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	m.Images = cloneAttachments(m.Images)
	m.Documents = cloneAttachments(m.Documents)
	return m
}

// FirstUserMessage returns the earliest user message in msgs.
func FirstUserMessage(msgs []Message) (Message, bool) {
	for _, msg := range msgs {
		if msg.IsUser() {
			return msg, true
		}
	}
	return Message{}, false
}

// LastAssistantMessage returns the most recent assistant message in msgs.
func LastAssistantMessage(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsAssistant() {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// CloneMessages deep copies msgs. A nil input yields an empty, non-nil slice.
func CloneMessages(msgs []Message) []Message {
	result := make([]Message, len(msgs))
	for i, msg := range msgs {
		result[i] = msg.Clone()
	}
	return result
}

func cloneAttachments(in []Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	copy(out, in)
	return out
}
