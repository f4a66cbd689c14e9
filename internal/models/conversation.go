package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the title given to conversations before auto-rename.
const DefaultTitle = "New chat"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation represents a persistent chat session.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Provider  Provider  `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversation creates a conversation with the default title and a fresh ID.
func NewConversation(provider Provider, model string) Conversation {
	now := time.Now()
	return Conversation{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		Provider:  provider,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Attachment is metadata about a file sent with a message. Only the
// metadata is persisted; the raw bytes are uploaded once and discarded.
type Attachment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
}

// NewAttachment creates attachment metadata with a fresh ID.
func NewAttachment(name, mime string, size int64) Attachment {
	return Attachment{
		ID:   uuid.NewString(),
		Name: name,
		Mime: mime,
		Size: size,
	}
}

// ChatMessage is a single message within a conversation. Content is
// append-only while the message is the in-flight streaming target and
// immutable afterwards.
type ChatMessage struct {
	ID               string       `json:"id"`
	Role             Role         `json:"role"`
	Content          string       `json:"content"`
	CreatedAt        time.Time    `json:"created_at"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	ReasoningSummary string       `json:"reasoning_summary,omitempty"`
}

// NewMessage creates a message with a fresh ID and the current timestamp.
func NewMessage(role Role, content string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
