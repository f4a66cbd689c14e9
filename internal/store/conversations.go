package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/gatechat/internal/models"
)

const chatSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id         TEXT PRIMARY KEY,
    title      TEXT NOT NULL,
    provider   TEXT NOT NULL,
    model      TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    position        INTEGER NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    reasoning       TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
    id         TEXT PRIMARY KEY,
    message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    name       TEXT NOT NULL,
    mime       TEXT NOT NULL DEFAULT '',
    size       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_id);
`

const activeConversationKey = "active_conversation"

// ConversationStore persists conversations and their messages. It is
// independent of the server registry: each lives in its own database file.
type ConversationStore struct {
	db *sql.DB
}

// OpenConversationStore opens the chat database at path, creating it when
// missing and replacing it when unreadable.
func OpenConversationStore(path string, logger *slog.Logger) (*ConversationStore, error) {
	db, err := openDB(path, chatSchema, logger)
	if err != nil {
		return nil, err
	}
	return &ConversationStore{db: db}, nil
}

func (s *ConversationStore) Close() error {
	return s.db.Close()
}

// LoadOrInit returns the active conversation, seeding the store with a
// single conversation holding one assistant greeting message when no state
// exists yet. The active pointer falls back to the most recently updated
// conversation when unset or dangling.
func (s *ConversationStore) LoadOrInit(provider models.Provider, model, greeting string) (models.Conversation, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count); err != nil {
		return models.Conversation{}, fmt.Errorf("counting conversations: %w", err)
	}
	if count == 0 {
		return s.NewConversation(provider, model, greeting)
	}

	activeID, err := getSetting(s.db, activeConversationKey)
	if err != nil {
		return models.Conversation{}, err
	}
	if activeID != "" {
		conv, err := s.Get(activeID)
		if err == nil {
			return conv, nil
		}
	}

	conv, err := s.mostRecent()
	if err != nil {
		return models.Conversation{}, err
	}
	if err := s.SetActiveConversation(conv.ID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

func (s *ConversationStore) mostRecent() (models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, title, provider, model, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC LIMIT 1`)
	return scanConversation(row)
}

// Conversations returns all conversations, most recently updated first.
func (s *ConversationStore) Conversations() ([]models.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, title, provider, model, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Get returns the conversation with the given id, or ErrNotFound.
func (s *ConversationStore) Get(id string) (models.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, title, provider, model, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return models.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return conv, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (models.Conversation, error) {
	var conv models.Conversation
	var provider, createdAt, updatedAt string
	err := row.Scan(&conv.ID, &conv.Title, &provider, &conv.Model, &createdAt, &updatedAt)
	if err != nil {
		return models.Conversation{}, err
	}
	conv.Provider = models.Provider(provider)
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	return conv, nil
}

// NewConversation creates a conversation seeded with an assistant greeting
// and makes it the active one.
func (s *ConversationStore) NewConversation(provider models.Provider, model, greeting string) (models.Conversation, error) {
	conv := models.NewConversation(provider, model)

	tx, err := s.db.Begin()
	if err != nil {
		return models.Conversation{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO conversations (id, title, provider, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, string(conv.Provider), conv.Model,
		formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt),
	)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}

	msg := models.NewMessage(models.RoleAssistant, greeting)
	if err := insertMessage(tx, conv.ID, msg); err != nil {
		return models.Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Conversation{}, fmt.Errorf("committing conversation: %w", err)
	}

	if err := s.SetActiveConversation(conv.ID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// Rename sets a conversation's title. Empty or whitespace-only titles are
// rejected with a ValidationError.
func (s *ConversationStore) Rename(id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return &ValidationError{Field: "title", Detail: "must not be empty"}
	}
	return s.updateConversation(id,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id)
}

// SetProviderModel records the provider/model selection for a conversation.
func (s *ConversationStore) SetProviderModel(id string, provider models.Provider, model string) error {
	return s.updateConversation(id,
		`UPDATE conversations SET provider = ?, model = ?, updated_at = ? WHERE id = ?`,
		string(provider), model, formatTime(time.Now()), id)
}

func (s *ConversationStore) updateConversation(id, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// Messages returns a conversation's messages in append order, with
// attachment metadata populated.
func (s *ConversationStore) Messages(convID string) ([]models.ChatMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, reasoning, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY position ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.ChatMessage
	byID := map[string]int{}
	for rows.Next() {
		var msg models.ChatMessage
		var role, createdAt string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.ReasoningSummary, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.CreatedAt = parseTime(createdAt)
		byID[msg.ID] = len(msgs)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	attRows, err := s.db.Query(
		`SELECT a.id, a.message_id, a.name, a.mime, a.size
		 FROM attachments a
		 JOIN messages m ON m.id = a.message_id
		 WHERE m.conversation_id = ?
		 ORDER BY a.rowid ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer attRows.Close()

	for attRows.Next() {
		var att models.Attachment
		var messageID string
		if err := attRows.Scan(&att.ID, &messageID, &att.Name, &att.Mime, &att.Size); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}
		if i, ok := byID[messageID]; ok {
			msgs[i].Attachments = append(msgs[i].Attachments, att)
		}
	}
	return msgs, attRows.Err()
}

// AppendMessage adds a message (and its attachment metadata) to the end of
// a conversation and bumps the conversation's updated time.
func (s *ConversationStore) AppendMessage(convID string, msg models.ChatMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertMessage(tx, convID, msg); err != nil {
		return err
	}
	res, err := tx.Exec(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), convID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", convID, ErrNotFound)
	}
	return tx.Commit()
}

func insertMessage(tx *sql.Tx, convID string, msg models.ChatMessage) error {
	_, err := tx.Exec(
		`INSERT INTO messages (id, conversation_id, position, role, content, reasoning, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?)`,
		msg.ID, convID, convID, string(msg.Role), msg.Content, msg.ReasoningSummary, formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	for _, att := range msg.Attachments {
		_, err := tx.Exec(
			`INSERT INTO attachments (id, message_id, name, mime, size) VALUES (?, ?, ?, ?, ?)`,
			att.ID, msg.ID, att.Name, att.Mime, att.Size,
		)
		if err != nil {
			return fmt.Errorf("inserting attachment %s: %w", att.Name, err)
		}
	}
	return nil
}

// SetMessageContent replaces a message's content. An unknown id is a no-op:
// streaming deltas can arrive for a message that was superseded, and those
// must not fail or mutate anything.
func (s *ConversationStore) SetMessageContent(msgID, content string) error {
	_, err := s.db.Exec(`UPDATE messages SET content = ? WHERE id = ?`, content, msgID)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	return nil
}

// SetMessageReasoning attaches reasoning/summary text to a message. Unknown
// ids are a no-op, matching SetMessageContent.
func (s *ConversationStore) SetMessageReasoning(msgID, reasoning string) error {
	_, err := s.db.Exec(`UPDATE messages SET reasoning = ? WHERE id = ?`, reasoning, msgID)
	if err != nil {
		return fmt.Errorf("updating message reasoning: %w", err)
	}
	return nil
}

// ActiveConversationID returns the active-conversation pointer, which may be
// empty or dangling.
func (s *ConversationStore) ActiveConversationID() (string, error) {
	return getSetting(s.db, activeConversationKey)
}

func (s *ConversationStore) SetActiveConversation(id string) error {
	return setSetting(s.db, activeConversationKey, id)
}
