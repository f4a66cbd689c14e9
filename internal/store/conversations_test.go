package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/gatechat/internal/models"
)

const testGreeting = "✅ Connected. Ask me anything."

func newConvStore(t *testing.T) (*ConversationStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	s, err := OpenConversationStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestLoadOrInitSeedsOnce(t *testing.T) {
	s, path := newConvStore(t)

	conv, err := s.LoadOrInit(models.ProviderOpenAI, "gpt-5", testGreeting)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTitle, conv.Title)
	assert.Equal(t, models.ProviderOpenAI, conv.Provider)

	msgs, err := s.Messages(conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, testGreeting, msgs[0].Content)

	// A second boot finds the existing state instead of reseeding.
	require.NoError(t, s.Close())
	s2, err := OpenConversationStore(path, nil)
	require.NoError(t, err)
	defer s2.Close()

	again, err := s2.LoadOrInit(models.ProviderOpenAI, "gpt-5", testGreeting)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	convs, err := s2.Conversations()
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestAppendMessageKeepsOrderAndAttachments(t *testing.T) {
	s, _ := newConvStore(t)
	conv, err := s.LoadOrInit(models.ProviderGemini, "gemini-2.5-flash", testGreeting)
	require.NoError(t, err)

	user := models.NewMessage(models.RoleUser, "summarize this")
	user.Attachments = []models.Attachment{
		{ID: "att-1", Name: "notes.txt", Mime: "text/plain", Size: 42},
	}
	require.NoError(t, s.AppendMessage(conv.ID, user))

	reply := models.NewMessage(models.RoleAssistant, "")
	require.NoError(t, s.AppendMessage(conv.ID, reply))

	msgs, err := s.Messages(conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "summarize this", msgs[1].Content)
	require.Len(t, msgs[1].Attachments, 1)
	assert.Equal(t, "notes.txt", msgs[1].Attachments[0].Name)
	assert.Equal(t, int64(42), msgs[1].Attachments[0].Size)
	assert.Empty(t, msgs[2].Attachments)

	assert.ErrorIs(t, s.AppendMessage("no-such-conv", user), ErrNotFound)
}

func TestSetMessageContentStaleIDIsNoOp(t *testing.T) {
	s, _ := newConvStore(t)
	conv, err := s.LoadOrInit(models.ProviderOpenAI, "gpt-5", testGreeting)
	require.NoError(t, err)

	msg := models.NewMessage(models.RoleAssistant, "partial")
	require.NoError(t, s.AppendMessage(conv.ID, msg))

	require.NoError(t, s.SetMessageContent(msg.ID, "partial answer"))
	require.NoError(t, s.SetMessageContent("msg-gone", "must change nothing"))

	msgs, err := s.Messages(conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].Content)
}

func TestRenameRejectsEmptyTitles(t *testing.T) {
	s, _ := newConvStore(t)
	conv, err := s.LoadOrInit(models.ProviderOpenAI, "gpt-5", testGreeting)
	require.NoError(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, s.Rename(conv.ID, ""), &valErr)
	require.ErrorAs(t, s.Rename(conv.ID, "   \t "), &valErr)

	require.NoError(t, s.Rename(conv.ID, "  Trip planning  "))
	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", got.Title)

	assert.ErrorIs(t, s.Rename("no-such-conv", "x"), ErrNotFound)
}

func TestNewConversationBecomesActive(t *testing.T) {
	s, _ := newConvStore(t)
	first, err := s.LoadOrInit(models.ProviderOpenAI, "gpt-5", testGreeting)
	require.NoError(t, err)

	second, err := s.NewConversation(models.ProviderGemini, "gemini-2.5-flash", testGreeting)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	activeID, err := s.ActiveConversationID()
	require.NoError(t, err)
	assert.Equal(t, second.ID, activeID)

	msgs, err := s.Messages(second.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
}

func TestDanglingActivePointerFallsBackToMostRecent(t *testing.T) {
	s, _ := newConvStore(t)
	_, err := s.LoadOrInit(models.ProviderOpenAI, "gpt-5", testGreeting)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	newest, err := s.NewConversation(models.ProviderOpenAI, "gpt-5", testGreeting)
	require.NoError(t, err)

	require.NoError(t, s.SetActiveConversation("conv-gone"))

	conv, err := s.LoadOrInit(models.ProviderOpenAI, "gpt-5", testGreeting)
	require.NoError(t, err)
	assert.Equal(t, newest.ID, conv.ID)

	// The fallback repaired the pointer.
	activeID, err := s.ActiveConversationID()
	require.NoError(t, err)
	assert.Equal(t, newest.ID, activeID)
}

func TestSetProviderModel(t *testing.T) {
	s, _ := newConvStore(t)
	conv, err := s.LoadOrInit(models.ProviderOpenAI, "gpt-5", testGreeting)
	require.NoError(t, err)

	require.NoError(t, s.SetProviderModel(conv.ID, models.ProviderGemini, "gemini-2.5-pro"))

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGemini, got.Provider)
	assert.Equal(t, "gemini-2.5-pro", got.Model)
}
