package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/gatechat/internal/gateway"
	"github.com/raphaelgruber/gatechat/internal/models"
	"github.com/raphaelgruber/gatechat/internal/store"
)

type testEnv struct {
	orch    *Orchestrator
	servers *store.ServerStore
	convs   *store.ConversationStore
	conv    models.Conversation
}

// newTestEnv wires an orchestrator against real stores in a temp dir and a
// fake gateway. The registry holds one authenticated active server.
func newTestEnv(t *testing.T, handler http.HandlerFunc) *testEnv {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	servers, err := store.OpenServerStore(filepath.Join(dir, "servers.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { servers.Close() })

	entry := models.NewGatewayServer("test", srv.URL)
	entry.Token = "tok-123"
	require.NoError(t, servers.Add(entry))
	require.NoError(t, servers.SetActiveID(entry.ID))

	convs, err := store.OpenConversationStore(filepath.Join(dir, "chat.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { convs.Close() })

	conv, err := convs.LoadOrInit(models.ProviderOpenAI, "gpt-5", "hello")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := New(gateway.New(nil, nil), servers, convs, logger, nil)

	return &testEnv{orch: orch, servers: servers, convs: convs, conv: conv}
}

// sseHandler replies to every chat request with the given pre-framed blocks.
func sseHandler(blocks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, b := range blocks {
			fmt.Fprint(w, b)
		}
	}
}

func delta(text string) string {
	return fmt.Sprintf("event: delta\ndata: {\"text\":%q}\n\n", text)
}

func TestSendAppliesDeltasInOrder(t *testing.T) {
	env := newTestEnv(t, sseHandler(delta("The "), delta("answer "), delta("is 42.")))

	var got []string
	content, err := env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "what is the answer?",
	}, func(text string) { got = append(got, text) })
	require.NoError(t, err)

	assert.Equal(t, "The answer is 42.", content)
	assert.Equal(t, []string{"The ", "answer ", "is 42."}, got)

	msgs, err := env.convs.Messages(env.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3) // greeting, user, assistant
	assert.Equal(t, models.RoleUser, msgs[1].Role)
	assert.Equal(t, "what is the answer?", msgs[1].Content)
	assert.Equal(t, models.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "The answer is 42.", msgs[2].Content)
}

func TestSendDerivesTitleFromFirstUserMessage(t *testing.T) {
	env := newTestEnv(t, sseHandler(delta("sure")))

	_, err := env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "  plan   a trip to the Dolomites in autumn  ",
	}, nil)
	require.NoError(t, err)

	conv, err := env.convs.Get(env.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan a trip to the Dolo…", conv.Title)
}

func TestSendKeepsCustomTitle(t *testing.T) {
	env := newTestEnv(t, sseHandler(delta("sure")))
	require.NoError(t, env.convs.Rename(env.conv.ID, "My project"))

	_, err := env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "hello there",
	}, nil)
	require.NoError(t, err)

	conv, err := env.convs.Get(env.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "My project", conv.Title)
}

func TestSendNoDeltasNoRename(t *testing.T) {
	env := newTestEnv(t, sseHandler())

	content, err := env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "anyone home?",
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, content)

	conv, err := env.convs.Get(env.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTitle, conv.Title)
}

func TestEmptyDeltaIsNoOp(t *testing.T) {
	env := newTestEnv(t, sseHandler(delta("a"), delta(""), delta("b")))

	var calls int
	content, err := env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "hi",
	}, func(string) { calls++ })
	require.NoError(t, err)

	assert.Equal(t, "ab", content)
	assert.Equal(t, 2, calls)
}

func TestErrorEventReplacesContent(t *testing.T) {
	env := newTestEnv(t, sseHandler(
		"event: error\ndata: {\"message\":\"provider quota exceeded\"}\n\n"))

	content, err := env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "hi",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "❌ provider quota exceeded", content)

	msgs, err := env.convs.Messages(env.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "❌ provider quota exceeded", msgs[len(msgs)-1].Content)

	// Error streams never trigger auto-rename.
	conv, err := env.convs.Get(env.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTitle, conv.Title)
}

func TestHTTPFailureWritesMarker(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	})

	content, err := env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "hi",
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, content, "❌ ")
	assert.Contains(t, content, "model unavailable")

	msgs, err := env.convs.Messages(env.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, content, msgs[len(msgs)-1].Content)
}

func TestNewSendCancelsPriorStream(t *testing.T) {
	firstDelta := make(chan struct{})
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		var input gateway.StreamInput
		decodeStreamRequest(t, r, &input)

		if input.Messages[len(input.Messages)-1].Content == "slow question" {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, delta("partial "))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, delta("quick answer"))
	})

	done := make(chan string, 1)
	go func() {
		content, _ := env.orch.Send(context.Background(), SendRequest{
			ConversationID: env.conv.ID,
			Text:           "slow question",
		}, func(string) {
			select {
			case firstDelta <- struct{}{}:
			default:
			}
		})
		done <- content
	}()

	select {
	case <-firstDelta:
	case <-time.After(5 * time.Second):
		t.Fatal("first stream produced no delta")
	}

	content, err := env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "quick question",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "quick answer", content)

	select {
	case first := <-done:
		assert.Equal(t, "partial ", first)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded stream did not return")
	}

	// The superseded assistant message keeps only what arrived before the
	// cancellation.
	msgs, err := env.convs.Messages(env.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, "partial ", msgs[2].Content)
	assert.Equal(t, "quick answer", msgs[4].Content)
}

func TestSendPreconditions(t *testing.T) {
	var requests int
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
	})

	_, err := env.orch.Send(context.Background(), SendRequest{ConversationID: env.conv.ID}, nil)
	assert.ErrorIs(t, err, ErrEmptySend)

	// Attachment-only sends are allowed; only the empty send is not.
	servers, err := env.servers.Load()
	require.NoError(t, err)
	require.NoError(t, env.servers.ClearToken(servers[0].ID))

	_, err = env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "hi",
	}, nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, env.servers.Remove(servers[0].ID))
	_, err = env.orch.Send(context.Background(), SendRequest{
		ConversationID: env.conv.ID,
		Text:           "hi",
	}, nil)
	assert.ErrorIs(t, err, ErrNoActiveServer)

	assert.Zero(t, requests, "failed preconditions must not reach the gateway")
}

func TestGreetingReflectsAuthState(t *testing.T) {
	env := newTestEnv(t, sseHandler())

	assert.Contains(t, env.orch.Greeting(), "✅")

	servers, err := env.servers.Load()
	require.NoError(t, err)
	require.NoError(t, env.servers.ClearToken(servers[0].ID))
	assert.Contains(t, env.orch.Greeting(), "⚠️")
}

// decodeStreamRequest parses a JSON-encoded chat request body.
func decodeStreamRequest(t *testing.T, r *http.Request, input *gateway.StreamInput) {
	t.Helper()
	require.NoError(t, json.NewDecoder(r.Body).Decode(input))
}
