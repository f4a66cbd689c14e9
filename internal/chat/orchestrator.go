// Package chat coordinates a send/stream round trip: it resolves the active
// gateway server, persists the outgoing user message, opens the stream, and
// applies delta events to the placeholder assistant message as they arrive.
//
// At most one stream is in flight across the whole process. A new send
// cancels the previous stream first; late events from a superseded stream
// never mutate state (guarded by a generation counter in addition to the
// store's stale-id no-op).
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/gatechat/internal/gateway"
	"github.com/raphaelgruber/gatechat/internal/metrics"
	"github.com/raphaelgruber/gatechat/internal/models"
	"github.com/raphaelgruber/gatechat/internal/sse"
	"github.com/raphaelgruber/gatechat/internal/store"
)

// Sentinel errors for send preconditions.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoActiveServer indicates the registry holds no usable server.
	ErrNoActiveServer = errors.New("no gateway server configured")

	// ErrNotAuthenticated indicates the active server has no bearer token.
	ErrNotAuthenticated = errors.New("active server has no token")

	// ErrEmptySend indicates a send with neither text nor attachments.
	ErrEmptySend = errors.New("nothing to send")
)

// errorMarker prefixes the assistant-message text that replaces content when
// a stream fails.
const errorMarker = "❌ "

// Orchestrator drives chat sends. It is safe for concurrent use; overlapping
// sends serialize through cancellation, never through blocking.
type Orchestrator struct {
	gateway *gateway.Client
	servers *store.ServerStore
	convs   *store.ConversationStore
	logger  *slog.Logger
	metrics *metrics.Collector

	mu         sync.Mutex
	cancel     context.CancelFunc
	generation uint64
}

// New creates an orchestrator. The collector may be nil.
func New(gw *gateway.Client, servers *store.ServerStore, convs *store.ConversationStore, logger *slog.Logger, collector *metrics.Collector) *Orchestrator {
	return &Orchestrator{
		gateway: gw,
		servers: servers,
		convs:   convs,
		logger:  logger,
		metrics: collector,
	}
}

// SendRequest is one user send action. Files carry the raw attachment bytes;
// only their metadata is persisted with the message.
type SendRequest struct {
	ConversationID string
	Text           string
	Files          []gateway.File
}

// DeltaFunc observes each applied delta fragment, in arrival order. It runs
// on the stream's goroutine; implementations should hand off, not block.
type DeltaFunc func(text string)

// ActiveServer resolves the registry's active server, falling back to the
// first entry when the pointer is unset or dangling.
func (o *Orchestrator) ActiveServer() (models.GatewayServer, error) {
	servers, err := o.servers.Load()
	if err != nil {
		return models.GatewayServer{}, err
	}
	activeID, err := o.servers.ActiveID()
	if err != nil {
		return models.GatewayServer{}, err
	}
	srv := store.PickActive(servers, activeID)
	if srv == nil {
		return models.GatewayServer{}, ErrNoActiveServer
	}
	return *srv, nil
}

// Greeting is the assistant message seeded into fresh conversations. It
// reflects whether an authenticated server is available.
func (o *Orchestrator) Greeting() string {
	srv, err := o.ActiveServer()
	if err != nil || !srv.HasToken() {
		return "⚠️ No gateway server connected. Add one with 'servers add' and run 'login'."
	}
	return "✅ Connected to " + srv.Name + "."
}

// Cancel aborts the in-flight stream, if any. Cancellation is silent: the
// assistant message keeps whatever content already arrived.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

// Streaming reports whether a stream is currently in flight.
func (o *Orchestrator) Streaming() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancel != nil
}

// begin cancels any prior stream and registers a new one, returning its
// context and generation number.
func (o *Orchestrator) begin(ctx context.Context) (context.Context, context.CancelFunc, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.generation++
	streamCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	return streamCtx, cancel, o.generation
}

// finish clears the registered cancel func unless a newer stream took over.
func (o *Orchestrator) finish(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation == gen {
		o.cancel = nil
	}
}

// current reports whether gen is still the newest stream.
func (o *Orchestrator) current(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation == gen
}

// Send runs one full send/stream cycle and returns the assistant message's
// final content. Stream failures are not returned as errors: they are
// written into the assistant message as a visible marker and the
// conversation stays usable. Cancellation (a newer send or an explicit
// Cancel) is silent and returns whatever content had arrived.
//
// Returned errors are precondition or persistence failures only:
// ErrEmptySend, ErrNoActiveServer, ErrNotAuthenticated, or a store error.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest, onDelta DeltaFunc) (string, error) {
	if len(req.Text) == 0 && len(req.Files) == 0 {
		return "", ErrEmptySend
	}

	srv, err := o.ActiveServer()
	if err != nil {
		return "", err
	}
	if !srv.HasToken() {
		return "", ErrNotAuthenticated
	}

	conv, err := o.convs.Get(req.ConversationID)
	if err != nil {
		return "", err
	}

	userMsg := models.NewMessage(models.RoleUser, req.Text)
	for _, f := range req.Files {
		userMsg.Attachments = append(userMsg.Attachments,
			models.NewAttachment(f.Name, f.Mime, int64(len(f.Data))))
	}
	if err := o.convs.AppendMessage(conv.ID, userMsg); err != nil {
		return "", err
	}

	history, err := o.convs.Messages(conv.ID)
	if err != nil {
		return "", err
	}

	assistant := models.NewMessage(models.RoleAssistant, "")
	if err := o.convs.AppendMessage(conv.ID, assistant); err != nil {
		return "", err
	}

	input := gateway.StreamInput{
		Provider: conv.Provider,
		Model:    conv.Model,
		Messages: promptHistory(history),
		Files:    req.Files,
	}

	streamCtx, cancel, gen := o.begin(ctx)
	defer cancel()
	defer o.finish(gen)

	st := &streamState{
		orch:      o,
		gen:       gen,
		messageID: assistant.ID,
		onDelta:   onDelta,
		started:   time.Now(),
	}

	o.logger.Debug("starting stream",
		slog.String("conversation", conv.ID),
		slog.String("server", srv.Name),
		slog.String("provider", string(conv.Provider)),
		slog.String("model", conv.Model))

	streamErr := o.gateway.StreamChat(streamCtx, srv.BaseURL, srv.Token, input, st.apply)

	switch {
	case streamErr == nil:
		o.recordStream(st)
		if st.deltas > 0 {
			o.maybeRename(conv, history)
		}
	case errors.Is(streamErr, context.Canceled):
		o.logger.Debug("stream cancelled", slog.String("conversation", conv.ID))
	default:
		o.logger.Warn("stream failed",
			slog.String("conversation", conv.ID),
			slog.Any("error", streamErr))
		st.fail(streamErr.Error())
	}

	return st.snapshot(), nil
}

// maybeRename derives a title from the first user message once a stream has
// produced content, but only while the conversation still has its default
// title.
func (o *Orchestrator) maybeRename(conv models.Conversation, history []models.ChatMessage) {
	if !IsDefaultTitle(conv.Title) {
		return
	}
	var firstUser string
	for _, msg := range history {
		if msg.Role == models.RoleUser {
			firstUser = msg.Content
			break
		}
	}
	if err := o.convs.Rename(conv.ID, DeriveTitle(firstUser)); err != nil {
		o.logger.Warn("auto-rename failed",
			slog.String("conversation", conv.ID),
			slog.Any("error", err))
	}
}

func (o *Orchestrator) recordStream(st *streamState) {
	st.mu.Lock()
	deltas, bytes, firstWait := st.deltas, st.bytes, st.firstWait
	st.mu.Unlock()
	o.metrics.RecordStream(time.Since(st.started), firstWait, deltas, bytes)
}

// promptHistory converts stored messages into the wire prompt, skipping
// empty entries (the seeded greeting placeholder before hydration and any
// errored-out assistant message add nothing to the prompt).
func promptHistory(msgs []models.ChatMessage) []gateway.PromptMessage {
	prompt := make([]gateway.PromptMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Content == "" {
			continue
		}
		prompt = append(prompt, gateway.PromptMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return prompt
}

// streamState accumulates one stream's assistant content and statistics.
type streamState struct {
	orch      *Orchestrator
	gen       uint64
	messageID string
	onDelta   DeltaFunc
	started   time.Time

	mu        sync.Mutex
	content   string
	errored   bool
	deltas    int
	bytes     int64
	firstWait time.Duration
}

// apply handles one decoded stream event. Events reaching a superseded
// stream are discarded.
func (st *streamState) apply(ev sse.Event) {
	if !st.orch.current(st.gen) {
		return
	}

	switch ev.Name {
	case "delta":
		text := textField(ev.Data, "text")
		if text == "" {
			return
		}
		st.mu.Lock()
		if st.errored {
			st.mu.Unlock()
			return
		}
		if st.deltas == 0 {
			st.firstWait = time.Since(st.started)
		}
		st.deltas++
		st.bytes += int64(len(text))
		st.content += text
		content := st.content
		st.mu.Unlock()

		st.persist(content)
		if st.onDelta != nil {
			st.onDelta(text)
		}
	case "error":
		msg := textField(ev.Data, "message")
		if msg == "" {
			msg = fmt.Sprint(ev.Data)
		}
		st.fail(msg)
	}
}

// fail replaces the assistant content with an error marker. Further deltas
// are ignored.
func (st *streamState) fail(msg string) {
	st.mu.Lock()
	st.errored = true
	st.content = errorMarker + msg
	content := st.content
	st.mu.Unlock()
	st.persist(content)
}

func (st *streamState) persist(content string) {
	if err := st.orch.convs.SetMessageContent(st.messageID, content); err != nil {
		st.orch.logger.Warn("persisting assistant message failed",
			slog.String("message", st.messageID),
			slog.Any("error", err))
	}
}

func (st *streamState) snapshot() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.content
}

// textField extracts a string field from a decoded JSON-object payload.
// Non-object payloads and missing fields yield "".
func textField(data any, key string) string {
	obj, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}
