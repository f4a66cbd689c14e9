// Package gateway provides the HTTP client for a chat gateway server.
//
// The client is stateless per call: every operation takes the target base
// URL (and bearer token where required) explicitly, so the same client can
// talk to any server in the registry.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/raphaelgruber/gatechat/internal/metrics"
	"github.com/raphaelgruber/gatechat/internal/models"
	"github.com/raphaelgruber/gatechat/internal/sse"
)

// Config holds configuration options for the gateway client.
type Config struct {
	// Timeout for non-streaming requests (default: 30s).
	Timeout time.Duration
}

// Client handles communication with gateway servers. It is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	// Streaming requests carry no client timeout; their lifetime is bounded
	// by the caller's context.
	streamClient *http.Client
	collector    *metrics.Collector
}

// New creates a gateway client. A nil config uses defaults; a nil collector
// disables statistics.
func New(cfg *Config, collector *metrics.Collector) *Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
		collector:    collector,
	}
}

// Meta is the gateway's self-description.
type Meta struct {
	OK        bool     `json:"ok"`
	Region    string   `json:"region"`
	Providers []string `json:"providers"`
}

// Model is one catalog entry from the gateway's model listing.
type Model struct {
	ID string `json:"id"`
}

// PromptMessage is one history entry sent with a chat request.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// File is a raw attachment uploaded with a chat request. The bytes are sent
// once and never persisted.
type File struct {
	Name string
	Mime string
	Data []byte
}

// StreamInput is the payload for a streamed chat request.
type StreamInput struct {
	Provider models.Provider `json:"provider"`
	Model    string          `json:"model"`
	Messages []PromptMessage `json:"messages"`
	Files    []File          `json:"-"`
}

// EventHandler receives each decoded event of a streamed reply, in arrival
// order.
type EventHandler func(ev sse.Event)

// Login exchanges credentials for a bearer token. A non-2xx response yields
// an *AuthError carrying the server's response body.
func (c *Client) Login(ctx context.Context, baseURL, username, password string) (string, error) {
	defer c.record(metrics.OpLogin, time.Now())

	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if !is2xx(resp.StatusCode) {
		detail, _ := io.ReadAll(resp.Body)
		return "", &AuthError{Detail: string(detail)}
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &TransportError{Op: "decode login response", Err: err}
	}
	return result.Token, nil
}

// Health reports the gateway's liveness flag. Callers doing a status
// refresh typically downgrade any error to "offline" rather than
// propagating it.
func (c *Client) Health(ctx context.Context, baseURL string) (bool, error) {
	defer c.record(metrics.OpHealth, time.Now())

	var result struct {
		OK bool `json:"ok"`
	}
	if err := c.getJSON(ctx, baseURL+"/health", "", &result); err != nil {
		return false, err
	}
	return result.OK, nil
}

// Meta returns the gateway's region label and supported providers.
func (c *Client) Meta(ctx context.Context, baseURL string) (*Meta, error) {
	defer c.record(metrics.OpMeta, time.Now())

	var result Meta
	if err := c.getJSON(ctx, baseURL+"/meta", "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListModels returns the models the server offers for a provider, in the
// server's order.
func (c *Client) ListModels(ctx context.Context, baseURL, token string, provider models.Provider) ([]Model, error) {
	defer c.record(metrics.OpListModels, time.Now())

	endpoint := baseURL + "/models?provider=" + url.QueryEscape(string(provider))

	var result struct {
		Provider string  `json:"provider"`
		Models   []Model `json:"models"`
	}
	if err := c.getJSON(ctx, endpoint, token, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// StreamChat opens a streamed chat request and invokes onEvent once per
// decoded event until the stream ends or ctx is cancelled. Cancellation
// aborts the request and returns ctx's error; the handler sees no further
// events.
//
// Requests with attachments are sent as multipart form data: the JSON
// payload in a "payload" field and each file as a separate "file" field
// preserving its original filename. Requests without attachments are plain
// JSON.
func (c *Client) StreamChat(ctx context.Context, baseURL, token string, input StreamInput, onEvent EventHandler) error {
	body, contentType, err := encodeStreamBody(input)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/stream", body)
	if err != nil {
		return &TransportError{Op: "stream chat", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: "stream chat", Err: err}
	}
	defer resp.Body.Close()

	if !is2xx(resp.StatusCode) {
		detail, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(detail)}
	}

	dec := sse.NewDecoder(resp.Body)
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Op: "read stream", Err: err}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onEvent(ev)
	}
}

// encodeStreamBody builds the request body for StreamChat, choosing
// multipart encoding when files are attached.
func encodeStreamBody(input StreamInput) (io.Reader, string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat payload: %w", err)
	}

	if len(input.Files) == 0 {
		return bytes.NewReader(payload), "application/json", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("payload", string(payload)); err != nil {
		return nil, "", fmt.Errorf("write payload field: %w", err)
	}
	for _, f := range input.Files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
		if f.Mime != "" {
			h.Set("Content-Type", f.Mime)
		}
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("write file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finish multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// getJSON performs an authenticated (or anonymous, with empty token) GET
// and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, endpoint, token string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &TransportError{Op: "create request", Err: err}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "execute request", Err: err}
	}
	defer resp.Body.Close()

	if !is2xx(resp.StatusCode) {
		detail, _ := io.ReadAll(resp.Body)
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(detail)}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &TransportError{Op: "decode response", Err: err}
	}
	return nil
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

// record stores an operation timing in the collector, if one is attached.
func (c *Client) record(op string, start time.Time) {
	c.collector.RecordTiming(op, time.Since(start))
}
