package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pdfchat/internal/models"
)

// Transport abstracts the server endpoints the chat consumer talks to.
// OpenStream returns the raw frame stream for a prompt; the caller owns the
// ReadCloser and must close it. SendSync is the non-streaming fallback and
// returns the persisted user and assistant messages.
type Transport interface {
	OpenStream(ctx context.Context, sessionID, prompt, messageID string) (io.ReadCloser, error)
	SendSync(ctx context.Context, sessionID, prompt string) (models.Message, models.Message, error)
}

// HTTPTransport implements Transport against the pdfchat HTTP server.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// Interface compliance check.
var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport for the server at baseURL. A nil
// httpClient falls back to http.DefaultClient.
func NewHTTPTransport(baseURL string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

// OpenStream issues the streaming chat request. A non-200 response is
// returned as an error with the server's message; the stream has not started
// in that case.
func (t *HTTPTransport) OpenStream(ctx context.Context, sessionID, prompt, messageID string) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("prompt", prompt)
	if messageID != "" {
		q.Set("message_id", messageID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/chats/stream?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp.Body, nil
}

type syncRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

type syncResponse struct {
	UserMessage      models.Message `json:"user_message"`
	AssistantMessage models.Message `json:"assistant_message"`
}

// SendSync issues the synchronous chat request and decodes the resulting
// message pair.
func (t *HTTPTransport) SendSync(ctx context.Context, sessionID, prompt string) (models.Message, models.Message, error) {
	payload, err := json.Marshal(syncRequest{SessionID: sessionID, Prompt: prompt})
	if err != nil {
		return models.Message{}, models.Message{}, fmt.Errorf("failed to marshal sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/chats/sync", bytes.NewReader(payload))
	if err != nil {
		return models.Message{}, models.Message{}, fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return models.Message{}, models.Message{}, fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return models.Message{}, models.Message{},
			fmt.Errorf("sync request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return models.Message{}, models.Message{}, fmt.Errorf("failed to decode sync response: %w", err)
	}

	return sr.UserMessage, sr.AssistantMessage, nil
}
