package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"pdfchat/internal/chatbot"
	"pdfchat/internal/models"
	"pdfchat/internal/stream"
)

const maxSessionTitleLen = 48

// HandleChatStream is the streaming chat endpoint. It validates the request,
// then forwards every event produced by the encoder as an SSE-style frame
// (`data: <json>\n\n`), flushing after each one. Validation failures are
// reported with normal status codes; once streaming has begun, failures are
// communicated in-band only via error+done frames.
func (m Main) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	prompt := r.URL.Query().Get("prompt")
	messageID := r.URL.Query().Get("message_id")

	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(prompt) == "" {
		http.Error(w, "prompt must not be blank", http.StatusBadRequest)
		return
	}

	exists, err := m.store.SessionExists(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to check session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	m.persistUserMessage(r.Context(), sessionID, prompt)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if messageID == "" {
		messageID = uuid.New().String()
	}

	enc := stream.NewEncoder(sessionID, prompt,
		stream.WithChunkSize(m.cfg.ChunkSize),
		stream.WithTokenDelay(m.cfg.TokenDelay),
	)

	var content strings.Builder
	errored := false

	for {
		evt, err := enc.Next(r.Context())
		if err != nil {
			// io.EOF after the terminal done, or the client went away.
			if !errors.Is(err, io.EOF) {
				m.logger.Debug("Stream aborted",
					slog.String("sessionID", sessionID),
					slog.String(errLoggerKey, err.Error()))
			}
			break
		}

		if err := writeFrame(w, evt); err != nil {
			m.logger.Debug("Failed to write frame",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
			return
		}
		flusher.Flush()

		switch evt.Type {
		case models.EventToken:
			content.WriteString(evt.Data)
		case models.EventError:
			errored = true
		}
	}

	// A cancelled or errored stream is not persisted; partial content on
	// cancellation is the client's to finalize.
	if errored || r.Context().Err() != nil {
		return
	}

	m.finalizeAssistantMessage(sessionID, messageID, content.String())
}

// writeFrame serializes one event and frames it as `data: <json>` followed by
// a blank line.
func writeFrame(w io.Writer, evt models.StreamEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	frame := sse.Message{}
	frame.AppendData(string(payload))
	_, err = frame.WriteTo(w)
	return err
}

func (m Main) persistUserMessage(ctx context.Context, sessionID, prompt string) {
	msg := models.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   strings.TrimSpace(prompt),
		Timestamp: time.Now(),
	}
	if _, err := m.store.AddMessage(ctx, sessionID, msg); err != nil {
		m.logger.Error("Failed to add user message",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	m.maybeSetTitle(ctx, sessionID, msg.Content)
}

// finalizeAssistantMessage persists the streamed content once the stream has
// completed, and notifies subscribers of the message topic.
func (m Main) finalizeAssistantMessage(sessionID, messageID, content string) {
	msg := models.Message{
		ID:        messageID,
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}
	// The request context is gone by the time the stream completes.
	stored, err := m.store.AddMessage(context.Background(), sessionID, msg)
	if err != nil {
		m.logger.Error("Failed to add assistant message",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	html, err := models.RenderMarkdown(stored.Content)
	if err != nil {
		m.logger.Error("Failed to render assistant message",
			slog.String("messageID", stored.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	e := sse.Message{Type: messagesSSEType}
	e.AppendData(string(html))
	if err := m.sseSrv.Publish(&e, messageIDTopic(messageID)); err != nil {
		m.logger.Error("Failed to publish message",
			slog.String("messageID", messageID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// maybeSetTitle derives the session title from its first message.
func (m Main) maybeSetTitle(ctx context.Context, sessionID, content string) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil || session == nil || session.Title != "" {
		return
	}

	title := content
	if len(title) > maxSessionTitleLen {
		title = title[:maxSessionTitleLen] + "…"
	}
	session.Title = title

	if err := m.store.UpdateSession(ctx, *session); err != nil {
		m.logger.Error("Failed to update session title",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := m.publishSessions(ctx, sessionID); err != nil {
		m.logger.Error("Failed to publish sessions", slog.String(errLoggerKey, err.Error()))
	}
}

type syncChatRequest struct {
	SessionID string `json:"session_id"`
	Prompt    string `json:"prompt"`
}

type syncChatResponse struct {
	UserMessage      models.Message `json:"user_message"`
	AssistantMessage models.Message `json:"assistant_message"`
}

// HandleChatSync is the non-streaming fallback: it runs the response
// generator once and returns the persisted user and assistant messages as a
// single JSON response.
func (m Main) HandleChatSync(w http.ResponseWriter, r *http.Request) {
	var req syncChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "prompt must not be blank", http.StatusBadRequest)
		return
	}

	exists, err := m.store.SessionExists(r.Context(), req.SessionID)
	if err != nil {
		m.logger.Error("Failed to check session",
			slog.String("sessionID", req.SessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	prompt := strings.TrimSpace(req.Prompt)

	userMsg, err := m.store.AddMessage(r.Context(), req.SessionID, models.Message{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Role:      models.RoleUser,
		Content:   prompt,
		Timestamp: time.Now(),
	})
	if err != nil {
		m.logger.Error("Failed to add user message",
			slog.String("sessionID", req.SessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.maybeSetTitle(r.Context(), req.SessionID, prompt)

	assistantMsg, err := m.store.AddMessage(r.Context(), req.SessionID, models.Message{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Role:      models.RoleAssistant,
		Content:   chatbot.Generate(req.SessionID, prompt),
		Timestamp: time.Now(),
	})
	if err != nil {
		m.logger.Error("Failed to add assistant message",
			slog.String("sessionID", req.SessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(syncChatResponse{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	}); err != nil {
		m.logger.Error("Failed to encode sync response",
			slog.String("sessionID", req.SessionID),
			slog.String(errLoggerKey, err.Error()))
	}
}
