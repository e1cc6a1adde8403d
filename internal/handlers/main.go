// Package handlers exposes the HTTP surface of the application: the home
// page, session CRUD, PDF upload, the streaming chat endpoint, and its
// synchronous fallback.
package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmaxmax/go-sse"

	"pdfchat"
	"pdfchat/internal/models"
)

const errLoggerKey = "err"

// Store defines the persistence interface consumed by the handlers. The
// streaming core uses it only for validation gating and finalization; the
// CRUD surface uses the rest.
type Store interface {
	Sessions(ctx context.Context) ([]models.Session, error)
	AddSession(ctx context.Context, session models.Session) (string, error)
	UpdateSession(ctx context.Context, session models.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AddMessage(ctx context.Context, sessionID string, message models.Message) (models.Message, error)
}

// Config carries the tunables the handlers need.
type Config struct {
	// DataDir is where uploaded PDFs are stored.
	DataDir string
	// MaxUploadBytes bounds PDF upload size.
	MaxUploadBytes int64
	// ChunkSize is the tokenizer chunk size for streaming.
	ChunkSize int
	// TokenDelay is the pacing between streamed token events.
	TokenDelay time.Duration
}

// Main handles the core functionality of the chat application, managing
// server-sent events, HTML templates, and interactions with the store.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	store  Store
	cfg    Config
	logger *slog.Logger
}

const sessionsSSETopic = "sessions"

// SSE event types for real-time updates.
var (
	sessionsSSEType = sse.Type("sessions")
	messagesSSEType = sse.Type("messages")
)

// NewMain creates a new Main instance with the provided Store. It parses the
// embedded HTML templates and configures the SSE server to serve the default
// topic, the session-list topic, and per-message topics requested via the
// message_id query parameter.
func NewMain(store Store, cfg Config, logger *slog.Logger) (Main, error) {
	tmpl, err := template.ParseFS(
		pdfchat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic, sessionsSSETopic}

				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		store:     store,
		cfg:       cfg,
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

// HandleSSE serves the live-update event stream used by the web interface.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// publishSessions renders the session list partials and pushes them to all
// subscribers of the session-list topic.
func (m Main) publishSessions(ctx context.Context, activeID string) error {
	divs, err := m.sessionDivs(ctx, activeID)
	if err != nil {
		return fmt.Errorf("failed to render session divs: %w", err)
	}

	msg := sse.Message{
		Type: sessionsSSEType,
	}
	msg.AppendData(divs)

	if err := m.sseSrv.Publish(&msg, sessionsSSETopic); err != nil {
		return fmt.Errorf("failed to publish sessions: %w", err)
	}
	return nil
}

func (m Main) sessionDivs(ctx context.Context, activeID string) (string, error) {
	sessions, err := m.store.Sessions(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get sessions: %w", err)
	}

	var sb strings.Builder
	for _, s := range sessions {
		err := m.templates.ExecuteTemplate(&sb, "session_title", sessionView{
			ID:     s.ID,
			Title:  s.Title,
			Active: s.ID == activeID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to execute session_title template: %w", err)
		}
	}
	return sb.String(), nil
}

// Shutdown gracefully terminates the SSE server. It broadcasts a close
// message to all connected clients and waits up to 5 seconds for connections
// to terminate before forcing them closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// The SSE spec requires a data field, even for a close notification.
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway.
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
