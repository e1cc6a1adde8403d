package handlers

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdfchat/internal/models"
)

type sessionView struct {
	ID    string
	Title string

	Active bool
}

type messageView struct {
	ID             string
	Role           string
	HTML           template.HTML
	Timestamp      time.Time
	StreamingState string
}

type homePageData struct {
	Sessions         []sessionView
	CurrentSessionID string
	PDFName          string
	Messages         []messageView
}

// HandleHome renders the home page: the session list and, when a session is
// selected via the session_id query parameter, its message history.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")

	sessions, err := m.store.Sessions(r.Context())
	if err != nil {
		m.logger.Error("Failed to get sessions", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := homePageData{
		CurrentSessionID: sessionID,
	}
	for _, s := range sessions {
		data.Sessions = append(data.Sessions, sessionView{
			ID:     s.ID,
			Title:  s.Title,
			Active: s.ID == sessionID,
		})
	}

	if sessionID != "" {
		session, err := m.store.GetSession(r.Context(), sessionID)
		if err != nil {
			m.logger.Error("Failed to get session",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if session == nil {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		data.PDFName = session.PDFName

		messages, err := m.store.Messages(r.Context(), sessionID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, msg := range messages {
			view, err := renderMessage(msg)
			if err != nil {
				m.logger.Error("Failed to render message",
					slog.String("messageID", msg.ID),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			data.Messages = append(data.Messages, view)
		}
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func renderMessage(msg models.Message) (messageView, error) {
	html, err := models.RenderMarkdown(msg.Content)
	if err != nil {
		return messageView{}, err
	}
	return messageView{
		ID:             msg.ID,
		Role:           string(msg.Role),
		HTML:           html,
		Timestamp:      msg.Timestamp,
		StreamingState: models.StreamingStateEnded,
	}, nil
}

// HandleCreateSession creates a new empty session and redirects to it.
func (m Main) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := models.Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}

	newID, err := m.store.AddSession(r.Context(), session)
	if err != nil {
		m.logger.Error("Failed to add session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.publishSessions(r.Context(), newID); err != nil {
		m.logger.Error("Failed to publish sessions", slog.String(errLoggerKey, err.Error()))
	}

	http.Redirect(w, r, "/?session_id="+newID, http.StatusSeeOther)
}

// HandleDeleteSession removes a session, its messages, and its PDF file.
func (m Main) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "Session id is required", http.StatusBadRequest)
		return
	}

	if err := m.store.DeleteSession(r.Context(), sessionID); err != nil {
		m.logger.Error("Failed to delete session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := os.Remove(m.pdfPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Error("Failed to remove PDF file",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}

	if err := m.publishSessions(r.Context(), ""); err != nil {
		m.logger.Error("Failed to publish sessions", slog.String(errLoggerKey, err.Error()))
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleUploadPDF attaches a PDF to a session. The upload must carry the
// .pdf extension, start with the %PDF- magic header, and fit within the
// configured size limit.
func (m Main) HandleUploadPDF(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		http.Error(w, "Session id is required", http.StatusBadRequest)
		return
	}

	session, err := m.store.GetSession(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, m.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("pdf")
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid upload: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		http.Error(w, "Only PDF files are accepted", http.StatusBadRequest)
		return
	}

	magic := make([]byte, 5)
	if _, err := io.ReadFull(file, magic); err != nil || string(magic) != "%PDF-" {
		http.Error(w, "File is not a valid PDF", http.StatusBadRequest)
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	dst, err := os.Create(m.pdfPath(sessionID))
	if err != nil {
		m.logger.Error("Failed to create PDF file",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		m.logger.Error("Failed to store PDF file",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	session.PDFName = header.Filename
	session.PDFSize = size
	if err := m.store.UpdateSession(r.Context(), *session); err != nil {
		m.logger.Error("Failed to update session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/?session_id="+sessionID, http.StatusSeeOther)
}

func (m Main) pdfPath(sessionID string) string {
	return filepath.Join(m.cfg.DataDir, sessionID+".pdf")
}
