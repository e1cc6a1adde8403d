package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"pdfchat/internal/chatbot"
	"pdfchat/internal/handlers"
	"pdfchat/internal/models"
)

type mockStore struct {
	sessions []models.Session
	messages map[string][]models.Message
	err      error
}

func newMockStore(sessions ...models.Session) *mockStore {
	return &mockStore{
		sessions: sessions,
		messages: map[string][]models.Message{},
	}
}

func (m *mockStore) Sessions(_ context.Context) ([]models.Session, error) {
	return m.sessions, m.err
}

func (m *mockStore) AddSession(_ context.Context, session models.Session) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sessions = append(m.sessions, session)
	return session.ID, nil
}

func (m *mockStore) UpdateSession(_ context.Context, session models.Session) error {
	idx := slices.IndexFunc(m.sessions, func(s models.Session) bool { return s.ID == session.ID })
	if idx == -1 {
		return fmt.Errorf("session not found")
	}
	m.sessions[idx] = session
	return m.err
}

func (m *mockStore) DeleteSession(_ context.Context, sessionID string) error {
	m.sessions = slices.DeleteFunc(m.sessions, func(s models.Session) bool { return s.ID == sessionID })
	delete(m.messages, sessionID)
	return m.err
}

func (m *mockStore) SessionExists(_ context.Context, sessionID string) (bool, error) {
	return slices.ContainsFunc(m.sessions, func(s models.Session) bool { return s.ID == sessionID }), m.err
}

func (m *mockStore) GetSession(_ context.Context, sessionID string) (*models.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	idx := slices.IndexFunc(m.sessions, func(s models.Session) bool { return s.ID == sessionID })
	if idx == -1 {
		return nil, nil
	}
	s := m.sessions[idx]
	return &s, nil
}

func (m *mockStore) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	return m.messages[sessionID], m.err
}

func (m *mockStore) AddMessage(_ context.Context, sessionID string, msg models.Message) (models.Message, error) {
	if m.err != nil {
		return models.Message{}, m.err
	}
	msg.SessionID = sessionID
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return msg, nil
}

func newTestMain(t *testing.T, store handlers.Store) handlers.Main {
	t.Helper()

	m, err := handlers.NewMain(store, handlers.Config{
		DataDir:        t.TempDir(),
		MaxUploadBytes: 1 << 20,
		ChunkSize:      chatbot.DefaultChunkSize,
		TokenDelay:     0,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	return m
}

func TestNewMain(t *testing.T) {
	m := newTestMain(t, newMockStore())

	if m.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	store := newMockStore(models.Session{ID: "1", Title: "Test session"})
	store.messages["1"] = []models.Message{
		{ID: "1", SessionID: "1", Role: models.RoleUser, Content: "Hello"},
	}

	m := newTestMain(t, store)

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Home page without session",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "Test session",
		},
		{
			name:       "Home page with session",
			url:        "/?session_id=1",
			wantStatus: http.StatusOK,
			wantBody:   "Hello",
		},
		{
			name:       "Unknown session",
			url:        "/?session_id=nope",
			wantStatus: http.StatusNotFound,
			wantBody:   "Session not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			m.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}

			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func decodeFrames(t *testing.T, body string) []models.StreamEvent {
	t.Helper()

	var events []models.StreamEvent
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			t.Fatalf("unexpected line in stream body: %q", line)
		}
		var evt models.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("failed to decode frame %q: %v", line, err)
		}
		events = append(events, evt)
	}
	return events
}

func TestHandleChatStream(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantStatus int
	}{
		{
			name:       "Missing session_id",
			url:        "/chats/stream?prompt=hi",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Missing prompt",
			url:        "/chats/stream?session_id=1",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Blank prompt",
			url:        "/chats/stream?session_id=1&prompt=%20%20",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown session",
			url:        "/chats/stream?session_id=404&prompt=hi",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Valid request",
			url:        "/chats/stream?session_id=1&prompt=tell+me+about+the+conclusions",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMain(t, newMockStore(models.Session{ID: "1", Title: "t"}))

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			m.HandleChatStream(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChatStream() status = %v, want %v", w.Code, tt.wantStatus)
			}

			if tt.wantStatus != http.StatusOK {
				if strings.Contains(w.Body.String(), "data: ") {
					t.Error("validation failure must not emit stream frames")
				}
				return
			}

			if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
				t.Errorf("Content-Type = %q, want text/event-stream", ct)
			}

			events := decodeFrames(t, w.Body.String())
			if len(events) == 0 {
				t.Fatal("no events in stream body")
			}

			// token* done, with no events after the terminal done.
			last := events[len(events)-1]
			if last.Type != models.EventDone || last.Data != "" {
				t.Errorf("last event = %+v, want empty done", last)
			}
			for _, evt := range events[:len(events)-1] {
				if evt.Type != models.EventToken {
					t.Errorf("unexpected non-token event before done: %+v", evt)
				}
			}
		})
	}
}

func TestHandleChatStreamPersistsMessages(t *testing.T) {
	store := newMockStore(models.Session{ID: "1"})
	m := newTestMain(t, store)

	req := httptest.NewRequest(http.MethodGet, "/chats/stream?session_id=1&prompt=what+are+the+key+findings", nil)
	w := httptest.NewRecorder()

	m.HandleChatStream(w, req)

	msgs := store.messages["1"]
	if len(msgs) != 2 {
		t.Fatalf("stored messages = %d, want user and assistant", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("stored roles = %v, %v", msgs[0].Role, msgs[1].Role)
	}

	var streamed strings.Builder
	for _, evt := range decodeFrames(t, w.Body.String()) {
		if evt.Type == models.EventToken {
			streamed.WriteString(evt.Data)
		}
	}
	if msgs[1].Content != streamed.String() {
		t.Errorf("persisted assistant content = %q, want streamed %q", msgs[1].Content, streamed.String())
	}

	// The first message sets the session title.
	if store.sessions[0].Title == "" {
		t.Error("session title should be derived from the first message")
	}
}

func postSync(t *testing.T, m handlers.Main, payload string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/chats/sync", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	m.HandleChatSync(w, req)
	return w
}

func TestHandleChatSync(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus int
	}{
		{
			name:       "Invalid body",
			payload:    "{",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Missing session_id",
			payload:    `{"prompt":"hi"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Missing prompt",
			payload:    `{"session_id":"1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Blank prompt",
			payload:    `{"session_id":"1","prompt":"   "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown session",
			payload:    `{"session_id":"404","prompt":"hi"}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Valid request",
			payload:    `{"session_id":"1","prompt":"explain the methodology"}`,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMain(t, newMockStore(models.Session{ID: "1"}))

			w := postSync(t, m, tt.payload)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChatSync() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleChatSyncDeterminism(t *testing.T) {
	store := newMockStore(models.Session{ID: "1"})
	m := newTestMain(t, store)

	payload := `{"session_id":"1","prompt":"compare the claims in part two"}`

	type pair struct {
		UserMessage      models.Message `json:"user_message"`
		AssistantMessage models.Message `json:"assistant_message"`
	}

	var pairs []pair
	for range 2 {
		w := postSync(t, m, payload)
		if w.Code != http.StatusOK {
			t.Fatalf("HandleChatSync() status = %v", w.Code)
		}
		var p pair
		if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
			t.Fatal(err)
		}
		pairs = append(pairs, p)
	}

	if pairs[0].AssistantMessage.Content != pairs[1].AssistantMessage.Content {
		t.Error("identical prompts in one session must produce identical assistant content")
	}
	if pairs[0].AssistantMessage.ID == pairs[1].AssistantMessage.ID {
		t.Error("each send must produce a distinct assistant message id")
	}
	if len(store.messages["1"]) != 4 {
		t.Errorf("stored messages = %d, want two user/assistant pairs", len(store.messages["1"]))
	}
}

func TestHandleCreateSession(t *testing.T) {
	store := newMockStore()
	m := newTestMain(t, store)

	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	w := httptest.NewRecorder()

	m.HandleCreateSession(w, req)

	if w.Code != http.StatusSeeOther {
		t.Errorf("HandleCreateSession() status = %v, want %v", w.Code, http.StatusSeeOther)
	}
	if len(store.sessions) != 1 {
		t.Fatalf("stored sessions = %d, want 1", len(store.sessions))
	}
	if loc := w.Header().Get("Location"); !strings.Contains(loc, store.sessions[0].ID) {
		t.Errorf("redirect location = %q, want it to reference the new session", loc)
	}
}

func TestHandleDeleteSession(t *testing.T) {
	store := newMockStore(models.Session{ID: "1", Title: "doomed"})
	store.messages["1"] = []models.Message{{ID: "1", Role: models.RoleUser, Content: "hi"}}
	m := newTestMain(t, store)

	req := httptest.NewRequest(http.MethodPost, "/sessions/1/delete", nil)
	req.SetPathValue("id", "1")
	w := httptest.NewRecorder()

	m.HandleDeleteSession(w, req)

	if w.Code != http.StatusSeeOther {
		t.Errorf("HandleDeleteSession() status = %v, want %v", w.Code, http.StatusSeeOther)
	}
	if len(store.sessions) != 0 {
		t.Errorf("stored sessions = %d, want 0", len(store.sessions))
	}
	if len(store.messages["1"]) != 0 {
		t.Error("session messages should be removed with the session")
	}
}

func TestHandleUploadPDF(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		content    string
		wantStatus int
	}{
		{
			name:       "Valid PDF",
			filename:   "paper.pdf",
			content:    "%PDF-1.7 rest of the file",
			wantStatus: http.StatusSeeOther,
		},
		{
			name:       "Wrong extension",
			filename:   "paper.txt",
			content:    "%PDF-1.7 rest of the file",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Bad magic header",
			filename:   "paper.pdf",
			content:    "MZnotapdf",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore(models.Session{ID: "1"})
			m := newTestMain(t, store)

			var buf bytes.Buffer
			mw := multipart.NewWriter(&buf)
			fw, err := mw.CreateFormFile("pdf", tt.filename)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := io.WriteString(fw, tt.content); err != nil {
				t.Fatal(err)
			}
			mw.Close()

			req := httptest.NewRequest(http.MethodPost, "/sessions/1/pdf", &buf)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			req.SetPathValue("id", "1")
			w := httptest.NewRecorder()

			m.HandleUploadPDF(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleUploadPDF() status = %v, want %v: %s", w.Code, tt.wantStatus, w.Body.String())
			}

			if tt.wantStatus == http.StatusSeeOther {
				if store.sessions[0].PDFName != tt.filename {
					t.Errorf("session PDFName = %q, want %q", store.sessions[0].PDFName, tt.filename)
				}
			}
		})
	}
}
