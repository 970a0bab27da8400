package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fabfab/doc-chat/api"
	"github.com/fabfab/doc-chat/chat"
	"github.com/fabfab/doc-chat/webhook"
)

type stubSessionStore struct {
	sessions []chat.Session
	nextID   int
}

func (s *stubSessionStore) List(ctx context.Context) ([]chat.Session, error) {
	return append([]chat.Session(nil), s.sessions...), nil
}

func (s *stubSessionStore) Create(ctx context.Context) (chat.Session, error) {
	s.nextID++
	session := chat.Session{
		ID:        fmt.Sprintf("session-%d", s.nextID),
		Title:     chat.SentinelTitle,
		UpdatedAt: time.Now(),
	}
	s.sessions = append(s.sessions, session)
	return session, nil
}

func (s *stubSessionStore) Rename(ctx context.Context, id, title string) error {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			s.sessions[i].Title = title
		}
	}
	return nil
}

func (s *stubSessionStore) Touch(ctx context.Context, id string) error { return nil }

var _ chat.SessionStore = (*stubSessionStore)(nil)

type stubMessageStore struct {
	bySession map[string][]chat.Message
}

func (s *stubMessageStore) ListBySession(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return append([]chat.Message(nil), s.bySession[sessionID]...), nil
}

func (s *stubMessageStore) Insert(ctx context.Context, sessionID, sender, message string, sources []string) (chat.Message, error) {
	msg := chat.Message{
		ID:        fmt.Sprintf("msg-%d", len(s.bySession[sessionID])+1),
		SessionID: sessionID,
		Sender:    sender,
		Message:   message,
		Sources:   sources,
		CreatedAt: time.Now(),
	}
	if s.bySession == nil {
		s.bySession = map[string][]chat.Message{}
	}
	s.bySession[sessionID] = append(s.bySession[sessionID], msg)
	return msg, nil
}

var _ chat.MessageStore = (*stubMessageStore)(nil)

type stubWebhook struct {
	result webhook.Result
}

func (s *stubWebhook) Ask(ctx context.Context, message, sessionID string) (webhook.Result, error) {
	return s.result, nil
}

func (s *stubWebhook) Upload(ctx context.Context, filename string, file io.Reader, sessionID string) error {
	return nil
}

var _ webhook.Client = (*stubWebhook)(nil)

type stateView struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Error     string `json:"error"`
	Sessions  []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"sessions"`
	Messages []struct {
		Sender  string   `json:"sender"`
		Message string   `json:"message"`
		HTML    string   `json:"html"`
		Sources []string `json:"sources"`
	} `json:"messages"`
}

func newTestServer(t *testing.T, sessions *stubSessionStore, history *stubMessageStore, hook *stubWebhook) *api.Server {
	t.Helper()

	svc := chat.NewService(sessions, history, hook, log.New(io.Discard, "", 0))
	svc.Init(context.Background())
	return api.New(svc, log.New(io.Discard, "", 0))
}

func doJSON(t *testing.T, server *api.Server, method, path string, body string) (*httptest.ResponseRecorder, stateView) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	var state stateView
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, state
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t, &stubSessionStore{}, &stubMessageStore{}, &stubWebhook{})

	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("Allow = %q, want GET", allow)
	}
}

func TestStateRendersMarkdown(t *testing.T) {
	sessions := &stubSessionStore{sessions: []chat.Session{{ID: "s1", Title: "Q1", UpdatedAt: time.Now()}}}
	history := &stubMessageStore{bySession: map[string][]chat.Message{
		"s1": {{ID: "m1", SessionID: "s1", Sender: chat.SenderAssistant, Message: "**30 days**", Sources: []string{}}},
	}}
	server := newTestServer(t, sessions, history, &stubWebhook{})

	rec, state := doJSON(t, server, http.MethodGet, "/v1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(state.Messages) != 1 {
		t.Fatalf("messages = %+v", state.Messages)
	}
	if state.Messages[0].HTML != "<strong>30 days</strong>" {
		t.Fatalf("html = %q", state.Messages[0].HTML)
	}
	if state.Messages[0].Sources == nil {
		t.Fatal("sources must be an array, not null")
	}
}

func TestChatEndpoint(t *testing.T) {
	sessions := &stubSessionStore{sessions: []chat.Session{{ID: "s1", Title: "Q1", UpdatedAt: time.Now()}}}
	hook := &stubWebhook{result: webhook.Result{Answer: "30 days.", Sources: []string{"policy.pdf"}}}
	server := newTestServer(t, sessions, &stubMessageStore{}, hook)

	rec, state := doJSON(t, server, http.MethodPost, "/v1/chat", `{"message":"What is the refund policy?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if state.Status != "idle" {
		t.Fatalf("status = %q, want idle", state.Status)
	}

	last := state.Messages[len(state.Messages)-1]
	if last.Sender != chat.SenderAssistant || last.Message != "30 days." {
		t.Fatalf("unexpected last message: %+v", last)
	}
	if len(last.Sources) != 1 || last.Sources[0] != "policy.pdf" {
		t.Fatalf("sources = %v", last.Sources)
	}
}

func TestSelectRequiresID(t *testing.T) {
	server := newTestServer(t, &stubSessionStore{}, &stubMessageStore{}, &stubWebhook{})

	rec, _ := doJSON(t, server, http.MethodPost, "/v1/sessions/select", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateSessionEndpoint(t *testing.T) {
	sessions := &stubSessionStore{}
	server := newTestServer(t, sessions, &stubMessageStore{}, &stubWebhook{})

	rec, state := doJSON(t, server, http.MethodPost, "/v1/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if state.SessionID == "" {
		t.Fatal("no active session after create")
	}
	if len(state.Messages) != 1 {
		t.Fatalf("transcript should reset to the welcome message, got %d entries", len(state.Messages))
	}
}

func TestUploadEndpoint(t *testing.T) {
	sessions := &stubSessionStore{sessions: []chat.Session{{ID: "s1", Title: "Q1", UpdatedAt: time.Now()}}}
	server := newTestServer(t, sessions, &stubMessageStore{}, &stubWebhook{})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "report.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("file body")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var state stateView
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Sender != chat.SenderSystem || !strings.Contains(last.Message, "uploaded successfully") {
		t.Fatalf("unexpected last message: %+v", last)
	}
	if state.Status != "idle" {
		t.Fatalf("status = %q, want idle", state.Status)
	}
}
