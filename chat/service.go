package chat

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fabfab/doc-chat/webhook"
)

const welcomeText = "Please upload a document to get started! You can then ask questions related to its content."

// maxTitleLen bounds the session title derived from the first user message.
const maxTitleLen = 40

func welcomeMessage() Message {
	return Message{
		ID:      "welcome",
		Sender:  SenderAssistant,
		Message: welcomeText,
		Sources: []string{},
	}
}

// Service owns the session directory and the active transcript. The status
// gate is the sole admission control: send, upload and select are rejected
// while another operation is in flight. The mutex only guards state
// transitions; store and webhook calls run outside it, so the gate stays
// advisory and provides no exclusion at the data layer.
type Service struct {
	sessions SessionStore
	history  MessageStore
	hook     webhook.Client
	logger   *log.Logger

	mu    sync.Mutex
	state State
}

func NewService(sessions SessionStore, history MessageStore, hook webhook.Client, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		sessions: sessions,
		history:  history,
		hook:     hook,
		logger:   logger,
		state: State{
			Status:   StatusIdle,
			Sessions: []Session{},
			Messages: []Message{welcomeMessage()},
		},
	}
}

// State returns a snapshot safe to read after the service moves on.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state
	snapshot.Sessions = append([]Session(nil), s.state.Sessions...)
	snapshot.Messages = append([]Message(nil), s.state.Messages...)
	return snapshot
}

// Init brings the directory up: it resumes the most relevant existing
// session or creates a fresh one when the directory is empty. A listing
// failure leaves the recorded error in place and does nothing else.
func (s *Service) Init(ctx context.Context) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return
	}

	if len(sessions) > 0 {
		s.SelectSession(ctx, sessions[0].ID)
		return
	}

	if _, err := s.CreateSession(ctx); err != nil {
		s.logger.Printf("create initial session: %v", err)
	}
}

// ListSessions refreshes the cached directory in display order. On failure
// it records the error and yields an empty, non-nil slice so callers can
// render the result uniformly.
func (s *Service) ListSessions(ctx context.Context) ([]Session, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		s.logger.Printf("list sessions: %v", err)
		s.mu.Lock()
		s.state.Err = err.Error()
		s.state.Sessions = []Session{}
		s.mu.Unlock()
		return []Session{}, err
	}

	sorted := SortSessions(sessions)
	s.mu.Lock()
	s.state.Sessions = sorted
	s.mu.Unlock()
	return sorted, nil
}

// SortSessions orders sessions for display: still-unnamed sessions first,
// everything else by last update, newest first. The comparison is stable so
// unnamed sessions keep their fetched order.
func SortSessions(sessions []Session) []Session {
	sorted := append([]Session(nil), sessions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if (a.Title == SentinelTitle) != (b.Title == SentinelTitle) {
			return a.Title == SentinelTitle
		}
		if a.Title == SentinelTitle {
			return false
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	return sorted
}

// CreateSession inserts a sentinel-titled session, refreshes the directory
// and makes the new session active with a fresh welcome transcript.
func (s *Service) CreateSession(ctx context.Context) (Session, error) {
	session, err := s.sessions.Create(ctx)
	if err != nil {
		s.recordErr(err.Error())
		return Session{}, err
	}

	s.ListSessions(ctx)

	s.mu.Lock()
	s.state.SessionID = session.ID
	s.state.Messages = []Message{welcomeMessage()}
	s.mu.Unlock()

	return session, nil
}

// SelectSession activates a session and reloads its transcript. Rejected
// while another operation is in flight.
func (s *Service) SelectSession(ctx context.Context, id string) {
	s.mu.Lock()
	if s.state.Status != StatusIdle {
		s.mu.Unlock()
		return
	}
	s.state.SessionID = id
	s.state.Err = ""
	s.mu.Unlock()

	s.LoadMessages(ctx, id)
}

// LoadMessages replaces the transcript with the stored history of the given
// session, oldest first. An empty history (or a read failure) degrades to
// the welcome message. The status always returns to idle.
func (s *Service) LoadMessages(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}

	s.mu.Lock()
	s.state.Status = StatusLoading
	s.state.Messages = []Message{}
	s.mu.Unlock()
	defer s.setStatus(StatusIdle)

	messages, err := s.history.ListBySession(ctx, sessionID)
	if err != nil {
		s.logger.Printf("load messages: %v", err)
		s.mu.Lock()
		s.state.Err = "Error fetching chat history: " + err.Error()
		s.state.Messages = []Message{welcomeMessage()}
		s.mu.Unlock()
		return
	}

	if len(messages) == 0 {
		messages = []Message{welcomeMessage()}
	}

	s.mu.Lock()
	s.state.Messages = messages
	s.mu.Unlock()
}

// SendMessage runs one chat exchange against the active session: optimistic
// user append, remote persist, webhook call, assistant append and persist,
// then the first-message rename. A no-op unless the service is idle, a
// session is active and the trimmed text is non-empty. There is no rollback:
// a failure after the optimistic append leaves the local entry and surfaces
// as a system message plus the shared error value.
func (s *Service) SendMessage(ctx context.Context, text string) {
	trimmed := strings.TrimSpace(text)

	s.mu.Lock()
	if s.state.Status != StatusIdle || s.state.SessionID == "" || trimmed == "" {
		s.mu.Unlock()
		return
	}
	sessionID := s.state.SessionID
	s.state.Status = StatusThinking
	s.state.Messages = append(s.state.Messages, localMessage("user", sessionID, SenderUser, trimmed))
	s.mu.Unlock()
	defer s.setStatus(StatusIdle)

	if err := s.exchange(ctx, sessionID, trimmed); err != nil {
		s.logger.Printf("chat exchange: %v", err)
		s.mu.Lock()
		s.state.Err = "Chat error: " + err.Error()
		s.state.Messages = append(s.state.Messages, localMessage("err", sessionID, SenderSystem, "Error: "+err.Error()))
		s.mu.Unlock()
	}
}

func (s *Service) exchange(ctx context.Context, sessionID, text string) error {
	if _, err := s.history.Insert(ctx, sessionID, SenderUser, text, []string{}); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}

	result, err := s.hook.Ask(ctx, text, sessionID)
	if err != nil {
		return err
	}
	if result.Sources == nil {
		result.Sources = []string{}
	}

	s.mu.Lock()
	s.state.Messages = append(s.state.Messages, Message{
		ID:        fmt.Sprintf("ai-%d", time.Now().UnixMilli()),
		SessionID: sessionID,
		Sender:    SenderAssistant,
		Message:   result.Answer,
		Sources:   result.Sources,
		CreatedAt: time.Now(),
	})
	s.mu.Unlock()

	if _, err := s.history.Insert(ctx, sessionID, SenderAssistant, result.Answer, result.Sources); err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}

	return s.settleTitle(ctx, sessionID, text)
}

// settleTitle renames a still-unnamed session after its first exchange and
// keeps the directory ordering truthful otherwise.
func (s *Service) settleTitle(ctx context.Context, sessionID, text string) error {
	if !s.hasSentinelTitle(sessionID) {
		if err := s.sessions.Touch(ctx, sessionID); err != nil {
			s.logger.Printf("touch session: %v", err)
		}
		s.ListSessions(ctx)
		return nil
	}

	title := text
	if len(title) > maxTitleLen {
		cut := maxTitleLen
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut]
	}
	if err := s.sessions.Rename(ctx, sessionID, title); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}

	s.ListSessions(ctx)
	return nil
}

func (s *Service) hasSentinelTitle(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.state.Sessions {
		if session.ID == sessionID {
			return session.Title == SentinelTitle
		}
	}
	return false
}

// SendFile forwards an uploaded document to the ingestion webhook. Guarded
// like SendMessage; the outcome is announced through system messages and the
// status always returns to idle.
func (s *Service) SendFile(ctx context.Context, filename string, file io.Reader) {
	s.mu.Lock()
	if s.state.Status != StatusIdle || s.state.SessionID == "" {
		s.mu.Unlock()
		return
	}
	sessionID := s.state.SessionID
	s.state.Status = StatusUploading
	s.state.Messages = append(s.state.Messages, localMessage("sys", sessionID, SenderSystem, fmt.Sprintf("Uploading %s...", filename)))
	s.mu.Unlock()
	defer s.setStatus(StatusIdle)

	if err := s.hook.Upload(ctx, filename, file, sessionID); err != nil {
		s.logger.Printf("upload %s: %v", filename, err)
		s.appendLocal(localMessage("err", sessionID, SenderSystem, "Upload failed: "+err.Error()))
		return
	}

	s.appendLocal(localMessage("sys", sessionID, SenderSystem, "File uploaded successfully! Now you can chat with context from this doc."))
}

func (s *Service) appendLocal(msg Message) {
	s.mu.Lock()
	s.state.Messages = append(s.state.Messages, msg)
	s.mu.Unlock()
}

func (s *Service) setStatus(status Status) {
	s.mu.Lock()
	s.state.Status = status
	s.mu.Unlock()
}

func (s *Service) recordErr(text string) {
	s.mu.Lock()
	s.state.Err = text
	s.mu.Unlock()
}

// localMessage builds a transcript entry that exists only in the view; the
// stores assign their own ids to persisted rows.
func localMessage(prefix, sessionID, sender, text string) Message {
	return Message{
		ID:        fmt.Sprintf("%s-%d", prefix, time.Now().UnixMilli()),
		SessionID: sessionID,
		Sender:    sender,
		Message:   text,
		Sources:   []string{},
		CreatedAt: time.Now(),
	}
}
