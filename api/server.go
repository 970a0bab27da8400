package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/fabfab/doc-chat/chat"
	"github.com/fabfab/doc-chat/markdown"
)

const maxUploadBytes = 32 << 20

// Server exposes the chat service over HTTP and serves the embedded UI.
type Server struct {
	svc     *chat.Service
	logger  *log.Logger
	handler http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type selectRequest struct {
	ID string `json:"id"`
}

type sendRequest struct {
	Message string `json:"message"`
}

type sessionView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type messageView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	HTML      string    `json:"html"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"createdAt"`
}

type stateView struct {
	SessionID string        `json:"sessionId"`
	Status    string        `json:"status"`
	Error     string        `json:"error"`
	Sessions  []sessionView `json:"sessions"`
	Messages  []messageView `json:"messages"`
}

// New constructs a Server over an initialized chat service.
func New(svc *chat.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{svc: svc, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.Handle("/static/", http.StripPrefix("/static/", s.staticHandler()))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/v1/state", s.handleState)
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/v1/sessions/select", s.handleSelect)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/upload", s.handleUpload)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, transformState(s.svc.State()))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions, _ := s.svc.ListSessions(r.Context())
		views := make([]sessionView, len(sessions))
		for i, session := range sessions {
			views[i] = transformSession(session)
		}
		s.writeJSON(w, http.StatusOK, views)
	case http.MethodPost:
		if _, err := s.svc.CreateSession(r.Context()); err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("create session: %w", err))
			return
		}
		s.writeJSON(w, http.StatusOK, transformState(s.svc.State()))
	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}

	s.svc.SelectSession(r.Context(), req.ID)
	s.writeJSON(w, http.StatusOK, transformState(s.svc.State()))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	s.svc.SendMessage(r.Context(), req.Message)
	s.writeJSON(w, http.StatusOK, transformState(s.svc.State()))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read file field: %w", err))
		return
	}
	defer file.Close()

	s.svc.SendFile(r.Context(), header.Filename, file)
	s.writeJSON(w, http.StatusOK, transformState(s.svc.State()))
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}

func transformState(state chat.State) stateView {
	sessions := make([]sessionView, len(state.Sessions))
	for i, session := range state.Sessions {
		sessions[i] = transformSession(session)
	}

	messages := make([]messageView, len(state.Messages))
	for i, msg := range state.Messages {
		messages[i] = transformMessage(msg)
	}

	return stateView{
		SessionID: state.SessionID,
		Status:    string(state.Status),
		Error:     state.Err,
		Sessions:  sessions,
		Messages:  messages,
	}
}

func transformSession(session chat.Session) sessionView {
	return sessionView{
		ID:        session.ID,
		Title:     session.Title,
		UpdatedAt: session.UpdatedAt,
	}
}

func transformMessage(msg chat.Message) messageView {
	return messageView{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Sender:    msg.Sender,
		Message:   msg.Message,
		HTML:      markdown.ToHTML(msg.Message),
		Sources:   append([]string{}, msg.Sources...),
		CreatedAt: msg.CreatedAt,
	}
}
