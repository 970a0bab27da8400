package chat

import "time"

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// SentinelTitle is the placeholder name a session keeps until it is renamed
// from the first user message.
const SentinelTitle = "New Chat"

// Status gates which operations the service currently accepts. Exactly one
// value holds at a time and every operation restores StatusIdle on exit.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusThinking  Status = "thinking"
	StatusUploading Status = "uploading"
)

type Session struct {
	ID        string
	Title     string
	UpdatedAt time.Time
}

type Message struct {
	ID        string
	SessionID string
	Sender    string
	Message   string
	Sources   []string
	CreatedAt time.Time
}

// State is the view state owned by the service: the active session, the
// cached directory and transcript, the status gate and the shared error
// banner text. All entities are owned by the remote store; this is a
// transient copy scoped to the current view.
type State struct {
	SessionID string
	Sessions  []Session
	Messages  []Message
	Status    Status
	Err       string
}
