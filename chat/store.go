package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionStore interface {
	List(ctx context.Context) ([]Session, error)
	Create(ctx context.Context) (Session, error)
	Rename(ctx context.Context, id, title string) error
	Touch(ctx context.Context, id string) error
}

type MessageStore interface {
	ListBySession(ctx context.Context, sessionID string) ([]Message, error)
	Insert(ctx context.Context, sessionID, sender, message string, sources []string) (Message, error)
}

type PostgresSessionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSessionStore(pool *pgxpool.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

func (s *PostgresSessionStore) List(ctx context.Context) ([]Session, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := s.pool.Query(ctx, `
        SELECT id, title, updated_at
        FROM chat_sessions
        ORDER BY updated_at DESC
    `)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var session Session
		if scanErr := rows.Scan(&session.ID, &session.Title, &session.UpdatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan session: %w", scanErr)
		}
		sessions = append(sessions, session)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return sessions, nil
}

func (s *PostgresSessionStore) Create(ctx context.Context) (Session, error) {
	if s.pool == nil {
		return Session{}, fmt.Errorf("postgres pool is nil")
	}

	var session Session
	err := s.pool.QueryRow(ctx, `
        INSERT INTO chat_sessions (id, title, updated_at)
        VALUES ($1, $2, NOW())
        RETURNING id, title, updated_at
    `, uuid.New().String(), SentinelTitle).Scan(&session.ID, &session.Title, &session.UpdatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	return session, nil
}

func (s *PostgresSessionStore) Rename(ctx context.Context, id, title string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	if _, err := s.pool.Exec(ctx, `
        UPDATE chat_sessions SET title = $2, updated_at = NOW() WHERE id = $1
    `, id, title); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}

	return nil
}

func (s *PostgresSessionStore) Touch(ctx context.Context, id string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	if _, err := s.pool.Exec(ctx, `
        UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1
    `, id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return nil
}

type PostgresMessageStore struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageStore(pool *pgxpool.Pool) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

func (s *PostgresMessageStore) ListBySession(ctx context.Context, sessionID string) ([]Message, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id is empty")
	}

	rows, err := s.pool.Query(ctx, `
        SELECT id, session_id, sender, message, sources, created_at
        FROM chat_history
        WHERE session_id = $1
        ORDER BY created_at ASC
    `, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if scanErr := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Message, &msg.Sources, &msg.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan message: %w", scanErr)
		}
		if msg.Sources == nil {
			msg.Sources = []string{}
		}
		messages = append(messages, msg)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return messages, nil
}

func (s *PostgresMessageStore) Insert(ctx context.Context, sessionID, sender, message string, sources []string) (Message, error) {
	if s.pool == nil {
		return Message{}, fmt.Errorf("postgres pool is nil")
	}
	if sessionID == "" {
		return Message{}, fmt.Errorf("session id is empty")
	}
	if sources == nil {
		sources = []string{}
	}

	var msg Message
	err := s.pool.QueryRow(ctx, `
        INSERT INTO chat_history (id, session_id, sender, message, sources)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, session_id, sender, message, sources, created_at
    `, uuid.New().String(), sessionID, sender, message, sources).Scan(
		&msg.ID, &msg.SessionID, &msg.Sender, &msg.Message, &msg.Sources, &msg.CreatedAt,
	)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if msg.Sources == nil {
		msg.Sources = []string{}
	}

	return msg, nil
}
