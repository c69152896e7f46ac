// Package chat persists chat sessions and their messages.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("chat: not found")

type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSystem    MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageUser, MessageAssistant, MessageSystem:
		return true
	}
	return false
}

// Session is a conversation owned by one user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"session_name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id,omitempty"`
	Type      MessageType     `json:"message_type"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type Repository interface {
	CreateSession(ctx context.Context, userID, name string) (*Session, error)
	// GetSession returns ErrNotFound for unknown or malformed ids.
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	// CreateMessage stores m and bumps the owning session's updated_at.
	CreateMessage(ctx context.Context, m Message) (*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
}
