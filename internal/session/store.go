package session

import (
	"context"
	"errors"
	"time"

	"chat-service/internal/auth"
)

// ErrNotFound is returned by Store.Update when the record no longer exists.
var ErrNotFound = errors.New("session: not found")

// Session is the server-side record of an authenticated user.
// Authorization decisions read Role from here, never from the token.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Subject      string    `json:"entra_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         auth.Role `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Expired reports whether the session is past its absolute expiry at now.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Store defines how sessions are stored and retrieved.
// Get returns (nil, nil) when the record does not exist.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Update(ctx context.Context, s Session) error
	Delete(ctx context.Context, sessionID string) error
}
