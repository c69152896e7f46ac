package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-service/internal/auth"
	"chat-service/internal/logger"
	"chat-service/internal/utils"
)

var (
	// ErrInvalidSession covers every reason a token does not map to a live
	// session: bad signature, expired token, missing or expired record.
	ErrInvalidSession = errors.New("session: invalid or expired")
	// ErrRefreshNotNeeded is returned by Refresh when the session has more
	// than the refresh threshold left.
	ErrRefreshNotNeeded = errors.New("session: refresh not needed")
)

// Principal is the identity a new session is created for.
type Principal struct {
	UserID      string
	Subject     string
	Email       string
	DisplayName string
	Role        auth.Role
}

// AccountStatus reports the current role of a user and whether the account
// is active. An unknown user is reported as inactive, not as an error.
type AccountStatus interface {
	Status(ctx context.Context, userID string) (auth.Role, bool, error)
}

type ManagerConfig struct {
	Timeout          time.Duration
	RefreshThreshold time.Duration
	// Accounts, when set, is consulted on every Verify so that role changes
	// and deactivations apply to live sessions.
	Accounts AccountStatus
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Manager owns the session lifecycle: the signed token given to the client
// and the record kept in the store.
type Manager struct {
	store            Store
	codec            *TokenCodec
	accounts         AccountStatus
	timeout          time.Duration
	refreshThreshold time.Duration
	now              func() time.Time
}

func NewManager(store Store, codec *TokenCodec, cfg ManagerConfig) *Manager {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:            store,
		codec:            codec,
		accounts:         cfg.Accounts,
		timeout:          cfg.Timeout,
		refreshThreshold: cfg.RefreshThreshold,
		now:              now,
	}
}

// Timeout is the absolute lifetime given to new sessions.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Create persists a new session for p and returns it with its signed token.
func (m *Manager) Create(ctx context.Context, p Principal) (*Session, string, error) {
	id, err := utils.RandomString(32)
	if err != nil {
		return nil, "", fmt.Errorf("session: generate id: %w", err)
	}

	now := m.now()
	s := &Session{
		ID:           id,
		UserID:       p.UserID,
		Subject:      p.Subject,
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		Role:         p.Role,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.timeout),
		LastActivity: now,
	}

	if err := m.store.Create(ctx, *s); err != nil {
		return nil, "", err
	}

	token, err := m.codec.Issue(s)
	if err != nil {
		_ = m.store.Delete(ctx, id)
		return nil, "", err
	}

	logger.Info("session created", map[string]any{
		"session_id": id,
		"user_id":    p.UserID,
		"expires_at": s.ExpiresAt,
	})
	return s, token, nil
}

// Verify resolves token to its live session and records activity. With an
// AccountStatus configured, the role is re-read and inactive accounts are
// logged out.
func (m *Manager) Verify(ctx context.Context, token string) (*Session, error) {
	s, err := m.load(ctx, token)
	if err != nil {
		return nil, err
	}

	if m.accounts != nil {
		role, active, err := m.accounts.Status(ctx, s.UserID)
		if err != nil {
			return nil, fmt.Errorf("session: account status: %w", err)
		}
		if !active {
			if err := m.store.Delete(ctx, s.ID); err != nil {
				logger.Warn("inactive account session cleanup failed", map[string]any{
					"session_id": s.ID,
					"error":      err,
				})
			}
			logger.Info("session revoked for inactive account", map[string]any{
				"session_id": s.ID,
				"user_id":    s.UserID,
			})
			return nil, ErrInvalidSession
		}
		s.Role = role
	}

	s.LastActivity = m.now()
	if err := m.store.Update(ctx, *s); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidSession
		}
		// last_activity is advisory; the session itself is still valid
		logger.Warn("session activity update failed", map[string]any{
			"session_id": s.ID,
			"error":      err,
		})
	}
	return s, nil
}

// Get is Verify without the activity update.
func (m *Manager) Get(ctx context.Context, token string) (*Session, error) {
	return m.load(ctx, token)
}

func (m *Manager) load(ctx context.Context, token string) (*Session, error) {
	claims, err := m.codec.Verify(token)
	if err != nil {
		return nil, err
	}

	s, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrInvalidSession
	}

	if s.Expired(m.now()) {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			logger.Warn("expired session cleanup failed", map[string]any{
				"session_id": s.ID,
				"error":      err,
			})
		}
		return nil, ErrInvalidSession
	}
	return s, nil
}

// NeedsRefresh reports whether s is inside the refresh window.
func (m *Manager) NeedsRefresh(s *Session) bool {
	remaining := s.ExpiresAt.Sub(m.now())
	return remaining > 0 && remaining <= m.refreshThreshold
}

// Refresh replaces the session behind token with a new one when it is
// close to expiry. The old record is removed before the new one is written.
func (m *Manager) Refresh(ctx context.Context, token string) (*Session, string, error) {
	s, err := m.Verify(ctx, token)
	if err != nil {
		return nil, "", err
	}

	if !m.NeedsRefresh(s) {
		return nil, "", ErrRefreshNotNeeded
	}

	if err := m.store.Delete(ctx, s.ID); err != nil {
		return nil, "", err
	}

	ns, nt, err := m.Create(ctx, Principal{
		UserID:      s.UserID,
		Subject:     s.Subject,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		Role:        s.Role,
	})
	if err != nil {
		return nil, "", err
	}

	logger.Info("session refreshed", map[string]any{
		"old_session_id": s.ID,
		"session_id":     ns.ID,
		"user_id":        ns.UserID,
	})
	return ns, nt, nil
}

// Destroy removes the session record. Deleting a missing id is not an error.
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	logger.Info("session destroyed", map[string]any{"session_id": sessionID})
	return nil
}
