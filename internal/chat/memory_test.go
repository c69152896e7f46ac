package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepo is an in-memory Repository used by handler tests.
type memoryRepo struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]Message
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sessions: map[string]*Session{},
		messages: map[string][]Message{},
	}
}

func (m *memoryRepo) CreateSession(_ context.Context, userID, name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	s := &Session{ID: uuid.NewString(), UserID: userID, Name: name, IsActive: true, CreatedAt: now, UpdatedAt: now}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memoryRepo) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memoryRepo) ListSessions(_ context.Context, userID string) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Session{}
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepo) CreateMessage(_ context.Context, msg Message) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now()
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return &msg, nil
}

func (m *memoryRepo) ListMessages(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message{}, m.messages[sessionID]...), nil
}
