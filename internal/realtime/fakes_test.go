package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-service/internal/chat"
)

type fakeSocket struct {
	mu       sync.Mutex
	events   []Event
	failSend bool
	closed   bool
	closeMsg []byte
	onClose  func()
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend || s.closed {
		return errors.New("broken pipe")
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, data []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if messageType == websocket.CloseMessage {
		s.closeMsg = data
	}
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	hook := s.onClose
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (s *fakeSocket) received(typ string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeChats is an in-memory ChatStore keyed by chat session id.
type fakeChats struct {
	mu       sync.Mutex
	owners   map[string]string
	messages []chat.Message
	failGet  error
}

func newFakeChats(owners map[string]string) *fakeChats {
	return &fakeChats{owners: owners}
}

func (f *fakeChats) GetSession(_ context.Context, id string) (*chat.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	owner, ok := f.owners[id]
	if !ok {
		return nil, chat.ErrNotFound
	}
	return &chat.Session{ID: id, UserID: owner, IsActive: true}, nil
}

func (f *fakeChats) CreateMessage(_ context.Context, m chat.Message) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.NewString()
	m.Timestamp = time.Now()
	f.messages = append(f.messages, m)
	return &m, nil
}

func (f *fakeChats) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}
