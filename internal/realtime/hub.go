// Package realtime is the websocket chat transport: a process-wide registry
// of authenticated connections with per-chat-session fan-out.
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
	"chat-service/internal/logger"
)

// ChatStore is the chat persistence the hub depends on.
type ChatStore interface {
	GetSession(ctx context.Context, id string) (*chat.Session, error)
	CreateMessage(ctx context.Context, m chat.Message) (*chat.Message, error)
}

type Config struct {
	IdleTimeout time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Hub owns the connection registry. A chat session's broadcasts reach every
// connection associated with it, plus the owner's connections that are not
// associated with any chat session yet.
type Hub struct {
	chats       ChatStore
	idleTimeout time.Duration
	now         func() time.Time

	mu           sync.Mutex
	connections  map[string]*Connection
	userSessions map[string]map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(chats ChatStore, cfg Config) *Hub {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		chats:        chats,
		idleTimeout:  cfg.IdleTimeout,
		now:          cfg.Now,
		connections:  make(map[string]*Connection),
		userSessions: make(map[string]map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Register adds an authenticated socket with no chat session association
// and acknowledges it with a user_joined event.
func (h *Hub) Register(userID string, sock Socket) *Connection {
	c := &Connection{
		ID:           uuid.NewString(),
		UserID:       userID,
		sock:         sock,
		lastActivity: h.now(),
	}

	h.mu.Lock()
	h.connections[c.ID] = c
	h.mu.Unlock()

	logger.Info("websocket connection established", map[string]any{
		"connection_id": c.ID,
		"user_id":       userID,
	})

	if err := c.send(Event{
		Type:      EventUserJoined,
		UserID:    userID,
		Message:   "Connected to chat server",
		Timestamp: h.now(),
	}); err != nil {
		h.Remove(c.ID)
	}
	return c
}

// HandleMessage processes one inbound frame. Callers invoke it sequentially
// per connection, which preserves per-connection ordering.
func (h *Hub) HandleMessage(ctx context.Context, c *Connection, data []byte) {
	h.mu.Lock()
	c.lastActivity = h.now()
	h.mu.Unlock()

	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		logger.Warn("invalid websocket frame", map[string]any{
			"connection_id": c.ID,
			"error":         err,
		})
		h.sendError(c, "Invalid message format")
		return
	}

	switch in.Type {
	case EventMessage:
		h.handleChatMessage(ctx, c, in)
	case EventTyping:
		h.handleTyping(c, in)
	default:
		logger.Warn("unknown websocket message type", map[string]any{
			"connection_id": c.ID,
			"type":          in.Type,
		})
	}
}

func (h *Hub) handleChatMessage(ctx context.Context, c *Connection, in inbound) {
	if in.SessionID == "" || in.Content == "" {
		h.sendError(c, "Session ID and content are required")
		return
	}

	role := chat.MessageType(in.Role)
	if role == "" {
		role = chat.MessageUser
	}
	if !role.Valid() {
		h.sendError(c, "Invalid message role")
		return
	}

	owned, err := h.chats.GetSession(ctx, in.SessionID)
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		logger.Error("chat session lookup failed", map[string]any{
			"connection_id":   c.ID,
			"chat_session_id": in.SessionID,
			"error":           err,
		})
		h.sendError(c, "Failed to process message")
		return
	}
	if owned == nil || owned.UserID != c.UserID {
		logger.Warn("chat session access denied", map[string]any{
			"connection_id":   c.ID,
			"user_id":         c.UserID,
			"chat_session_id": in.SessionID,
		})
		_ = c.send(Event{
			Type:      EventAccessDenied,
			SessionID: in.SessionID,
			Content:   "Session not found or access denied",
			Timestamp: h.now(),
		})
		return
	}

	saved, err := h.chats.CreateMessage(ctx, chat.Message{
		SessionID: in.SessionID,
		UserID:    c.UserID,
		Type:      role,
		Content:   in.Content,
	})
	if err != nil {
		logger.Error("persist chat message failed", map[string]any{
			"connection_id":   c.ID,
			"chat_session_id": in.SessionID,
			"error":           err,
		})
		h.sendError(c, "Failed to process message")
		return
	}

	h.associate(c, in.SessionID)

	sent := h.Broadcast(in.SessionID, Event{
		Type:      EventMessage,
		SessionID: in.SessionID,
		UserID:    c.UserID,
		Content:   saved.Content,
		Role:      string(saved.Type),
		MessageID: saved.ID,
		Timestamp: saved.Timestamp,
	}, "")

	logger.Debug("chat message processed", map[string]any{
		"connection_id":   c.ID,
		"chat_session_id": in.SessionID,
		"message_id":      saved.ID,
		"recipients":      sent,
	})
}

// handleTyping relays a presence signal to the other connections of a chat
// session the sender has already joined. Nothing is persisted.
func (h *Hub) handleTyping(c *Connection, in inbound) {
	if in.SessionID == "" {
		return
	}

	h.mu.Lock()
	joined := c.chatSessionID == in.SessionID || h.memberLocked(c.UserID, in.SessionID)
	h.mu.Unlock()
	if !joined {
		return
	}

	h.Broadcast(in.SessionID, Event{
		Type:      EventTyping,
		SessionID: in.SessionID,
		UserID:    c.UserID,
		Timestamp: h.now(),
	}, c.ID)
}

// associate binds c to sessionID and records the user's membership. A
// previous association is released.
func (h *Hub) associate(c *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, live := h.connections[c.ID]; !live {
		return
	}

	prev := c.chatSessionID
	c.chatSessionID = sessionID
	if prev != "" && prev != sessionID {
		h.releaseLocked(c.UserID, prev)
	}

	set, ok := h.userSessions[c.UserID]
	if !ok {
		set = make(map[string]struct{})
		h.userSessions[c.UserID] = set
	}
	set[sessionID] = struct{}{}
}

func (h *Hub) memberLocked(userID, sessionID string) bool {
	_, ok := h.userSessions[userID][sessionID]
	return ok
}

// releaseLocked drops sessionID from the user's memberships unless another
// of the user's connections is still associated with it.
func (h *Hub) releaseLocked(userID, sessionID string) {
	for _, other := range h.connections {
		if other.UserID == userID && other.chatSessionID == sessionID {
			return
		}
	}

	set := h.userSessions[userID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(h.userSessions, userID)
	}
}

// Broadcast sends ev to the recipients of sessionID, skipping exclude.
// A failed send removes only that connection. It returns the number of
// successful deliveries.
func (h *Hub) Broadcast(sessionID string, ev Event, exclude string) int {
	h.mu.Lock()
	targets := make([]*Connection, 0, len(h.connections))
	for id, c := range h.connections {
		if id == exclude {
			continue
		}
		if c.chatSessionID == sessionID ||
			(c.chatSessionID == "" && h.memberLocked(c.UserID, sessionID)) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if err := c.send(ev); err != nil {
			logger.Warn("websocket send failed", map[string]any{
				"connection_id": c.ID,
				"error":         err,
			})
			h.Remove(c.ID)
			continue
		}
		sent++
	}
	return sent
}

func (h *Hub) sendError(c *Connection, msg string) {
	if err := c.send(Event{
		Type:      EventError,
		Content:   msg,
		Timestamp: h.now(),
	}); err != nil {
		logger.Warn("websocket error frame not delivered", map[string]any{
			"connection_id": c.ID,
			"error":         err,
		})
	}
}

// Remove unregisters the connection and closes its socket. Removing an
// unknown id is a no-op.
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	c, ok := h.detachLocked(id)
	h.mu.Unlock()

	if !ok {
		return false
	}

	c.close(websocket.CloseNormalClosure, "")
	logger.Info("websocket connection closed", map[string]any{
		"connection_id": id,
		"user_id":       c.UserID,
	})
	return true
}

// detachLocked unregisters a connection and releases its chat session
// membership. h.mu must be held.
func (h *Hub) detachLocked(id string) (*Connection, bool) {
	c, ok := h.connections[id]
	if !ok {
		return nil, false
	}
	delete(h.connections, id)
	if c.chatSessionID != "" {
		h.releaseLocked(c.UserID, c.chatSessionID)
	}
	return c, true
}

// Sweep closes and removes connections idle for longer than the idle
// timeout at now. It returns the number removed.
func (h *Hub) Sweep(now time.Time) int {
	h.mu.Lock()
	var candidates []string
	for id, c := range h.connections {
		if now.Sub(c.lastActivity) > h.idleTimeout {
			candidates = append(candidates, id)
		}
	}
	h.mu.Unlock()

	removed := 0
	for _, id := range candidates {
		// activity may have arrived since the scan
		h.mu.Lock()
		var (
			c  *Connection
			ok bool
		)
		if cur, registered := h.connections[id]; registered && now.Sub(cur.lastActivity) > h.idleTimeout {
			c, ok = h.detachLocked(id)
		}
		h.mu.Unlock()

		if !ok {
			continue
		}
		removed++
		logger.Info("closing inactive websocket connection", map[string]any{
			"connection_id": c.ID,
			"user_id":       c.UserID,
		})
		c.close(websocket.CloseNormalClosure, "Inactive timeout")
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done or Close is called.
func (h *Hub) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.ctx.Done():
				return
			case <-ticker.C:
				if n := h.Sweep(h.now()); n > 0 {
					logger.Info("websocket idle sweep", map[string]any{"removed": n})
				}
			}
		}
	}()
}

// Close stops the sweeper and closes every connection.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	ids := make([]string, 0, len(h.connections))
	for id := range h.connections {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Remove(id)
	}
}

// Stats reports the number of live connections and users with memberships.
func (h *Hub) Stats() (connections, users int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections), len(h.userSessions)
}

// Context is canceled when the hub is closed.
func (h *Hub) Context() context.Context {
	return h.ctx
}
