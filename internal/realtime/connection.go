package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Socket is the part of *websocket.Conn the hub writes through.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Connection is one live socket of an authenticated user.
type Connection struct {
	ID     string
	UserID string

	sock      Socket
	writeMu   sync.Mutex
	closeOnce sync.Once

	// guarded by Hub.mu
	chatSessionID string
	lastActivity  time.Time
}

// send writes one JSON text frame. Writes are serialized per connection.
func (c *Connection) send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) ping() error {
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// close sends a close frame with code and reason, then closes the socket.
// Only the first call has an effect.
func (c *Connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		_ = c.sock.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		_ = c.sock.Close()
	})
}
