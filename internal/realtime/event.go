package realtime

import "time"

// Event types exchanged over the socket.
const (
	EventUserJoined   = "user_joined"
	EventMessage      = "message"
	EventTyping       = "typing"
	EventError        = "error"
	EventAccessDenied = "access_denied"
)

// Event is an outbound frame.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Content   string    `json:"content,omitempty"`
	Role      string    `json:"role,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// inbound is a frame sent by the client.
type inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Role      string `json:"role"`
}
