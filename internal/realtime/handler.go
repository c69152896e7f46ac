package realtime

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat-service/internal/logger"
	"chat-service/internal/middleware"
	"chat-service/internal/session"
)

// Handler upgrades authenticated requests on /api/websocket and pumps
// frames between the socket and the hub.
type Handler struct {
	hub      *Hub
	sessions middleware.Verifier
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, sessions middleware.Verifier, allowedOrigins []string) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}

	return &Handler{
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := allowed[origin]; ok {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/api/websocket", h.Serve)
}

// Serve verifies the session before upgrading; an unauthenticated request
// gets a 401 and the socket is never opened.
func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = session.TokenFromRequest(c.Request)
	}
	if token == "" {
		logger.Warn("websocket connection rejected: no token", nil)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	s, err := h.sessions.Verify(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, session.ErrInvalidSession) {
			logger.Error("websocket session verification failed", map[string]any{"error": err})
		} else {
			logger.Warn("websocket connection rejected: invalid session", nil)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		logger.Warn("websocket upgrade failed", map[string]any{"error": err})
		return
	}

	conn := h.hub.Register(s.UserID, ws)
	h.pump(conn, ws)
}

// pump runs the read loop on the calling goroutine and a ping loop beside it.
// Frames from one socket are handled strictly in arrival order.
func (h *Handler) pump(conn *Connection, ws *websocket.Conn) {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Remove(conn.ID)
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := h.hub.Context()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", map[string]any{
					"connection_id": conn.ID,
					"error":         err,
				})
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		h.hub.HandleMessage(ctx, conn, data)
	}
}
