package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-service/internal/logger"
	"chat-service/internal/middleware"
)

// Handler serves the chat history REST API. All routes expect
// middleware.GinRequireAuth to have run.
type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/chat/sessions", h.ListSessions)
	r.POST("/chat/sessions", h.CreateSession)
	r.GET("/chat/sessions/:id/messages", h.ListMessages)
}

func (h *Handler) ListSessions(c *gin.Context) {
	s, _ := middleware.CurrentSession(c)

	sessions, err := h.repo.ListSessions(c.Request.Context(), s.UserID)
	if err != nil {
		logger.Error("list chat sessions failed", map[string]any{
			"user_id": s.UserID,
			"error":   err,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}

type createSessionRequest struct {
	SessionName string `json:"session_name"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	s, _ := middleware.CurrentSession(c)

	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
			return
		}
	}

	created, err := h.repo.CreateSession(c.Request.Context(), s.UserID, req.SessionName)
	if err != nil {
		logger.Error("create chat session failed", map[string]any{
			"user_id": s.UserID,
			"error":   err,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "session": created})
}

func (h *Handler) ListMessages(c *gin.Context) {
	s, _ := middleware.CurrentSession(c)
	id := c.Param("id")

	chatSession, err := h.repo.GetSession(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not_found"})
		return
	}
	if err != nil {
		logger.Error("get chat session failed", map[string]any{
			"chat_session_id": id,
			"error":           err,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
		return
	}

	if chatSession.UserID != s.UserID {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "access_denied"})
		return
	}

	messages, err := h.repo.ListMessages(c.Request.Context(), id)
	if err != nil {
		logger.Error("list chat messages failed", map[string]any{
			"chat_session_id": id,
			"error":           err,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "session": chatSession, "messages": messages})
}
