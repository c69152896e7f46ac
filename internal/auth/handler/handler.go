// Package handler serves the SSO login flow and the session endpoints.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat-service/internal/auth/provider"
	"chat-service/internal/auth/state"
	"chat-service/internal/logger"
	"chat-service/internal/session"
	"chat-service/internal/user"
)

// Sessions is the session lifecycle the handlers drive.
type Sessions interface {
	Create(ctx context.Context, p session.Principal) (*session.Session, string, error)
	Verify(ctx context.Context, token string) (*session.Session, error)
	Get(ctx context.Context, token string) (*session.Session, error)
	Refresh(ctx context.Context, token string) (*session.Session, string, error)
	Destroy(ctx context.Context, sessionID string) error
	Timeout() time.Duration
}

type Handler struct {
	provider provider.Provider
	states   state.Store
	users    user.Repository
	sessions Sessions
	cookie   session.CookieOptions
}

func NewHandler(
	p provider.Provider,
	states state.Store,
	users user.Repository,
	sessions Sessions,
	cookie session.CookieOptions,
) *Handler {
	return &Handler{
		provider: p,
		states:   states,
		users:    users,
		sessions: sessions,
		cookie:   cookie,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/login", h.Login)
	r.GET("/callback", h.Callback)
	r.POST("/logout", h.Logout)
	r.POST("/session/refresh", h.Refresh)
	r.GET("/session", h.Session)
}

// Logout destroys the current session, if any, and always clears the cookie.
func (h *Handler) Logout(c *gin.Context) {
	ctx := c.Request.Context()

	if token := session.TokenFromRequest(c.Request); token != "" {
		s, err := h.sessions.Get(ctx, token)
		switch {
		case err == nil:
			if err := h.sessions.Destroy(ctx, s.ID); err != nil {
				logger.Error("session destroy failed", map[string]any{
					"session_id": s.ID,
					"error":      err,
				})
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "logout_failed"})
				return
			}
			logger.Info("user logged out", map[string]any{
				"user_id": s.UserID,
				"ip":      c.ClientIP(),
			})
		case !errors.Is(err, session.ErrInvalidSession):
			// the session may still be live; keep the cookie so the client can retry
			logger.Error("logout session lookup failed", map[string]any{"error": err})
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "logout_failed"})
			return
		}
	}

	session.ClearCookie(c.Writer, h.cookie)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out successfully"})
}

// Refresh rotates the session when it is inside the refresh window.
func (h *Handler) Refresh(c *gin.Context) {
	token := session.TokenFromRequest(c.Request)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No session found"})
		return
	}

	s, newToken, err := h.sessions.Refresh(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, session.ErrRefreshNotNeeded) && !errors.Is(err, session.ErrInvalidSession) {
			logger.Error("session refresh failed", map[string]any{"error": err})
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Session refresh not needed or failed"})
		return
	}

	session.SetCookie(c.Writer, newToken, h.sessions.Timeout(), h.cookie)
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Session refreshed",
		"expires_at": s.ExpiresAt,
	})
}

// Session reports who is logged in. Every kind of invalid token looks the
// same to the caller.
func (h *Handler) Session(c *gin.Context) {
	anonymous := gin.H{
		"success":       true,
		"authenticated": false,
		"user":          nil,
		"session":       nil,
	}

	token := session.TokenFromRequest(c.Request)
	if token == "" {
		c.JSON(http.StatusOK, anonymous)
		return
	}

	s, err := h.sessions.Verify(c.Request.Context(), token)
	if err != nil {
		if !errors.Is(err, session.ErrInvalidSession) {
			logger.Error("session lookup failed", map[string]any{"error": err})
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to retrieve session"})
			return
		}
		c.JSON(http.StatusOK, anonymous)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"authenticated": true,
		"user": gin.H{
			"id":           s.UserID,
			"email":        s.Email,
			"display_name": s.DisplayName,
			"role":         s.Role,
		},
		"session": gin.H{
			"expires_at":    s.ExpiresAt,
			"last_activity": s.LastActivity,
		},
	})
}
