package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chat-service/internal/auth"
	"chat-service/internal/logger"
	"chat-service/internal/session"
)

// GinRequireAuth adapts the net/http AuthMiddleware to Gin.
func GinRequireAuth(a *AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Bridge handler to allow net/http middleware execution
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			c.Next()
		})

		a.RequireAuth(next).ServeHTTP(c.Writer, c.Request)

		// auth middleware already answered; stop the chain
		if c.Writer.Written() {
			c.Abort()
		}
	}
}

// CurrentSession returns the session attached by GinRequireAuth.
func CurrentSession(c *gin.Context) (*session.Session, bool) {
	return SessionFromContext(c.Request.Context())
}

// RequireRole must run after GinRequireAuth. The role is taken from the
// store-backed session, never from token claims.
func RequireRole(role auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := CurrentSession(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		if s.Role != role {
			logger.Warn("role check denied", map[string]any{
				"user_id":  s.UserID,
				"role":     s.Role,
				"required": role,
				"path":     c.Request.URL.Path,
			})
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access_denied",
			})
			return
		}
		c.Next()
	}
}

// Refresher rotates sessions close to expiry.
type Refresher interface {
	NeedsRefresh(s *session.Session) bool
	Refresh(ctx context.Context, token string) (*session.Session, string, error)
	Timeout() time.Duration
}

// AutoRefresh must run after GinRequireAuth. Sessions inside the refresh
// window are rotated and the new cookie is issued with the response.
// A failed rotation leaves the current session in place.
func AutoRefresh(r Refresher, opts session.CookieOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := CurrentSession(c)
		if !ok || !r.NeedsRefresh(s) {
			c.Next()
			return
		}

		ns, token, err := r.Refresh(c.Request.Context(), session.TokenFromRequest(c.Request))
		if err != nil {
			logger.Warn("automatic session refresh failed", map[string]any{
				"session_id": s.ID,
				"error":      err,
			})
			c.Next()
			return
		}

		session.SetCookie(c.Writer, token, r.Timeout(), opts)
		c.Request = c.Request.WithContext(WithSession(c.Request.Context(), ns))
		c.Next()
	}
}
