package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"chat-service/internal/logger"
	"chat-service/internal/session"
)

// unexported, collision-proof context key
type sessionContextKeyType struct{}

var sessionKey = sessionContextKeyType{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext extracts the authenticated session from context.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok && s != nil
}

// Verifier resolves a session token to its live session.
type Verifier interface {
	Verify(ctx context.Context, token string) (*session.Session, error)
}

type AuthMiddleware struct {
	Sessions Verifier
}

func NewAuthMiddleware(sessions Verifier) *AuthMiddleware {
	return &AuthMiddleware{Sessions: sessions}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// RequireAuth verifies the session token from the cookie or bearer header
// and attaches the session to the request context. The session is
// re-verified on every request; nothing is cached between requests.
func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := session.TokenFromRequest(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}

		sess, err := a.Sessions.Verify(r.Context(), token)
		if err != nil {
			if !errors.Is(err, session.ErrInvalidSession) {
				logger.Error("session verification failed", map[string]any{
					"path":  r.URL.Path,
					"error": err,
				})
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}
