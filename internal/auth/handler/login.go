package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"chat-service/internal/auth"
	"chat-service/internal/auth/provider"
	"chat-service/internal/auth/state"
	"chat-service/internal/logger"
	"chat-service/internal/session"
)

// Reasons carried by the /login?error= redirect.
const (
	ReasonInvalidCallback       = "invalid_callback"
	ReasonInvalidState          = "invalid_state"
	ReasonInvalidNonce          = "invalid_nonce"
	ReasonNoIDToken             = "no_id_token"
	ReasonSessionCreationFailed = "session_creation_failed"
	ReasonAuthenticationFailed  = "authentication_failed"
	ReasonAccessDenied          = "access_denied"
)

// Login starts a PKCE authorization code flow. A request carrying ?error is
// the landing of a failed callback and is answered instead of redirected.
func (h *Handler) Login(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": reason})
		return
	}

	ctx := c.Request.Context()

	req, err := h.provider.AuthorizationRequest(ctx)
	if err != nil {
		logger.Error("authorization request failed", map[string]any{"error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": ReasonAuthenticationFailed})
		return
	}

	if err := h.states.Put(ctx, req.State, state.Data{
		Nonce:        req.Nonce,
		CodeVerifier: req.CodeVerifier,
		RedirectURI:  req.RedirectURI,
	}); err != nil {
		logger.Error("oidc state persist failed", map[string]any{"error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": ReasonAuthenticationFailed})
		return
	}

	c.Redirect(http.StatusFound, req.URL)
}

// Callback redeems the authorization code and opens a session. Every
// failure ends in a redirect to /login with a coarse reason.
func (h *Handler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	if errParam := c.Query("error"); errParam != "" {
		logger.Error("identity provider returned error", map[string]any{
			"error":       errParam,
			"description": c.Query("error_description"),
		})
		reason := ReasonAuthenticationFailed
		if errParam == ReasonAccessDenied {
			reason = ReasonAccessDenied
		}
		h.fail(c, reason)
		return
	}

	code, st := c.Query("code"), c.Query("state")
	if code == "" || st == "" {
		logger.Warn("callback missing code or state", nil)
		h.fail(c, ReasonInvalidCallback)
		return
	}

	data, err := h.states.Consume(ctx, st)
	if errors.Is(err, state.ErrNotFound) {
		logger.Warn("invalid or replayed oidc state", map[string]any{
			"state": st,
			"ip":    c.ClientIP(),
		})
		h.fail(c, ReasonInvalidState)
		return
	}
	if err != nil {
		logger.Error("oidc state lookup failed", map[string]any{"error": err})
		h.fail(c, ReasonAuthenticationFailed)
		return
	}

	identity, err := h.provider.ExchangeCode(ctx, provider.Exchange{
		Code:         code,
		CodeVerifier: data.CodeVerifier,
		RedirectURI:  data.RedirectURI,
		Nonce:        data.Nonce,
		State:        st,
	})
	if err != nil {
		h.fail(c, exchangeReason(err, st))
		return
	}

	u, err := h.users.CreateOrUpdate(ctx, *identity, auth.RoleEndUser)
	if err != nil {
		logger.Error("user upsert failed", map[string]any{
			"subject": identity.Subject,
			"error":   err,
		})
		h.fail(c, ReasonAuthenticationFailed)
		return
	}
	if !u.IsActive {
		logger.Warn("login by deactivated user", map[string]any{"user_id": u.ID})
		h.fail(c, ReasonAccessDenied)
		return
	}

	s, token, err := h.sessions.Create(ctx, session.Principal{
		UserID:      u.ID,
		Subject:     u.EntraID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
	})
	if err != nil {
		logger.Error("session creation failed", map[string]any{
			"user_id": u.ID,
			"error":   err,
		})
		h.fail(c, ReasonSessionCreationFailed)
		return
	}

	session.SetCookie(c.Writer, token, h.sessions.Timeout(), h.cookie)

	logger.Info("login success", map[string]any{
		"user_id":    u.ID,
		"session_id": s.ID,
		"role":       u.Role,
		"ip":         c.ClientIP(),
	})
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) fail(c *gin.Context, reason string) {
	c.Redirect(http.StatusFound, "/login?error="+url.QueryEscape(reason))
}

// exchangeReason maps a token exchange failure to a redirect reason and logs
// the detail, which never reaches the client.
func exchangeReason(err error, st string) string {
	var te *provider.TokenExchangeError
	if !errors.As(err, &te) {
		logger.Error("token exchange failed", map[string]any{"error": err})
		return ReasonAuthenticationFailed
	}

	switch te.Reason {
	case provider.ReasonInvalidNonce:
		logger.Warn("id token nonce mismatch", map[string]any{
			"state": st,
			"error": err,
		})
		return ReasonInvalidNonce
	case provider.ReasonNoIDToken:
		logger.Error("token response without id token", map[string]any{"error": err})
		return ReasonNoIDToken
	default:
		logger.Error("token exchange failed", map[string]any{
			"reason": te.Reason,
			"error":  err,
		})
		return ReasonAuthenticationFailed
	}
}
