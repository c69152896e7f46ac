package provider

import (
	"context"
	"fmt"

	"chat-service/internal/auth"
)

// AuthRequest is a prepared redirect to the identity provider together with
// the secrets the caller must persist until the callback.
type AuthRequest struct {
	URL          string
	State        string
	Nonce        string
	CodeVerifier string
	RedirectURI  string
}

// Exchange carries everything needed to redeem an authorization code.
type Exchange struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
	Nonce        string
	State        string
}

// Provider defines the contract of the external identity provider.
// Implementations return identity facts only and must not perform user
// creation or session management.
type Provider interface {
	// AuthorizationRequest builds a PKCE-protected authorization URL with a
	// fresh state and nonce.
	AuthorizationRequest(ctx context.Context) (*AuthRequest, error)

	// ExchangeCode redeems the code and returns the verified identity.
	// Every failure is a *TokenExchangeError.
	ExchangeCode(ctx context.Context, ex Exchange) (*auth.Identity, error)
}

// Reasons reported by TokenExchangeError.
const (
	ReasonExchangeFailed = "exchange_failed"
	ReasonNoIDToken      = "no_id_token"
	ReasonInvalidIDToken = "invalid_id_token"
	ReasonInvalidNonce   = "invalid_nonce"
	ReasonMissingClaims  = "missing_claims"
)

type TokenExchangeError struct {
	Reason string
	Err    error
}

func (e *TokenExchangeError) Error() string {
	if e.Err == nil {
		return "token exchange: " + e.Reason
	}
	return fmt.Sprintf("token exchange: %s: %v", e.Reason, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

func exchangeError(reason string, err error) *TokenExchangeError {
	return &TokenExchangeError{Reason: reason, Err: err}
}
