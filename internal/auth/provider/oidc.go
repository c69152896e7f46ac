package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"chat-service/internal/auth"
	"chat-service/internal/logger"
	"chat-service/internal/utils"
)

// Config describes one OIDC relying-party registration.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDC implements Provider against any discovery-capable issuer.
// Discovery runs lazily on first use; a successful result is cached for the
// life of the process and a failed one is retried on the next call.
type OIDC struct {
	cfg Config

	mu          sync.Mutex
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
}

func NewOIDC(cfg Config) (*OIDC, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("oidc config missing required fields")
	}
	return &OIDC{cfg: cfg}, nil
}

func (p *OIDC) client(ctx context.Context) (*oauth2.Config, *oidc.IDTokenVerifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.oauthConfig != nil {
		return p.oauthConfig, p.verifier, nil
	}

	discovered, err := oidc.NewProvider(ctx, p.cfg.Issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("oidc discovery %s: %w", p.cfg.Issuer, err)
	}

	p.verifier = discovered.Verifier(&oidc.Config{
		ClientID: p.cfg.ClientID,
	})
	p.oauthConfig = &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.cfg.RedirectURL,
		Endpoint:     discovered.Endpoint(),
		Scopes: []string{
			oidc.ScopeOpenID,
			"profile",
			"email",
			oidc.ScopeOfflineAccess,
		},
	}

	logger.Info("oidc provider discovered", map[string]any{
		"issuer":    p.cfg.Issuer,
		"auth_url":  p.oauthConfig.Endpoint.AuthURL,
		"token_url": p.oauthConfig.Endpoint.TokenURL,
	})
	return p.oauthConfig, p.verifier, nil
}

// Discover fetches the issuer metadata if it has not been fetched yet.
func (p *OIDC) Discover(ctx context.Context) error {
	_, _, err := p.client(ctx)
	return err
}

func (p *OIDC) AuthorizationRequest(ctx context.Context) (*AuthRequest, error) {
	cfg, _, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	var secrets [3]string
	for i := range secrets {
		if secrets[i], err = utils.RandomString(32); err != nil {
			return nil, err
		}
	}
	state, nonce, verifier := secrets[0], secrets[1], secrets[2]

	url := cfg.AuthCodeURL(
		state,
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	)

	return &AuthRequest{
		URL:          url,
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		RedirectURI:  cfg.RedirectURL,
	}, nil
}

func (p *OIDC) ExchangeCode(ctx context.Context, ex Exchange) (*auth.Identity, error) {
	if ex.Code == "" || ex.State == "" || ex.CodeVerifier == "" {
		return nil, exchangeError(ReasonExchangeFailed, errors.New("missing code, state or verifier"))
	}

	cfg, verifier, err := p.client(ctx)
	if err != nil {
		return nil, exchangeError(ReasonExchangeFailed, err)
	}

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(ex.CodeVerifier)}
	if ex.RedirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", ex.RedirectURI))
	}

	token, err := cfg.Exchange(ctx, ex.Code, opts...)
	if err != nil {
		logger.Error("oidc token exchange failed", map[string]any{
			"error": err,
		})
		return nil, exchangeError(ReasonExchangeFailed, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, exchangeError(ReasonNoIDToken, nil)
	}

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		logger.Error("oidc id_token verification failed", map[string]any{
			"error": err,
		})
		return nil, exchangeError(ReasonInvalidIDToken, err)
	}

	if idToken.Nonce == "" || idToken.Nonce != ex.Nonce {
		return nil, exchangeError(ReasonInvalidNonce, nil)
	}

	var claims struct {
		Subject           string `json:"sub"`
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
		GivenName         string `json:"given_name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, exchangeError(ReasonInvalidIDToken, err)
	}

	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}
	if claims.Subject == "" || email == "" {
		return nil, exchangeError(ReasonMissingClaims, nil)
	}

	name := claims.Name
	if name == "" {
		name = claims.GivenName
	}
	if name == "" {
		name = email
	}

	logger.Info("oidc id_token verified", map[string]any{
		"issuer":      idToken.Issuer,
		"subject":     claims.Subject,
		"expiry_unix": idToken.Expiry.Unix(),
	})

	return &auth.Identity{
		Subject:     claims.Subject,
		Email:       email,
		DisplayName: name,
		AccessToken: token.AccessToken,
	}, nil
}

// EntraIssuer returns the Microsoft Entra ID v2.0 issuer for a tenant.
func EntraIssuer(tenantID string) string {
	return "https://login.microsoftonline.com/" + tenantID + "/v2.0"
}
