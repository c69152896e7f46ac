package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chat-service/internal/auth"
)

// Claims is the payload of a session token. The embedded identity fields
// are informational; the session record stays authoritative.
type Claims struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	EntraID     string    `json:"entra_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        auth.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 session tokens.
type TokenCodec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// NewTokenCodec returns a codec using secret as the HMAC key. A nil now
// defaults to time.Now.
func NewTokenCodec(secret []byte, issuer string, now func() time.Time) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: empty signing secret")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{key: secret, issuer: issuer, now: now}, nil
}

// Issue signs a token for s. exp mirrors the record's ExpiresAt.
func (c *TokenCodec) Issue(s *Session) (string, error) {
	claims := Claims{
		SessionID:   s.ID,
		UserID:      s.UserID,
		EntraID:     s.Subject,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		Role:        s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   s.UserID,
			ID:        s.ID,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("session: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry. Any failure
// yields ErrInvalidSession wrapping the cause.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !parsed.Valid || claims.SessionID == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
