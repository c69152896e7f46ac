// Package user persists the local user records that identity provider
// subjects are mapped to.
package user

import (
	"context"
	"errors"
	"time"

	"chat-service/internal/auth"
)

var ErrNotFound = errors.New("user: not found")

type User struct {
	ID          string     `json:"id"`
	EntraID     string     `json:"entra_id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Role        auth.Role  `json:"role"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// Repository is the only place where subject-to-user mapping lives.
type Repository interface {
	// GetByID returns active users only.
	GetByID(ctx context.Context, id string) (*User, error)
	// CreateOrUpdate upserts on the provider subject. Email, display name
	// and last login are refreshed; an existing role is kept.
	CreateOrUpdate(ctx context.Context, id auth.Identity, role auth.Role) (*User, error)
}

// Page is one slice of the active user list.
type Page struct {
	Users []User `json:"users"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int    `json:"total"`
}

// AdminRepository adds the user administration operations. Every method
// returns ErrNotFound for unknown ids.
type AdminRepository interface {
	Repository
	List(ctx context.Context, page, limit int) (*Page, error)
	UpdateRole(ctx context.Context, id string, role auth.Role) (*User, error)
	Deactivate(ctx context.Context, id string) (*User, error)
	Reactivate(ctx context.Context, id string) (*User, error)
}
