// Package providerconfig stores the identity provider registration of an
// organization with its client secret encrypted at rest.
package providerconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"chat-service/internal/logger"
	"chat-service/internal/security"
)

var (
	ErrNotFound     = errors.New("providerconfig: not found")
	ErrInvalidInput = errors.New("providerconfig: invalid input")
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var columns = []string{
	"id", "organization_id", "client_id", "client_secret_encrypted", "tenant_id",
	"redirect_uri", "is_valid", "last_tested_at", "created_at", "updated_at",
}

// Config holds the decrypted secret and must never be serialized to clients;
// use Safe for responses.
type Config struct {
	ID             string
	OrganizationID string
	ClientID       string
	ClientSecret   string
	TenantID       string
	RedirectURI    string
	IsValid        bool
	LastTestedAt   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Safe struct {
	ID                 string     `json:"id"`
	OrganizationID     string     `json:"organization_id"`
	ClientID           string     `json:"client_id"`
	ClientSecretMasked string     `json:"client_secret_masked"`
	TenantID           string     `json:"tenant_id"`
	RedirectURI        string     `json:"redirect_uri"`
	IsValid            bool       `json:"is_valid"`
	LastTestedAt       *time.Time `json:"last_tested_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (c *Config) Safe() Safe {
	return Safe{
		ID:                 c.ID,
		OrganizationID:     c.OrganizationID,
		ClientID:           c.ClientID,
		ClientSecretMasked: security.MaskSecret(),
		TenantID:           c.TenantID,
		RedirectURI:        c.RedirectURI,
		IsValid:            c.IsValid,
		LastTestedAt:       c.LastTestedAt,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

// Input is a full replacement of an organization's registration.
type Input struct {
	OrganizationID string
	ClientID       string
	ClientSecret   string
	TenantID       string
	RedirectURI    string
}

func (in Input) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"organization_id": in.OrganizationID,
		"client_id":       in.ClientID,
		"client_secret":   in.ClientSecret,
		"tenant_id":       in.TenantID,
		"redirect_uri":    in.RedirectURI,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

type Repository struct {
	db     *sql.DB
	cipher *security.Cipher
}

func NewRepository(db *sql.DB, cipher *security.Cipher) *Repository {
	return &Repository{db: db, cipher: cipher}
}

func scanConfig(row sq.RowScanner) (*Config, string, error) {
	var (
		c         Config
		encrypted string
		tested    sql.NullTime
	)
	if err := row.Scan(
		&c.ID, &c.OrganizationID, &c.ClientID, &encrypted, &c.TenantID,
		&c.RedirectURI, &c.IsValid, &tested, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, "", err
	}
	if tested.Valid {
		c.LastTestedAt = &tested.Time
	}
	return &c, encrypted, nil
}

// Get returns the configuration with the secret decrypted. Server-side only.
func (r *Repository) Get(ctx context.Context, organizationID string) (*Config, error) {
	query, args, err := psq.Select(columns...).
		From("provider_configs").
		Where(sq.Eq{"organization_id": organizationID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building provider config query: %w", err)
	}

	c, encrypted, err := scanConfig(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err == nil {
		c.ClientSecret, err = r.cipher.Decrypt(encrypted)
	}
	if err != nil {
		logger.Error("load provider config failed", map[string]any{
			"organization_id": organizationID,
			"error":           err,
		})
		return nil, fmt.Errorf("loading provider config %s: %w", organizationID, err)
	}
	return c, nil
}

// Upsert encrypts the secret and replaces the organization's registration.
// The row is marked not validated until it is tested again.
func (r *Repository) Upsert(ctx context.Context, in Input) (*Config, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	encrypted, err := r.cipher.Encrypt(in.ClientSecret)
	if err != nil {
		return nil, err
	}

	query, args, err := psq.Insert("provider_configs").
		Columns("organization_id", "client_id", "client_secret_encrypted", "tenant_id", "redirect_uri", "is_valid").
		Values(in.OrganizationID, in.ClientID, encrypted, in.TenantID, in.RedirectURI, false).
		Suffix("ON CONFLICT (organization_id) DO UPDATE SET " +
			"client_id = EXCLUDED.client_id, client_secret_encrypted = EXCLUDED.client_secret_encrypted, " +
			"tenant_id = EXCLUDED.tenant_id, redirect_uri = EXCLUDED.redirect_uri, " +
			"updated_at = NOW(), is_valid = false").
		Suffix("RETURNING " + strings.Join(columns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building provider config upsert: %w", err)
	}

	c, _, err := scanConfig(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("upserting provider config %s: %w", in.OrganizationID, err)
	}
	c.ClientSecret = in.ClientSecret

	logger.Info("provider config upserted", map[string]any{
		"organization_id": c.OrganizationID,
		"config_id":       c.ID,
	})
	return c, nil
}

// MarkTested records the outcome of a connection test.
func (r *Repository) MarkTested(ctx context.Context, organizationID string, valid bool) error {
	query, args, err := psq.Update("provider_configs").
		Set("is_valid", valid).
		Set("last_tested_at", sq.Expr("NOW()")).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"organization_id": organizationID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building provider config test update: %w", err)
	}
	return r.execOne(ctx, organizationID, query, args)
}

// Delete removes the registration. The environment configuration applies
// again on the next restart.
func (r *Repository) Delete(ctx context.Context, organizationID string) error {
	query, args, err := psq.Delete("provider_configs").
		Where(sq.Eq{"organization_id": organizationID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building provider config delete: %w", err)
	}
	if err := r.execOne(ctx, organizationID, query, args); err != nil {
		return err
	}

	logger.Info("provider config deleted", map[string]any{
		"organization_id": organizationID,
	})
	return nil
}

func (r *Repository) execOne(ctx context.Context, organizationID, query string, args []any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("writing provider config %s: %w", organizationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("writing provider config %s: %w", organizationID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
