package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"chat-service/internal/auth"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var userColumns = []string{
	"id", "entra_id", "email", "display_name", "role", "is_active", "created_at", "last_login",
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanUser(row sq.RowScanner) (*User, error) {
	var (
		u         User
		role      string
		lastLogin sql.NullTime
	)
	if err := row.Scan(
		&u.ID, &u.EntraID, &u.Email, &u.DisplayName, &role, &u.IsActive, &u.CreatedAt, &lastLogin,
	); err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return &u, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query, args, err := psq.Select(userColumns...).
		From("users").
		Where(sq.Eq{"id": id, "is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user query: %w", err)
	}

	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user %s: %w", id, err)
	}
	return u, nil
}

func (r *PostgresRepository) CreateOrUpdate(ctx context.Context, id auth.Identity, role auth.Role) (*User, error) {
	if id.Subject == "" {
		return nil, errors.New("user: empty subject")
	}
	if !role.Valid() {
		role = auth.RoleEndUser
	}

	query, args, err := psq.Insert("users").
		Columns("entra_id", "email", "display_name", "role", "last_login").
		Values(id.Subject, id.Email, id.DisplayName, string(role), sq.Expr("NOW()")).
		Suffix("ON CONFLICT (entra_id) DO UPDATE SET " +
			"email = EXCLUDED.email, display_name = EXCLUDED.display_name, last_login = NOW()").
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user upsert: %w", err)
	}

	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("upserting user %s: %w", id.Subject, err)
	}
	return u, nil
}

// List returns active users, newest first. page is 1-based.
func (r *PostgresRepository) List(ctx context.Context, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query, args, err := psq.Select(userColumns...).
		From("users").
		Where(sq.Eq{"is_active": true}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64((page - 1) * limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	countQuery, countArgs, err := psq.Select("COUNT(*)").
		From("users").
		Where(sq.Eq{"is_active": true}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user count: %w", err)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	return &Page{Users: users, Page: page, Limit: limit, Total: total}, nil
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, id string, role auth.Role) (*User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("user: invalid role %q", role)
	}
	return r.update(ctx, id, map[string]any{"role": string(role)})
}

// Deactivate is a soft delete; the row and its chat history stay.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string) (*User, error) {
	return r.update(ctx, id, map[string]any{"is_active": false})
}

func (r *PostgresRepository) Reactivate(ctx context.Context, id string) (*User, error) {
	return r.update(ctx, id, map[string]any{"is_active": true})
}

func (r *PostgresRepository) update(ctx context.Context, id string, set map[string]any) (*User, error) {
	query, args, err := psq.Update("users").
		SetMap(set).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building user update: %w", err)
	}

	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating user %s: %w", id, err)
	}
	return u, nil
}

// Status reports the current role and active flag for session checks. An
// unknown user is inactive.
func (r *PostgresRepository) Status(ctx context.Context, id string) (auth.Role, bool, error) {
	query, args, err := psq.Select("role", "is_active").
		From("users").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("building user status query: %w", err)
	}

	var (
		role   string
		active bool
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&role, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying user status %s: %w", id, err)
	}
	return auth.Role(role), active, nil
}
