package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	sessionColumns = []string{"id", "user_id", "session_name", "is_active", "created_at", "updated_at"}
	messageColumns = []string{"id", "session_id", "user_id", "message_type", "content", "metadata", "timestamp"}
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanSession(row sq.RowScanner) (*Session, error) {
	var (
		s    Session
		name sql.NullString
	)
	if err := row.Scan(&s.ID, &s.UserID, &name, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Name = name.String
	return &s, nil
}

func scanMessage(row sq.RowScanner) (*Message, error) {
	var (
		m        Message
		userID   sql.NullString
		msgType  string
		metadata []byte
	)
	if err := row.Scan(&m.ID, &m.SessionID, &userID, &msgType, &m.Content, &metadata, &m.Timestamp); err != nil {
		return nil, err
	}
	m.UserID = userID.String
	m.Type = MessageType(msgType)
	if len(metadata) > 0 {
		m.Metadata = metadata
	}
	return &m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *PostgresRepository) CreateSession(ctx context.Context, userID, name string) (*Session, error) {
	query, args, err := psq.Insert("chat_sessions").
		Columns("user_id", "session_name").
		Values(userID, nullable(name)).
		Suffix("RETURNING " + strings.Join(sessionColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building chat session insert: %w", err)
	}

	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("creating chat session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query, args, err := psq.Select(sessionColumns...).
		From("chat_sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building chat session query: %w", err)
	}

	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat session %s: %w", id, err)
	}
	return s, nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("chat_sessions").
		Where(sq.Eq{"user_id": userID, "is_active": true}).
		OrderBy("updated_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building chat session list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing chat sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat sessions: %w", err)
	}
	return sessions, nil
}

func (r *PostgresRepository) CreateMessage(ctx context.Context, m Message) (*Message, error) {
	if m.Type == "" {
		m.Type = MessageUser
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("chat: invalid message type %q", m.Type)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	var metadata any
	if len(m.Metadata) > 0 {
		metadata = []byte(m.Metadata)
	}

	insert, insertArgs, err := psq.Insert("chat_messages").
		Columns("id", "session_id", "user_id", "message_type", "content", "metadata").
		Values(m.ID, m.SessionID, nullable(m.UserID), string(m.Type), m.Content, metadata).
		Suffix("RETURNING " + strings.Join(messageColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building chat message insert: %w", err)
	}

	touch, touchArgs, err := psq.Update("chat_sessions").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": m.SessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building chat session touch: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	saved, err := scanMessage(tx.QueryRowContext(ctx, insert, insertArgs...))
	if err != nil {
		return nil, fmt.Errorf("inserting chat message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, touch, touchArgs...); err != nil {
		return nil, fmt.Errorf("touching chat session %s: %w", m.SessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing chat message: %w", err)
	}
	return saved, nil
}

func (r *PostgresRepository) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	query, args, err := psq.Select(messageColumns...).
		From("chat_messages").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("timestamp ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building chat message list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat messages: %w", err)
	}
	return messages, nil
}
