// Package state keeps in-flight login attempts between the redirect to the
// identity provider and the callback.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means the state is unknown, expired or already consumed.
var ErrNotFound = errors.New("state: not found")

// Data is bound to one login attempt and used exactly once.
type Data struct {
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	CreatedAt    time.Time `json:"created_at"`
}

type Store interface {
	Put(ctx context.Context, state string, d Data) error
	Consume(ctx context.Context, state string) (*Data, error)
}

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStore{
		client: client,
		prefix: "oidc:state:",
		ttl:    ttl,
	}
}

func (r *RedisStore) key(state string) string {
	return r.prefix + state
}

func (r *RedisStore) Put(ctx context.Context, state string, d Data) error {
	if state == "" {
		return errors.New("state: empty state")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	if err := r.client.Set(ctx, r.key(state), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("state: put: %w", err)
	}
	return nil
}

// Consume atomically reads and deletes the entry, so a state can be
// redeemed by at most one callback.
func (r *RedisStore) Consume(ctx context.Context, state string) (*Data, error) {
	if state == "" {
		return nil, ErrNotFound
	}

	val, err := r.client.GetDel(ctx, r.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: consume: %w", err)
	}

	var d Data
	if err := json.Unmarshal(val, &d); err != nil {
		return nil, fmt.Errorf("state: unmarshal: %w", err)
	}
	return &d, nil
}
