// Package session keeps revert requests that are waiting for the user to
// answer a confirmation prompt.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"revertd/api/internal/revert"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned for unknown, answered or expired tokens.
var ErrNotFound = errors.New("confirmation not found or expired")

// DefaultTTL applies when Save is called without a positive ttl.
const DefaultTTL = 15 * time.Minute

// Confirmation holds everything needed to resume a revert once the prompt
// is answered.
type Confirmation struct {
	Token        string              `json:"token"`
	Actor        string              `json:"actor"`
	Reason       string              `json:"reason,omitempty"`
	Execute      bool                `json:"execute"`
	Prompt       revert.Prompt       `json:"prompt"`
	Continuation revert.Continuation `json:"continuation"`
	CreatedAt    time.Time           `json:"created_at"`
}

// NewConfirmation captures a needs-confirmation outcome.
func NewConfirmation(token, actor, reason string, execute bool, outcome revert.Outcome) (Confirmation, error) {
	if outcome.Status != revert.StatusNeedsConfirmation || outcome.Prompt == nil || outcome.Continuation == nil {
		return Confirmation{}, fmt.Errorf("outcome %q does not await confirmation", outcome.Status)
	}
	return Confirmation{
		Token:        token,
		Actor:        actor,
		Reason:       reason,
		Execute:      execute,
		Prompt:       *outcome.Prompt,
		Continuation: *outcome.Continuation,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Outcome rebuilds the pending outcome for revert.Continue.
func (c Confirmation) Outcome() revert.Outcome {
	prompt := c.Prompt
	cont := c.Continuation
	return revert.Outcome{
		Status:       revert.StatusNeedsConfirmation,
		Prompt:       &prompt,
		Continuation: &cont,
	}
}

// RedisStore implements confirmation storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed confirmation store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "confirm:",
	}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// Save stores a pending confirmation until ttl lapses.
func (s *RedisStore) Save(ctx context.Context, item Confirmation, ttl time.Duration) error {
	if item.Token == "" {
		return errors.New("save confirmation: empty token")
	}
	jsonData, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal confirmation: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := s.client.Set(ctx, s.key(item.Token), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("save confirmation: %w", err)
	}
	return nil
}

// Take returns and removes a pending confirmation, so each token can be
// answered once.
func (s *RedisStore) Take(ctx context.Context, token string) (Confirmation, error) {
	jsonData, err := s.client.GetDel(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return Confirmation{}, ErrNotFound
	}
	if err != nil {
		return Confirmation{}, fmt.Errorf("take confirmation: %w", err)
	}

	var item Confirmation
	if err := json.Unmarshal([]byte(jsonData), &item); err != nil {
		return Confirmation{}, fmt.Errorf("unmarshal confirmation: %w", err)
	}
	return item, nil
}

// Peek returns a pending confirmation without consuming it.
func (s *RedisStore) Peek(ctx context.Context, token string) (Confirmation, error) {
	jsonData, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return Confirmation{}, ErrNotFound
	}
	if err != nil {
		return Confirmation{}, fmt.Errorf("lookup confirmation: %w", err)
	}

	var item Confirmation
	if err := json.Unmarshal([]byte(jsonData), &item); err != nil {
		return Confirmation{}, fmt.Errorf("unmarshal confirmation: %w", err)
	}
	return item, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
