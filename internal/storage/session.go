// Package storage holds the session token store. Sessions are issued by the
// identity service; this side only resolves and refreshes them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

const sessionTTL = 24 * time.Hour

// SessionStore resolves a bearer token to a user id.
type SessionStore interface {
	// Resolve returns the user id for token and slides its expiry.
	Resolve(ctx context.Context, token string) (string, error)
}

// RedisSessionStore reads sessions written by the identity service under
// "session:<token>".
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Resolve(ctx context.Context, token string) (string, error) {
	key := "session:" + token
	userID, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sessionStore.Resolve: %w", err)
	}
	// Sliding expiry; a failed refresh only shortens the session.
	if err := s.client.Expire(ctx, key, sessionTTL).Err(); err != nil {
		return userID, nil
	}
	return userID, nil
}

// MemorySessionStore backs dev mode, where no identity service runs. Tokens
// are seeded at startup and never expire.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]string)}
}

func (s *MemorySessionStore) Put(token, userID string) {
	s.mu.Lock()
	s.sessions[token] = userID
	s.mu.Unlock()
}

func (s *MemorySessionStore) Resolve(_ context.Context, token string) (string, error) {
	s.mu.RLock()
	userID, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return "", ErrSessionNotFound
	}
	return userID, nil
}
