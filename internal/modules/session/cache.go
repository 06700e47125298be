// README: Persisted ride session cache so a restarted client can rejoin its ride.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

const (
	sessionKeyPrefix = "orbix:session:%s:%s"
	// A ride that has not moved in this long is not worth restoring.
	sessionTTL = 6 * time.Hour
)

var ErrNotFound = errors.New("session not found")

// Cache stores at most one session per identity and role.
type Cache interface {
	Save(ctx context.Context, s ride.Session) error
	Load(ctx context.Context, identity types.ID, role types.Role) (ride.Session, error)
	Delete(ctx context.Context, identity types.ID, role types.Role) error
}

type RedisCache struct {
	redis    *redis.Client
	identity types.ID
	ttl      time.Duration
}

// NewRedisCache scopes saved sessions to identity. A zero ttl uses the default.
func NewRedisCache(rdb *redis.Client, identity types.ID, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = sessionTTL
	}
	return &RedisCache{redis: rdb, identity: identity, ttl: ttl}
}

func (c *RedisCache) Save(ctx context.Context, s ride.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return c.redis.Set(ctx, sessionKey(c.identity, s.Role), b, c.ttl).Err()
}

func (c *RedisCache) Load(ctx context.Context, identity types.ID, role types.Role) (ride.Session, error) {
	val, err := c.redis.Get(ctx, sessionKey(identity, role)).Bytes()
	if err == redis.Nil {
		return ride.Session{}, ErrNotFound
	}
	if err != nil {
		return ride.Session{}, err
	}
	var s ride.Session
	if err := json.Unmarshal(val, &s); err != nil {
		return ride.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func (c *RedisCache) Delete(ctx context.Context, identity types.ID, role types.Role) error {
	return c.redis.Del(ctx, sessionKey(identity, role)).Err()
}

func sessionKey(identity types.ID, role types.Role) string {
	return fmt.Sprintf(sessionKeyPrefix, string(role), string(identity))
}

// MemoryCache is the in-process Cache used when Redis is not configured.
type MemoryCache struct {
	identity types.ID

	mu       sync.Mutex
	sessions map[string]ride.Session
}

func NewMemoryCache(identity types.ID) *MemoryCache {
	return &MemoryCache{identity: identity, sessions: make(map[string]ride.Session)}
}

func (c *MemoryCache) Save(_ context.Context, s ride.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionKey(c.identity, s.Role)] = s.Clone()
	return nil
}

func (c *MemoryCache) Load(_ context.Context, identity types.ID, role types.Role) (ride.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionKey(identity, role)]
	if !ok {
		return ride.Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (c *MemoryCache) Delete(_ context.Context, identity types.ID, role types.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionKey(identity, role))
	return nil
}
