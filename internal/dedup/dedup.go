// Package dedup remembers processed event IDs so that redelivered events are
// acknowledged without being applied twice.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a processed event ID is remembered.
const DefaultTTL = 48 * time.Hour

// keyFormat is dedup:{service}:{event id}.
const keyFormat = "dedup:%s:%s"

// Guard claims event IDs.
type Guard interface {
	// Claim returns true when id has not been claimed before.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets id so that a later delivery is processed again.
	Release(ctx context.Context, id string) error
}

var (
	_ Guard = (*Redis)(nil)
	_ Guard = (*Memory)(nil)
)

// Redis is a Guard backed by SET NX with expiry.
type Redis struct {
	rdb     redis.Cmdable
	service string
	ttl     time.Duration
}

// NewRedis creates a Redis guard namespaced by service.
func NewRedis(rdb redis.Cmdable, service string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, service: service, ttl: ttl}
}

func (g *Redis) key(id string) string {
	return fmt.Sprintf(keyFormat, g.service, id)
}

func (g *Redis) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.key(id), time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return ok, nil
}

func (g *Redis) Release(ctx context.Context, id string) error {
	if err := g.rdb.Del(ctx, g.key(id)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

// Memory is a process-local Guard.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	claimed map[string]time.Time
}

// NewMemory creates an in-memory guard.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		claimed: make(map[string]time.Time),
	}
}

func (g *Memory) Claim(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expires, ok := g.claimed[id]; ok && now.Before(expires) {
		return false, nil
	}
	g.claimed[id] = now.Add(g.ttl)

	// Opportunistic eviction keeps the map bounded by live claims.
	for k, expires := range g.claimed {
		if !now.Before(expires) {
			delete(g.claimed, k)
		}
	}
	return true, nil
}

func (g *Memory) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, id)
	return nil
}
