package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Denylist records revoked token ids
type Denylist interface {
	// Revoke marks jti as revoked until the given time
	Revoke(ctx context.Context, jti string, until time.Time) error
	// IsRevoked reports whether jti is currently revoked
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisDenylist stores revoked token ids in Redis with a TTL equal to the
// remaining token lifetime
type RedisDenylist struct {
	client *redis.Client
	prefix string
}

// NewRedisDenylist creates a Redis-backed denylist
func NewRedisDenylist(client *redis.Client, prefix string) *RedisDenylist {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "denylist"
	}
	return &RedisDenylist{client: client, prefix: prefix}
}

// Revoke implements Denylist
func (d *RedisDenylist) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, d.key(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// IsRevoked implements Denylist
func (d *RedisDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (d *RedisDenylist) key(jti string) string {
	return d.prefix + ":" + jti
}

// MemoryDenylist keeps revoked token ids in a bounded in-process LRU. Entries
// are dropped after maxAge or when the cache is full.
type MemoryDenylist struct {
	cache *lru.LRU[string, time.Time]
	now   func() time.Time
}

// NewMemoryDenylist creates an in-memory denylist. maxAge should be the token lifetime.
func NewMemoryDenylist(size int, maxAge time.Duration) *MemoryDenylist {
	if size <= 0 {
		size = 10000
	}
	if maxAge <= 0 {
		maxAge = DefaultTokenExpiry
	}
	return &MemoryDenylist{
		cache: lru.NewLRU[string, time.Time](size, nil, maxAge),
		now:   time.Now,
	}
}

// Revoke implements Denylist
func (d *MemoryDenylist) Revoke(_ context.Context, jti string, until time.Time) error {
	if !until.After(d.now()) {
		return nil
	}
	d.cache.Add(jti, until)
	return nil
}

// IsRevoked implements Denylist
func (d *MemoryDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	until, ok := d.cache.Get(jti)
	if !ok {
		return false, nil
	}
	return until.After(d.now()), nil
}
