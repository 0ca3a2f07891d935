package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tutorhub/tutorhub/pkg/auth"
	"github.com/tutorhub/tutorhub/pkg/observability"
	"github.com/tutorhub/tutorhub/pkg/storage"
)

const statsCacheKey = "stats:users"

// StatsCache serves admin dashboard stats from Redis for a short TTL.
// Every other call goes straight to the wrapped store; role changes and
// deletions invalidate the cached value.
type StatsCache struct {
	storage.Store
	redis  *redis.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewStatsCache wraps store with a Redis stats cache
func NewStatsCache(store storage.Store, client *redis.Client, ttl time.Duration, logger *observability.Logger) *StatsCache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &StatsCache{
		Store:  store,
		redis:  client,
		ttl:    ttl,
		logger: logger,
	}
}

// Stats returns cached stats when present. Redis errors fall through to the store.
func (c *StatsCache) Stats(ctx context.Context, onlineSince time.Time) (storage.UserStats, error) {
	cached, err := c.redis.Get(ctx, statsCacheKey).Bytes()
	if err == nil {
		var stats storage.UserStats
		if err := json.Unmarshal(cached, &stats); err == nil {
			return stats, nil
		}
		// If unmarshal fails, delete corrupt data
		c.redis.Del(ctx, statsCacheKey)
	} else if err != redis.Nil {
		c.logger.WithError(err).Warn("Stats cache read failed")
	}

	stats, err := c.Store.Stats(ctx, onlineSince)
	if err != nil {
		return storage.UserStats{}, err
	}

	if data, err := json.Marshal(stats); err == nil {
		if err := c.redis.Set(ctx, statsCacheKey, data, c.ttl).Err(); err != nil {
			c.logger.WithError(err).Warn("Stats cache write failed")
		}
	}
	return stats, nil
}

// Invalidate drops the cached stats
func (c *StatsCache) Invalidate(ctx context.Context) error {
	return c.redis.Del(ctx, statsCacheKey).Err()
}

func (c *StatsCache) invalidate(ctx context.Context) {
	if err := c.Invalidate(ctx); err != nil {
		c.logger.WithError(err).Warn("Stats cache invalidation failed")
	}
}

// CreateUserWithProfile creates the user and invalidates the cached stats
func (c *StatsCache) CreateUserWithProfile(ctx context.Context, in storage.RegisterInput) (*auth.User, error) {
	u, err := c.Store.CreateUserWithProfile(ctx, in)
	if err == nil {
		c.invalidate(ctx)
	}
	return u, err
}

// UpdateRoles updates roles and invalidates the cached stats
func (c *StatsCache) UpdateRoles(ctx context.Context, id string, roles []string) (*auth.User, error) {
	u, err := c.Store.UpdateRoles(ctx, id, roles)
	if err == nil {
		c.invalidate(ctx)
	}
	return u, err
}

// DeleteUser deletes the user and invalidates the cached stats
func (c *StatsCache) DeleteUser(ctx context.Context, id string) error {
	err := c.Store.DeleteUser(ctx, id)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}
