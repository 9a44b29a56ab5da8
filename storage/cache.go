package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskhub/domain"
)

type taskReader interface {
	ListTasks(ctx context.Context, ownerID string, q TaskQuery) (*TaskPage, error)
	TaskStats(ctx context.Context, ownerID string) (*domain.TaskStats, error)
}

// Cache wraps the task read paths with a per-user Redis cache. Only the
// default first page and the stats are cached; filtered or searched listings
// always hit the store. Redis failures fall back silently to the base store.
type Cache struct {
	base  taskReader
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base taskReader, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base reader is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, ownerID string, q TaskQuery) (*TaskPage, error) {
	if !q.IsDefault() {
		return c.base.ListTasks(ctx, ownerID, q)
	}
	if page, ok := loadCached[TaskPage](ctx, c, tasksCacheKey(ownerID)); ok {
		return page, nil
	}
	page, err := c.base.ListTasks(ctx, ownerID, q)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasksCacheKey(ownerID), page)
	return page, nil
}

func (c *Cache) TaskStats(ctx context.Context, ownerID string) (*domain.TaskStats, error) {
	if stats, ok := loadCached[domain.TaskStats](ctx, c, statsCacheKey(ownerID)); ok {
		return stats, nil
	}
	stats, err := c.base.TaskStats(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, statsCacheKey(ownerID), stats)
	return stats, nil
}

// Invalidate drops the user's cached reads. Called after every committed task
// mutation.
func (c *Cache) Invalidate(ctx context.Context, ownerID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(ownerID), statsCacheKey(ownerID)).Result()
}

func loadCached[T any](ctx context.Context, c *Cache, key string) (*T, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// Drop corrupt or unreachable entries and serve from the store.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var out T
	if err := sonic.Unmarshal(data, &out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return &out, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func tasksCacheKey(ownerID string) string {
	return "tasks:" + ownerID
}

func statsCacheKey(ownerID string) string {
	return "taskstats:" + ownerID
}
