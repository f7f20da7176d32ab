package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"flowboard/domain"
)

type snapshotBackend interface {
	Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Cache wraps snapshot reads with Redis-backed caching. Redis failures fall
// through to the backing store without failing the read.
type Cache struct {
	base  snapshotBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching snapshot reader using the provided Redis client
// and TTL. A nil client disables caching entirely.
func NewCache(base snapshotBackend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Snapshot(ctx context.Context, boardID string) (domain.BoardSnapshot, error) {
	if snapshot, ok := c.loadFromCache(ctx, boardID); ok {
		return snapshot, nil
	}

	snapshot, err := c.base.Snapshot(ctx, boardID)
	if err != nil {
		return domain.BoardSnapshot{}, err
	}

	c.store(ctx, boardID, snapshot)
	return snapshot, nil
}

// Evict drops the cached snapshot for a board. Mutation handlers call this
// after every committed write so readers never see a stale board for longer
// than one in-flight request.
func (c *Cache) Evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) (domain.BoardSnapshot, bool) {
	if c.redis == nil {
		return domain.BoardSnapshot{}, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		}
		return domain.BoardSnapshot{}, false
	}
	var snapshot domain.BoardSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(boardID)).Err()
		return domain.BoardSnapshot{}, false
	}
	return snapshot, true
}

func (c *Cache) store(ctx context.Context, boardID string, snapshot domain.BoardSnapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey(boardID), data, c.ttl).Err()
}

func snapshotCacheKey(boardID string) string {
	return "board:snapshot:" + boardID
}
