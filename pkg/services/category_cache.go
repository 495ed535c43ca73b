package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	descendantsGenerationKey = "press:categories:generation"
	descendantsKeyPrefix     = "press:categories:descendants"
)

// noGeneration marks a generation that could not be read. Set ignores it.
const noGeneration int64 = -1

// DescendantCache caches category descendant sets. Implementations must treat
// backend failures as misses; the database is always the source of truth.
type DescendantCache interface {
	// Get returns the cached set and the generation it was looked up under.
	// On a miss the generation must be passed to Set together with the set
	// read from the database afterwards.
	Get(ctx context.Context, id uuid.UUID) (ids []uuid.UUID, gen int64, ok bool)
	// Set stores ids under gen. A set read before a concurrent Invalidate
	// lands in the orphaned generation and is never served.
	Set(ctx context.Context, gen int64, id uuid.UUID, ids []uuid.UUID)
	// Invalidate drops every cached set. Called after a tree mutation commits.
	Invalidate(ctx context.Context)
}

// cacheClient is the subset of redis.Cmdable the cache uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// NewDescendantCache returns a Redis-backed cache, or a no-op cache when
// client is nil.
func NewDescendantCache(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) DescendantCache {
	if client == nil {
		return noopDescendantCache{}
	}
	return &redisDescendantCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("category-cache"),
	}
}

type noopDescendantCache struct{}

func (noopDescendantCache) Get(context.Context, uuid.UUID) ([]uuid.UUID, int64, bool) {
	return nil, noGeneration, false
}

func (noopDescendantCache) Set(context.Context, int64, uuid.UUID, []uuid.UUID) {}

func (noopDescendantCache) Invalidate(context.Context) {}

// redisDescendantCache namespaces entries by a generation counter. Bumping the
// counter orphans every entry at once; orphans expire through their TTL.
type redisDescendantCache struct {
	client cacheClient
	ttl    time.Duration
	logger *zap.Logger
}

func (c *redisDescendantCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, descendantsGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *redisDescendantCache) key(gen int64, id uuid.UUID) string {
	return fmt.Sprintf("%s:%d:%s", descendantsKeyPrefix, gen, id)
}

func (c *redisDescendantCache) Get(ctx context.Context, id uuid.UUID) ([]uuid.UUID, int64, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("Failed to read cache generation", zap.Error(err))
		return nil, noGeneration, false
	}

	raw, err := c.client.Get(ctx, c.key(gen, id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Failed to read descendants from cache",
				zap.String("category_id", id.String()),
				zap.Error(err))
		}
		return nil, gen, false
	}

	ids, err := decodeIDList(raw)
	if err != nil {
		c.logger.Warn("Discarding malformed cache entry",
			zap.String("category_id", id.String()),
			zap.Error(err))
		return nil, gen, false
	}
	return ids, gen, true
}

func (c *redisDescendantCache) Set(ctx context.Context, gen int64, id uuid.UUID, ids []uuid.UUID) {
	if gen < 0 {
		return
	}
	if err := c.client.Set(ctx, c.key(gen, id), encodeIDList(ids), c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to cache descendants",
			zap.String("category_id", id.String()),
			zap.Error(err))
	}
}

func (c *redisDescendantCache) Invalidate(ctx context.Context) {
	gen, err := c.client.Incr(ctx, descendantsGenerationKey).Result()
	if err != nil {
		// Entries can be stale for at most one TTL.
		c.logger.Error("Failed to invalidate descendants cache", zap.Error(err))
		return
	}
	c.logger.Debug("Category cache invalidated", zap.Int64("generation", gen))
}

func encodeIDList(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func decodeIDList(raw string) ([]uuid.UUID, error) {
	if raw == "" {
		return []uuid.UUID{}, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
