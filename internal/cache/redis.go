package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/catalogsearch/internal/domain"
)

const (
	keyPrefix     = "search:"
	generationKey = keyPrefix + "generation"
)

// RedisCache implements SearchCache using Redis. Entries are namespaced by a
// generation counter, so Invalidate only has to bump the counter and old
// entries age out through their TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SearchCache = (*RedisCache)(nil)

// NewRedisCache creates a new Redis-backed search cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a cached search response.
func (c *RedisCache) Get(ctx context.Context, key string) (*domain.SearchResponse, error) {
	fullKey, err := c.key(ctx, key)
	if err != nil {
		return nil, err
	}

	data, err := c.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get search response: %w", err)
	}

	var resp domain.SearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal search response: %w", err)
	}
	return &resp, nil
}

// Set stores a search response with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, resp *domain.SearchResponse) error {
	fullKey, err := c.key(ctx, key)
	if err != nil {
		return err
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal search response: %w", err)
	}

	if err := c.client.Set(ctx, fullKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set search response: %w", err)
	}
	return nil
}

// Invalidate starts a new cache generation.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("redis invalidate search cache: %w", err)
	}
	return nil
}

func (c *RedisCache) key(ctx context.Context, key string) (string, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis get cache generation: %w", err)
	}
	return fmt.Sprintf("%s%d:%s", keyPrefix, gen, key), nil
}
