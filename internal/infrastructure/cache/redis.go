package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// listingCacheKey is the Redis key holding the whole album listing.
// The name is part of the deployed contract; other tools flush it.
const listingCacheKey = "buckets_cache"

// RedisListingCache implements ListingCache using Redis as the backing store.
type RedisListingCache struct {
	client *redis.Client
}

// Compile-time verification that RedisListingCache implements ListingCache.
var _ ListingCache = (*RedisListingCache)(nil)

// NewRedisListingCache creates a new Redis-backed listing cache.
func NewRedisListingCache(client *redis.Client) *RedisListingCache {
	return &RedisListingCache{client: client}
}

// Get retrieves the cached listing.
// Returns nil, nil on cache miss.
func (c *RedisListingCache) Get(ctx context.Context) (*Listing, error) {
	data, err := c.client.Get(ctx, listingCacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var listing Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("deserialize listing: %w", err)
	}
	return &listing, nil
}

// Set stores the listing with the specified TTL.
func (c *RedisListingCache) Set(ctx context.Context, listing *Listing, ttl time.Duration) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("serialize listing: %w", err)
	}

	if err := c.client.Set(ctx, listingCacheKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate drops the cached listing.
func (c *RedisListingCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, listingCacheKey).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
