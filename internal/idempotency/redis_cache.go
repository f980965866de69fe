/**
 * @description
 * Redis implementation of the guard's fast-path cache. SETNX gives the atomic
 * create-if-absent that Acquire depends on; records expire with the retention
 * TTL so the durable store is the only permanent copy.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 */

package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores idempotency records under a namespaced prefix.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache wraps client with the given key prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "haven:idempotency"
	}
	return &RedisCache{client: client, prefix: trimmed}
}

func (c *RedisCache) key(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

// Add creates the record only if the key is absent.
func (c *RedisCache) Add(ctx context.Context, key string, rec Record, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	created, err := c.client.SetNX(ctx, c.key(key), payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency cache add: %w", err)
	}
	return created, nil
}

// Get fetches and decodes the record for key.
func (c *RedisCache) Get(ctx context.Context, key string) (Record, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency cache get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("idempotency cache decode: %w", err)
	}
	return rec, true, nil
}

// Set unconditionally overwrites the record, refreshing its TTL.
func (c *RedisCache) Set(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency cache set: %w", err)
	}
	return nil
}
