package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache: miss")

// Cache is a namespaced string cache on top of Redis.
type Cache struct {
	Redis     redis.UniversalClient
	Namespace string
}

// NewCache binds a namespace to a Redis client.
func NewCache(namespace string, redisCl redis.UniversalClient) *Cache {
	return &Cache{
		Namespace: namespace,
		Redis:     redisCl,
	}
}

func (c *Cache) key(k string) string {
	return c.Namespace + ":" + k
}

// Get returns the cached value or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.Redis.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

// Store writes value with the given ttl.
func (c *Cache) Store(ctx context.Context, key string, ttl time.Duration, value string) error {
	return c.Redis.Set(ctx, c.key(key), value, ttl).Err()
}

// Remove deletes the key. Missing keys are not an error.
func (c *Cache) Remove(ctx context.Context, key string) error {
	return c.Redis.Del(ctx, c.key(key)).Err()
}
