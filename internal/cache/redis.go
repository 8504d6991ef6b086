package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const pinKeyPrefix = "stalls:pin:"

type RedisPINLookupCache struct {
	client *redis.Client
}

func NewRedisPINLookupCache(addr string, password string, db int) *RedisPINLookupCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisPINLookupCache{client: client}
}

func (c *RedisPINLookupCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPINLookupCache) Close() error {
	return c.client.Close()
}

func (c *RedisPINLookupCache) Get(ctx context.Context, pin string) (string, bool, error) {
	val, err := c.client.Get(ctx, pinKey(pin)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisPINLookupCache) Set(ctx context.Context, pin string, stallID string, ttl time.Duration) error {
	if pin == "" || stallID == "" {
		return nil
	}
	return c.client.Set(ctx, pinKey(pin), stallID, ttl).Err()
}

func (c *RedisPINLookupCache) Delete(ctx context.Context, pins ...string) error {
	keys := make([]string, 0, len(pins))
	for _, pin := range pins {
		if pin != "" {
			keys = append(keys, pinKey(pin))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func pinKey(pin string) string {
	return pinKeyPrefix + pin
}
