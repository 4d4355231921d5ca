package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "gatehouse:catalog:"

// RedisCache shares lookup results across service instances
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewRedisCache creates a Redis-backed cache. ttl <= 0 uses DefaultTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.New()
	}
	return &RedisCache{client: client, ttl: ttl, log: log}
}

// NewRedisClient parses a redis:// URL and verifies connectivity
func NewRedisClient(ctx context.Context, url, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 500 * time.Millisecond
	opts.WriteTimeout = 500 * time.Millisecond

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Get returns the cached result for key
func (c *RedisCache) Get(ctx context.Context, key string) (bool, bool) {
	val, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if err == redis.Nil {
		return false, false
	}
	if err != nil {
		c.log.WithError(err).WithField("permission", key).Warn("catalog cache read failed")
		return false, false
	}
	return val == "1", true
}

// Set caches a lookup result for the configured TTL
func (c *RedisCache) Set(ctx context.Context, key string, exists bool) {
	val := "0"
	if exists {
		val = "1"
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, val, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("permission", key).Warn("catalog cache write failed")
	}
}

// Invalidate drops a single key
func (c *RedisCache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		c.log.WithError(err).WithField("permission", key).Warn("catalog cache invalidate failed")
	}
}

// Purge drops every catalog key
func (c *RedisCache) Purge(ctx context.Context) {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			c.log.WithError(err).Warn("catalog cache purge failed")
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.log.WithError(err).Warn("catalog cache purge failed")
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}
