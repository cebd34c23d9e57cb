package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/endertoolsbox/home-weather/internal/models"
)

const (
	redisKeyPrefix = "home-weather:"
	redisScanCount = 100
)

// RedisCache implements Cache on a Redis server. Values are JSON encoded.
type RedisCache struct {
	client *redisv9.Client
}

// NewRedisCache connects to addr. password may be empty.
func NewRedisCache(addr, password string, db int) *RedisCache {
	return NewRedisCacheFromClient(redisv9.NewClient(&redisv9.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redisv9.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	val, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redisv9.Nil) {
			return models.Reading{}, false, nil
		}
		return models.Reading{}, false, err
	}
	var r models.Reading
	if err := json.Unmarshal(val, &r); err != nil {
		return models.Reading{}, false, fmt.Errorf("decode cached reading: %w", err)
	}
	return r, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value models.Reading) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+key, raw, 0).Err()
}

// Clear deletes every key under the cache prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", redisScanCount).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= redisScanCount {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
