package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	senterrors "github.com/incidentwatch/sentinel/internal/errors"
)

// Redis backs the cache with a Redis server, for deployments that want
// baselines and LLM responses to survive restarts.
type Redis struct {
	client *goredis.Client
}

// NewRedis connects to the given address and verifies connectivity.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, senterrors.New(senterrors.CodeCache, "cache.connect", err).WithSource("redis")
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client (used by tests with miniredis).
func NewRedisFromClient(client *goredis.Client) *Redis {
	return &Redis{client: client}
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, senterrors.New(senterrors.CodeCache, "cache.get", err).WithSource("redis")
	}
	return value, true, nil
}

// SetEx implements Cache.
func (r *Redis) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	if err := r.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return senterrors.New(senterrors.CodeCache, "cache.setex", err).WithSource("redis")
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
