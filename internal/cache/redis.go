package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a Store backed by a Redis server, for deployments where several
// processes share one cache. Values are JSON-encoded and expire through
// native key TTLs. Redis errors degrade to misses.
type Redis[V any] struct {
	client *redis.Client
	logger *slog.Logger
	hits   atomic.Uint64
	misses atomic.Uint64
}

// RedisOptions configures NewRedisClient.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient connects to Redis and verifies the connection with PING.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Address, err)
	}
	return client, nil
}

// NewRedis wraps a connected client.
func NewRedis[V any](client *redis.Client) *Redis[V] {
	return &Redis[V]{client: client, logger: slog.Default()}
}

// Get returns the decoded value for key, or false on a miss or any error.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis cache get failed", "key", key, "error", err)
		}
		r.misses.Add(1)
		return zero, false
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		r.logger.Warn("redis cache entry undecodable", "key", key, "error", err)
		r.misses.Add(1)
		return zero, false
	}
	r.hits.Add(1)
	return v, true
}

// Set stores value with the given TTL. Failures are logged and dropped.
func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			r.logger.Warn("redis cache delete failed", "key", key, "error", err)
		}
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Warn("encoding cache value", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.Warn("redis cache set failed", "key", key, "error", err)
	}
}

// Stats returns hit and miss counts observed by this process. Size is not
// tracked for shared backends.
func (r *Redis[V]) Stats() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}
