package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

// DefaultPrefix namespaces every region hash
const DefaultPrefix = "q"

var _ Store = (*Redis)(nil)

// RedisOption configures the Redis store
type RedisOption func(*Redis)

// WithPrefix sets the namespace prepended to region names
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = logger }
}

// Redis stores every region as one Redis hash named "<prefix>:<region>".
// The caller owns the client lifecycle.
type Redis struct {
	client redis.Cmdable
	prefix string
	logger *slog.Logger
}

// NewRedis creates a Redis backed store
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// HashKey returns the Redis key holding the given region
func (r *Redis) HashKey(region string) string {
	if r.prefix == "" {
		return region
	}
	return r.prefix + ":" + region
}

// SetIfAbsent maps to HSETNX
func (r *Redis) SetIfAbsent(ctx context.Context, region, key, value string) (bool, error) {
	ok, err := r.client.HSetNX(ctx, r.HashKey(region), key, value).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set %s field if absent: %w", region, err)
	}
	return ok, nil
}

// Get maps to HGET; a missing field is not an error
func (r *Redis) Get(ctx context.Context, region, key string) (string, bool, error) {
	value, err := r.client.HGet(ctx, r.HashKey(region), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s field: %w", region, err)
	}
	return value, true, nil
}

// Set maps to HSET
func (r *Redis) Set(ctx context.Context, region, key, value string) error {
	if err := r.client.HSet(ctx, r.HashKey(region), key, value).Err(); err != nil {
		return fmt.Errorf("failed to set %s field: %w", region, err)
	}
	return nil
}

// DeleteMany issues one HDEL per key inside MULTI/EXEC
func (r *Redis) DeleteMany(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.HDel(ctx, r.HashKey(k.Region), k.Field)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}

	r.logger.Debug("Deleted keys",
		slog.Int("count", len(keys)),
	)

	return nil
}
