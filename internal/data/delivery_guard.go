package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const deliveryGuardPrefix = "nudged:delivery:"

// RedisDeliveryGuardOptions configures a RedisDeliveryGuard.
type RedisDeliveryGuardOptions struct {
	Client redis.UniversalClient
	Logger *slog.Logger
}

// RedisDeliveryGuard implements per-delivery mutual exclusion with a
// SET NX key per job. The TTL bounds how long a crashed runner can block
// a retry of the same delivery.
type RedisDeliveryGuard struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisDeliveryGuard creates a RedisDeliveryGuard from options.
func NewRedisDeliveryGuard(opts RedisDeliveryGuardOptions) (*RedisDeliveryGuard, error) {
	if opts.Client == nil {
		return nil, errors.New("delivery guard: redis client is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisDeliveryGuard{
		client: opts.Client,
		logger: opts.Logger,
	}, nil
}

// MustNewRedisDeliveryGuard creates a RedisDeliveryGuard and panics on invalid options.
func MustNewRedisDeliveryGuard(opts RedisDeliveryGuardOptions) *RedisDeliveryGuard {
	guard, err := NewRedisDeliveryGuard(opts)
	if err != nil {
		panic(err)
	}
	return guard
}

// TryAcquire attempts to take the lock for key. Returns false when another
// holder already has it.
func (g *RedisDeliveryGuard) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("delivery guard: key is required")
	}
	if ttl <= 0 {
		return false, errors.New("delivery guard: ttl must be positive")
	}
	ok, err := g.client.SetNX(ctx, deliveryGuardPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire delivery guard %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the lock for key. Missing keys are not an error; the TTL
// may already have expired it.
func (g *RedisDeliveryGuard) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("delivery guard: key is required")
	}
	if err := g.client.Del(ctx, deliveryGuardPrefix+key).Err(); err != nil {
		return fmt.Errorf("release delivery guard %s: %w", key, err)
	}
	return nil
}

// NoopDeliveryGuard satisfies the guard contract without coordination.
// Used when Redis is not configured.
type NoopDeliveryGuard struct{}

// TryAcquire always grants the lock.
func (NoopDeliveryGuard) TryAcquire(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

// Release is a no-op.
func (NoopDeliveryGuard) Release(context.Context, string) error {
	return nil
}
