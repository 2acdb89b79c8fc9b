package storage

import (
	"context"
	"fmt"
	"time"
)

const idempotencyKeyPrefix = "costing:batch:"

// redisIdempotencyGuard занимает correlation id через SETNX с TTL
type redisIdempotencyGuard struct {
	cache   CacheInterface
	metrics MetricsInterface
}

// NewRedisIdempotencyGuard создает guard поверх кеша
func NewRedisIdempotencyGuard(cache CacheInterface, metrics MetricsInterface) IdempotencyGuard {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &redisIdempotencyGuard{cache: cache, metrics: metrics}
}

// Claim резервирует ключ запроса
func (g *redisIdempotencyGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.cache.SetNX(ctx, idempotencyKeyPrefix+key, "1", ttl)
	if err != nil {
		return false, fmt.Errorf("failed to claim idempotency key %s: %w", key, err)
	}
	if ok {
		g.metrics.IncCacheMiss("idempotency")
	} else {
		g.metrics.IncCacheHit("idempotency")
	}
	return ok, nil
}

// Release освобождает ключ
func (g *redisIdempotencyGuard) Release(ctx context.Context, key string) error {
	if err := g.cache.Del(ctx, idempotencyKeyPrefix+key); err != nil {
		return fmt.Errorf("failed to release idempotency key %s: %w", key, err)
	}
	return nil
}

// NopIdempotencyGuard пропускает все запросы
type NopIdempotencyGuard struct{}

func (NopIdempotencyGuard) Claim(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (NopIdempotencyGuard) Release(context.Context, string) error {
	return nil
}
