package adapters

import (
	"context"
	"time"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/database"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/metrics"
)

// CacheAdapter адаптирует database.RedisClient для storage.CacheInterface
type CacheAdapter struct {
	redis *database.RedisClient
}

// NewCacheAdapter создает новый адаптер для Redis
func NewCacheAdapter(redis *database.RedisClient) storage.CacheInterface {
	return &CacheAdapter{redis: redis}
}

// SetNX устанавливает значение, только если ключа еще нет
func (a *CacheAdapter) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := a.redis.SetNX(ctx, key, value, ttl)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordRedisOperation("setnx", status, time.Since(start).Seconds())
	return ok, err
}

// Del удаляет ключ
func (a *CacheAdapter) Del(ctx context.Context, key string) error {
	return a.redis.Delete(ctx, key)
}

// Health проверяет состояние Redis
func (a *CacheAdapter) Health(ctx context.Context) error {
	return a.redis.Health(ctx)
}