package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/config"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/logger"
)

// RedisClient ключи идемпотентности пакетов и список отозванных JWT
type RedisClient struct {
	client        *redis.Client
	authClient    *redis.Client // Клиент для JWT revocation; nil, если auth_url не задан
	healthTimeout time.Duration
}

func NewRedisClient(cfg *config.RedisConfig, healthTimeout time.Duration) (*RedisClient, error) {
	client, err := newClient(cfg, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	var authClient *redis.Client
	if cfg.AuthURL != "" {
		authClient, err = newClient(cfg, cfg.AuthURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis auth URL: %w", err)
		}
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	if authClient != nil {
		if err := authClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to ping redis auth: %w", err)
		}
	}

	logger.Info("Connected to Redis",
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("read_timeout", cfg.ReadTimeout),
		zap.Duration("write_timeout", cfg.WriteTimeout),
		zap.Bool("revocation_enabled", authClient != nil),
	)

	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}
	return &RedisClient{
		client:        client,
		authClient:    authClient,
		healthTimeout: healthTimeout,
	}, nil
}

func newClient(cfg *config.RedisConfig, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opt.MaxRetries = cfg.MaxRetries
	opt.PoolSize = cfg.MaxConnections
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout
	return redis.NewClient(opt), nil
}

func (r *RedisClient) Client() *redis.Client {
	return r.client
}

func (r *RedisClient) Close() error {
	var errs []error

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis connection: %w", err))
		}
	}

	if r.authClient != nil {
		if err := r.authClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis auth connection: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("redis close errors: %v", errs)
	}

	logger.Info("Redis connections closed")
	return nil
}

func (r *RedisClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.healthTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if r.authClient != nil {
		if err := r.authClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis auth health check failed: %w", err)
		}
	}

	return nil
}

// SetNX записывает ключ, только если его еще нет; false - ключ уже занят
func (r *RedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// IsJWTRevoked проверяет отозван ли JWT токен в auth базе Redis
func (r *RedisClient) IsJWTRevoked(ctx context.Context, jti string) (bool, error) {
	if r.authClient == nil {
		return false, nil
	}
	count, err := r.authClient.Exists(ctx, fmt.Sprintf("revoked:%s", jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check jwt revocation for jti %s: %w", jti, err)
	}
	return count > 0, nil
}
