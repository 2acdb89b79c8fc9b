package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/metrics"
)

// RetryConfig ограниченный экспоненциальный повтор обращений к хранилищу
type RetryConfig struct {
	// MaxAttempts общее число попыток, включая первую
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// CallTimeout таймаут одного обращения к хранилищу
	CallTimeout time.Duration
}

// GetDefaultRetryConfig возвращает конфигурацию по умолчанию
func GetDefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		CallTimeout: 5 * time.Second,
	}
}

// retrier выполняет обращение с повтором временных ошибок
type retrier struct {
	config RetryConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func newRetrier(config RetryConfig, logger *zap.Logger) *retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &retrier{config: config, logger: logger, sleep: sleepContext}
}

// call выполняет fn один раз с таймаутом обращения
func (r *retrier) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.config.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

// do повторяет fn, пока ошибка временная и попытки не исчерпаны.
// Исчерпание попыток превращает ошибку в FatalStoreError.
func (r *retrier) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	delay := r.config.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := r.call(ctx, fn)
		if err == nil {
			return nil
		}
		if !storage.IsTransient(err) || ctx.Err() != nil {
			return &FatalStoreError{Operation: operation, Err: err}
		}
		lastErr = err
		if attempt == r.config.MaxAttempts {
			break
		}

		metrics.RecordStoreRetry(operation)
		r.logger.Warn("Transient store error, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := r.sleep(ctx, delay); err != nil {
			return &FatalStoreError{Operation: operation, Err: err}
		}
		delay *= 2
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	return &FatalStoreError{
		Operation: operation,
		Err:       &TransientStoreError{Operation: operation, Err: lastErr},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
