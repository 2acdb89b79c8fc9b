package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
)

// TxnReaper отбрасывает подготовленные транзакции, брошенные оркестратором
// (например, при отмене процесса между подготовкой и фиксацией)
type TxnReaper struct {
	store  storage.StagedTxnReaper
	logger *zap.Logger
	config ReaperConfig
	now    func() time.Time
}

// ReaperConfig конфигурация очистки транзакций
type ReaperConfig struct {
	// StagedTxnTimeout время, после которого подготовленная транзакция считается брошенной
	StagedTxnTimeout time.Duration
	// Interval интервал запуска очистки
	Interval time.Duration
}

// GetDefaultReaperConfig возвращает конфигурацию по умолчанию
func GetDefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		StagedTxnTimeout: 10 * time.Minute,
		Interval:         time.Minute,
	}
}

// NewTxnReaper создает сервис очистки
func NewTxnReaper(store storage.StagedTxnReaper, logger *zap.Logger, config ReaperConfig) *TxnReaper {
	return &TxnReaper{
		store:  store,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Start запускает фоновый процесс очистки
func (r *TxnReaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("Starting staged transaction reaper",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("staged_txn_timeout", r.config.StagedTxnTimeout))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping staged transaction reaper")
			return
		case <-ticker.C:
			r.runCleanup(ctx)
		}
	}
}

// runCleanup выполняет одну итерацию очистки
func (r *TxnReaper) runCleanup(ctx context.Context) int {
	cutoff := r.now().Add(-r.config.StagedTxnTimeout)

	expired, err := r.store.ExpireStaged(ctx, cutoff)
	if err != nil {
		r.logger.Error("Failed to expire staged transactions", zap.Error(err))
		return 0
	}

	if expired > 0 {
		r.logger.Info("Expired abandoned staged transactions",
			zap.Int("count", expired),
			zap.Time("cutoff_time", cutoff))
	} else {
		r.logger.Debug("No abandoned staged transactions")
	}
	return expired
}
