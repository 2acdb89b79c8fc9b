package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
)

// ServiceConfig настройки сервисного слоя
type ServiceConfig struct {
	Retry          RetryConfig
	IdempotencyTTL time.Duration
	Reaper         ReaperConfig
}

// GetDefaultServiceConfig возвращает настройки по умолчанию
func GetDefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Retry:          GetDefaultRetryConfig(),
		IdempotencyTTL: 24 * time.Hour,
		Reaper:         GetDefaultReaperConfig(),
	}
}

// ServiceDependencies содержит зависимости для создания сервисов
type ServiceDependencies struct {
	Repository *storage.Repository
	Metrics    storage.MetricsInterface
	Logger     *zap.Logger
	Config     ServiceConfig
}

func (d *ServiceDependencies) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Service объединяет все сервисы
type Service struct {
	Batch        BatchService
	Orchestrator *SaveOrchestrator
	// Reaper nil, если хранилище не держит подготовленные транзакции
	Reaper *TxnReaper
}

// NewService создает новый экземпляр Service со всеми сервисами
func NewService(deps *ServiceDependencies) *Service {
	logger := deps.logger()
	emitter := NewAuditEmitter(deps.Repository.Audit, logger)
	orchestrator := NewSaveOrchestrator(deps.Repository.Objects, emitter, deps.Config.Retry, logger)

	svc := &Service{
		Batch:        NewBatchService(deps, orchestrator),
		Orchestrator: orchestrator,
	}
	if reaper, ok := deps.Repository.Objects.(storage.StagedTxnReaper); ok {
		svc.Reaper = NewTxnReaper(reaper, logger, deps.Config.Reaper)
	}
	return svc
}
