package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
)

// BatchService определяет интерфейс сервиса пакетного сохранения
type BatchService interface {
	// SaveBatch выполняет пакет ровно один раз для каждого correlation id
	SaveBatch(ctx context.Context, batch *models.BatchRequest) *models.BatchResult

	// GetState возвращает текущее состояние сущностей для повторной синхронизации клиента
	GetState(ctx context.Context, refs []models.EntityRef) (*models.StateResponse, error)
}

// batchService реализует BatchService
type batchService struct {
	orchestrator   *SaveOrchestrator
	store          storage.ObjectStore
	idempotency    storage.IdempotencyGuard
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewBatchService создает сервис пакетного сохранения
func NewBatchService(deps *ServiceDependencies, orchestrator *SaveOrchestrator) BatchService {
	guard := deps.Repository.Idempotency
	if guard == nil {
		guard = storage.NopIdempotencyGuard{}
	}
	return &batchService{
		orchestrator:   orchestrator,
		store:          deps.Repository.Objects,
		idempotency:    guard,
		idempotencyTTL: deps.Config.IdempotencyTTL,
		logger:         deps.logger(),
	}
}

// SaveBatch резервирует correlation id и передает пакет оркестратору.
// Повторная отправка того же пакета возвращает отказ duplicate без обращения к хранилищу.
func (s *batchService) SaveBatch(ctx context.Context, batch *models.BatchRequest) *models.BatchResult {
	if batch == nil {
		return s.orchestrator.Execute(ctx, nil)
	}
	if batch.AuditContext.CorrelationID == "" {
		batch.AuditContext.CorrelationID = uuid.NewString()
	}
	corrID := batch.AuditContext.CorrelationID

	claimed, err := s.idempotency.Claim(ctx, corrID, s.idempotencyTTL)
	if err != nil {
		// Хранилище ключей недоступно: пакет все равно защищен токенами версий
		s.logger.Warn("Idempotency guard unavailable, executing without claim",
			zap.String("correlation_id", corrID), zap.Error(err))
		claimed = true
	} else if !claimed {
		s.logger.Info("Duplicate batch submission rejected", zap.String("correlation_id", corrID))
		return models.NewFailureResult(corrID, models.FailureDuplicate, &DuplicateRequestError{CorrelationID: corrID}, nil)
	}

	result := s.orchestrator.Execute(ctx, batch)

	if result.Outcome != models.OutcomeSuccess {
		// Ничего не записано: клиент может повторить тот же запрос
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.idempotency.Release(releaseCtx, corrID); err != nil {
			s.logger.Warn("Failed to release idempotency key",
				zap.String("correlation_id", corrID), zap.Error(err))
		}
	}

	s.logger.Debug("Batch save resolved",
		zap.String("correlation_id", corrID),
		zap.String("result", describeOutcome(result)))
	return result
}

// GetState читает текущее состояние сущностей одним обращением к хранилищу
func (s *batchService) GetState(ctx context.Context, refs []models.EntityRef) (*models.StateResponse, error) {
	state := &models.StateResponse{
		Ingredients: []models.Ingredient{},
		Recipes:     []models.RecipeContainer{},
	}
	if len(refs) == 0 {
		return state, nil
	}

	items, err := s.store.GetCurrentState(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to get current state: %w", err)
	}

	for _, item := range items {
		switch v := item.(type) {
		case models.Ingredient:
			state.Ingredients = append(state.Ingredients, v)
		case models.RecipeContainer:
			state.Recipes = append(state.Recipes, v)
		}
	}
	return state, nil
}
