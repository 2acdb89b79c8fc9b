package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/logger"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/metrics"
)

// Phase состояние оркестратора
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseValidating       Phase = "validating"
	PhaseConflictChecking Phase = "conflict_checking"
	PhaseWriting          Phase = "writing"
	PhaseCommitting       Phase = "committing"
	PhaseCommitted        Phase = "committed"
	PhaseRolledBack       Phase = "rolled_back"
)

// ExecutionTrace последовательность состояний одного выполнения
type ExecutionTrace struct {
	Phases []Phase
}

func (t *ExecutionTrace) enter(p Phase) {
	t.Phases = append(t.Phases, p)
}

// Final возвращает последнее состояние
func (t ExecutionTrace) Final() Phase {
	if len(t.Phases) == 0 {
		return PhaseIdle
	}
	return t.Phases[len(t.Phases)-1]
}

// rollbackTimeout время на откат, не зависящее от отмены исходного контекста
const rollbackTimeout = 5 * time.Second

// SaveOrchestrator применяет пакет изменений одной атомарной операцией:
// валидация, проверка конфликтов, подготовка записей, аудит и фиксация.
// Экземпляр не хранит состояние между вызовами; транзакция принадлежит одному вызову Execute.
type SaveOrchestrator struct {
	store     storage.ObjectStore
	audit     *AuditEmitter
	validator *BatchValidator
	detector  *ConflictDetector
	retry     *retrier
	logger    *zap.Logger
	now       func() time.Time
}

// NewSaveOrchestrator создает оркестратор
func NewSaveOrchestrator(store storage.ObjectStore, audit *AuditEmitter, retry RetryConfig, logger *zap.Logger) *SaveOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaveOrchestrator{
		store:     store,
		audit:     audit,
		validator: NewBatchValidator(),
		detector:  NewConflictDetector(logger),
		retry:     newRetrier(retry, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Execute выполняет пакет и возвращает Success, Conflict или Failure.
// Failure и Conflict гарантируют, что ни одна сущность не изменена.
func (o *SaveOrchestrator) Execute(ctx context.Context, batch *models.BatchRequest) *models.BatchResult {
	result, _ := o.ExecuteTraced(ctx, batch)
	return result
}

// ExecuteTraced выполняет пакет и дополнительно возвращает пройденные состояния
func (o *SaveOrchestrator) ExecuteTraced(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, ExecutionTrace) {
	start := time.Now()
	trace := ExecutionTrace{Phases: []Phase{PhaseIdle}}

	if batch == nil {
		err := &ValidationError{Issues: []models.ValidationIssue{{Rule: "empty_batch", Message: "batch is required"}}}
		return models.NewFailureResult("", models.FailureValidation, err, err.Issues), trace
	}

	actx := o.normalizeAuditContext(batch.AuditContext)
	log := o.logger.With(logger.BatchFields(actx.CorrelationID, actx.ActorID, actx.Operation)...)

	result := o.execute(ctx, batch, actx, &trace, log)
	o.recordMetrics(result, time.Since(start))

	log.Debug("Batch execution finished",
		zap.String("outcome", string(result.Outcome)),
		zap.Any("phases", trace.Phases),
		zap.Duration("duration", time.Since(start)))

	return result, trace
}

func (o *SaveOrchestrator) execute(ctx context.Context, batch *models.BatchRequest, actx models.AuditContext, trace *ExecutionTrace, log *zap.Logger) *models.BatchResult {
	corrID := actx.CorrelationID

	trace.enter(PhaseValidating)
	if issues := o.validator.Validate(batch); len(issues) > 0 {
		log.Info("Batch rejected by validation", zap.Int("violations", len(issues)))
		result := models.NewFailureResult(corrID, models.FailureValidation, &ValidationError{Issues: issues}, issues)
		o.recordRejection(ctx, result, actx, log)
		return result
	}

	// Первое обращение к хранилищу: текущее состояние всех затронутых сущностей
	// и ингредиентов, на которые ссылаются рецепты (для расчета себестоимости)
	trace.enter(PhaseConflictChecking)
	refs := append(batch.Refs(), referencedIngredients(batch)...)
	var current []models.BatchItem
	if len(refs) > 0 {
		err := o.retry.do(ctx, "get_current_state", func(ctx context.Context) error {
			items, err := o.store.GetCurrentState(ctx, refs)
			if err != nil {
				return err
			}
			current = items
			return nil
		})
		if err != nil {
			log.Error("Failed to read current state", zap.Error(err))
			return o.failure(ctx, corrID, err, actx, log)
		}
	}

	detection := o.detector.DetectBatch(batch, current)
	if len(detection.Conflicts) > 0 {
		log.Info("Batch rejected by version conflict", zap.Int("conflicts", len(detection.Conflicts)))
		recordConflictMetrics(detection.Conflicts, "precheck")
		result := models.NewConflictResult(corrID, detection.Conflicts, false)
		o.recordRejection(ctx, result, actx, log)
		return result
	}

	trace.enter(PhaseWriting)
	var txn storage.TxnID
	err := o.retry.do(ctx, "start_transaction", func(ctx context.Context) error {
		id, err := o.store.StartTransaction(ctx)
		if err != nil {
			return err
		}
		txn = id
		return nil
	})
	if err != nil {
		log.Error("Failed to start transaction", zap.Error(err))
		return o.failure(ctx, corrID, err, actx, log)
	}
	log.Debug("Transaction started", zap.String("txn_id", string(txn)))

	// С этого момента временные ошибки не повторяются: только откат
	saved, err := o.stage(ctx, txn, batch)
	if err != nil {
		o.rollback(ctx, txn, "write_failed", log)
		trace.enter(PhaseRolledBack)
		log.Error("Batch write failed, transaction rolled back", zap.Error(err))
		return o.failure(ctx, corrID, err, actx, log)
	}

	success := buildSuccess(batch, saved, current)
	result := models.NewSuccessResult(corrID, success)

	trace.enter(PhaseCommitting)
	auditID, err := o.audit.Record(ctx, result, actx)
	if err != nil {
		o.rollback(ctx, txn, "audit_failed", log)
		trace.enter(PhaseRolledBack)
		log.Error("Audit write failed, transaction rolled back", zap.Error(err))
		return models.NewFailureResult(corrID, models.FailureAudit, err, nil)
	}
	success.AuditEntryID = auditID

	// Второе обращение к хранилищу: фиксация с повторной проверкой токенов
	err = o.retry.call(ctx, func(ctx context.Context) error {
		return o.store.CommitTransaction(ctx, txn)
	})
	if err != nil {
		o.rollback(ctx, txn, "commit_failed", log)
		trace.enter(PhaseRolledBack)

		if _, voidErr := o.audit.RecordCommitFailure(ctx, auditID, success.Changes, actx, err); voidErr != nil {
			log.Error("Failed to void audit entry after commit failure",
				zap.String("audit_entry_id", auditID), zap.Error(voidErr))
		}

		if vc, ok := storage.IsVersionConflict(err); ok {
			conflicts := lateConflicts(batch, vc)
			log.Info("Store rejected commit with version conflict", zap.Int("conflicts", len(conflicts)))
			recordConflictMetrics(conflicts, "commit")
			return models.NewConflictResult(corrID, conflicts, true)
		}

		log.Error("Commit failed, transaction rolled back", zap.Error(err))
		return models.NewFailureResult(corrID, failureKind(err), storeError("commit_transaction", err), nil)
	}

	trace.enter(PhaseCommitted)
	log.Info("Batch committed",
		zap.Int("ingredients", len(success.SavedIngredients)),
		zap.Int("recipes", len(success.SavedRecipes)),
		zap.String("audit_entry_id", auditID))
	return result
}

// stage подготавливает записи ингредиентов, затем рецептов
func (o *SaveOrchestrator) stage(ctx context.Context, txn storage.TxnID, batch *models.BatchRequest) ([]models.SavedItem, error) {
	var saved []models.SavedItem

	groups := []struct {
		operation string
		items     []models.BatchItem
	}{
		{"bulk_save_ingredients", models.IngredientItems(batch.Ingredients)},
		{"bulk_save_recipes", models.RecipeItems(batch.Recipes)},
	}
	for _, g := range groups {
		if len(g.items) == 0 {
			continue
		}
		var out []models.SavedItem
		err := o.retry.call(ctx, func(ctx context.Context) error {
			items, err := o.store.BulkSave(ctx, txn, g.items)
			if err != nil {
				return err
			}
			out = items
			return nil
		})
		if err != nil {
			return nil, storeError(g.operation, err)
		}
		saved = append(saved, out...)
	}
	return saved, nil
}

// rollback откатывает транзакцию; ошибки отката только логируются
func (o *SaveOrchestrator) rollback(ctx context.Context, txn storage.TxnID, reason string, log *zap.Logger) {
	metrics.RecordBatchRollback(reason)

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if err := o.store.RollbackTransaction(rbCtx, txn); err != nil {
		log.Error("Failed to roll back transaction",
			zap.String("txn_id", string(txn)),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

// failure создает результат отказа и пишет запись об отказе в журнал
func (o *SaveOrchestrator) failure(ctx context.Context, corrID string, err error, actx models.AuditContext, log *zap.Logger) *models.BatchResult {
	result := models.NewFailureResult(corrID, failureKind(err), err, nil)
	o.recordRejection(ctx, result, actx, log)
	return result
}

// recordRejection пишет запись для пакета, не дошедшего до фиксации.
// Хранилище не изменялось, поэтому ошибка журнала не меняет результат.
func (o *SaveOrchestrator) recordRejection(ctx context.Context, result *models.BatchResult, actx models.AuditContext, log *zap.Logger) {
	if _, err := o.audit.Record(ctx, result, actx); err != nil {
		log.Error("Failed to record audit entry for rejected batch",
			zap.String("outcome", string(result.Outcome)), zap.Error(err))
	}
}

func (o *SaveOrchestrator) normalizeAuditContext(actx models.AuditContext) models.AuditContext {
	if actx.CorrelationID == "" {
		actx.CorrelationID = uuid.NewString()
	}
	if actx.Timestamp.IsZero() {
		actx.Timestamp = o.now().UTC()
	}
	return actx
}

func (o *SaveOrchestrator) recordMetrics(result *models.BatchResult, duration time.Duration) {
	outcome := string(result.Outcome)
	if result.Failure != nil && result.Failure.Kind == models.FailureValidation {
		outcome = string(models.FailureValidation)
	}
	metrics.RecordBatchSave(outcome, duration.Seconds())
}

func buildSuccess(batch *models.BatchRequest, saved []models.SavedItem, current []models.BatchItem) *models.BatchSuccess {
	success := &models.BatchSuccess{
		SavedIngredients: make([]models.Ingredient, 0, len(batch.Ingredients)),
		SavedRecipes:     make([]models.RecipeContainer, 0, len(batch.Recipes)),
		NewVersionTokens: make(map[string]models.VersionToken, len(saved)),
		Changes:          make([]models.EntityVersionChange, 0, len(saved)),
	}

	for _, s := range saved {
		switch s.Kind {
		case models.EntityKindIngredient:
			if s.Ingredient != nil {
				success.SavedIngredients = append(success.SavedIngredients, *s.Ingredient)
			}
		case models.EntityKindRecipe:
			if s.Recipe != nil {
				success.SavedRecipes = append(success.SavedRecipes, *s.Recipe)
			}
		}
		success.NewVersionTokens[models.TokenKey(s.Kind, s.ID)] = s.NewToken
		after := s.NewToken
		success.Changes = append(success.Changes, models.EntityVersionChange{
			Kind:   s.Kind,
			ID:     s.ID,
			Before: s.PreviousToken,
			After:  &after,
		})
	}

	success.RecipeCosts = CostRecipes(success.SavedRecipes, success.SavedIngredients, current)
	return success
}

// lateConflicts строит записи конфликтов по отказу compare-and-set при фиксации
func lateConflicts(batch *models.BatchRequest, vc *storage.VersionConflictError) []models.ConflictRecord {
	names := make(map[models.EntityRef]string, len(batch.Ingredients)+len(batch.Recipes))
	for _, ing := range batch.Ingredients {
		if ref, ok := models.RefOf(ing); ok {
			names[ref] = ing.DisplayName()
		}
	}
	for _, rc := range batch.Recipes {
		if ref, ok := models.RefOf(rc); ok {
			names[ref] = rc.DisplayName()
		}
	}

	conflicts := make([]models.ConflictRecord, 0, len(vc.Stale))
	for _, s := range vc.Stale {
		var client models.VersionToken
		if s.Expected != nil {
			client = *s.Expected
		}
		conflicts = append(conflicts, models.ConflictRecord{
			EntityType:     s.Ref.Kind,
			EntityID:       s.Ref.ID,
			EntityName:     names[s.Ref],
			ClientVersion:  client,
			CurrentVersion: s.Actual,
		})
	}
	return conflicts
}

func recordConflictMetrics(conflicts []models.ConflictRecord, stage string) {
	counts := make(map[models.EntityKind]int)
	for _, c := range conflicts {
		counts[c.EntityType]++
	}
	for kind, n := range counts {
		metrics.RecordVersionConflicts(string(kind), stage, n)
	}
}

// storeError классифицирует ошибку фазы записи без повтора
func storeError(operation string, err error) error {
	if IsTransientStoreError(err) || IsFatalStoreError(err) {
		return err
	}
	if storage.IsTransient(err) {
		return &TransientStoreError{Operation: operation, Err: err}
	}
	return &FatalStoreError{Operation: operation, Err: err}
}

func failureKind(err error) models.FailureKind {
	var fatal *FatalStoreError
	var transient *TransientStoreError
	switch {
	case IsAuditWriteError(err):
		return models.FailureAudit
	case errors.As(err, &fatal):
		return models.FailureFatal
	case errors.As(err, &transient), storage.IsTransient(err):
		return models.FailureTransient
	case IsDuplicateRequestError(err):
		return models.FailureDuplicate
	default:
		return models.FailureFatal
	}
}

// describeOutcome краткое описание результата для логов клиента
func describeOutcome(result *models.BatchResult) string {
	switch result.Outcome {
	case models.OutcomeSuccess:
		return "saved"
	case models.OutcomeConflict:
		if result.Conflict != nil {
			return fmt.Sprintf("%d conflicts", len(result.Conflict.Conflicts))
		}
	case models.OutcomeFailure:
		if result.Failure != nil {
			return fmt.Sprintf("%s failure: %s", result.Failure.Kind, result.Failure.Reason)
		}
	}
	return string(result.Outcome)
}
