package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/logger"
)

// AuditEmitter превращает результат пакета в неизменяемую запись журнала аудита
type AuditEmitter struct {
	sink   storage.AuditSink
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditEmitter создает эмиттер поверх журнала
func NewAuditEmitter(sink storage.AuditSink, logger *zap.Logger) *AuditEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditEmitter{sink: sink, logger: logger, now: time.Now}
}

// Record добавляет одну запись для результата и возвращает ее идентификатор.
// Любая ошибка журнала возвращается как *AuditWriteError.
func (e *AuditEmitter) Record(ctx context.Context, result *models.BatchResult, actx models.AuditContext) (string, error) {
	if result == nil {
		return "", &AuditWriteError{CorrelationID: actx.CorrelationID, Err: fmt.Errorf("nil batch result")}
	}

	entry := e.newEntry(actx)
	switch result.Outcome {
	case models.OutcomeSuccess:
		entry.Outcome = models.AuditOutcomeSuccess
		if result.Success != nil {
			entry.Entities = append(entry.Entities, result.Success.Changes...)
		}
	case models.OutcomeConflict:
		entry.Outcome = models.AuditOutcomeConflict
		if result.Conflict != nil {
			for _, c := range result.Conflict.Conflicts {
				client := c.ClientVersion
				entry.Entities = append(entry.Entities, models.EntityVersionChange{
					Kind:   c.EntityType,
					ID:     c.EntityID,
					Before: &client,
					After:  c.CurrentVersion,
				})
			}
			reason := fmt.Sprintf("stale version for %d entities", len(result.Conflict.Conflicts))
			entry.Reason = &reason
		}
	case models.OutcomeFailure:
		entry.Outcome = models.AuditOutcomeFailure
		if result.Failure != nil {
			reason := fmt.Sprintf("%s: %s", result.Failure.Kind, result.Failure.Reason)
			entry.Reason = &reason
		}
	default:
		return "", &AuditWriteError{
			CorrelationID: actx.CorrelationID,
			Err:           fmt.Errorf("unknown batch outcome %q", result.Outcome),
		}
	}

	return e.append(ctx, entry)
}

// RecordCommitFailure дописывает компенсирующую запись, когда фиксация не удалась
// после того, как запись об успехе уже попала в журнал
func (e *AuditEmitter) RecordCommitFailure(ctx context.Context, successEntryID string, changes []models.EntityVersionChange, actx models.AuditContext, cause error) (string, error) {
	entry := e.newEntry(actx)
	entry.Outcome = models.AuditOutcomeCommitFailed
	entry.Entities = append(entry.Entities, changes...)
	reason := fmt.Sprintf("commit failed, entry %s void: %v", successEntryID, cause)
	entry.Reason = &reason
	return e.append(ctx, entry)
}

func (e *AuditEmitter) newEntry(actx models.AuditContext) *models.AuditEntry {
	occurredAt := actx.Timestamp
	if occurredAt.IsZero() {
		occurredAt = e.now()
	}
	return &models.AuditEntry{
		CorrelationID: actx.CorrelationID,
		ActorID:       actx.ActorID,
		Operation:     actx.Operation,
		Source:        actx.Source,
		OccurredAt:    occurredAt.UTC(),
	}
}

func (e *AuditEmitter) append(ctx context.Context, entry *models.AuditEntry) (string, error) {
	if e.sink == nil {
		return "", &AuditWriteError{CorrelationID: entry.CorrelationID, Err: fmt.Errorf("audit sink is not configured")}
	}

	id, err := e.sink.Append(ctx, entry)
	if err != nil {
		fields := logger.BatchFields(entry.CorrelationID, entry.ActorID, entry.Operation)
		e.logger.Error("Failed to append audit entry",
			append(fields, zap.String("outcome", string(entry.Outcome)), zap.Error(err))...)
		return "", &AuditWriteError{CorrelationID: entry.CorrelationID, Err: err}
	}
	return id, nil
}
