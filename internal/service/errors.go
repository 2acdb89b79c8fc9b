package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// ValidationError структурные нарушения пакета; содержит все нарушения сразу
type ValidationError struct {
	Issues []models.ValidationIssue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return fmt.Sprintf("batch validation failed (%d violations): %s", len(e.Issues), strings.Join(msgs, "; "))
}

// ConflictError расхождение токенов версий; содержит все конфликты сразу
type ConflictError struct {
	Conflicts []models.ConflictRecord
	// Late true, если конфликт вернуло хранилище при фиксации
	Late bool
}

func (e *ConflictError) Error() string {
	refs := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		refs = append(refs, models.TokenKey(c.EntityType, c.EntityID))
	}
	return fmt.Sprintf("stale version for %s", strings.Join(refs, ", "))
}

// TransientStoreError временная ошибка хранилища (таймаут, лимит запросов)
type TransientStoreError struct {
	Operation string
	Err       error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Operation, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// FatalStoreError любая другая ошибка записи или фиксации
type FatalStoreError struct {
	Operation string
	Err       error
}

func (e *FatalStoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Operation, e.Err)
}

func (e *FatalStoreError) Unwrap() error {
	return e.Err
}

// AuditWriteError ошибка записи в журнал аудита; обрабатывается как FatalStoreError
type AuditWriteError struct {
	CorrelationID string
	Err           error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed for %s: %v", e.CorrelationID, e.Err)
}

func (e *AuditWriteError) Unwrap() error {
	return e.Err
}

// DuplicateRequestError пакет с этим correlation id уже обрабатывается или обработан
type DuplicateRequestError struct {
	CorrelationID string
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("batch %s already submitted", e.CorrelationID)
}

// IsValidationError проверяет является ли ошибка ошибкой валидации
func IsValidationError(err error) (*ValidationError, bool) {
	var target *ValidationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsConflictError проверяет является ли ошибка конфликтом версий
func IsConflictError(err error) (*ConflictError, bool) {
	var target *ConflictError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsTransientStoreError проверяет является ли ошибка временной
func IsTransientStoreError(err error) bool {
	var target *TransientStoreError
	return errors.As(err, &target)
}

// IsFatalStoreError возвращает true и для AuditWriteError
func IsFatalStoreError(err error) bool {
	var fatal *FatalStoreError
	if errors.As(err, &fatal) {
		return true
	}
	var audit *AuditWriteError
	return errors.As(err, &audit)
}

// IsAuditWriteError проверяет является ли ошибка ошибкой журнала аудита
func IsAuditWriteError(err error) bool {
	var target *AuditWriteError
	return errors.As(err, &target)
}

// IsDuplicateRequestError проверяет является ли ошибка повтором запроса
func IsDuplicateRequestError(err error) bool {
	var target *DuplicateRequestError
	return errors.As(err, &target)
}
