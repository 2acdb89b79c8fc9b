package storage

import (
	"context"
	"time"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// TxnID идентификатор логической транзакции хранилища
type TxnID string

// ObjectStore определяет возможности внешнего хранилища объектов (метаобъекты магазина).
// Вызовы вне транзакции однократные; внутри транзакции записи только подготавливаются
// и становятся видимыми все вместе при CommitTransaction.
type ObjectStore interface {
	// GetCurrentState возвращает текущее состояние указанных сущностей.
	// Отсутствующие сущности в результат не попадают.
	GetCurrentState(ctx context.Context, refs []models.EntityRef) ([]models.BatchItem, error)

	// StartTransaction открывает логическую транзакцию
	StartTransaction(ctx context.Context) (TxnID, error)

	// BulkSave подготавливает запись сущностей в рамках транзакции
	BulkSave(ctx context.Context, txn TxnID, items []models.BatchItem) ([]models.SavedItem, error)

	// CommitTransaction атомарно применяет все подготовленные записи.
	// Токены версий проверяются повторно (compare-and-set); при расхождении
	// возвращается *VersionConflictError и ничего не применяется.
	CommitTransaction(ctx context.Context, txn TxnID) error

	// RollbackTransaction отбрасывает подготовленные записи. Идемпотентен.
	RollbackTransaction(ctx context.Context, txn TxnID) error
}

// StagedTxnReaper реализуется хранилищами, которые держат подготовленные транзакции в памяти
type StagedTxnReaper interface {
	// ExpireStaged отбрасывает транзакции, открытые раньше olderThan
	ExpireStaged(ctx context.Context, olderThan time.Time) (int, error)
}

// AuditSink журнал аудита только на добавление
type AuditSink interface {
	// Append сохраняет запись и возвращает ее идентификатор
	Append(ctx context.Context, entry *models.AuditEntry) (string, error)
}

// AuditReader чтение журнала аудита (для отчетов и тестов)
type AuditReader interface {
	ListByCorrelationID(ctx context.Context, correlationID string) ([]models.AuditEntry, error)
}

// AuditStore журнал аудита с чтением
type AuditStore interface {
	AuditSink
	AuditReader
}

// IdempotencyGuard гарантирует однократную обработку BatchRequest по correlation id
type IdempotencyGuard interface {
	// Claim резервирует ключ; false, если ключ уже занят
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release освобождает ключ, чтобы запрос можно было повторить
	Release(ctx context.Context, key string) error
}

// Repository объединяет все хранилища сервиса
type Repository struct {
	Objects     ObjectStore
	Audit       AuditSink
	Idempotency IdempotencyGuard
}

// RepositoryDependencies содержит зависимости для создания репозиториев
type RepositoryDependencies struct {
	DB               DatabaseInterface
	AuditDB          AuditDatabase
	Cache            CacheInterface
	MetricsCollector MetricsInterface
	Tokens           TokenSource
}

// DatabaseInterface определяет интерфейс для работы с базой данных
type DatabaseInterface interface {
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
	BeginTx(ctx context.Context) (Tx, error)
	Health(ctx context.Context) error
}

// CacheInterface определяет интерфейс для работы с кешем
type CacheInterface interface {
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Health(ctx context.Context) error
}

// MetricsInterface определяет интерфейс для сбора метрик
type MetricsInterface interface {
	IncDBQuery(operation string)
	IncCacheHit(cacheType string)
	IncCacheMiss(cacheType string)
	ObserveDBQueryDuration(operation string, duration time.Duration)
}

// Row интерфейс для работы с результатом одной строки
type Row interface {
	Scan(dest ...interface{}) error
}

// Rows интерфейс для работы с результатом множества строк
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close()
}

// Tx интерфейс для работы с транзакциями
type Tx interface {
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	// Exec возвращает число затронутых строк
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// noopMetrics используется, когда сборщик метрик не передан
type noopMetrics struct{}

func (noopMetrics) IncDBQuery(string)                            {}
func (noopMetrics) IncCacheHit(string)                           {}
func (noopMetrics) IncCacheMiss(string)                          {}
func (noopMetrics) ObserveDBQueryDuration(string, time.Duration) {}
