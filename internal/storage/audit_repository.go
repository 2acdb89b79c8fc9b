package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// AuditDatabase подмножество *sqlx.DB, используемое журналом аудита
type AuditDatabase interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// auditRow строка таблицы costing.audit_entries
type auditRow struct {
	ID            string    `db:"id"`
	CorrelationID string    `db:"correlation_id"`
	ActorID       string    `db:"actor_id"`
	Operation     string    `db:"operation"`
	Source        *string   `db:"source"`
	Outcome       string    `db:"outcome"`
	Reason        *string   `db:"reason"`
	Entities      []byte    `db:"entities"`
	OccurredAt    time.Time `db:"occurred_at"`
	RecordedAt    time.Time `db:"recorded_at"`
}

// auditRepository журнал аудита в Postgres; только INSERT и SELECT
type auditRepository struct {
	db      AuditDatabase
	metrics MetricsInterface
	now     func() time.Time
}

// NewAuditRepository создает журнал аудита поверх sqlx
func NewAuditRepository(db AuditDatabase, metrics MetricsInterface) AuditStore {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &auditRepository{
		db:      db,
		metrics: metrics,
		now:     time.Now,
	}
}

// Append добавляет запись в журнал
func (r *auditRepository) Append(ctx context.Context, entry *models.AuditEntry) (string, error) {
	start := time.Now()
	defer func() {
		r.metrics.ObserveDBQueryDuration("append_audit_entry", time.Since(start))
	}()
	r.metrics.IncDBQuery("append_audit_entry")

	entities, err := json.Marshal(entry.Entities)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit entities: %w", err)
	}

	row := auditRow{
		ID:            uuid.NewString(),
		CorrelationID: entry.CorrelationID,
		ActorID:       entry.ActorID,
		Operation:     entry.Operation,
		Source:        entry.Source,
		Outcome:       string(entry.Outcome),
		Reason:        entry.Reason,
		Entities:      entities,
		OccurredAt:    entry.OccurredAt,
		RecordedAt:    r.now().UTC(),
	}

	query := `
		INSERT INTO costing.audit_entries (
			id, correlation_id, actor_id, operation, source, outcome, reason, entities, occurred_at, recorded_at
		) VALUES (
			:id, :correlation_id, :actor_id, :operation, :source, :outcome, :reason, :entities, :occurred_at, :recorded_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return "", ClassifyDatabaseError(err, "append audit entry")
	}

	return row.ID, nil
}

// ListByCorrelationID возвращает записи, связанные с одним BatchRequest
func (r *auditRepository) ListByCorrelationID(ctx context.Context, correlationID string) ([]models.AuditEntry, error) {
	r.metrics.IncDBQuery("list_audit_entries")

	query := `
		SELECT id, correlation_id, actor_id, operation, source, outcome, reason, entities, occurred_at, recorded_at
		FROM costing.audit_entries
		WHERE correlation_id = $1
		ORDER BY recorded_at`

	var rows []auditRow
	if err := r.db.SelectContext(ctx, &rows, query, correlationID); err != nil {
		return nil, ClassifyDatabaseError(err, "list audit entries")
	}

	entries := make([]models.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry := models.AuditEntry{
			ID:            row.ID,
			CorrelationID: row.CorrelationID,
			ActorID:       row.ActorID,
			Operation:     row.Operation,
			Source:        row.Source,
			Outcome:       models.AuditOutcome(row.Outcome),
			Reason:        row.Reason,
			OccurredAt:    row.OccurredAt,
			RecordedAt:    row.RecordedAt,
		}
		if len(row.Entities) > 0 {
			if err := json.Unmarshal(row.Entities, &entry.Entities); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit entities for %s: %w", row.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// MemoryAuditSink журнал аудита в памяти процесса
type MemoryAuditSink struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	fail    error
	now     func() time.Time
}

// NewMemoryAuditSink создает пустой журнал
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{now: time.Now}
}

// FailWith заставляет Append возвращать err (nil - отключить)
func (s *MemoryAuditSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// Append добавляет копию записи
func (s *MemoryAuditSink) Append(ctx context.Context, entry *models.AuditEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		return "", s.fail
	}

	cp := *entry
	cp.ID = uuid.NewString()
	cp.RecordedAt = s.now().UTC()
	cp.Entities = append([]models.EntityVersionChange(nil), entry.Entities...)
	s.entries = append(s.entries, cp)
	return cp.ID, nil
}

// Entries возвращает копию всех записей
func (s *MemoryAuditSink) Entries() []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AuditEntry(nil), s.entries...)
}

// ListByCorrelationID возвращает записи одного BatchRequest
func (s *MemoryAuditSink) ListByCorrelationID(ctx context.Context, correlationID string) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AuditEntry
	for _, e := range s.entries {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}
