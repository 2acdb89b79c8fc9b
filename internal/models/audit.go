package models

import (
	"time"
)

// AuditOutcome итог операции в журнале аудита
type AuditOutcome string

const (
	AuditOutcomeSuccess      AuditOutcome = "success"
	AuditOutcomeConflict     AuditOutcome = "conflict"
	AuditOutcomeFailure      AuditOutcome = "failure"
	AuditOutcomeCommitFailed AuditOutcome = "commit_failed"
)

// AuditEntry неизменяемая запись журнала аудита
type AuditEntry struct {
	ID            string                `json:"id" db:"id"`
	CorrelationID string                `json:"correlation_id" db:"correlation_id"`
	ActorID       string                `json:"actor_id" db:"actor_id"`
	Operation     string                `json:"operation" db:"operation"`
	Source        *string               `json:"source,omitempty" db:"source"`
	Outcome       AuditOutcome          `json:"outcome" db:"outcome"`
	Reason        *string               `json:"reason,omitempty" db:"reason"`
	Entities      []EntityVersionChange `json:"entities" db:"-"`
	OccurredAt    time.Time             `json:"occurred_at" db:"occurred_at"`
	RecordedAt    time.Time             `json:"recorded_at" db:"recorded_at"`
}
