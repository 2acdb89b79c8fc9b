package storage

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/pkg/errors"
)

// PostgreSQL error codes
const (
	PgErrorCodeUniqueViolation      = "23505"
	PgErrorCodeForeignKeyViolation  = "23503"
	PgErrorCodeCheckViolation       = "23514"
	PgErrorCodeSerializationFailure = "40001"
	PgErrorCodeDeadlockDetected     = "40P01"
	PgErrorCodeLockNotAvailable     = "55P03"
	PgErrorCodeTooManyConnections   = "53300"
	PgErrorCodeQueryCanceled        = "57014"
)

var (
	// ErrUnknownTransaction transaction id was never started, already finished or reaped
	ErrUnknownTransaction = errors.New("unknown or finished transaction")
	// ErrNotFound entity does not exist
	ErrNotFound = errors.New("record not found")
)

// VersionStale one entity whose token no longer matches at commit time
type VersionStale struct {
	Ref      models.EntityRef
	Expected *models.VersionToken
	Actual   *models.VersionToken
}

// VersionConflictError is returned by CommitTransaction when the store-side
// compare-and-set on version tokens fails for at least one entity.
type VersionConflictError struct {
	Stale []VersionStale
}

func (e *VersionConflictError) Error() string {
	refs := make([]string, 0, len(e.Stale))
	for _, s := range e.Stale {
		refs = append(refs, fmt.Sprintf("%s (expected %s, actual %s)",
			s.Ref, models.TokenString(s.Expected), models.TokenString(s.Actual)))
	}
	return "version conflict at commit: " + strings.Join(refs, ", ")
}

// TransientError marks store errors that may succeed on retry (timeouts, rate limits, lock contention)
type TransientError struct {
	Operation string
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Operation, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient
func NewTransientError(operation string, err error) error {
	return &TransientError{Operation: operation, Err: err}
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsVersionConflict extracts a commit-time version conflict
func IsVersionConflict(err error) (*VersionConflictError, bool) {
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return vc, true
	}
	return nil, false
}

// ClassifyDatabaseError converts PostgreSQL errors to store errors
func ClassifyDatabaseError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(ErrNotFound, operation)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError(operation, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case PgErrorCodeSerializationFailure, PgErrorCodeDeadlockDetected,
			PgErrorCodeLockNotAvailable, PgErrorCodeTooManyConnections, PgErrorCodeQueryCanceled:
			return NewTransientError(operation, err)
		case PgErrorCodeUniqueViolation:
			return errors.Errorf("duplicate during %s: %s", operation, pgErr.Message)
		case PgErrorCodeForeignKeyViolation:
			return errors.Errorf("invalid reference during %s: %s", operation, pgErr.Message)
		case PgErrorCodeCheckViolation:
			return errors.Errorf("constraint violation during %s: %s", operation, pgErr.Message)
		default:
			return errors.Errorf("database error during %s: %s", operation, pgErr.Message)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTransientError(operation, err)
	}

	if pgconn.SafeToRetry(err) {
		return NewTransientError(operation, err)
	}

	return errors.Wrapf(err, "%s failed", operation)
}

// IsNotFound reports whether err means the entity does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
