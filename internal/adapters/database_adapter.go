package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/database"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
)

// querier общее подмножество pgxpool.Pool и pgx.Tx
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pgxQuerier переводит pgx-результаты в интерфейсы storage
type pgxQuerier struct {
	q querier
}

func (p pgxQuerier) QueryRow(ctx context.Context, query string, args ...interface{}) storage.Row {
	return p.q.QueryRow(ctx, query, args...)
}

func (p pgxQuerier) Query(ctx context.Context, query string, args ...interface{}) (storage.Rows, error) {
	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (p pgxQuerier) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	tag, err := p.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DatabaseAdapter адаптирует database.DB для storage.DatabaseInterface.
// Транзакции фиксации пакета открываются с lock_timeout: ожидание чужой блокировки
// строки завершается ошибкой 55P03, которую хранилище считает временной.
type DatabaseAdapter struct {
	pgxQuerier
	db          *database.DB
	lockTimeout time.Duration
}

// NewDatabaseAdapter создает адаптер; lockTimeout <= 0 отключает ограничение ожидания блокировок
func NewDatabaseAdapter(db *database.DB, lockTimeout time.Duration) storage.DatabaseInterface {
	return &DatabaseAdapter{
		pgxQuerier:  pgxQuerier{q: db.Pool()},
		db:          db,
		lockTimeout: lockTimeout,
	}
}

// BeginTx начинает транзакцию READ COMMITTED; compare-and-set по version_token
// в UPDATE ... WHERE делает более строгую изоляцию лишней
func (a *DatabaseAdapter) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := a.db.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}

	if a.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, lockTimeoutStatement(a.lockTimeout)); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
	}
	return &TxAdapter{pgxQuerier: pgxQuerier{q: tx}, tx: tx}, nil
}

// Health проверяет состояние базы данных
func (a *DatabaseAdapter) Health(ctx context.Context) error {
	return a.db.Health(ctx)
}

func lockTimeoutStatement(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)
}

// TxAdapter адаптирует pgx.Tx для storage.Tx
type TxAdapter struct {
	pgxQuerier
	tx pgx.Tx
}

func (t *TxAdapter) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback отменяет транзакцию; после Commit это no-op
func (t *TxAdapter) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
