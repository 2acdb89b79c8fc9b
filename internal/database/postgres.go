package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/config"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// DB пул pgx для хранилища объектов и sqlx поверх того же пула для журнала аудита
type DB struct {
	pool          *pgxpool.Pool
	sqlx          *sqlx.DB
	healthTimeout time.Duration
}

// NewDB подключается к Postgres; healthTimeout ограничивает проверки /health и /ready
func NewDB(cfg *config.DatabaseConfig, healthTimeout time.Duration) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MaxConnIdleTime = cfg.MaxIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	if poolConfig.HealthCheckPeriod <= 0 {
		poolConfig.HealthCheckPeriod = 1 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("max_idle_time", cfg.MaxIdleTime),
	)

	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}
	db := &DB{
		pool:          pool,
		sqlx:          sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx"),
		healthTimeout: healthTimeout,
	}

	if cfg.AutoMigrate {
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelMigrate()
		if err := db.EnsureSchema(migrateCtx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// EnsureSchema создает схему costing, если ее еще нет; повторный вызов ничего не меняет
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply costing schema: %w", err)
	}
	logger.Info("Costing schema is up to date")
	return nil
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// SQLX возвращает database/sql обертку над пулом для журнала аудита
func (db *DB) SQLX() *sqlx.DB {
	return db.sqlx
}

func (db *DB) Close() {
	if db.sqlx != nil {
		if err := db.sqlx.Close(); err != nil {
			logger.Warn("Failed to close sqlx handle", zap.Error(err))
		}
	}
	if db.pool != nil {
		db.pool.Close()
		logger.Info("Database connection pool closed")
	}
}

func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.healthTimeout)
	defer cancel()

	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Проверяем, что схема на месте, а не только соединение
	var exists bool
	if err := db.pool.QueryRow(ctx, "SELECT to_regclass('costing.audit_entries') IS NOT NULL").Scan(&exists); err != nil {
		return fmt.Errorf("database query health check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("costing schema is missing")
	}

	return nil
}

func (db *DB) Stats() *pgxpool.Stat {
	return db.pool.Stat()
}
