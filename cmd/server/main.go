package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/adapters"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/config"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/database"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/handlers"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/service"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/jwt"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/logger"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/metrics"
)

func main() {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Set service start time for metrics
	startTime := time.Now()
	go func() {
		ticker := time.NewTicker(cfg.Metrics.UpdateInterval)
		defer ticker.Stop()
		for {
			metrics.ServiceUptime.Set(time.Since(startTime).Seconds())
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// Set service info
	metrics.ServiceInfo.WithLabelValues("1.0.0", time.Now().Format(time.RFC3339)).Set(1)

	// Initialize database (postgres backend only)
	var db *database.DB
	if cfg.Storage.Backend == config.StorageBackendPostgres {
		db, err = database.NewDB(&cfg.Database, cfg.Timeouts.DatabaseHealth)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
	}

	// Initialize Redis (idempotency guard and JWT revocation)
	var redis *database.RedisClient
	if cfg.Redis.Enabled {
		redis, err = database.NewRedisClient(&cfg.Redis, cfg.Timeouts.RedisHealth)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()
	}

	// Initialize JWT validator
	var revocation jwt.RevocationChecker
	if redis != nil {
		revocation = redis
	}
	jwtValidator := jwt.NewValidator(cfg.Auth.PublicKeyURL, revocation, cfg.Auth.CacheTTL)
	jwtValidator.SetHTTPTimeout(cfg.Timeouts.JWTValidatorClient)
	ctx, cancel := context.WithTimeout(rootCtx, cfg.Timeouts.JWTValidatorClient)
	defer cancel()

	if err := jwtValidator.Initialize(ctx); err != nil {
		logger.Fatal("Failed to initialize JWT validator", zap.Error(err))
	}

	// Refresh JWT public key periodically
	go jwtValidator.StartRefresh(rootCtx, cfg.Auth.RefreshInterval)

	repository := buildRepository(cfg, db, redis)

	// Initialize service layer
	serviceLayer := service.NewService(&service.ServiceDependencies{
		Repository: repository,
		Metrics:    adapters.NewMetricsAdapter(),
		Logger:     logger.Get(),
		Config:     serviceConfig(cfg),
	})

	// Start staged transaction reaper in background
	if serviceLayer.Reaper != nil {
		go serviceLayer.Reaper.Start(rootCtx)
	}

	// Initialize handlers
	allHandlers := handlers.NewHandlers(&handlers.HandlerDependencies{
		Service:        serviceLayer,
		StorageBackend: cfg.Storage.Backend,
		DB:             db,
		Redis:          redis,
		Logger:         logger.Get(),
	})

	// Create public HTTP server
	publicServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      newPublicRouter(cfg, allHandlers, jwtValidator),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Create internal HTTP server
	internalServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.InternalPort),
		Handler:      newInternalRouter(cfg, allHandlers),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start public server in a goroutine
	go func() {
		logger.Info("Starting Costing Service public server",
			zap.String("host", cfg.Server.Host),
			zap.String("port", cfg.Server.Port),
			zap.String("storage_backend", cfg.Storage.Backend),
		)

		if err := publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start public server", zap.Error(err))
		}
	}()

	// Start internal server in a goroutine
	go func() {
		logger.Info("Starting Costing Service internal server",
			zap.String("host", cfg.Server.Host),
			zap.String("port", cfg.Server.InternalPort),
		)

		if err := internalServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start internal server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeouts.GracefulShutdown)
	defer shutdownCancel()

	// Shutdown both servers
	shutdownErr := make(chan error, 2)

	go func() {
		if err := publicServer.Shutdown(shutdownCtx); err != nil {
			shutdownErr <- fmt.Errorf("public server shutdown error: %w", err)
		} else {
			shutdownErr <- nil
		}
	}()

	go func() {
		if err := internalServer.Shutdown(shutdownCtx); err != nil {
			shutdownErr <- fmt.Errorf("internal server shutdown error: %w", err)
		} else {
			shutdownErr <- nil
		}
	}()

	// Wait for both servers to shut down
	for i := 0; i < 2; i++ {
		if err := <-shutdownErr; err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
	}

	// Stop background workers after in-flight requests are drained
	rootCancel()

	logger.Info("Servers exited")
}

// buildRepository собирает хранилище по выбранному backend
func buildRepository(cfg *config.Config, db *database.DB, redis *database.RedisClient) *storage.Repository {
	metricsAdapter := adapters.NewMetricsAdapter()

	var cache storage.CacheInterface
	if redis != nil {
		cache = adapters.NewCacheAdapter(redis)
	}

	if cfg.Storage.Backend == config.StorageBackendMemory || db == nil {
		logger.Warn("Using in-memory object store, data is lost on restart")
		return storage.NewMemoryRepository(cache, metricsAdapter)
	}

	return storage.NewRepository(&storage.RepositoryDependencies{
		DB:               adapters.NewDatabaseAdapter(db, cfg.Database.LockTimeout),
		AuditDB:          db.SQLX(),
		Cache:            cache,
		MetricsCollector: metricsAdapter,
		Tokens:           storage.NewTimestampTokenSource(),
	})
}

// serviceConfig переносит настройки оркестратора в сервисный слой
func serviceConfig(cfg *config.Config) service.ServiceConfig {
	sc := service.GetDefaultServiceConfig()
	sc.Retry = service.RetryConfig{
		MaxAttempts: cfg.Orchestrator.RetryMaxAttempts,
		BaseDelay:   cfg.Orchestrator.RetryBaseDelay,
		MaxDelay:    cfg.Orchestrator.RetryMaxDelay,
		CallTimeout: cfg.Orchestrator.StoreCallTimeout,
	}
	sc.IdempotencyTTL = cfg.Orchestrator.IdempotencyTTL
	sc.Reaper = service.ReaperConfig{
		StagedTxnTimeout: cfg.Cleanup.StagedTxnTimeout,
		Interval:         cfg.Cleanup.Interval,
	}
	return sc
}
