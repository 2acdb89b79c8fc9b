package handlers

import (
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/database"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/handlers/public"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/service"
)

// Handlers содержит все HTTP обработчики
type Handlers struct {
	Health *HealthHandler
	Batch  *public.BatchHandler
}

// HandlerDependencies содержит зависимости для создания handlers
type HandlerDependencies struct {
	Service        *service.Service
	StorageBackend string
	DB             *database.DB
	Redis          *database.RedisClient
	Logger         *zap.Logger
}

// NewHandlers создает новый экземпляр Handlers со всеми обработчиками
func NewHandlers(deps *HandlerDependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.StorageBackend, deps.DB, deps.Redis),
		Batch:  public.NewBatchHandler(deps.Service.Batch, deps.Logger),
	}
}
