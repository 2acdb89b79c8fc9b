package optimistic

import (
	"context"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/service"
)

// ServiceBackend подключает контроллер к сервису в том же процессе
type ServiceBackend struct {
	service service.BatchService
}

// NewServiceBackend создает адаптер над BatchService
func NewServiceBackend(svc service.BatchService) *ServiceBackend {
	return &ServiceBackend{service: svc}
}

func (b *ServiceBackend) SaveBatch(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, error) {
	return b.service.SaveBatch(ctx, batch), nil
}

func (b *ServiceBackend) FetchState(ctx context.Context, refs []models.EntityRef) (*models.StateResponse, error) {
	return b.service.GetState(ctx, refs)
}
