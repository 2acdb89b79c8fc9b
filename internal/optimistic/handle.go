package optimistic

import (
	"context"
	"sync"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// OperationStatus состояние оптимистичной операции
type OperationStatus string

const (
	StatusApplied     OperationStatus = "applied"
	StatusPending     OperationStatus = "pending"
	StatusConfirmed   OperationStatus = "confirmed"
	StatusRolledBack  OperationStatus = "rolled_back"
	StatusInvalidated OperationStatus = "invalidated"
)

// Resolution итог операции после ответа сервера
type Resolution struct {
	Status    OperationStatus
	Result    *models.BatchResult
	Conflicts []models.ConflictRecord
	Reason    string
	// ServerState текущие значения конфликтующих сущностей, если их удалось прочитать
	ServerState *models.StateResponse
}

// OperationHandle позволяет дождаться итога операции
type OperationHandle struct {
	ID string

	mu         sync.Mutex
	status     OperationStatus
	resolution *Resolution
	done       chan struct{}
}

func newOperationHandle(id string) *OperationHandle {
	return &OperationHandle{ID: id, status: StatusApplied, done: make(chan struct{})}
}

// Done закрывается, когда операция разрешена
func (h *OperationHandle) Done() <-chan struct{} {
	return h.done
}

// Status возвращает текущее состояние операции
func (h *OperationHandle) Status() OperationStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Wait блокируется до разрешения операции или отмены ctx
func (h *OperationHandle) Wait(ctx context.Context) (*Resolution, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.resolution, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *OperationHandle) setStatus(status OperationStatus) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func (h *OperationHandle) finish(res Resolution) {
	h.mu.Lock()
	h.status = res.Status
	h.resolution = &res
	h.mu.Unlock()
	close(h.done)
}
