package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/database"
)

// HealthChecker зависимость, состояние которой проверяется в /health и /ready
type HealthChecker interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	backend string
	checks  map[string]HealthChecker
	db      *database.DB
}

// NewHealthHandler создает обработчик; db и redis могут быть nil для хранилища в памяти
func NewHealthHandler(backend string, db *database.DB, redis *database.RedisClient) *HealthHandler {
	checks := make(map[string]HealthChecker)
	if db != nil {
		checks["database"] = db
	}
	if redis != nil {
		checks["redis"] = redis
	}
	h := NewHealthHandlerWithCheckers(backend, checks)
	h.db = db
	return h
}

// NewHealthHandlerWithCheckers создает обработчик над произвольным набором проверок
func NewHealthHandlerWithCheckers(backend string, checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{backend: backend, checks: checks}
}

type HealthResponse struct {
	Status       string             `json:"status"`
	Backend      string             `json:"storage_backend"`
	Services     map[string]string  `json:"services"`
	DatabasePool *DatabasePoolStats `json:"database_pool,omitempty"`
}

type DatabasePoolStats struct {
	TotalConns    int32 `json:"total_connections"`
	IdleConns     int32 `json:"idle_connections"`
	AcquiredConns int32 `json:"acquired_connections"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	response := HealthResponse{
		Status:   "ok",
		Backend:  h.backend,
		Services: make(map[string]string),
	}

	for _, name := range h.names() {
		if err := h.checks[name].Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.Services[name] = "down: " + err.Error()
		} else {
			response.Services[name] = "ok"
		}
	}

	if h.db != nil {
		stats := h.db.Stats()
		response.DatabasePool = &DatabasePoolStats{
			TotalConns:    stats.TotalConns(),
			IdleConns:     stats.IdleConns(),
			AcquiredConns: stats.AcquiredConns(),
		}
	}

	statusCode := http.StatusOK
	if response.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	for _, name := range h.names() {
		if err := h.checks[name].Health(ctx); err != nil {
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *HealthHandler) names() []string {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
