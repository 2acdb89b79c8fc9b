package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/service"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
)

type stubChecker struct {
	err error
}

func (s stubChecker) Health(ctx context.Context) error { return s.err }

func TestHealthHandler_Health(t *testing.T) {
	h := NewHealthHandlerWithCheckers("postgres", map[string]HealthChecker{
		"database": stubChecker{},
		"redis":    stubChecker{err: errors.New("connection refused")},
	})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "ok", resp.Services["database"])
	assert.Contains(t, resp.Services["redis"], "connection refused")
	assert.Nil(t, resp.DatabasePool)
}

func TestHealthHandler_MemoryBackend(t *testing.T) {
	h := NewHealthHandler("memory", nil, nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHealthHandler_NotReady(t *testing.T) {
	h := NewHealthHandlerWithCheckers("postgres", map[string]HealthChecker{"database": stubChecker{err: errors.New("down")}})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database not ready")
}

func TestNewHandlers(t *testing.T) {
	svc := service.NewService(&service.ServiceDependencies{
		Repository: storage.NewMemoryRepository(nil, nil),
		Logger:     zap.NewNop(),
		Config:     service.GetDefaultServiceConfig(),
	})

	h := NewHandlers(&HandlerDependencies{Service: svc, StorageBackend: "memory", Logger: zap.NewNop()})
	assert.NotNil(t, h.Health)
	assert.NotNil(t, h.Batch)
}
