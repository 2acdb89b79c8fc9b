package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/client"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/config"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/handlers"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/optimistic"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/service"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/jwt"
)

const testToken = "test-token"

type staticValidator struct{}

func (staticValidator) ValidateToken(ctx context.Context, tokenString string) (*jwt.CustomClaims, error) {
	if tokenString != testToken {
		return nil, errors.New("invalid token")
	}
	claims := &jwt.CustomClaims{ShopDomain: "saskay-snacks.myshopify.com"}
	claims.Subject = "user-1"
	claims.ID = "jti-1"
	return claims, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{AllowedOrigins: []string{"https://admin.shopify.com"}},
		Storage:  config.StorageConfig{Backend: config.StorageBackendMemory},
		Timeouts: config.TimeoutsConfig{HTTPMiddleware: 10 * time.Second},
		Orchestrator: config.OrchestratorConfig{
			StoreCallTimeout: time.Second,
			RetryMaxAttempts: 2,
			RetryBaseDelay:   time.Millisecond,
			RetryMaxDelay:    time.Millisecond,
			IdempotencyTTL:   time.Hour,
		},
		Cleanup: config.CleanupConfig{StagedTxnTimeout: time.Minute, Interval: time.Minute},
	}
}

type testApp struct {
	public   http.Handler
	internal http.Handler
	store    *storage.MemoryObjectStore
	audit    *storage.MemoryAuditSink
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cfg := testConfig()
	repo := buildRepository(cfg, nil, nil)

	store, ok := repo.Objects.(*storage.MemoryObjectStore)
	require.True(t, ok)
	audit, ok := repo.Audit.(*storage.MemoryAuditSink)
	require.True(t, ok)

	svc := service.NewService(&service.ServiceDependencies{
		Repository: repo,
		Logger:     zap.NewNop(),
		Config:     serviceConfig(cfg),
	})
	require.NotNil(t, svc.Reaper)

	h := handlers.NewHandlers(&handlers.HandlerDependencies{
		Service:        svc,
		StorageBackend: cfg.Storage.Backend,
		Logger:         zap.NewNop(),
	})

	return &testApp{
		public:   newPublicRouter(cfg, h, staticValidator{}),
		internal: newInternalRouter(cfg, h),
		store:    store,
		audit:    audit,
	}
}

func seedIngredient(id string, cost float64, token string) models.Ingredient {
	return models.Ingredient{
		ID:           &id,
		Name:         "Ingredient " + id,
		UnitType:     models.UnitTypeWeight,
		CostPerUnit:  cost,
		IsActive:     true,
		VersionToken: models.TokenPtr(token),
	}
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPortSeparation(t *testing.T) {
	app := newTestApp(t)

	t.Run("Public router should NOT expose internal endpoints", func(t *testing.T) {
		for _, path := range []string{"/metrics", "/health", "/ready"} {
			rec := httptest.NewRecorder()
			app.public.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code, path)
		}
	})

	t.Run("Internal router should expose health and metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		app.internal.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"storage_backend":"memory"`)

		rec = httptest.NewRecorder()
		app.internal.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = httptest.NewRecorder()
		app.internal.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("Internal router should NOT expose business endpoints", func(t *testing.T) {
		rec := postJSON(t, app.internal, "/api/batch-save", map[string]string{}, testToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Public API requires JWT", func(t *testing.T) {
		rec := postJSON(t, app.public, "/api/batch-save", map[string]string{}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = postJSON(t, app.public, "/api/state", map[string]string{}, "wrong")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestBatchSave_EndToEnd(t *testing.T) {
	app := newTestApp(t)
	app.store.Seed(seedIngredient("flour", 2.0, "v1"), seedIngredient("sugar", 1.0, "s1"))

	body := models.NewBatchSaveRequest(models.BatchRequest{
		Ingredients: []models.Ingredient{seedIngredient("flour", 2.5, "v1")},
		Recipes: []models.RecipeContainer{{
			ProductID: "p1",
			Version:   1,
			Lines: []models.RecipeLine{
				{IngredientID: "flour", Quantity: 2, Unit: "g"},
				{IngredientID: "sugar", Quantity: 2.5, Unit: "g"},
			},
		}},
		AuditContext: models.AuditContext{Operation: "global_save"},
	})

	rec := postJSON(t, app.public, "/api/batch-save", body, testToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.BatchSaveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Contains(t, resp.NewVersionTokens, models.TokenKey(models.EntityKindIngredient, "flour"))
	assert.Contains(t, resp.NewVersionTokens, models.TokenKey(models.EntityKindRecipe, "p1"))
	require.Len(t, resp.RecipeCosts, 1)
	assert.InDelta(t, 7.5, resp.RecipeCosts[0].TotalCost, 1e-9)

	entries, err := app.audit.ListByCorrelationID(context.Background(), resp.CorrelationID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "user-1", entries[0].ActorID)
	assert.Equal(t, models.AuditOutcomeSuccess, entries[0].Outcome)
	require.NotNil(t, entries[0].Source)
	assert.Equal(t, "saskay-snacks.myshopify.com", *entries[0].Source)

	// Повтор со старым токеном получает 409 и ничего не меняет
	before, _ := app.store.Snapshot()
	rec = postJSON(t, app.public, "/api/batch-save", models.NewBatchSaveRequest(models.BatchRequest{
		Ingredients:  []models.Ingredient{seedIngredient("flour", 9.0, "v1")},
		AuditContext: models.AuditContext{Operation: "global_save"},
	}), testToken)
	require.Equal(t, http.StatusConflict, rec.Code)

	var conflict models.ConflictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	assert.Equal(t, models.ErrorCodeStaleVersion, conflict.Error)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, "flour", conflict.Conflicts[0].EntityID)

	after, _ := app.store.Snapshot()
	assert.Equal(t, before, after)
}

func TestBatchSave_ValidationError(t *testing.T) {
	app := newTestApp(t)

	rec := postJSON(t, app.public, "/api/batch-save", models.NewBatchSaveRequest(models.BatchRequest{
		Recipes:      []models.RecipeContainer{{ProductID: "p1", Version: 1}},
		AuditContext: models.AuditContext{Operation: "global_save"},
	}), testToken)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeValidation, resp.Error)
	assert.Contains(t, rec.Body.String(), models.RuleEmptyRecipe)
}

func TestOptimisticController_OverHTTP(t *testing.T) {
	app := newTestApp(t)
	app.store.Seed(seedIngredient("flour", 3.0, "v2"))

	server := httptest.NewServer(app.public)
	defer server.Close()

	httpClient := client.NewHTTPBatchClient(server.URL, testToken, zap.NewNop())

	initial := optimistic.NewState()
	initial.Ingredients["flour"] = seedIngredient("flour", 2.0, "v1")

	c := optimistic.NewController(initial, httpClient, optimistic.Options{
		ActorID:     "user-1",
		StateReader: httpClient,
		Timeout:     5 * time.Second,
	})
	defer c.Close()

	h, err := c.Apply(optimistic.Mutation{Ingredients: []models.Ingredient{seedIngredient("flour", 2.5, "v1")}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, optimistic.StatusRolledBack, res.Status)
	require.Len(t, res.Conflicts, 1)
	require.NotNil(t, res.ServerState)
	require.Len(t, res.ServerState.Ingredients, 1)
	assert.Equal(t, 3.0, res.ServerState.Ingredients[0].CostPerUnit)

	local, _ := c.Ingredient("flour")
	assert.Equal(t, 2.0, local.CostPerUnit)
}

func TestServiceConfig(t *testing.T) {
	cfg := testConfig()
	sc := serviceConfig(cfg)

	assert.Equal(t, 2, sc.Retry.MaxAttempts)
	assert.Equal(t, time.Second, sc.Retry.CallTimeout)
	assert.Equal(t, time.Hour, sc.IdempotencyTTL)
	assert.Equal(t, time.Minute, sc.Reaper.StagedTxnTimeout)
}
