package public

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/auth"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/service"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
)

type MockBatchService struct {
	mock.Mock
}

func (m *MockBatchService) SaveBatch(ctx context.Context, batch *models.BatchRequest) *models.BatchResult {
	args := m.Called(ctx, batch)
	return args.Get(0).(*models.BatchResult)
}

func (m *MockBatchService) GetState(ctx context.Context, refs []models.EntityRef) (*models.StateResponse, error) {
	args := m.Called(ctx, refs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StateResponse), args.Error(1)
}

const validBody = `{
	"ingredients": [{"id": "flour", "name": "Flour", "unit_type": "weight", "cost_per_unit": 2.5, "is_active": true, "version_token": "v1"}],
	"recipes": [{"product_id": "p1", "version": 1, "lines": [{"ingredient_id": "flour", "quantity": 3, "unit": "g"}], "version_token": "r1"}],
	"audit_context": {"operation": "global_save"}
}`

func newRequest(t *testing.T, path, body string, withUser bool) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	if withUser {
		req = req.WithContext(auth.WithUser(req.Context(), &auth.UserContext{UserID: "user-1", ShopDomain: "shop.myshopify.com"}))
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestBatchHandler_SaveBatch_Success(t *testing.T) {
	svc := new(MockBatchService)
	handler := NewBatchHandler(svc, zap.NewNop())

	svc.On("SaveBatch", mock.Anything, mock.MatchedBy(func(b *models.BatchRequest) bool {
		return b.AuditContext.ActorID == "user-1" &&
			b.AuditContext.Source != nil && *b.AuditContext.Source == "shop.myshopify.com" &&
			len(b.Ingredients) == 1 && len(b.Recipes) == 1 &&
			!b.AuditContext.Timestamp.IsZero()
	})).Return(models.NewSuccessResult("corr-1", &models.BatchSuccess{
		NewVersionTokens: map[string]models.VersionToken{"ingredient:flour": "v2", "recipe:p1": "r2"},
		AuditEntryID:     "audit-1",
		RecipeCosts:      []models.RecipeCost{{ProductID: "p1", TotalCost: 7.5}},
	}))

	rec := httptest.NewRecorder()
	handler.SaveBatch(rec, newRequest(t, "/api/batch-save", validBody, true))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp models.BatchSaveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "audit-1", resp.AuditEntryID)
	assert.Equal(t, models.VersionToken("r2"), resp.NewVersionTokens["recipe:p1"])
	assert.NotNil(t, resp.SavedIngredients)
	svc.AssertExpectations(t)
}

func TestBatchHandler_SaveBatch_StaleVersion(t *testing.T) {
	svc := new(MockBatchService)
	handler := NewBatchHandler(svc, zap.NewNop())

	conflicts := []models.ConflictRecord{{
		EntityType:     models.EntityKindIngredient,
		EntityID:       "flour",
		EntityName:     "Flour",
		ClientVersion:  "v1",
		CurrentVersion: models.TokenPtr("v2"),
	}}
	svc.On("SaveBatch", mock.Anything, mock.Anything).Return(models.NewConflictResult("corr-1", conflicts, false))

	rec := httptest.NewRecorder()
	handler.SaveBatch(rec, newRequest(t, "/api/batch-save", validBody, true))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp models.ConflictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeStaleVersion, resp.Error)
	assert.Equal(t, conflicts, resp.Conflicts)
}

func TestBatchHandler_SaveBatch_FailureMapping(t *testing.T) {
	tests := []struct {
		name       string
		result     *models.BatchResult
		wantStatus int
		wantCode   string
	}{
		{
			name: "validation",
			result: models.NewFailureResult("c", models.FailureValidation, errors.New("batch has 1 violations"),
				[]models.ValidationIssue{{Rule: models.RuleEmptyRecipe, EntityType: models.EntityKindRecipe, EntityID: "p1"}}),
			wantStatus: http.StatusBadRequest,
			wantCode:   models.ErrorCodeValidation,
		},
		{
			name:       "duplicate",
			result:     models.NewFailureResult("c", models.FailureDuplicate, errors.New("dup"), nil),
			wantStatus: http.StatusConflict,
			wantCode:   models.ErrorCodeDuplicateRequest,
		},
		{
			name:       "fatal",
			result:     models.NewFailureResult("c", models.FailureFatal, errors.New("db down"), nil),
			wantStatus: http.StatusInternalServerError,
			wantCode:   models.ErrorCodeInternalError,
		},
		{
			name:       "audit",
			result:     models.NewFailureResult("c", models.FailureAudit, errors.New("audit down"), nil),
			wantStatus: http.StatusInternalServerError,
			wantCode:   models.ErrorCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockBatchService)
			svc.On("SaveBatch", mock.Anything, mock.Anything).Return(tt.result)
			handler := NewBatchHandler(svc, zap.NewNop())

			rec := httptest.NewRecorder()
			handler.SaveBatch(rec, newRequest(t, "/api/batch-save", validBody, true))

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Error)
			if tt.wantCode == models.ErrorCodeValidation {
				assert.Contains(t, resp.Details, "violations")
			}
			assert.NotContains(t, rec.Body.String(), "db down")
		})
	}
}

func TestBatchHandler_SaveBatch_RequestErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		withUser   bool
		wantStatus int
		wantCode   string
	}{
		{"no user", validBody, false, http.StatusUnauthorized, models.ErrorCodeMissingUserID},
		{"invalid json", `{"ingredients":`, true, http.StatusBadRequest, models.ErrorCodeBadRequest},
		{"missing operation", `{"ingredients": [], "recipes": [], "audit_context": {}}`, true, http.StatusBadRequest, models.ErrorCodeValidation},
		{"bad correlation id", `{"audit_context": {"operation": "global_save", "correlation_id": "nope"}}`, true, http.StatusBadRequest, models.ErrorCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockBatchService)
			handler := NewBatchHandler(svc, zap.NewNop())

			rec := httptest.NewRecorder()
			handler.SaveBatch(rec, newRequest(t, "/api/batch-save", tt.body, tt.withUser))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Error)
			svc.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
		})
	}
}

// Все нарушения пакета возвращаются одним ответом, включая неизвестную единицу измерения
func TestBatchHandler_SaveBatch_ReportsAllViolations(t *testing.T) {
	store := storage.NewMemoryObjectStore(nil)
	svc := service.NewService(&service.ServiceDependencies{
		Repository: &storage.Repository{Objects: store, Audit: storage.NewMemoryAuditSink()},
		Logger:     zap.NewNop(),
		Config:     service.GetDefaultServiceConfig(),
	})
	handler := NewBatchHandler(svc.Batch, zap.NewNop())

	body := `{
		"ingredients": [
			{"id": "flour", "name": "", "unit_type": "weight", "cost_per_unit": 1},
			{"id": "salt", "name": "Salt", "unit_type": "weight", "cost_per_unit": -1},
			{"id": "ribbon", "name": "Ribbon", "unit_type": "bag", "cost_per_unit": 1}
		],
		"recipes": [{"product_id": "p1", "version": 1, "lines": []}],
		"audit_context": {"operation": "global_save"}
	}`

	rec := httptest.NewRecorder()
	handler.SaveBatch(rec, newRequest(t, "/api/batch-save", body, true))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Error   string `json:"error"`
		Details struct {
			Violations []models.ValidationIssue `json:"violations"`
		} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeValidation, resp.Error)

	got := make([]string, 0, len(resp.Details.Violations))
	for _, v := range resp.Details.Violations {
		got = append(got, v.Rule)
	}
	assert.ElementsMatch(t, []string{
		models.RuleEmptyRecipe,
		models.RuleNegativeCost,
		models.RuleEmptyName,
		models.RuleInvalidUnitType,
	}, got)
	assert.Equal(t, 0, store.Calls(storage.OpStart))
}

func TestBatchHandler_GetState(t *testing.T) {
	svc := new(MockBatchService)
	handler := NewBatchHandler(svc, zap.NewNop())

	flour := "flour"
	expectedRefs := []models.EntityRef{
		{Kind: models.EntityKindIngredient, ID: "flour"},
		{Kind: models.EntityKindRecipe, ID: "p1"},
	}
	svc.On("GetState", mock.Anything, expectedRefs).Return(&models.StateResponse{
		Ingredients: []models.Ingredient{{ID: &flour, Name: "Flour", CostPerUnit: 3}},
		Recipes:     []models.RecipeContainer{},
	}, nil)

	rec := httptest.NewRecorder()
	handler.GetState(rec, newRequest(t, "/api/state", `{"ingredient_ids": ["flour"], "recipe_ids": ["p1"]}`, true))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp models.StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Ingredients, 1)
	assert.Equal(t, 3.0, resp.Ingredients[0].CostPerUnit)
}

func TestBatchHandler_GetState_Errors(t *testing.T) {
	svc := new(MockBatchService)
	svc.On("GetState", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	handler := NewBatchHandler(svc, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.GetState(rec, newRequest(t, "/api/state", `{"ingredient_ids": ["flour"]}`, true))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetState(rec, newRequest(t, "/api/state", `{"ingredient_ids": [""]}`, true))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetState(rec, newRequest(t, "/api/state", `{}`, false))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
