package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/metrics"
)

const (
	endpointBatchSave = "/api/batch-save"
	endpointState     = "/api/state"
)

// HTTPBatchClient клиент API пакетного сохранения для оптимистичного контроллера вне процесса сервиса
type HTTPBatchClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPBatchClient создает клиент с таймаутом по умолчанию
func NewHTTPBatchClient(baseURL, bearerToken string, logger *zap.Logger) *HTTPBatchClient {
	return NewHTTPBatchClientWithTimeout(baseURL, bearerToken, 30*time.Second, logger)
}

// NewHTTPBatchClientWithTimeout создает клиент с настраиваемым таймаутом
func NewHTTPBatchClientWithTimeout(baseURL, bearerToken string, timeout time.Duration, logger *zap.Logger) *HTTPBatchClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPBatchClient{
		baseURL: baseURL,
		token:   bearerToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// validationDetails тело details ответа 400
type validationDetails struct {
	Violations []models.ValidationIssue `json:"violations"`
}

type errorBody struct {
	Error     string                  `json:"error"`
	Message   string                  `json:"message"`
	Details   *validationDetails      `json:"details,omitempty"`
	Conflicts []models.ConflictRecord `json:"conflicts,omitempty"`
}

// SaveBatch отправляет пакет и преобразует ответ в BatchResult.
// Ошибка возвращается только если сервер не дал разобранного ответа.
func (c *HTTPBatchClient) SaveBatch(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch is nil")
	}
	corrID := batch.AuditContext.CorrelationID

	resp, body, err := c.post(ctx, endpointBatchSave, models.NewBatchSaveRequest(*batch))
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var ok models.BatchSaveResponse
		if err := json.Unmarshal(body, &ok); err != nil {
			return nil, fmt.Errorf("failed to decode success response: %w", err)
		}
		if ok.CorrelationID != "" {
			corrID = ok.CorrelationID
		}
		return models.NewSuccessResult(corrID, &models.BatchSuccess{
			SavedIngredients: ok.SavedIngredients,
			SavedRecipes:     ok.SavedRecipes,
			NewVersionTokens: ok.NewVersionTokens,
			AuditEntryID:     ok.AuditEntryID,
			RecipeCosts:      ok.RecipeCosts,
		}), nil
	case http.StatusConflict, http.StatusBadRequest, http.StatusInternalServerError:
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err != nil {
			return nil, fmt.Errorf("failed to decode error response (status %d): %w", resp.StatusCode, err)
		}
		return c.resultFromError(corrID, resp.StatusCode, &eb), nil
	default:
		return nil, fmt.Errorf("batch save failed with status %d: %s", resp.StatusCode, truncate(body))
	}
}

func (c *HTTPBatchClient) resultFromError(corrID string, status int, eb *errorBody) *models.BatchResult {
	switch {
	case status == http.StatusConflict && eb.Error == models.ErrorCodeStaleVersion:
		return models.NewConflictResult(corrID, eb.Conflicts, false)
	case status == http.StatusConflict && eb.Error == models.ErrorCodeDuplicateRequest:
		return models.NewFailureResult(corrID, models.FailureDuplicate, fmt.Errorf("%s", eb.Message), nil)
	case status == http.StatusBadRequest:
		var violations []models.ValidationIssue
		if eb.Details != nil {
			violations = eb.Details.Violations
		}
		return models.NewFailureResult(corrID, models.FailureValidation, fmt.Errorf("%s", eb.Message), violations)
	default:
		return models.NewFailureResult(corrID, models.FailureFatal, fmt.Errorf("%s: %s", eb.Error, eb.Message), nil)
	}
}

// FetchState читает текущее состояние сущностей
func (c *HTTPBatchClient) FetchState(ctx context.Context, refs []models.EntityRef) (*models.StateResponse, error) {
	req := models.StateRequest{IngredientIDs: []string{}, RecipeIDs: []string{}}
	for _, ref := range refs {
		switch ref.Kind {
		case models.EntityKindIngredient:
			req.IngredientIDs = append(req.IngredientIDs, ref.ID)
		case models.EntityKindRecipe:
			req.RecipeIDs = append(req.RecipeIDs, ref.ID)
		}
	}

	resp, body, err := c.post(ctx, endpointState, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("state request failed with status %d: %s", resp.StatusCode, truncate(body))
	}

	var state models.StateResponse
	if err := json.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state response: %w", err)
	}
	return &state, nil
}

func (c *HTTPBatchClient) post(ctx context.Context, endpoint string, payload interface{}) (*http.Response, []byte, error) {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordBatchSaverCall(endpoint, status, time.Since(start).Seconds())
	}()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Request to costing service failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	status = strconv.Itoa(resp.StatusCode)
	return resp, body, nil
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
