package public

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/auth"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/service"
)

const maxRequestBodyBytes = 1 << 20

// BatchHandler обрабатывает HTTP запросы глобального сохранения
type BatchHandler struct {
	batchService service.BatchService
	logger       *zap.Logger
	validator    *validator.Validate
}

// NewBatchHandler создает новый экземпляр BatchHandler
func NewBatchHandler(batchService service.BatchService, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{
		batchService: batchService,
		logger:       logger,
		validator:    validator.New(),
	}
}

// SaveBatch обрабатывает POST /api/batch-save
func (h *BatchHandler) SaveBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Актор берется только из JWT
	userContext, err := auth.GetUser(ctx)
	if err != nil {
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeMissingUserID, "User ID not found in context", nil)
		return
	}

	var request models.BatchSaveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON format", nil)
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "Request validation failed",
			map[string]interface{}{"fields": fieldErrors(err)})
		return
	}

	batch := request.ToBatchRequest(userContext.UserID)
	userContext.ApplyTo(&batch.AuditContext, time.Now())

	h.logger.Info("Batch save requested",
		zap.String("user_id", userContext.UserID),
		zap.Int("ingredients", len(batch.Ingredients)),
		zap.Int("recipes", len(batch.Recipes)),
		zap.String("request_id", getRequestID(r)),
	)

	result := h.batchService.SaveBatch(ctx, &batch)
	h.writeBatchResult(w, r, result)
}

func (h *BatchHandler) writeBatchResult(w http.ResponseWriter, r *http.Request, result *models.BatchResult) {
	if result.CorrelationID != "" {
		w.Header().Set(models.HeaderCorrelationID, result.CorrelationID)
	}

	switch result.Outcome {
	case models.OutcomeSuccess:
		s := result.Success
		h.writeJSONResponse(w, http.StatusOK, models.BatchSaveResponse{
			Status:           string(models.OutcomeSuccess),
			CorrelationID:    result.CorrelationID,
			SavedIngredients: nonNilIngredients(s.SavedIngredients),
			SavedRecipes:     nonNilRecipes(s.SavedRecipes),
			NewVersionTokens: s.NewVersionTokens,
			AuditEntryID:     s.AuditEntryID,
			RecipeCosts:      s.RecipeCosts,
		})
	case models.OutcomeConflict:
		conflicts := result.Conflict.Conflicts
		h.writeJSONResponse(w, http.StatusConflict, models.ConflictResponse{
			Error:     models.ErrorCodeStaleVersion,
			Message:   fmt.Sprintf("%d entities were changed by another session", len(conflicts)),
			Conflicts: conflicts,
		})
	default:
		f := result.Failure
		switch f.Kind {
		case models.FailureValidation:
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, f.Reason,
				map[string]interface{}{"violations": f.Violations})
		case models.FailureDuplicate:
			h.writeErrorResponse(w, http.StatusConflict, models.ErrorCodeDuplicateRequest,
				"Batch with this correlation id was already submitted", nil)
		default:
			h.logger.Error("Batch save failed",
				zap.String("correlation_id", result.CorrelationID),
				zap.String("kind", string(f.Kind)),
				zap.String("reason", f.Reason),
				zap.String("request_id", getRequestID(r)),
			)
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError,
				"Failed to save changes, nothing was modified", nil)
		}
	}
}

// GetState обрабатывает POST /api/state
func (h *BatchHandler) GetState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := auth.Actor(ctx); err != nil {
		h.writeErrorResponse(w, http.StatusUnauthorized, models.ErrorCodeMissingUserID, "User ID not found in context", nil)
		return
	}

	var request models.StateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON format", nil)
		return
	}
	if err := h.validator.Struct(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, "Request validation failed",
			map[string]interface{}{"fields": fieldErrors(err)})
		return
	}

	state, err := h.batchService.GetState(ctx, request.Refs())
	if err != nil {
		h.logger.Error("Failed to get state",
			zap.Error(err),
			zap.String("request_id", getRequestID(r)),
		)
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to get state", nil)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, state)
}

// fieldErrors преобразует ошибки validator в список полей
func fieldErrors(err error) []models.ValidationFieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []models.ValidationFieldError{{Field: "body", Error: err.Error()}}
	}
	out := make([]models.ValidationFieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, models.ValidationFieldError{
			Field: fe.Namespace(),
			Error: fmt.Sprintf("failed on '%s'", fe.Tag()),
		})
	}
	return out
}

func nonNilIngredients(in []models.Ingredient) []models.Ingredient {
	if in == nil {
		return []models.Ingredient{}
	}
	return in
}

func nonNilRecipes(in []models.RecipeContainer) []models.RecipeContainer {
	if in == nil {
		return []models.RecipeContainer{}
	}
	return in
}

// writeJSONResponse отправляет JSON ответ
func (h *BatchHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse отправляет JSON ответ с ошибкой
func (h *BatchHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, details map[string]interface{}) {
	h.writeJSONResponse(w, statusCode, models.ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// getRequestID извлекает request ID из заголовков или контекста
func getRequestID(r *http.Request) string {
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		return requestID
	}
	if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
		return requestID
	}
	return "unknown"
}
