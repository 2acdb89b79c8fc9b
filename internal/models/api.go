package models

import (
	"time"
)

// BatchSaveRequest представляет тело запроса POST /api/batch-save
type BatchSaveRequest struct {
	Ingredients  []IngredientInput `json:"ingredients" validate:"dive"`
	Recipes      []RecipeInput     `json:"recipes" validate:"dive"`
	AuditContext AuditContextInput `json:"audit_context"`
}

// IngredientInput представляет ингредиент в запросе.
// Теги validate проверяют только форму запроса, правила пакета проверяет BatchValidator.
type IngredientInput struct {
	ID              *string       `json:"id"`
	Name            string        `json:"name"`
	UnitType        UnitType      `json:"unit_type"`
	CostPerUnit     float64       `json:"cost_per_unit"`
	IsActive        bool          `json:"is_active"`
	IsComplimentary bool          `json:"is_complimentary"`
	VersionToken    *VersionToken `json:"version_token"`
}

// RecipeInput представляет рецепт в запросе
type RecipeInput struct {
	ProductID    string        `json:"product_id" validate:"max=255"`
	Version      int           `json:"version" validate:"min=0"`
	Lines        []RecipeLine  `json:"lines"`
	VersionToken *VersionToken `json:"version_token"`
}

// AuditContextInput представляет контекст аудита в запросе.
// Актор всегда берется из JWT, а не из тела запроса.
type AuditContextInput struct {
	Operation     string     `json:"operation" validate:"required,max=100"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Source        *string    `json:"source,omitempty" validate:"omitempty,max=100"`
	CorrelationID *string    `json:"correlation_id,omitempty" validate:"omitempty,uuid"`
}

// ToBatchRequest преобразует запрос API в BatchRequest
func (r *BatchSaveRequest) ToBatchRequest(actorID string) BatchRequest {
	batch := BatchRequest{
		Ingredients: make([]Ingredient, 0, len(r.Ingredients)),
		Recipes:     make([]RecipeContainer, 0, len(r.Recipes)),
		AuditContext: AuditContext{
			ActorID:   actorID,
			Operation: r.AuditContext.Operation,
			Source:    r.AuditContext.Source,
		},
	}
	if r.AuditContext.Timestamp != nil {
		batch.AuditContext.Timestamp = *r.AuditContext.Timestamp
	}
	if r.AuditContext.CorrelationID != nil {
		batch.AuditContext.CorrelationID = *r.AuditContext.CorrelationID
	}

	for _, in := range r.Ingredients {
		batch.Ingredients = append(batch.Ingredients, Ingredient{
			ID:              in.ID,
			Name:            in.Name,
			UnitType:        in.UnitType,
			CostPerUnit:     in.CostPerUnit,
			IsActive:        in.IsActive,
			IsComplimentary: in.IsComplimentary,
			VersionToken:    in.VersionToken,
		})
	}
	for _, in := range r.Recipes {
		batch.Recipes = append(batch.Recipes, RecipeContainer{
			ProductID:    in.ProductID,
			Version:      in.Version,
			Lines:        append([]RecipeLine(nil), in.Lines...),
			VersionToken: in.VersionToken,
		})
	}
	return batch
}

// NewBatchSaveRequest строит тело запроса API из BatchRequest
func NewBatchSaveRequest(batch BatchRequest) BatchSaveRequest {
	req := BatchSaveRequest{
		Ingredients: make([]IngredientInput, 0, len(batch.Ingredients)),
		Recipes:     make([]RecipeInput, 0, len(batch.Recipes)),
		AuditContext: AuditContextInput{
			Operation: batch.AuditContext.Operation,
			Source:    batch.AuditContext.Source,
		},
	}
	if !batch.AuditContext.Timestamp.IsZero() {
		ts := batch.AuditContext.Timestamp
		req.AuditContext.Timestamp = &ts
	}
	if batch.AuditContext.CorrelationID != "" {
		id := batch.AuditContext.CorrelationID
		req.AuditContext.CorrelationID = &id
	}
	for _, ing := range batch.Ingredients {
		req.Ingredients = append(req.Ingredients, IngredientInput{
			ID:              ing.ID,
			Name:            ing.Name,
			UnitType:        ing.UnitType,
			CostPerUnit:     ing.CostPerUnit,
			IsActive:        ing.IsActive,
			IsComplimentary: ing.IsComplimentary,
			VersionToken:    ing.VersionToken,
		})
	}
	for _, rc := range batch.Recipes {
		req.Recipes = append(req.Recipes, RecipeInput{
			ProductID:    rc.ProductID,
			Version:      rc.Version,
			Lines:        append([]RecipeLine(nil), rc.Lines...),
			VersionToken: rc.VersionToken,
		})
	}
	return req
}

// BatchSaveResponse представляет успешный ответ POST /api/batch-save
type BatchSaveResponse struct {
	Status           string                  `json:"status"`
	CorrelationID    string                  `json:"correlation_id"`
	SavedIngredients []Ingredient            `json:"saved_ingredients"`
	SavedRecipes     []RecipeContainer       `json:"saved_recipes"`
	NewVersionTokens map[string]VersionToken `json:"new_version_tokens"`
	AuditEntryID     string                  `json:"audit_entry_id"`
	RecipeCosts      []RecipeCost            `json:"recipe_costs,omitempty"`
}

// ConflictResponse представляет ответ 409 при устаревших версиях
type ConflictResponse struct {
	Error     string           `json:"error"`
	Message   string           `json:"message"`
	Conflicts []ConflictRecord `json:"conflicts"`
}

// StateRequest представляет запрос POST /api/state
type StateRequest struct {
	IngredientIDs []string `json:"ingredient_ids" validate:"max=500,dive,required"`
	RecipeIDs     []string `json:"recipe_ids" validate:"max=500,dive,required"`
}

// Refs возвращает ссылки на сущности запроса
func (r *StateRequest) Refs() []EntityRef {
	refs := make([]EntityRef, 0, len(r.IngredientIDs)+len(r.RecipeIDs))
	for _, id := range r.IngredientIDs {
		refs = append(refs, EntityRef{Kind: EntityKindIngredient, ID: id})
	}
	for _, id := range r.RecipeIDs {
		refs = append(refs, EntityRef{Kind: EntityKindRecipe, ID: id})
	}
	return refs
}

// StateResponse представляет текущее состояние сущностей на сервере
type StateResponse struct {
	Ingredients []Ingredient      `json:"ingredients"`
	Recipes     []RecipeContainer `json:"recipes"`
}

// ErrorResponse представляет стандартный ответ с ошибкой
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ValidationFieldError представляет ошибку валидации поля
type ValidationFieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// HeaderCorrelationID заголовок ответа с correlation id пакета
const HeaderCorrelationID = "X-Correlation-ID"

// Constants для ошибок
const (
	ErrorCodeStaleVersion     = "STALE_VERSION"
	ErrorCodeValidation       = "VALIDATION_ERROR"
	ErrorCodeDuplicateRequest = "DUPLICATE_REQUEST"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
	ErrorCodeBadRequest       = "BAD_REQUEST"
	ErrorCodeMissingUserID    = "missing_user_id"
	ErrorCodeMissingToken     = "missing_token"
	ErrorCodeInvalidToken     = "invalid_token_format"
)
