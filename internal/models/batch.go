package models

import (
	"fmt"
	"time"
)

// EntityKind тип сущности в пакете сохранения
type EntityKind string

const (
	EntityKindIngredient EntityKind = "ingredient"
	EntityKindRecipe     EntityKind = "recipe"
)

// BatchItem закрытое объединение {Ingredient, RecipeContainer}.
// Реализуется только типами этого пакета.
type BatchItem interface {
	Kind() EntityKind
	// Identity возвращает идентификатор сущности или nil для новой сущности
	Identity() *string
	DisplayName() string
	ClientVersion() *VersionToken
	batchItem()
}

func (i Ingredient) Kind() EntityKind             { return EntityKindIngredient }
func (i Ingredient) Identity() *string            { return i.ID }
func (i Ingredient) DisplayName() string          { return i.Name }
func (i Ingredient) ClientVersion() *VersionToken { return i.VersionToken }
func (Ingredient) batchItem()                     {}

func (r RecipeContainer) Kind() EntityKind             { return EntityKindRecipe }
func (r RecipeContainer) DisplayName() string          { return r.ProductID }
func (r RecipeContainer) ClientVersion() *VersionToken { return r.VersionToken }
func (RecipeContainer) batchItem()                     {}

// Identity для рецепта всегда задан: рецепт привязан к товару
func (r RecipeContainer) Identity() *string {
	id := r.ProductID
	return &id
}

// IngredientItems преобразует ингредиенты в элементы пакета
func IngredientItems(in []Ingredient) []BatchItem {
	items := make([]BatchItem, len(in))
	for i := range in {
		items[i] = in[i]
	}
	return items
}

// RecipeItems преобразует рецепты в элементы пакета
func RecipeItems(in []RecipeContainer) []BatchItem {
	items := make([]BatchItem, len(in))
	for i := range in {
		items[i] = in[i]
	}
	return items
}

// EntityRef ссылка на сущность в хранилище
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// RefOf возвращает ссылку на существующую сущность; ok=false для новой
func RefOf(item BatchItem) (EntityRef, bool) {
	id := item.Identity()
	if id == nil {
		return EntityRef{}, false
	}
	return EntityRef{Kind: item.Kind(), ID: *id}, true
}

// ConflictRecord описывает расхождение токенов версии клиента и сервера
type ConflictRecord struct {
	EntityType     EntityKind    `json:"type"`
	EntityID       string        `json:"id"`
	EntityName     string        `json:"name"`
	ClientVersion  VersionToken  `json:"clientVersion"`
	CurrentVersion *VersionToken `json:"currentVersion"`
}

// AuditContext явный контекст аудита, передаваемый через все вызовы
type AuditContext struct {
	ActorID       string    `json:"actor_id"`
	Operation     string    `json:"operation"`
	Timestamp     time.Time `json:"timestamp"`
	Source        *string   `json:"source,omitempty"`
	CorrelationID string    `json:"correlation_id"`
}

// BatchRequest набор изменений, сохраняемый одной атомарной операцией
type BatchRequest struct {
	Ingredients  []Ingredient      `json:"ingredients"`
	Recipes      []RecipeContainer `json:"recipes"`
	AuditContext AuditContext      `json:"audit_context"`
}

// Refs возвращает ссылки на все существующие сущности пакета
func (b *BatchRequest) Refs() []EntityRef {
	var refs []EntityRef
	for _, ing := range b.Ingredients {
		if ref, ok := RefOf(ing); ok {
			refs = append(refs, ref)
		}
	}
	for _, rc := range b.Recipes {
		if ref, ok := RefOf(rc); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// SavedItem результат записи одной сущности в транзакции
type SavedItem struct {
	Kind          EntityKind       `json:"kind"`
	ID            string           `json:"id"`
	PreviousToken *VersionToken    `json:"previous_token"`
	NewToken      VersionToken     `json:"new_token"`
	Ingredient    *Ingredient      `json:"ingredient,omitempty"`
	Recipe        *RecipeContainer `json:"recipe,omitempty"`
}

// EntityVersionChange переход версии сущности для журнала аудита
type EntityVersionChange struct {
	Kind   EntityKind    `json:"kind"`
	ID     string        `json:"id"`
	Before *VersionToken `json:"before"`
	After  *VersionToken `json:"after"`
}

// ValidationIssue одно нарушение структурных правил пакета
type ValidationIssue struct {
	Rule       string     `json:"rule"`
	EntityType EntityKind `json:"type,omitempty"`
	EntityID   string     `json:"id,omitempty"`
	Index      int        `json:"index"`
	Message    string     `json:"message"`
}

// Правила валидации пакета
const (
	RuleEmptyRecipe          = "empty_recipe"
	RuleDuplicateLine        = "duplicate_ingredient"
	RuleNonPositiveQty       = "non_positive_quantity"
	RuleNegativeCost         = "negative_cost"
	RuleEmptyName            = "empty_name"
	RuleInvalidUnitType      = "invalid_unit_type"
	RuleMissingIngredientRef = "missing_ingredient_ref"
	RuleDuplicateEntity      = "duplicate_entity"
	RuleEmptyProductID       = "empty_product_id"
	RuleEmptyBatch           = "empty_batch"
)

// BatchOutcome дискриминатор результата пакета
type BatchOutcome string

const (
	OutcomeSuccess  BatchOutcome = "success"
	OutcomeConflict BatchOutcome = "conflict"
	OutcomeFailure  BatchOutcome = "failure"
)

// FailureKind класс отказа
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureTransient  FailureKind = "transient"
	FailureFatal      FailureKind = "fatal"
	FailureAudit      FailureKind = "audit"
	FailureDuplicate  FailureKind = "duplicate"
)

// BatchSuccess успешный результат
type BatchSuccess struct {
	SavedIngredients []Ingredient            `json:"saved_ingredients"`
	SavedRecipes     []RecipeContainer       `json:"saved_recipes"`
	NewVersionTokens map[string]VersionToken `json:"new_version_tokens"`
	AuditEntryID     string                  `json:"audit_entry_id"`
	RecipeCosts      []RecipeCost            `json:"recipe_costs,omitempty"`
	Changes          []EntityVersionChange   `json:"-"`
}

// BatchConflict результат с конфликтами версий
type BatchConflict struct {
	Conflicts []ConflictRecord `json:"conflicts"`
	// Late true, если конфликт обнаружен хранилищем при фиксации
	Late bool `json:"-"`
}

// BatchFailure отказ; гарантирует отсутствие изменений в хранилище
type BatchFailure struct {
	Kind       FailureKind       `json:"kind"`
	Reason     string            `json:"reason"`
	Violations []ValidationIssue `json:"violations,omitempty"`
	Err        error             `json:"-"`
}

// BatchResult размеченный результат выполнения пакета
type BatchResult struct {
	Outcome       BatchOutcome   `json:"status"`
	CorrelationID string         `json:"correlation_id"`
	Success       *BatchSuccess  `json:"success,omitempty"`
	Conflict      *BatchConflict `json:"conflict,omitempty"`
	Failure       *BatchFailure  `json:"failure,omitempty"`
}

// NewSuccessResult создает успешный результат
func NewSuccessResult(correlationID string, s *BatchSuccess) *BatchResult {
	return &BatchResult{Outcome: OutcomeSuccess, CorrelationID: correlationID, Success: s}
}

// NewConflictResult создает результат с конфликтами
func NewConflictResult(correlationID string, conflicts []ConflictRecord, late bool) *BatchResult {
	return &BatchResult{
		Outcome:       OutcomeConflict,
		CorrelationID: correlationID,
		Conflict:      &BatchConflict{Conflicts: conflicts, Late: late},
	}
}

// NewFailureResult создает результат отказа
func NewFailureResult(correlationID string, kind FailureKind, err error, violations []ValidationIssue) *BatchResult {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	return &BatchResult{
		Outcome:       OutcomeFailure,
		CorrelationID: correlationID,
		Failure: &BatchFailure{
			Kind:       kind,
			Reason:     reason,
			Violations: violations,
			Err:        err,
		},
	}
}

// TokenKey ключ токена в карте new_version_tokens
func TokenKey(kind EntityKind, id string) string {
	return string(kind) + ":" + id
}
