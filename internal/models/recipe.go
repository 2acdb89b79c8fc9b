package models

import (
	"time"
)

// VersionToken непрозрачный отпечаток сохраненного состояния сущности.
// Сравнивается только на точное равенство строк.
type VersionToken string

// TokenPtr возвращает указатель на токен версии
func TokenPtr(s string) *VersionToken {
	t := VersionToken(s)
	return &t
}

// TokenString возвращает строковое представление nullable токена
func TokenString(t *VersionToken) string {
	if t == nil {
		return "null"
	}
	return string(*t)
}

// UnitType тип единицы измерения ингредиента
type UnitType string

const (
	UnitTypeWeight UnitType = "weight"
	UnitTypeVolume UnitType = "volume"
	UnitTypeEach   UnitType = "each"
)

// IsValid проверяет допустимость типа единицы измерения
func (u UnitType) IsValid() bool {
	switch u {
	case UnitTypeWeight, UnitTypeVolume, UnitTypeEach:
		return true
	}
	return false
}

// Ingredient представляет ингредиент (метаобъект магазина)
type Ingredient struct {
	ID              *string       `json:"id" db:"id"`
	Name            string        `json:"name" db:"name"`
	UnitType        UnitType      `json:"unit_type" db:"unit_type"`
	CostPerUnit     float64       `json:"cost_per_unit" db:"cost_per_unit"`
	IsActive        bool          `json:"is_active" db:"is_active"`
	IsComplimentary bool          `json:"is_complimentary" db:"is_complimentary"`
	VersionToken    *VersionToken `json:"version_token" db:"version_token"`
	UpdatedAt       *time.Time    `json:"updated_at,omitempty" db:"updated_at"`
}

// RecipeLine представляет строку рецепта: ингредиент и его количество
type RecipeLine struct {
	IngredientID string  `json:"ingredient_id" db:"ingredient_id"`
	Quantity     float64 `json:"quantity" db:"quantity"`
	Unit         string  `json:"unit" db:"unit"`
}

// RecipeContainer представляет рецепт товара с упорядоченным списком строк
type RecipeContainer struct {
	ProductID    string        `json:"product_id" db:"product_id"`
	Version      int           `json:"version" db:"version"`
	Lines        []RecipeLine  `json:"lines"`
	VersionToken *VersionToken `json:"version_token" db:"version_token"`
	UpdatedAt    *time.Time    `json:"updated_at,omitempty" db:"updated_at"`
}

// Clone возвращает глубокую копию ингредиента
func (i Ingredient) Clone() Ingredient {
	cp := i
	if i.ID != nil {
		id := *i.ID
		cp.ID = &id
	}
	if i.VersionToken != nil {
		t := *i.VersionToken
		cp.VersionToken = &t
	}
	if i.UpdatedAt != nil {
		ts := *i.UpdatedAt
		cp.UpdatedAt = &ts
	}
	return cp
}

// Clone возвращает глубокую копию рецепта
func (r RecipeContainer) Clone() RecipeContainer {
	cp := r
	cp.Lines = append([]RecipeLine(nil), r.Lines...)
	if r.VersionToken != nil {
		t := *r.VersionToken
		cp.VersionToken = &t
	}
	if r.UpdatedAt != nil {
		ts := *r.UpdatedAt
		cp.UpdatedAt = &ts
	}
	return cp
}

// RecipeCost итоговая себестоимость рецепта
type RecipeCost struct {
	ProductID string  `json:"product_id"`
	TotalCost float64 `json:"total_cost"`
	// MissingIngredients ингредиенты, стоимость которых неизвестна
	MissingIngredients []string `json:"missing_ingredients,omitempty"`
}
