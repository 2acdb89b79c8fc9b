package service

import (
	"fmt"
	"strings"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// BatchValidator проверяет структурные правила пакета до любых обращений к хранилищу.
// Правила применяются по порядку, нарушения накапливаются.
type BatchValidator struct{}

// NewBatchValidator создает валидатор пакета
func NewBatchValidator() *BatchValidator {
	return &BatchValidator{}
}

// Validate возвращает все нарушения; пустой список означает валидный пакет
func (v *BatchValidator) Validate(batch *models.BatchRequest) []models.ValidationIssue {
	if len(batch.Ingredients) == 0 && len(batch.Recipes) == 0 {
		return []models.ValidationIssue{{
			Rule:    models.RuleEmptyBatch,
			Message: "batch has no ingredients and no recipes",
		}}
	}

	var issues []models.ValidationIssue

	// 1. Рецепт содержит хотя бы одну строку
	for i, rc := range batch.Recipes {
		if len(rc.Lines) == 0 {
			issues = append(issues, recipeIssue(models.RuleEmptyRecipe, i, rc,
				fmt.Sprintf("recipe %s has no ingredients", rc.ProductID)))
		}
	}

	// 2. Ингредиент не повторяется в одном рецепте
	for i, rc := range batch.Recipes {
		seen := make(map[string]struct{}, len(rc.Lines))
		reported := make(map[string]struct{})
		for _, line := range rc.Lines {
			if line.IngredientID == "" {
				continue
			}
			if _, dup := seen[line.IngredientID]; dup {
				if _, done := reported[line.IngredientID]; !done {
					issues = append(issues, recipeIssue(models.RuleDuplicateLine, i, rc,
						fmt.Sprintf("recipe %s references ingredient %s more than once", rc.ProductID, line.IngredientID)))
					reported[line.IngredientID] = struct{}{}
				}
				continue
			}
			seen[line.IngredientID] = struct{}{}
		}
	}

	// 3. Количество в строке рецепта положительно
	for i, rc := range batch.Recipes {
		for j, line := range rc.Lines {
			if line.Quantity <= 0 {
				issues = append(issues, recipeIssue(models.RuleNonPositiveQty, i, rc,
					fmt.Sprintf("recipe %s line %d has non-positive quantity %g", rc.ProductID, j+1, line.Quantity)))
			}
		}
	}

	// 4. Стоимость единицы ингредиента неотрицательна
	for i, ing := range batch.Ingredients {
		if ing.CostPerUnit < 0 {
			issues = append(issues, ingredientIssue(models.RuleNegativeCost, i, ing,
				fmt.Sprintf("ingredient %s has negative cost per unit %g", ingredientLabel(i, ing), ing.CostPerUnit)))
		}
	}

	// 5. Имя ингредиента не пустое
	for i, ing := range batch.Ingredients {
		if strings.TrimSpace(ing.Name) == "" {
			issues = append(issues, ingredientIssue(models.RuleEmptyName, i, ing,
				fmt.Sprintf("ingredient %s has empty name", ingredientLabel(i, ing))))
		}
	}

	for i, ing := range batch.Ingredients {
		if !ing.UnitType.IsValid() {
			issues = append(issues, ingredientIssue(models.RuleInvalidUnitType, i, ing,
				fmt.Sprintf("ingredient %s has invalid unit type %q", ingredientLabel(i, ing), ing.UnitType)))
		}
	}

	for i, rc := range batch.Recipes {
		for j, line := range rc.Lines {
			if line.IngredientID == "" {
				issues = append(issues, recipeIssue(models.RuleMissingIngredientRef, i, rc,
					fmt.Sprintf("recipe %s line %d has no ingredient reference", rc.ProductID, j+1)))
			}
		}
	}

	seenIngredients := make(map[string]struct{}, len(batch.Ingredients))
	for i, ing := range batch.Ingredients {
		if ing.ID == nil {
			continue
		}
		if _, dup := seenIngredients[*ing.ID]; dup {
			issues = append(issues, ingredientIssue(models.RuleDuplicateEntity, i, ing,
				fmt.Sprintf("ingredient %s appears more than once in the batch", *ing.ID)))
			continue
		}
		seenIngredients[*ing.ID] = struct{}{}
	}

	seenRecipes := make(map[string]struct{}, len(batch.Recipes))
	for i, rc := range batch.Recipes {
		if strings.TrimSpace(rc.ProductID) == "" {
			issues = append(issues, recipeIssue(models.RuleEmptyProductID, i, rc,
				fmt.Sprintf("recipe #%d has no product id", i+1)))
			continue
		}
		if _, dup := seenRecipes[rc.ProductID]; dup {
			issues = append(issues, recipeIssue(models.RuleDuplicateEntity, i, rc,
				fmt.Sprintf("recipe %s appears more than once in the batch", rc.ProductID)))
			continue
		}
		seenRecipes[rc.ProductID] = struct{}{}
	}

	return issues
}

func recipeIssue(rule string, index int, rc models.RecipeContainer, msg string) models.ValidationIssue {
	return models.ValidationIssue{
		Rule:       rule,
		EntityType: models.EntityKindRecipe,
		EntityID:   rc.ProductID,
		Index:      index,
		Message:    msg,
	}
}

func ingredientIssue(rule string, index int, ing models.Ingredient, msg string) models.ValidationIssue {
	issue := models.ValidationIssue{
		Rule:       rule,
		EntityType: models.EntityKindIngredient,
		Index:      index,
		Message:    msg,
	}
	if ing.ID != nil {
		issue.EntityID = *ing.ID
	}
	return issue
}

func ingredientLabel(index int, ing models.Ingredient) string {
	if ing.ID != nil {
		return *ing.ID
	}
	if ing.Name != "" {
		return fmt.Sprintf("%q", ing.Name)
	}
	return fmt.Sprintf("#%d", index+1)
}
