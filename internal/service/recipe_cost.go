package service

import (
	"math"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// CostRecipes считает себестоимость рецептов: сумма quantity × cost_per_unit по строкам.
// Значения из batch перекрывают серверные; бесплатные (complimentary) ингредиенты не учитываются.
func CostRecipes(recipes []models.RecipeContainer, batch []models.Ingredient, server []models.BatchItem) []models.RecipeCost {
	if len(recipes) == 0 {
		return nil
	}

	prices := make(map[string]models.Ingredient, len(batch)+len(server))
	for _, item := range server {
		if ing, ok := item.(models.Ingredient); ok && ing.ID != nil {
			prices[*ing.ID] = ing
		}
	}
	for _, ing := range batch {
		if ing.ID != nil {
			prices[*ing.ID] = ing
		}
	}

	costs := make([]models.RecipeCost, 0, len(recipes))
	for _, rc := range recipes {
		cost := models.RecipeCost{ProductID: rc.ProductID}
		for _, line := range rc.Lines {
			ing, ok := prices[line.IngredientID]
			if !ok {
				cost.MissingIngredients = append(cost.MissingIngredients, line.IngredientID)
				continue
			}
			if ing.IsComplimentary {
				continue
			}
			cost.TotalCost += line.Quantity * ing.CostPerUnit
		}
		cost.TotalCost = math.Round(cost.TotalCost*10000) / 10000
		costs = append(costs, cost)
	}
	return costs
}

// referencedIngredients возвращает ингредиенты строк рецептов, которых нет среди ингредиентов пакета
func referencedIngredients(batch *models.BatchRequest) []models.EntityRef {
	inBatch := make(map[string]struct{}, len(batch.Ingredients))
	for _, ing := range batch.Ingredients {
		if ing.ID != nil {
			inBatch[*ing.ID] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var refs []models.EntityRef
	for _, rc := range batch.Recipes {
		for _, line := range rc.Lines {
			if line.IngredientID == "" {
				continue
			}
			if _, ok := inBatch[line.IngredientID]; ok {
				continue
			}
			if _, ok := seen[line.IngredientID]; ok {
				continue
			}
			seen[line.IngredientID] = struct{}{}
			refs = append(refs, models.EntityRef{Kind: models.EntityKindIngredient, ID: line.IngredientID})
		}
	}
	return refs
}
