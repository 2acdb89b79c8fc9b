package optimistic

import (
	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// State локальное состояние клиента: ингредиенты и рецепты по ключу.
// Новые ингредиенты до подтверждения сервером хранятся под временным ключом.
type State struct {
	Ingredients map[string]models.Ingredient
	Recipes     map[string]models.RecipeContainer
}

// NewState создает пустое состояние
func NewState() State {
	return State{
		Ingredients: make(map[string]models.Ingredient),
		Recipes:     make(map[string]models.RecipeContainer),
	}
}

// StateFrom строит состояние из ответа сервера
func StateFrom(resp *models.StateResponse) State {
	s := NewState()
	if resp == nil {
		return s
	}
	for _, ing := range resp.Ingredients {
		if ing.ID != nil {
			s.Ingredients[*ing.ID] = ing.Clone()
		}
	}
	for _, rc := range resp.Recipes {
		s.Recipes[rc.ProductID] = rc.Clone()
	}
	return s
}

// Clone возвращает глубокую копию
func (s State) Clone() State {
	cp := NewState()
	for k, v := range s.Ingredients {
		cp.Ingredients[k] = v.Clone()
	}
	for k, v := range s.Recipes {
		cp.Recipes[k] = v.Clone()
	}
	return cp
}

func (s State) get(ref models.EntityRef) (models.BatchItem, bool) {
	switch ref.Kind {
	case models.EntityKindIngredient:
		v, ok := s.Ingredients[ref.ID]
		return v, ok
	case models.EntityKindRecipe:
		v, ok := s.Recipes[ref.ID]
		return v, ok
	}
	return nil, false
}

func (s State) put(key string, item models.BatchItem) {
	switch v := item.(type) {
	case models.Ingredient:
		s.Ingredients[key] = v.Clone()
	case models.RecipeContainer:
		s.Recipes[key] = v.Clone()
	}
}

func (s State) remove(ref models.EntityRef) {
	switch ref.Kind {
	case models.EntityKindIngredient:
		delete(s.Ingredients, ref.ID)
	case models.EntityKindRecipe:
		delete(s.Recipes, ref.ID)
	}
}
