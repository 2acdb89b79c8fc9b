package service

import (
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// Detection результат проверки одного вида сущностей
type Detection struct {
	Conflicts []models.ConflictRecord
	// Skipped сущности клиента, которых уже нет на сервере
	Skipped []models.EntityRef
}

// ConflictDetector сравнивает токены версий клиента с текущим состоянием сервера
type ConflictDetector struct {
	logger *zap.Logger
}

// NewConflictDetector создает детектор конфликтов
func NewConflictDetector(logger *zap.Logger) *ConflictDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictDetector{logger: logger}
}

// Detect возвращает конфликты в порядке clientItems.
// Новые сущности (без идентификатора или без токена) не проверяются.
func (d *ConflictDetector) Detect(clientItems, serverItems []models.BatchItem, kind models.EntityKind) Detection {
	server := make(map[string]models.BatchItem, len(serverItems))
	for _, item := range serverItems {
		if item.Kind() != kind {
			continue
		}
		if id := item.Identity(); id != nil {
			server[*id] = item
		}
	}

	var result Detection
	for _, item := range clientItems {
		if item.Kind() != kind {
			continue
		}
		id := item.Identity()
		if id == nil {
			continue
		}

		current, ok := server[*id]
		if !ok {
			if item.ClientVersion() == nil {
				// новый рецепт: идентификатор задан клиентом, на сервере его еще нет
				continue
			}
			ref := models.EntityRef{Kind: kind, ID: *id}
			d.logger.Warn("Entity missing on server, skipping conflict check",
				zap.String("entity", ref.String()),
				zap.String("client_version", models.TokenString(item.ClientVersion())))
			result.Skipped = append(result.Skipped, ref)
			continue
		}

		var serverToken models.VersionToken
		if t := current.ClientVersion(); t != nil {
			serverToken = *t
		}
		cmp := CompareVersions(item.ClientVersion(), serverToken)
		if !cmp.IsConflict {
			continue
		}

		name := item.DisplayName()
		if name == "" {
			name = current.DisplayName()
		}
		result.Conflicts = append(result.Conflicts, models.ConflictRecord{
			EntityType:     kind,
			EntityID:       *id,
			EntityName:     name,
			ClientVersion:  *cmp.Client,
			CurrentVersion: current.ClientVersion(),
		})
	}
	return result
}

// DetectBatch проверяет ингредиенты, затем рецепты
func (d *ConflictDetector) DetectBatch(batch *models.BatchRequest, serverItems []models.BatchItem) Detection {
	ingredients := d.Detect(models.IngredientItems(batch.Ingredients), serverItems, models.EntityKindIngredient)
	recipes := d.Detect(models.RecipeItems(batch.Recipes), serverItems, models.EntityKindRecipe)

	return Detection{
		Conflicts: append(ingredients.Conflicts, recipes.Conflicts...),
		Skipped:   append(ingredients.Skipped, recipes.Skipped...),
	}
}
