package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
)

func strPtr(s string) *string { return &s }

func tok(s string) *models.VersionToken { return models.TokenPtr(s) }

func ingredient(id, name string, cost float64, token string) models.Ingredient {
	ing := models.Ingredient{
		Name:        name,
		UnitType:    models.UnitTypeWeight,
		CostPerUnit: cost,
		IsActive:    true,
	}
	if id != "" {
		ing.ID = strPtr(id)
	}
	if token != "" {
		ing.VersionToken = tok(token)
	}
	return ing
}

func recipe(productID, token string, lines ...models.RecipeLine) models.RecipeContainer {
	rc := models.RecipeContainer{ProductID: productID, Version: 1, Lines: lines}
	if token != "" {
		rc.VersionToken = tok(token)
	}
	return rc
}

func line(ingredientID string, qty float64) models.RecipeLine {
	return models.RecipeLine{IngredientID: ingredientID, Quantity: qty, Unit: "g"}
}

func auditContext() models.AuditContext {
	return models.AuditContext{
		ActorID:       "user-1",
		Operation:     "global_save",
		Timestamp:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		CorrelationID: "corr-1",
	}
}

// newTestOrchestrator собирает оркестратор над хранилищем в памяти без пауз между повторами
func newTestOrchestrator(store storage.ObjectStore, sink storage.AuditSink) *SaveOrchestrator {
	o := NewSaveOrchestrator(store, NewAuditEmitter(sink, zap.NewNop()), RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		CallTimeout: time.Second,
	}, zap.NewNop())
	o.retry.sleep = func(context.Context, time.Duration) error { return nil }
	return o
}
