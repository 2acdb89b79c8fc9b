package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// postgresObjectStore реализует ObjectStore поверх Postgres.
// Записи подготавливаются в памяти процесса и применяются одной транзакцией БД при фиксации;
// существующие сущности обновляются только при совпадении токена версии (compare-and-set).
type postgresObjectStore struct {
	db      DatabaseInterface
	metrics MetricsInterface
	tokens  TokenSource
	txns    *txnTable
}

// NewPostgresObjectStore создает хранилище объектов на Postgres
func NewPostgresObjectStore(deps *RepositoryDependencies) ObjectStore {
	metrics := deps.MetricsCollector
	if metrics == nil {
		metrics = noopMetrics{}
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = NewTimestampTokenSource()
	}
	return &postgresObjectStore{
		db:      deps.DB,
		metrics: metrics,
		tokens:  tokens,
		txns:    newTxnTable(time.Now),
	}
}

// GetCurrentState возвращает текущее состояние ингредиентов и рецептов
func (r *postgresObjectStore) GetCurrentState(ctx context.Context, refs []models.EntityRef) ([]models.BatchItem, error) {
	start := time.Now()
	defer func() {
		r.metrics.ObserveDBQueryDuration("get_current_state", time.Since(start))
	}()
	r.metrics.IncDBQuery("get_current_state")

	var ingredientIDs, recipeIDs []string
	for _, ref := range refs {
		switch ref.Kind {
		case models.EntityKindIngredient:
			ingredientIDs = append(ingredientIDs, ref.ID)
		case models.EntityKindRecipe:
			recipeIDs = append(recipeIDs, ref.ID)
		default:
			return nil, fmt.Errorf("unknown entity kind %q", ref.Kind)
		}
	}

	ingredients, err := r.loadIngredients(ctx, ingredientIDs)
	if err != nil {
		return nil, err
	}
	recipes, err := r.loadRecipes(ctx, recipeIDs)
	if err != nil {
		return nil, err
	}

	items := make([]models.BatchItem, 0, len(refs))
	for _, ref := range refs {
		switch ref.Kind {
		case models.EntityKindIngredient:
			if ing, ok := ingredients[ref.ID]; ok {
				items = append(items, ing)
			}
		case models.EntityKindRecipe:
			if rc, ok := recipes[ref.ID]; ok {
				items = append(items, rc)
			}
		}
	}
	return items, nil
}

func (r *postgresObjectStore) loadIngredients(ctx context.Context, ids []string) (map[string]models.Ingredient, error) {
	result := make(map[string]models.Ingredient, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
		SELECT id, name, unit_type, cost_per_unit, is_active, is_complimentary, version_token, updated_at
		FROM costing.ingredients
		WHERE id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, ClassifyDatabaseError(err, "query ingredients")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ing       models.Ingredient
			id        string
			token     string
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &ing.Name, &ing.UnitType, &ing.CostPerUnit, &ing.IsActive,
			&ing.IsComplimentary, &token, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ingredient: %w", err)
		}
		ing.ID = &id
		ing.VersionToken = models.TokenPtr(token)
		ing.UpdatedAt = &updatedAt
		result[id] = ing
	}
	if err := rows.Err(); err != nil {
		return nil, ClassifyDatabaseError(err, "iterate ingredients")
	}
	return result, nil
}

func (r *postgresObjectStore) loadRecipes(ctx context.Context, ids []string) (map[string]models.RecipeContainer, error) {
	result := make(map[string]models.RecipeContainer, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query := `
		SELECT product_id, version, version_token, updated_at
		FROM costing.recipes
		WHERE product_id = ANY($1)
	`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, ClassifyDatabaseError(err, "query recipes")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rc        models.RecipeContainer
			token     string
			updatedAt time.Time
		)
		if err := rows.Scan(&rc.ProductID, &rc.Version, &token, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		rc.VersionToken = models.TokenPtr(token)
		rc.UpdatedAt = &updatedAt
		result[rc.ProductID] = rc
	}
	if err := rows.Err(); err != nil {
		return nil, ClassifyDatabaseError(err, "iterate recipes")
	}

	linesQuery := `
		SELECT product_id, ingredient_id, quantity, unit
		FROM costing.recipe_lines
		WHERE product_id = ANY($1)
		ORDER BY product_id, position
	`
	lineRows, err := r.db.Query(ctx, linesQuery, ids)
	if err != nil {
		return nil, ClassifyDatabaseError(err, "query recipe lines")
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var (
			productID string
			line      models.RecipeLine
		)
		if err := lineRows.Scan(&productID, &line.IngredientID, &line.Quantity, &line.Unit); err != nil {
			return nil, fmt.Errorf("failed to scan recipe line: %w", err)
		}
		if rc, ok := result[productID]; ok {
			rc.Lines = append(rc.Lines, line)
			result[productID] = rc
		}
	}
	if err := lineRows.Err(); err != nil {
		return nil, ClassifyDatabaseError(err, "iterate recipe lines")
	}
	return result, nil
}

// StartTransaction открывает логическую транзакцию (без обращения к БД)
func (r *postgresObjectStore) StartTransaction(ctx context.Context) (TxnID, error) {
	return r.txns.start(), nil
}

// BulkSave подготавливает записи (без обращения к БД)
func (r *postgresObjectStore) BulkSave(ctx context.Context, txn TxnID, items []models.BatchItem) ([]models.SavedItem, error) {
	return r.txns.stage(txn, items, r.tokens)
}

// RollbackTransaction отбрасывает подготовленные записи
func (r *postgresObjectStore) RollbackTransaction(ctx context.Context, txn TxnID) error {
	r.txns.drop(txn)
	return nil
}

// ExpireStaged отбрасывает зависшие транзакции
func (r *postgresObjectStore) ExpireStaged(ctx context.Context, olderThan time.Time) (int, error) {
	return r.txns.expire(olderThan), nil
}

// CommitTransaction применяет подготовленные записи одной транзакцией БД
func (r *postgresObjectStore) CommitTransaction(ctx context.Context, txnID TxnID) error {
	staged, err := r.txns.take(txnID)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		r.metrics.ObserveDBQueryDuration("commit_batch", time.Since(start))
	}()
	r.metrics.IncDBQuery("commit_batch")

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return ClassifyDatabaseError(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	// Ингредиенты раньше рецептов: строки рецептов ссылаются на ингредиенты
	writes := append([]stagedWrite(nil), staged.writes...)
	sort.SliceStable(writes, func(i, j int) bool {
		return writes[i].ingredient != nil && writes[j].ingredient == nil
	})

	var stale []VersionStale
	for _, w := range writes {
		applied, err := r.applyWrite(ctx, tx, w)
		if err != nil {
			return err
		}
		if !applied {
			actual, err := r.currentToken(ctx, tx, w.ref)
			if err != nil {
				return err
			}
			stale = append(stale, VersionStale{Ref: w.ref, Expected: w.expected, Actual: actual})
		}
	}

	if len(stale) > 0 {
		return &VersionConflictError{Stale: stale}
	}

	if err := tx.Commit(ctx); err != nil {
		return ClassifyDatabaseError(err, "commit transaction")
	}
	return nil
}

// applyWrite выполняет compare-and-set; false, если токен не совпал
func (r *postgresObjectStore) applyWrite(ctx context.Context, tx Tx, w stagedWrite) (bool, error) {
	switch {
	case w.ingredient != nil:
		ing := w.ingredient
		var (
			affected int64
			err      error
		)
		if w.expected == nil {
			affected, err = tx.Exec(ctx, `
				INSERT INTO costing.ingredients (
					id, name, unit_type, cost_per_unit, is_active, is_complimentary, version_token, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO NOTHING`,
				*ing.ID, ing.Name, ing.UnitType, ing.CostPerUnit, ing.IsActive, ing.IsComplimentary,
				string(w.newToken), *ing.UpdatedAt,
			)
		} else {
			affected, err = tx.Exec(ctx, `
				UPDATE costing.ingredients
				SET name = $2, unit_type = $3, cost_per_unit = $4, is_active = $5,
					is_complimentary = $6, version_token = $7, updated_at = $8
				WHERE id = $1 AND version_token = $9`,
				*ing.ID, ing.Name, ing.UnitType, ing.CostPerUnit, ing.IsActive, ing.IsComplimentary,
				string(w.newToken), *ing.UpdatedAt, string(*w.expected),
			)
		}
		if err != nil {
			return false, ClassifyDatabaseError(err, "save ingredient")
		}
		return affected == 1, nil

	case w.recipe != nil:
		rc := w.recipe
		var (
			affected int64
			err      error
		)
		if w.expected == nil {
			affected, err = tx.Exec(ctx, `
				INSERT INTO costing.recipes (product_id, version, version_token, updated_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (product_id) DO NOTHING`,
				rc.ProductID, rc.Version, string(w.newToken), *rc.UpdatedAt,
			)
		} else {
			affected, err = tx.Exec(ctx, `
				UPDATE costing.recipes
				SET version = $2, version_token = $3, updated_at = $4
				WHERE product_id = $1 AND version_token = $5`,
				rc.ProductID, rc.Version, string(w.newToken), *rc.UpdatedAt, string(*w.expected),
			)
		}
		if err != nil {
			return false, ClassifyDatabaseError(err, "save recipe")
		}
		if affected != 1 {
			return false, nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM costing.recipe_lines WHERE product_id = $1`, rc.ProductID); err != nil {
			return false, ClassifyDatabaseError(err, "replace recipe lines")
		}
		for i, line := range rc.Lines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO costing.recipe_lines (product_id, position, ingredient_id, quantity, unit)
				VALUES ($1, $2, $3, $4, $5)`,
				rc.ProductID, i, line.IngredientID, line.Quantity, line.Unit,
			); err != nil {
				return false, ClassifyDatabaseError(err, "insert recipe line")
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("empty staged write for %s", w.ref)
}

func (r *postgresObjectStore) currentToken(ctx context.Context, tx Tx, ref models.EntityRef) (*models.VersionToken, error) {
	var query string
	switch ref.Kind {
	case models.EntityKindIngredient:
		query = `SELECT version_token FROM costing.ingredients WHERE id = $1`
	case models.EntityKindRecipe:
		query = `SELECT version_token FROM costing.recipes WHERE product_id = $1`
	default:
		return nil, fmt.Errorf("unknown entity kind %q", ref.Kind)
	}

	var token string
	if err := tx.QueryRow(ctx, query, ref.ID).Scan(&token); err != nil {
		classified := ClassifyDatabaseError(err, "read version token")
		if IsNotFound(classified) {
			return nil, nil
		}
		return nil, classified
	}
	return models.TokenPtr(token), nil
}
