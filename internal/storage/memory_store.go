package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// StoreOp имя операции хранилища для подсчета вызовов и внедрения отказов
type StoreOp string

const (
	OpGetState StoreOp = "get_state"
	OpStart    StoreOp = "start"
	OpBulkSave StoreOp = "bulk_save"
	OpCommit   StoreOp = "commit"
	OpRollback StoreOp = "rollback"
)

// FaultFunc возвращает ошибку, которую операция op должна вернуть на call-м вызове (с 1)
type FaultFunc func(op StoreOp, call int) error

// MemoryObjectStore хранилище объектов в памяти с подготовкой записей и атомарной фиксацией.
// GetCurrentState и CommitTransaction считаются сетевыми обращениями;
// StartTransaction, BulkSave и RollbackTransaction работают с локальной подготовкой.
type MemoryObjectStore struct {
	mu          sync.RWMutex
	ingredients map[string]models.Ingredient
	recipes     map[string]models.RecipeContainer
	txns        *txnTable
	tokens      TokenSource

	faultMu sync.Mutex
	fault   FaultFunc
	calls   map[StoreOp]int
}

// NewMemoryObjectStore создает пустое хранилище
func NewMemoryObjectStore(tokens TokenSource) *MemoryObjectStore {
	if tokens == nil {
		tokens = NewCounterTokenSource()
	}
	return &MemoryObjectStore{
		ingredients: make(map[string]models.Ingredient),
		recipes:     make(map[string]models.RecipeContainer),
		txns:        newTxnTable(time.Now),
		tokens:      tokens,
		calls:       make(map[StoreOp]int),
	}
}

// SetFault устанавливает функцию внедрения отказов (nil - отключить)
func (s *MemoryObjectStore) SetFault(f FaultFunc) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.fault = f
}

// Calls возвращает число вызовов операции
func (s *MemoryObjectStore) Calls(op StoreOp) int {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.calls[op]
}

// RoundTrips возвращает число сетевых обращений к хранилищу
func (s *MemoryObjectStore) RoundTrips() int {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.calls[OpGetState] + s.calls[OpCommit]
}

// ResetCalls обнуляет счетчики вызовов
func (s *MemoryObjectStore) ResetCalls() {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.calls = make(map[StoreOp]int)
}

// OpenTransactions возвращает число незавершенных транзакций
func (s *MemoryObjectStore) OpenTransactions() int {
	return s.txns.open()
}

func (s *MemoryObjectStore) enter(op StoreOp) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.calls[op]++
	if s.fault != nil {
		return s.fault(op, s.calls[op])
	}
	return nil
}

// Seed записывает сущности напрямую, минуя транзакции; сущности без токена получают новый
func (s *MemoryObjectStore) Seed(items ...models.BatchItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		switch v := item.(type) {
		case models.Ingredient:
			ing := v.Clone()
			if ing.VersionToken == nil {
				t := s.tokens.Next()
				ing.VersionToken = &t
			}
			s.ingredients[*ing.ID] = ing
		case models.RecipeContainer:
			rc := v.Clone()
			if rc.VersionToken == nil {
				t := s.tokens.Next()
				rc.VersionToken = &t
			}
			s.recipes[rc.ProductID] = rc
		}
	}
}

// Snapshot возвращает все видимые сущности в детерминированном порядке
func (s *MemoryObjectStore) Snapshot() ([]models.Ingredient, []models.RecipeContainer) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ings := make([]models.Ingredient, 0, len(s.ingredients))
	for _, ing := range s.ingredients {
		ings = append(ings, ing.Clone())
	}
	sort.Slice(ings, func(i, j int) bool { return *ings[i].ID < *ings[j].ID })

	recs := make([]models.RecipeContainer, 0, len(s.recipes))
	for _, rc := range s.recipes {
		recs = append(recs, rc.Clone())
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ProductID < recs[j].ProductID })

	return ings, recs
}

// GetCurrentState возвращает текущее состояние сущностей в порядке ссылок
func (s *MemoryObjectStore) GetCurrentState(ctx context.Context, refs []models.EntityRef) ([]models.BatchItem, error) {
	if err := s.enter(OpGetState); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.BatchItem, 0, len(refs))
	for _, ref := range refs {
		switch ref.Kind {
		case models.EntityKindIngredient:
			if ing, ok := s.ingredients[ref.ID]; ok {
				items = append(items, ing.Clone())
			}
		case models.EntityKindRecipe:
			if rc, ok := s.recipes[ref.ID]; ok {
				items = append(items, rc.Clone())
			}
		default:
			return nil, fmt.Errorf("unknown entity kind %q", ref.Kind)
		}
	}
	return items, nil
}

// StartTransaction открывает транзакцию
func (s *MemoryObjectStore) StartTransaction(ctx context.Context) (TxnID, error) {
	if err := s.enter(OpStart); err != nil {
		return "", err
	}
	return s.txns.start(), nil
}

// BulkSave подготавливает записи
func (s *MemoryObjectStore) BulkSave(ctx context.Context, txn TxnID, items []models.BatchItem) ([]models.SavedItem, error) {
	if err := s.enter(OpBulkSave); err != nil {
		return nil, err
	}
	return s.txns.stage(txn, items, s.tokens)
}

// CommitTransaction проверяет токены и применяет все записи разом
func (s *MemoryObjectStore) CommitTransaction(ctx context.Context, txn TxnID) error {
	staged, err := s.txns.take(txn)
	if err != nil {
		return err
	}
	if err := s.enter(OpCommit); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []VersionStale
	for _, w := range staged.writes {
		current := s.currentToken(w.ref)
		if !tokensEqual(current, w.expected) {
			stale = append(stale, VersionStale{Ref: w.ref, Expected: w.expected, Actual: current})
		}
	}
	if len(stale) > 0 {
		return &VersionConflictError{Stale: stale}
	}

	if err := s.checkReferences(staged); err != nil {
		return err
	}

	for _, w := range staged.writes {
		if w.ingredient != nil {
			s.ingredients[w.ref.ID] = w.ingredient.Clone()
		}
		if w.recipe != nil {
			s.recipes[w.ref.ID] = w.recipe.Clone()
		}
	}
	return nil
}

// RollbackTransaction отбрасывает подготовленные записи
func (s *MemoryObjectStore) RollbackTransaction(ctx context.Context, txn TxnID) error {
	if err := s.enter(OpRollback); err != nil {
		return err
	}
	s.txns.drop(txn)
	return nil
}

// ExpireStaged отбрасывает зависшие транзакции
func (s *MemoryObjectStore) ExpireStaged(ctx context.Context, olderThan time.Time) (int, error) {
	return s.txns.expire(olderThan), nil
}

func (s *MemoryObjectStore) currentToken(ref models.EntityRef) *models.VersionToken {
	switch ref.Kind {
	case models.EntityKindIngredient:
		if ing, ok := s.ingredients[ref.ID]; ok {
			return ing.VersionToken
		}
	case models.EntityKindRecipe:
		if rc, ok := s.recipes[ref.ID]; ok {
			return rc.VersionToken
		}
	}
	return nil
}

// checkReferences проверяет, что строки рецептов ссылаются на существующие ингредиенты
func (s *MemoryObjectStore) checkReferences(txn *stagedTxn) error {
	stagedIngredients := make(map[string]struct{})
	for _, w := range txn.writes {
		if w.ingredient != nil {
			stagedIngredients[w.ref.ID] = struct{}{}
		}
	}
	for _, w := range txn.writes {
		if w.recipe == nil {
			continue
		}
		for _, line := range w.recipe.Lines {
			if _, ok := s.ingredients[line.IngredientID]; ok {
				continue
			}
			if _, ok := stagedIngredients[line.IngredientID]; ok {
				continue
			}
			return fmt.Errorf("invalid reference during commit: recipe %s references unknown ingredient %s",
				w.ref.ID, line.IngredientID)
		}
	}
	return nil
}
