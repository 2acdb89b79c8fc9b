package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
)

// stagedWrite одна подготовленная запись: ожидаемый токен и новое состояние
type stagedWrite struct {
	ref        models.EntityRef
	expected   *models.VersionToken
	newToken   models.VersionToken
	ingredient *models.Ingredient
	recipe     *models.RecipeContainer
}

// stagedTxn подготовленная, но еще не примененная транзакция
type stagedTxn struct {
	id        TxnID
	startedAt time.Time
	writes    []stagedWrite
	seen      map[models.EntityRef]struct{}
}

// txnTable реестр открытых транзакций; транзакция принадлежит одному вызову execute
type txnTable struct {
	mu   sync.Mutex
	txns map[TxnID]*stagedTxn
	now  func() time.Time
}

func newTxnTable(now func() time.Time) *txnTable {
	return &txnTable{
		txns: make(map[TxnID]*stagedTxn),
		now:  now,
	}
}

func (t *txnTable) start() TxnID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := TxnID(uuid.NewString())
	t.txns[id] = &stagedTxn{
		id:        id,
		startedAt: t.now(),
		seen:      make(map[models.EntityRef]struct{}),
	}
	return id
}

// stage добавляет записи в транзакцию под блокировкой реестра
func (t *txnTable) stage(id TxnID, items []models.BatchItem, tokens TokenSource) ([]models.SavedItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	txn, ok := t.txns[id]
	if !ok {
		return nil, ErrUnknownTransaction
	}

	now := t.now().UTC()
	writes := make([]stagedWrite, 0, len(items))
	saved := make([]models.SavedItem, 0, len(items))
	pending := make(map[models.EntityRef]struct{}, len(items))

	for _, item := range items {
		w, err := buildWrite(item, tokens, now)
		if err != nil {
			return nil, err
		}
		if _, dup := txn.seen[w.ref]; dup {
			return nil, fmt.Errorf("entity %s staged twice in transaction %s", w.ref, id)
		}
		if _, dup := pending[w.ref]; dup {
			return nil, fmt.Errorf("entity %s staged twice in transaction %s", w.ref, id)
		}
		pending[w.ref] = struct{}{}
		writes = append(writes, w)
		saved = append(saved, w.savedItem())
	}

	for ref := range pending {
		txn.seen[ref] = struct{}{}
	}
	txn.writes = append(txn.writes, writes...)
	return saved, nil
}

// take извлекает транзакцию из реестра; после этого она не может быть применена повторно
func (t *txnTable) take(id TxnID) (*stagedTxn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	txn, ok := t.txns[id]
	if !ok {
		return nil, ErrUnknownTransaction
	}
	delete(t.txns, id)
	return txn, nil
}

func (t *txnTable) drop(id TxnID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.txns[id]
	delete(t.txns, id)
	return ok
}

func (t *txnTable) expire(olderThan time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, txn := range t.txns {
		if txn.startedAt.Before(olderThan) {
			delete(t.txns, id)
			n++
		}
	}
	return n
}

func (t *txnTable) open() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.txns)
}

func buildWrite(item models.BatchItem, tokens TokenSource, now time.Time) (stagedWrite, error) {
	switch v := item.(type) {
	case models.Ingredient:
		ing := v.Clone()
		if ing.ID == nil {
			id := uuid.NewString()
			ing.ID = &id
		}
		token := tokens.Next()
		ing.VersionToken = &token
		ing.UpdatedAt = &now
		return stagedWrite{
			ref:        models.EntityRef{Kind: models.EntityKindIngredient, ID: *ing.ID},
			expected:   v.VersionToken,
			newToken:   token,
			ingredient: &ing,
		}, nil
	case models.RecipeContainer:
		rc := v.Clone()
		rc.Version = v.Version + 1
		token := tokens.Next()
		rc.VersionToken = &token
		rc.UpdatedAt = &now
		return stagedWrite{
			ref:      models.EntityRef{Kind: models.EntityKindRecipe, ID: rc.ProductID},
			expected: v.VersionToken,
			newToken: token,
			recipe:   &rc,
		}, nil
	default:
		return stagedWrite{}, fmt.Errorf("unsupported batch item %T", item)
	}
}

func (w stagedWrite) savedItem() models.SavedItem {
	saved := models.SavedItem{
		Kind:          w.ref.Kind,
		ID:            w.ref.ID,
		PreviousToken: w.expected,
		NewToken:      w.newToken,
	}
	if w.ingredient != nil {
		ing := w.ingredient.Clone()
		saved.Ingredient = &ing
	}
	if w.recipe != nil {
		rc := w.recipe.Clone()
		saved.Recipe = &rc
	}
	return saved
}

func tokensEqual(a, b *models.VersionToken) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
