package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/metrics"
)

// ErrClosed контроллер уже остановлен
var ErrClosed = errors.New("optimistic controller is closed")

// Saver отправляет пакет оркестратору (в процессе или по HTTP)
type Saver interface {
	SaveBatch(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, error)
}

// StateReader читает текущее состояние сервера для повторной синхронизации после конфликта
type StateReader interface {
	FetchState(ctx context.Context, refs []models.EntityRef) (*models.StateResponse, error)
}

// Mutation набор правок пользователя, применяемых одной операцией
type Mutation struct {
	Ingredients []models.Ingredient
	Recipes     []models.RecipeContainer
	Operation   string
	Source      *string
}

// Options настройки контроллера
type Options struct {
	ActorID string
	// Timeout ограничивает одно обращение к серверу
	Timeout     time.Duration
	Notifier    Notifier
	StateReader StateReader
	Logger      *zap.Logger
}

// snapshotEntry значение сущности до применения операции
type snapshotEntry struct {
	key        models.EntityRef
	present    bool
	item       models.BatchItem
	prevWriter string
}

// operation одна оптимистичная операция; снимок принадлежит только ей
type operation struct {
	handle      *OperationHandle
	snapshot    []snapshotEntry
	pendingKeys []string
	invalidated bool
}

// Controller применяет правки локально сразу, отправляет их на сервер асинхронно
// и откатывает к снимку, если сервер отклонил пакет
type Controller struct {
	mu          sync.Mutex
	state       State
	lastWriter  map[models.EntityRef]string
	ops         map[string]*operation
	closed      bool
	wg          sync.WaitGroup
	saver       Saver
	stateReader StateReader
	notifier    Notifier
	logger      *zap.Logger
	actorID     string
	timeout     time.Duration
	now         func() time.Time
}

// NewController создает контроллер над начальным состоянием
func NewController(initial State, saver Saver, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Controller{
		state:       initial.Clone(),
		lastWriter:  make(map[models.EntityRef]string),
		ops:         make(map[string]*operation),
		saver:       saver,
		stateReader: opts.StateReader,
		notifier:    notifier,
		logger:      logger,
		actorID:     opts.ActorID,
		timeout:     timeout,
		now:         time.Now,
	}
}

// State возвращает копию текущего локального состояния
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Ingredient возвращает ингредиент из локального состояния
func (c *Controller) Ingredient(id string) (models.Ingredient, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ing, ok := c.state.Ingredients[id]
	return ing.Clone(), ok
}

// Recipe возвращает рецепт из локального состояния
func (c *Controller) Recipe(productID string) (models.RecipeContainer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.state.Recipes[productID]
	return rc.Clone(), ok
}

// Pending возвращает число неразрешенных операций
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

// Apply сразу меняет локальное состояние, сохраняет снимок и отправляет пакет на сервер.
// Вызов не блокируется на сети; итог доступен через OperationHandle.
func (c *Controller) Apply(m Mutation) (*OperationHandle, error) {
	if len(m.Ingredients) == 0 && len(m.Recipes) == 0 {
		return nil, fmt.Errorf("mutation has no changes")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	opID := uuid.NewString()
	op := &operation{handle: newOperationHandle(opID)}
	batch := &models.BatchRequest{
		AuditContext: models.AuditContext{
			ActorID:       c.actorID,
			Operation:     m.Operation,
			Timestamp:     c.now().UTC(),
			Source:        m.Source,
			CorrelationID: opID,
		},
	}
	if batch.AuditContext.Operation == "" {
		batch.AuditContext.Operation = "global_save"
	}

	for i, ing := range m.Ingredients {
		ing = ing.Clone()
		var key string
		if ing.ID == nil {
			key = pendingKey(opID, i)
			op.pendingKeys = append(op.pendingKeys, key)
		} else {
			key = *ing.ID
			if ing.VersionToken == nil {
				if local, ok := c.state.Ingredients[key]; ok {
					ing.VersionToken = local.VersionToken
				}
			}
		}
		c.stage(op, models.EntityRef{Kind: models.EntityKindIngredient, ID: key}, ing)
		batch.Ingredients = append(batch.Ingredients, ing)
	}
	for _, rc := range m.Recipes {
		rc = rc.Clone()
		if rc.VersionToken == nil {
			if local, ok := c.state.Recipes[rc.ProductID]; ok {
				rc.VersionToken = local.VersionToken
			}
		}
		c.stage(op, models.EntityRef{Kind: models.EntityKindRecipe, ID: rc.ProductID}, rc)
		batch.Recipes = append(batch.Recipes, rc)
	}

	c.ops[opID] = op
	op.handle.setStatus(StatusPending)
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("Optimistic operation applied",
		zap.String("operation_id", opID),
		zap.Int("ingredients", len(batch.Ingredients)),
		zap.Int("recipes", len(batch.Recipes)))

	go c.dispatch(op, batch)
	return op.handle, nil
}

// stage снимает предыдущее значение и применяет новое; вызывается под c.mu
func (c *Controller) stage(op *operation, key models.EntityRef, item models.BatchItem) {
	prev, present := c.state.get(key)
	entry := snapshotEntry{key: key, present: present, prevWriter: c.lastWriter[key]}
	if present {
		entry.item = cloneItem(prev)
	}
	op.snapshot = append(op.snapshot, entry)
	c.state.put(key.ID, item)
	c.lastWriter[key] = op.handle.ID
}

func (c *Controller) dispatch(op *operation, batch *models.BatchRequest) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	result, err := c.saver.SaveBatch(ctx, batch)
	if err != nil {
		result = models.NewFailureResult(batch.AuditContext.CorrelationID, models.FailureTransient, err, nil)
	}
	if result == nil {
		result = models.NewFailureResult(batch.AuditContext.CorrelationID, models.FailureFatal, fmt.Errorf("empty response"), nil)
	}

	var server *models.StateResponse
	if result.Outcome == models.OutcomeConflict && result.Conflict != nil && c.stateReader != nil {
		refs := make([]models.EntityRef, 0, len(result.Conflict.Conflicts))
		for _, conflict := range result.Conflict.Conflicts {
			refs = append(refs, models.EntityRef{Kind: conflict.EntityType, ID: conflict.EntityID})
		}
		server, err = c.stateReader.FetchState(ctx, refs)
		if err != nil {
			c.logger.Warn("Failed to fetch server state after conflict",
				zap.String("operation_id", op.handle.ID), zap.Error(err))
		}
	}

	c.resolve(op, batch, result, server)
}

func (c *Controller) resolve(op *operation, batch *models.BatchRequest, result *models.BatchResult, server *models.StateResponse) {
	c.mu.Lock()
	delete(c.ops, op.handle.ID)

	res := Resolution{Result: result, ServerState: server}

	if op.invalidated {
		// после закрытия контроллера итог сети не трогает локальное состояние
		res.Status = StatusInvalidated
		c.mu.Unlock()
		metrics.RecordOptimisticOperation(string(res.Status))
		c.logger.Debug("Ignoring resolution of invalidated operation", zap.String("operation_id", op.handle.ID))
		op.handle.finish(res)
		return
	}

	var notify func()
	switch result.Outcome {
	case models.OutcomeSuccess:
		c.confirm(op, batch, result)
		res.Status = StatusConfirmed
		notify = func() { c.notifier.Success(op.handle.ID, result) }
	case models.OutcomeConflict:
		c.rollback(op)
		res.Status = StatusRolledBack
		if result.Conflict != nil {
			res.Conflicts = result.Conflict.Conflicts
		}
		notify = func() { c.notifier.Conflict(op.handle.ID, res.Conflicts) }
	default:
		c.rollback(op)
		res.Status = StatusRolledBack
		if result.Failure != nil {
			res.Reason = result.Failure.Reason
		}
		notify = func() { c.notifier.Error(op.handle.ID, res.Reason) }
	}
	c.mu.Unlock()

	metrics.RecordOptimisticOperation(string(res.Status))
	notify()
	op.handle.finish(res)
}

// confirm отбрасывает снимок и записывает подтвержденные сервером значения; вызывается под c.mu
func (c *Controller) confirm(op *operation, batch *models.BatchRequest, result *models.BatchResult) {
	for _, key := range op.pendingKeys {
		ref := models.EntityRef{Kind: models.EntityKindIngredient, ID: key}
		c.state.remove(ref)
		delete(c.lastWriter, ref)
	}
	if result.Success == nil {
		return
	}

	for _, ing := range result.Success.SavedIngredients {
		if ing.ID == nil {
			continue
		}
		ref := models.EntityRef{Kind: models.EntityKindIngredient, ID: *ing.ID}
		if c.ownedBy(ref, op) {
			c.state.put(ref.ID, ing)
		} else {
			c.refreshToken(ref, ing.VersionToken)
			c.settle(ref, op, ing)
		}
	}
	for _, rc := range result.Success.SavedRecipes {
		ref := models.EntityRef{Kind: models.EntityKindRecipe, ID: rc.ProductID}
		if c.ownedBy(ref, op) {
			c.state.put(ref.ID, rc)
		} else {
			c.refreshToken(ref, rc.VersionToken)
			c.settle(ref, op, rc)
		}
	}
	for _, entry := range op.snapshot {
		if c.lastWriter[entry.key] == op.handle.ID {
			delete(c.lastWriter, entry.key)
		}
	}
	op.snapshot = nil
}

// ownedBy true, если сущность не перезаписана более поздней операцией (или это новая сущность)
func (c *Controller) ownedBy(ref models.EntityRef, op *operation) bool {
	writer, ok := c.lastWriter[ref]
	return !ok || writer == op.handle.ID
}

// refreshToken обновляет токен сущности, которую уже перезаписала более поздняя операция
func (c *Controller) refreshToken(ref models.EntityRef, token *models.VersionToken) {
	switch ref.Kind {
	case models.EntityKindIngredient:
		if ing, ok := c.state.Ingredients[ref.ID]; ok {
			ing.VersionToken = token
			c.state.Ingredients[ref.ID] = ing
		}
	case models.EntityKindRecipe:
		if rc, ok := c.state.Recipes[ref.ID]; ok {
			rc.VersionToken = token
			c.state.Recipes[ref.ID] = rc
		}
	}
}

// settle записывает подтвержденное сервером значение в снимок следующей операции над сущностью;
// ее откат вернет это значение с новым токеном. Вызывается под c.mu
func (c *Controller) settle(ref models.EntityRef, op *operation, saved models.BatchItem) {
	next := c.successor(ref, op.handle.ID)
	if next == nil {
		return
	}
	next.present = true
	next.item = cloneItem(saved)
	next.prevWriter = ""
}

// successor возвращает запись снимка операции, которая записала сущность сразу после opID
func (c *Controller) successor(ref models.EntityRef, opID string) *snapshotEntry {
	for _, other := range c.ops {
		for i := range other.snapshot {
			entry := &other.snapshot[i]
			if entry.key == ref && entry.prevWriter == opID {
				return entry
			}
		}
	}
	return nil
}

// rollback восстанавливает снимок для сущностей, которые эта операция записала последней; вызывается под c.mu
func (c *Controller) rollback(op *operation) {
	for i := len(op.snapshot) - 1; i >= 0; i-- {
		entry := op.snapshot[i]
		if c.lastWriter[entry.key] != op.handle.ID {
			// более поздняя операция наследует снимок этой, чтобы ее откат вернул исходное значение
			if next := c.successor(entry.key, op.handle.ID); next != nil {
				next.present = entry.present
				next.item = entry.item
				next.prevWriter = entry.prevWriter
			}
			continue
		}
		if entry.present {
			c.state.put(entry.key.ID, entry.item)
		} else {
			c.state.remove(entry.key)
		}
		if entry.prevWriter == "" {
			delete(c.lastWriter, entry.key)
		} else {
			c.lastWriter[entry.key] = entry.prevWriter
		}
	}
	op.snapshot = nil
}

// Close инвалидирует все незавершенные операции. Сетевые вызовы завершаются,
// но их итог больше не меняет локальное состояние.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for _, op := range c.ops {
		op.invalidated = true
		op.snapshot = nil
	}
	c.logger.Debug("Optimistic controller closed", zap.Int("invalidated", len(c.ops)))
}

// Wait ждет завершения всех отправленных операций
func (c *Controller) Wait() {
	c.wg.Wait()
}

func pendingKey(opID string, index int) string {
	return fmt.Sprintf("pending:%s:%d", opID, index)
}

func cloneItem(item models.BatchItem) models.BatchItem {
	switch v := item.(type) {
	case models.Ingredient:
		return v.Clone()
	case models.RecipeContainer:
		return v.Clone()
	}
	return item
}
