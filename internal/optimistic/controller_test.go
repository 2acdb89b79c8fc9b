package optimistic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/service"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Success(operationID string, result *models.BatchResult) {
	m.Called(operationID, result)
}

func (m *MockNotifier) Conflict(operationID string, conflicts []models.ConflictRecord) {
	m.Called(operationID, conflicts)
}

func (m *MockNotifier) Error(operationID string, reason string) {
	m.Called(operationID, reason)
}

// blockingSaver держит запрос до закрытия release
type blockingSaver struct {
	mu      sync.Mutex
	release chan struct{}
	result  *models.BatchResult
	err     error
	batches []*models.BatchRequest
}

func newBlockingSaver(result *models.BatchResult, err error) *blockingSaver {
	return &blockingSaver{release: make(chan struct{}), result: result, err: err}
}

func (s *blockingSaver) SaveBatch(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, error) {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	<-s.release
	return s.result, s.err
}

func (s *blockingSaver) sent() []*models.BatchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.BatchRequest(nil), s.batches...)
}

func strPtr(s string) *string { return &s }

// testIngredient с пустым token возвращает ингредиент без токена версии
func testIngredient(id string, cost float64, token string) models.Ingredient {
	ing := models.Ingredient{
		ID:          strPtr(id),
		Name:        "Ingredient " + id,
		UnitType:    models.UnitTypeWeight,
		CostPerUnit: cost,
		IsActive:    true,
	}
	if token != "" {
		ing.VersionToken = models.TokenPtr(token)
	}
	return ing
}

// newBackend поднимает сервис в памяти и возвращает его хранилище
func newBackend(t *testing.T) (*ServiceBackend, *storage.MemoryObjectStore) {
	t.Helper()
	repo := storage.NewMemoryRepository(nil, nil)
	store, ok := repo.Objects.(*storage.MemoryObjectStore)
	require.True(t, ok)

	config := service.GetDefaultServiceConfig()
	config.Retry.BaseDelay = time.Millisecond
	config.Retry.MaxDelay = time.Millisecond
	svc := service.NewService(&service.ServiceDependencies{
		Repository: repo,
		Logger:     zap.NewNop(),
		Config:     config,
	})
	return NewServiceBackend(svc.Batch), store
}

func waitResolution(t *testing.T, h *OperationHandle) *Resolution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestController_PriceChangeConflictRevertsToSnapshot(t *testing.T) {
	backend, store := newBackend(t)
	// На сервере цена уже изменена другим пользователем
	store.Seed(testIngredient("flour", 3.0, "v2"))

	initial := NewState()
	initial.Ingredients["flour"] = testIngredient("flour", 2.0, "v1")

	notifier := new(MockNotifier)
	notifier.On("Conflict", mock.Anything, mock.Anything).Return()

	c := NewController(initial, backend, Options{ActorID: "user-1", Notifier: notifier, StateReader: backend})
	defer c.Close()

	h, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 2.5, "")}})
	require.NoError(t, err)

	res := waitResolution(t, h)
	assert.Equal(t, StatusRolledBack, res.Status)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "flour", res.Conflicts[0].EntityID)
	assert.Equal(t, models.VersionToken("v1"), res.Conflicts[0].ClientVersion)
	assert.Equal(t, "v2", models.TokenString(res.Conflicts[0].CurrentVersion))

	local, ok := c.Ingredient("flour")
	require.True(t, ok)
	assert.Equal(t, 2.0, local.CostPerUnit)
	assert.Equal(t, "v1", models.TokenString(local.VersionToken))

	require.NotNil(t, res.ServerState)
	require.Len(t, res.ServerState.Ingredients, 1)
	assert.Equal(t, 3.0, res.ServerState.Ingredients[0].CostPerUnit)

	notifier.AssertCalled(t, "Conflict", h.ID, res.Conflicts)
	assert.Equal(t, 0, c.Pending())
}

func TestController_SuccessUpdatesTokensAndReplacesPendingKeys(t *testing.T) {
	backend, store := newBackend(t)
	store.Seed(testIngredient("flour", 2.0, "v1"))

	initial := NewState()
	initial.Ingredients["flour"] = testIngredient("flour", 2.0, "v1")

	notifier := new(MockNotifier)
	notifier.On("Success", mock.Anything, mock.Anything).Return()

	c := NewController(initial, backend, Options{ActorID: "user-1", Notifier: notifier})
	defer c.Close()

	sugar := models.Ingredient{Name: "Sugar", UnitType: models.UnitTypeWeight, CostPerUnit: 1.5, IsActive: true}
	h, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 2.5, "v1"), sugar}})
	require.NoError(t, err)

	res := waitResolution(t, h)
	assert.Equal(t, StatusConfirmed, res.Status)
	notifier.AssertNumberOfCalls(t, "Success", 1)

	state := c.State()
	require.Len(t, state.Ingredients, 2)
	for key, ing := range state.Ingredients {
		assert.NotContains(t, key, "pending:")
		require.NotNil(t, ing.ID)
		assert.Equal(t, key, *ing.ID)
	}

	flour := state.Ingredients["flour"]
	assert.Equal(t, 2.5, flour.CostPerUnit)
	assert.NotEqual(t, "v1", models.TokenString(flour.VersionToken))

	ings, _ := store.Snapshot()
	assert.Len(t, ings, 2)
}

func TestController_AppliesLocallyBeforeServerResponds(t *testing.T) {
	saver := newBlockingSaver(models.NewSuccessResult("x", &models.BatchSuccess{}), nil)
	initial := NewState()
	initial.Ingredients["flour"] = testIngredient("flour", 2.0, "v1")

	c := NewController(initial, saver, Options{})
	h, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 2.5, "")}})
	require.NoError(t, err)

	local, _ := c.Ingredient("flour")
	assert.Equal(t, 2.5, local.CostPerUnit)
	assert.Equal(t, 1, c.Pending())

	close(saver.release)
	waitResolution(t, h)

	batches := saver.sent()
	require.Len(t, batches, 1)
	assert.Equal(t, h.ID, batches[0].AuditContext.CorrelationID)
	// Пустой токен дополняется из локального состояния
	assert.Equal(t, "v1", models.TokenString(batches[0].Ingredients[0].VersionToken))
}

func TestController_FailureRollsBackAndNotifies(t *testing.T) {
	failure := models.NewFailureResult("x", models.FailureFatal, errors.New("store unavailable"), nil)
	saver := newBlockingSaver(failure, nil)
	close(saver.release)

	initial := NewState()
	initial.Recipes["p1"] = models.RecipeContainer{
		ProductID:    "p1",
		Lines:        []models.RecipeLine{{IngredientID: "flour", Quantity: 1}},
		VersionToken: models.TokenPtr("r1"),
	}

	notifier := new(MockNotifier)
	notifier.On("Error", mock.Anything, "store unavailable").Return()

	c := NewController(initial, saver, Options{Notifier: notifier})
	h, err := c.Apply(Mutation{Recipes: []models.RecipeContainer{{
		ProductID: "p1",
		Lines:     []models.RecipeLine{{IngredientID: "flour", Quantity: 3}},
	}}})
	require.NoError(t, err)

	res := waitResolution(t, h)
	assert.Equal(t, StatusRolledBack, res.Status)
	assert.Equal(t, "store unavailable", res.Reason)

	rc, ok := c.Recipe("p1")
	require.True(t, ok)
	assert.Equal(t, 1.0, rc.Lines[0].Quantity)
	notifier.AssertExpectations(t)
}

func TestController_TransportErrorRollsBackNewEntity(t *testing.T) {
	saver := newBlockingSaver(nil, errors.New("connection refused"))
	close(saver.release)

	notifier := new(MockNotifier)
	notifier.On("Error", mock.Anything, "connection refused").Return()

	c := NewController(NewState(), saver, Options{Notifier: notifier})
	h, err := c.Apply(Mutation{Ingredients: []models.Ingredient{{Name: "Salt", UnitType: models.UnitTypeWeight}}})
	require.NoError(t, err)

	res := waitResolution(t, h)
	assert.Equal(t, StatusRolledBack, res.Status)
	assert.Empty(t, c.State().Ingredients)
}

func TestController_CloseInvalidatesPendingOperations(t *testing.T) {
	saver := newBlockingSaver(models.NewFailureResult("x", models.FailureFatal, errors.New("late"), nil), nil)
	initial := NewState()
	initial.Ingredients["flour"] = testIngredient("flour", 2.0, "v1")

	notifier := new(MockNotifier)
	c := NewController(initial, saver, Options{Notifier: notifier})

	h, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 2.5, "v1")}})
	require.NoError(t, err)

	c.Close()
	close(saver.release)
	c.Wait()

	res := waitResolution(t, h)
	assert.Equal(t, StatusInvalidated, res.Status)

	// Откат не выполняется после закрытия
	local, _ := c.Ingredient("flour")
	assert.Equal(t, 2.5, local.CostPerUnit)
	notifier.AssertNotCalled(t, "Error", mock.Anything, mock.Anything)

	_, err = c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 3, "v1")}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestController_ConcurrentOperationsKeepIndependentSnapshots(t *testing.T) {
	slow := newBlockingSaver(nil, nil)
	var mu sync.Mutex
	results := map[string]*models.BatchResult{}

	initial := NewState()
	initial.Ingredients["flour"] = testIngredient("flour", 2.0, "v1")
	initial.Ingredients["sugar"] = testIngredient("sugar", 1.0, "s1")

	router := saverFunc(func(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, error) {
		res, err := slow.SaveBatch(ctx, batch)
		mu.Lock()
		defer mu.Unlock()
		if r, ok := results[*batch.Ingredients[0].ID]; ok {
			return r, nil
		}
		return res, err
	})

	notifier := new(MockNotifier)
	notifier.On("Error", mock.Anything, mock.Anything).Return()
	notifier.On("Success", mock.Anything, mock.Anything).Return()

	c := NewController(initial, router, Options{Notifier: notifier})

	mu.Lock()
	results["flour"] = models.NewFailureResult("a", models.FailureFatal, errors.New("boom"), nil)
	sugarSaved := testIngredient("sugar", 1.2, "s2")
	results["sugar"] = models.NewSuccessResult("b", &models.BatchSuccess{SavedIngredients: []models.Ingredient{sugarSaved}})
	mu.Unlock()

	h1, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 2.5, "")}})
	require.NoError(t, err)
	h2, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("sugar", 1.2, "")}})
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID, h2.ID)

	close(slow.release)
	assert.Equal(t, StatusRolledBack, waitResolution(t, h1).Status)
	assert.Equal(t, StatusConfirmed, waitResolution(t, h2).Status)

	flour, _ := c.Ingredient("flour")
	sugar, _ := c.Ingredient("sugar")
	assert.Equal(t, 2.0, flour.CostPerUnit)
	assert.Equal(t, 1.2, sugar.CostPerUnit)
	assert.Equal(t, "s2", models.TokenString(sugar.VersionToken))
}

func TestController_RollbackKeepsNewerWrite(t *testing.T) {
	release := make(chan struct{})
	saver := saverFunc(func(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, error) {
		<-release
		if batch.Ingredients[0].CostPerUnit == 2.5 {
			return models.NewFailureResult("a", models.FailureTransient, errors.New("timeout"), nil), nil
		}
		return models.NewSuccessResult("b", &models.BatchSuccess{
			SavedIngredients: []models.Ingredient{testIngredient("flour", 3.0, "v2")},
		}), nil
	})

	initial := NewState()
	initial.Ingredients["flour"] = testIngredient("flour", 2.0, "v1")

	notifier := new(MockNotifier)
	notifier.On("Error", mock.Anything, mock.Anything).Return()
	notifier.On("Success", mock.Anything, mock.Anything).Return()
	c := NewController(initial, saver, Options{Notifier: notifier})

	h1, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 2.5, "v1")}})
	require.NoError(t, err)
	h2, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 3.0, "v1")}})
	require.NoError(t, err)

	close(release)
	assert.Equal(t, StatusRolledBack, waitResolution(t, h1).Status)
	assert.Equal(t, StatusConfirmed, waitResolution(t, h2).Status)

	// Откат первой операции не затирает более позднюю запись
	flour, _ := c.Ingredient("flour")
	assert.Equal(t, 3.0, flour.CostPerUnit)
	assert.Equal(t, "v2", models.TokenString(flour.VersionToken))
}

// gatedSaver держит каждый пакет до release по цене первого ингредиента
type gatedSaver struct {
	gates   map[float64]chan struct{}
	results map[float64]*models.BatchResult
}

func newGatedSaver(results map[float64]*models.BatchResult) *gatedSaver {
	gates := make(map[float64]chan struct{}, len(results))
	for cost := range results {
		gates[cost] = make(chan struct{})
	}
	return &gatedSaver{gates: gates, results: results}
}

func (s *gatedSaver) SaveBatch(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, error) {
	cost := batch.Ingredients[0].CostPerUnit
	<-s.gates[cost]
	return s.results[cost], nil
}

func (s *gatedSaver) release(cost float64) {
	close(s.gates[cost])
}

// Обе правки отклонены, старшая разрешается первой: возвращается значение до правок
func TestController_OverlappingFailuresRestorePreEditValue(t *testing.T) {
	saver := newGatedSaver(map[float64]*models.BatchResult{
		2.5: models.NewFailureResult("a", models.FailureFatal, errors.New("boom"), nil),
		3.0: models.NewFailureResult("b", models.FailureFatal, errors.New("boom"), nil),
	})

	initial := NewState()
	initial.Ingredients["flour"] = testIngredient("flour", 2.0, "v1")

	notifier := new(MockNotifier)
	notifier.On("Error", mock.Anything, mock.Anything).Return()
	c := NewController(initial, saver, Options{Notifier: notifier})
	defer c.Close()

	h1, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 2.5, "v1")}})
	require.NoError(t, err)
	h2, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 3.0, "v1")}})
	require.NoError(t, err)

	saver.release(2.5)
	assert.Equal(t, StatusRolledBack, waitResolution(t, h1).Status)

	flour, _ := c.Ingredient("flour")
	assert.Equal(t, 3.0, flour.CostPerUnit)

	saver.release(3.0)
	assert.Equal(t, StatusRolledBack, waitResolution(t, h2).Status)

	flour, _ = c.Ingredient("flour")
	assert.Equal(t, 2.0, flour.CostPerUnit)
	assert.Equal(t, "v1", models.TokenString(flour.VersionToken))
	assert.Equal(t, 0, c.Pending())
}

// Три правки: средняя отклонена первой, затем последняя, затем первая
func TestController_MiddleFailureSplicesSnapshotChain(t *testing.T) {
	saver := newGatedSaver(map[float64]*models.BatchResult{
		2.5: models.NewFailureResult("a", models.FailureFatal, errors.New("boom"), nil),
		3.0: models.NewFailureResult("b", models.FailureFatal, errors.New("boom"), nil),
		3.5: models.NewFailureResult("c", models.FailureFatal, errors.New("boom"), nil),
	})

	initial := NewState()
	initial.Ingredients["flour"] = testIngredient("flour", 2.0, "v1")

	notifier := new(MockNotifier)
	notifier.On("Error", mock.Anything, mock.Anything).Return()
	c := NewController(initial, saver, Options{Notifier: notifier})
	defer c.Close()

	handles := make([]*OperationHandle, 0, 3)
	for _, cost := range []float64{2.5, 3.0, 3.5} {
		h, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", cost, "v1")}})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	saver.release(3.0)
	waitResolution(t, handles[1])
	saver.release(3.5)
	waitResolution(t, handles[2])

	// Последний откат возвращает значение первой, еще не разрешенной операции
	flour, _ := c.Ingredient("flour")
	assert.Equal(t, 2.5, flour.CostPerUnit)

	saver.release(2.5)
	waitResolution(t, handles[0])

	flour, _ = c.Ingredient("flour")
	assert.Equal(t, 2.0, flour.CostPerUnit)
}

// Подтверждение старшей операции переносится в снимок младшей: ее откат сохраняет новый токен
func TestController_ConfirmedOlderWriteSurvivesNewerRollback(t *testing.T) {
	saver := newGatedSaver(map[float64]*models.BatchResult{
		2.5: models.NewSuccessResult("a", &models.BatchSuccess{
			SavedIngredients: []models.Ingredient{testIngredient("flour", 2.5, "v2")},
		}),
		3.0: models.NewFailureResult("b", models.FailureFatal, errors.New("boom"), nil),
	})

	initial := NewState()
	initial.Ingredients["flour"] = testIngredient("flour", 2.0, "v1")

	notifier := new(MockNotifier)
	notifier.On("Success", mock.Anything, mock.Anything).Return()
	notifier.On("Error", mock.Anything, mock.Anything).Return()
	c := NewController(initial, saver, Options{Notifier: notifier})
	defer c.Close()

	h1, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 2.5, "v1")}})
	require.NoError(t, err)
	h2, err := c.Apply(Mutation{Ingredients: []models.Ingredient{testIngredient("flour", 3.0, "v1")}})
	require.NoError(t, err)

	saver.release(2.5)
	assert.Equal(t, StatusConfirmed, waitResolution(t, h1).Status)

	flour, _ := c.Ingredient("flour")
	assert.Equal(t, 3.0, flour.CostPerUnit)
	assert.Equal(t, "v2", models.TokenString(flour.VersionToken))

	saver.release(3.0)
	assert.Equal(t, StatusRolledBack, waitResolution(t, h2).Status)

	flour, _ = c.Ingredient("flour")
	assert.Equal(t, 2.5, flour.CostPerUnit)
	assert.Equal(t, "v2", models.TokenString(flour.VersionToken))
}

func TestController_ApplyRejectsEmptyMutation(t *testing.T) {
	c := NewController(NewState(), newBlockingSaver(nil, nil), Options{})
	_, err := c.Apply(Mutation{})
	assert.Error(t, err)
}

func TestStateFrom(t *testing.T) {
	state := StateFrom(&models.StateResponse{
		Ingredients: []models.Ingredient{testIngredient("flour", 2.0, "v1"), {Name: "no id"}},
		Recipes:     []models.RecipeContainer{{ProductID: "p1"}},
	})

	assert.Len(t, state.Ingredients, 1)
	assert.Contains(t, state.Recipes, "p1")
	assert.Empty(t, StateFrom(nil).Ingredients)
}

type saverFunc func(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, error)

func (f saverFunc) SaveBatch(ctx context.Context, batch *models.BatchRequest) (*models.BatchResult, error) {
	return f(ctx, batch)
}
