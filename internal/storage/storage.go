package storage

// NewRepository создает Repository поверх Postgres (объекты и аудит) и Redis (идемпотентность)
func NewRepository(deps *RepositoryDependencies) *Repository {
	repo := &Repository{
		Objects:     NewPostgresObjectStore(deps),
		Idempotency: NopIdempotencyGuard{},
	}
	if deps.AuditDB != nil {
		repo.Audit = NewAuditRepository(deps.AuditDB, deps.MetricsCollector)
	}
	if deps.Cache != nil {
		repo.Idempotency = NewRedisIdempotencyGuard(deps.Cache, deps.MetricsCollector)
	}
	return repo
}

// NewMemoryRepository создает Repository целиком в памяти процесса
func NewMemoryRepository(cache CacheInterface, metrics MetricsInterface) *Repository {
	repo := &Repository{
		Objects:     NewMemoryObjectStore(NewCounterTokenSource()),
		Audit:       NewMemoryAuditSink(),
		Idempotency: NopIdempotencyGuard{},
	}
	if cache != nil {
		repo.Idempotency = NewRedisIdempotencyGuard(cache, metrics)
	}
	return repo
}

// Имена таблиц схемы costing
const (
	TableIngredients  = "costing.ingredients"
	TableRecipes      = "costing.recipes"
	TableRecipeLines  = "costing.recipe_lines"
	TableAuditEntries = "costing.audit_entries"
)
