package adapters

import (
	"strings"
	"time"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/storage"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/metrics"
)

// MetricsAdapter адаптирует metrics для storage.MetricsInterface
type MetricsAdapter struct{}

// NewMetricsAdapter создает новый адаптер для метрик
func NewMetricsAdapter() storage.MetricsInterface {
	return &MetricsAdapter{}
}

// IncDBQuery увеличивает счетчик запросов к БД
func (a *MetricsAdapter) IncDBQuery(operation string) {
	metrics.DBQueriesTotal.WithLabelValues(operation, tableFor(operation)).Inc()
}

// IncCacheHit считает занятый ключ идемпотентности (повторная отправка)
func (a *MetricsAdapter) IncCacheHit(cacheType string) {
	metrics.RedisOperationsTotal.WithLabelValues(cacheType, "hit").Inc()
}

// IncCacheMiss считает новый ключ идемпотентности
func (a *MetricsAdapter) IncCacheMiss(cacheType string) {
	metrics.RedisOperationsTotal.WithLabelValues(cacheType, "miss").Inc()
}

// ObserveDBQueryDuration записывает время выполнения запроса к БД
func (a *MetricsAdapter) ObserveDBQueryDuration(operation string, duration time.Duration) {
	metrics.DBQueryDuration.WithLabelValues(operation, tableFor(operation)).Observe(duration.Seconds())
}

// tableFor относит операцию к таблице для метки table
func tableFor(operation string) string {
	if strings.Contains(operation, "audit") {
		return storage.TableAuditEntries
	}
	return "costing.objects"
}
