package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costing_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costing_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "costing_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costing_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costing_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type", "table"},
	)

	RedisOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costing_redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costing_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	BatchSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costing_batch_saves_total",
			Help: "Total number of batch save executions by outcome",
		},
		[]string{"outcome"},
	)

	BatchSaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costing_batch_save_duration_seconds",
			Help:    "Batch save execution duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	BatchRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costing_batch_rollbacks_total",
			Help: "Total number of rolled back batch transactions",
		},
		[]string{"reason"},
	)

	StoreRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costing_store_retries_total",
			Help: "Total number of retried object store calls",
		},
		[]string{"operation"},
	)

	VersionConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costing_version_conflicts_total",
			Help: "Total number of version token conflicts",
		},
		[]string{"entity_type", "stage"},
	)

	OptimisticOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costing_optimistic_operations_total",
			Help: "Total number of optimistic operations by resolution",
		},
		[]string{"status"},
	)

	BatchSaverCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "costing_batch_saver_calls_total",
			Help: "Total number of calls to the remote batch save API",
		},
		[]string{"endpoint", "status"},
	)

	BatchSaverCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "costing_batch_saver_call_duration_seconds",
			Help:    "Remote batch save API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	ServiceUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "costing_service_uptime_seconds",
			Help: "Time since Costing Service started in seconds",
		},
	)

	ServiceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "costing_service_info",
			Help: "Costing Service information",
		},
		[]string{"version", "build_time"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordDBQuery(queryType, table string, duration float64) {
	DBQueriesTotal.WithLabelValues(queryType, table).Inc()
	DBQueryDuration.WithLabelValues(queryType, table).Observe(duration)
}

func RecordRedisOperation(operation, status string, duration float64) {
	RedisOperationsTotal.WithLabelValues(operation, status).Inc()
	RedisOperationDuration.WithLabelValues(operation).Observe(duration)
}

func RecordBatchSave(outcome string, duration float64) {
	BatchSavesTotal.WithLabelValues(outcome).Inc()
	BatchSaveDuration.WithLabelValues(outcome).Observe(duration)
}

func RecordBatchRollback(reason string) {
	BatchRollbacksTotal.WithLabelValues(reason).Inc()
}

func RecordStoreRetry(operation string) {
	StoreRetriesTotal.WithLabelValues(operation).Inc()
}

func RecordVersionConflicts(entityType, stage string, count int) {
	VersionConflictsTotal.WithLabelValues(entityType, stage).Add(float64(count))
}

func RecordOptimisticOperation(status string) {
	OptimisticOperationsTotal.WithLabelValues(status).Inc()
}

func RecordBatchSaverCall(endpoint, status string, duration float64) {
	BatchSaverCallsTotal.WithLabelValues(endpoint, status).Inc()
	BatchSaverCallDuration.WithLabelValues(endpoint).Observe(duration)
}
