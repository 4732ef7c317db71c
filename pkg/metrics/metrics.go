// Package metrics exposes Prometheus instrumentation for the storage engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsLoaded counts rows accepted by the adaptive manager, by storage mode.
	RowsLoaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexdata",
		Name:      "rows_loaded_total",
		Help:      "Total rows loaded into the manager, labeled by storage mode.",
	}, []string{"mode"})

	// StoreOperations counts persistent store operations by operation and outcome.
	StoreOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nexdata",
		Name:      "store_operations_total",
		Help:      "Total persistent store operations, labeled by operation and status.",
	}, []string{"operation", "status"})

	// QueryDuration observes query latency against the persistent store.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nexdata",
		Name:      "query_duration_seconds",
		Help:      "Latency of SQL queries against the persistent store.",
		Buckets:   prometheus.DefBuckets,
	})

	// PageFetchDuration observes paginated read latency through the manager.
	PageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nexdata",
		Name:      "page_fetch_duration_seconds",
		Help:      "Latency of paginated reads through the adaptive manager.",
		Buckets:   prometheus.DefBuckets,
	})
)

// ObserveStoreOp records one store operation with its outcome.
func ObserveStoreOp(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperations.WithLabelValues(operation, status).Inc()
}

// TimeQuery records the duration of a query that started at the given time.
func TimeQuery(start time.Time) {
	QueryDuration.Observe(time.Since(start).Seconds())
}

// TimePageFetch records the duration of a page fetch that started at the
// given time.
func TimePageFetch(start time.Time) {
	PageFetchDuration.Observe(time.Since(start).Seconds())
}
