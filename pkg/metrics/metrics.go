// Package metrics defines Prometheus instrumentation for the control
// plane. Collectors are registered with the default registry at
// package load and exposed via /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "redash"

var (
	// DataSourceOperations counts administrative operations by name and
	// outcome ("ok" or "error").
	DataSourceOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admin",
		Name:      "data_source_operations_total",
		Help:      "Administrative data source operations by operation and status.",
	}, []string{"operation", "status"})

	// SchemaFetchDuration observes how long live schema introspection
	// takes per connector type.
	SchemaFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "admin",
		Name:      "schema_fetch_duration_seconds",
		Help:      "Duration of live schema introspection per connector type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// ConnectionTests counts connectivity checks per connector type and
	// outcome.
	ConnectionTests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admin",
		Name:      "connection_tests_total",
		Help:      "Connectivity checks per connector type and status.",
	}, []string{"type", "status"})
)

// ObserveOperation records one administrative operation outcome.
func ObserveOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DataSourceOperations.WithLabelValues(operation, status).Inc()
}
