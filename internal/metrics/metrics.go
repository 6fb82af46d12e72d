// Package metrics holds the prometheus collectors for the query client and
// the RPC server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryDuration is the time to establish (stream) or complete (batch) a query RPC.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bunquery_query_duration_seconds",
			Help:    "Query RPC latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"},
	)
	// QueryRetries counts retried query attempts.
	QueryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunquery_query_retries_total",
			Help: "Total number of retried query attempts",
		},
		[]string{"operation"},
	)
	// QueryErrors counts failed logical queries and dropped or surfaced items by category.
	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunquery_query_errors_total",
			Help: "Total number of query errors",
		},
		[]string{"operation", "category"},
	)
	// PartitionWorkersInFlight is the number of range sub-queries currently running.
	PartitionWorkersInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bunquery_partition_workers_in_flight",
			Help: "Number of partition range queries currently running",
		},
	)
	// PartitionCursors counts cursors discovered by partition queries.
	PartitionCursors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bunquery_partition_cursors_total",
			Help: "Total number of partition cursors discovered",
		},
	)
	// ServerRequests counts RPCs handled by the server.
	ServerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bunquery_server_requests_total",
			Help: "Total number of RPCs handled by the server",
		},
		[]string{"op", "code"},
	)
)

// ObserveQuery records one query RPC.
func ObserveQuery(operation, collection string, d time.Duration) {
	QueryDuration.WithLabelValues(operation, collection).Observe(d.Seconds())
}
