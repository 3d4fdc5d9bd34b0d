// Package metrics exposes Prometheus collectors for the ingestion
// pipeline: gateway request counts and latency, per-outcome record
// writes, pool utilization, and run durations. All collectors are
// registered automatically and safe for concurrent use.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts gateway requests by endpoint and outcome
	// (success, error, retry).
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legisync_api_requests_total",
		Help: "Total requests issued to the remote data source",
	}, []string{"endpoint", "outcome"})

	// APIRequestDuration tracks gateway request latency per endpoint.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "legisync_api_request_duration_seconds",
		Help:    "Latency of requests to the remote data source",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// RecordsIngested counts upsert outcomes per collection.
	RecordsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legisync_records_ingested_total",
		Help: "Records written by upsert outcome",
	}, []string{"collection", "outcome"})

	// IngestErrors counts isolated per-record and per-batch failures.
	IngestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legisync_ingest_errors_total",
		Help: "Errors encountered during ingestion by stage",
	}, []string{"stage"})

	// PoolInUse reports handles currently checked out of a pool.
	PoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "legisync_pool_in_use",
		Help: "Resource pool handles currently in use",
	}, []string{"pool"})

	// PoolCapacity reports the configured ceiling of a pool.
	PoolCapacity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "legisync_pool_capacity",
		Help: "Resource pool configured capacity",
	}, []string{"pool"})

	// RunDuration tracks wall-clock time of complete ingestion runs.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "legisync_run_duration_seconds",
		Help:    "Wall-clock duration of ingestion runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// ObserveRequest records one gateway request.
func ObserveRequest(endpoint, outcome string, d time.Duration) {
	APIRequests.WithLabelValues(endpoint, outcome).Inc()
	APIRequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// SetPoolUtilization publishes in-use vs capacity for a named pool.
func SetPoolUtilization(pool string, inUse, capacity float64) {
	PoolInUse.WithLabelValues(pool).Set(inUse)
	PoolCapacity.WithLabelValues(pool).Set(capacity)
}
