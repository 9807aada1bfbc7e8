// Package metrics exposes Prometheus instrumentation for the storage
// engine: operation counters and latency histograms for inserts, gets, and
// deletes, plus gauges tracking the shape of the index and logs. A single
// registry-backed set of collectors is created once per process; callers
// that want to expose them wire Handler into an HTTP server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OpsTotal counts completed operations by kind ("insert", "get",
	// "delete") and outcome ("ok", "error", "not_found").
	OpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omendb_ops_total",
			Help: "Total number of storage operations by kind and outcome",
		},
		[]string{"op", "outcome"},
	)

	// OpLatency records per-operation latency in seconds.
	OpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "omendb_op_latency_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// LeavesTotal is the current number of leaves in the learned index.
	LeavesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omendb_index_leaves_total",
			Help: "Current number of leaves in the learned index",
		},
	)

	// SplitsTotal counts leaf splits performed since startup.
	SplitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omendb_leaf_splits_total",
			Help: "Total number of leaf splits performed",
		},
	)

	// ValueLogBytes is the number of bytes of records in the value log (its
	// logical tail); the file on disk is padded past it by chunked growth.
	ValueLogBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omendb_value_log_bytes",
			Help: "Bytes of records written to the value log (its logical tail)",
		},
	)

	// WALEntriesSinceCheckpoint is the number of WAL records appended since
	// the last checkpoint.
	WALEntriesSinceCheckpoint = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omendb_wal_entries_since_checkpoint",
			Help: "Number of WAL entries appended since the last checkpoint",
		},
	)

	// CheckpointsTotal counts checkpoints performed since startup.
	CheckpointsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omendb_checkpoints_total",
			Help: "Total number of checkpoints performed",
		},
	)

	// CompactionsTotal counts value-log compactions performed since startup.
	CompactionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omendb_compactions_total",
			Help: "Total number of value log compactions performed",
		},
	)
)

// Registry is the collector registry every metric above is registered to.
// A dedicated registry, rather than prometheus.DefaultRegisterer, keeps a
// second engine instance in the same test binary from panicking on
// duplicate registration.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		OpsTotal,
		OpLatency,
		LeavesTotal,
		SplitsTotal,
		ValueLogBytes,
		WALEntriesSinceCheckpoint,
		CheckpointsTotal,
		CompactionsTotal,
	)
}

// Handler returns an http.Handler serving the registry in the Prometheus
// exposition format, ready to mount at /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveOp records the outcome and latency of one operation in a single
// call, the shape most call sites want.
func ObserveOp(op, outcome string, seconds float64) {
	OpsTotal.WithLabelValues(op, outcome).Inc()
	OpLatency.WithLabelValues(op).Observe(seconds)
}
