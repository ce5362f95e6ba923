package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvs_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"op"}, // get, set, remove, compact
	)

	OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvs_operation_errors_total",
			Help: "Total number of store operations that returned an error",
		},
		[]string{"op"},
	)

	OperationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvs_operation_latency_seconds",
			Help:    "Histogram of store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	Compactions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvs_compactions_total",
		Help: "Total number of completed compactions",
	})

	CompactionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kvs_compaction_duration_seconds",
		Help:    "Histogram of compaction run time",
		Buckets: prometheus.DefBuckets,
	})

	ReclaimedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kvs_reclaimed_bytes_total",
		Help: "Total number of log bytes released by compaction",
	})

	LogBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvs_log_bytes",
		Help: "Current size of all log segments in bytes",
	})

	LiveBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvs_live_bytes",
		Help: "Bytes of log records still referenced by the index",
	})

	LiveKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvs_live_keys",
		Help: "Number of keys currently in the index",
	})

	Segments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvs_segments",
		Help: "Number of log segment files",
	})
)
