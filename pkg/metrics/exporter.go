package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

func init() {
	prometheus.MustRegister(Operations, OperationErrors, OperationLatency)
	prometheus.MustRegister(Compactions, CompactionDuration, ReclaimedBytes)
	prometheus.MustRegister(LogBytes, LiveBytes, LiveKeys, Segments)
}

// ObserveOperation records one store operation that started at start.
func ObserveOperation(op string, start time.Time, err error) {
	Operations.WithLabelValues(op).Inc()
	OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationErrors.WithLabelValues(op).Inc()
	}
}

// ObserveCompaction records a finished compaction run.
func ObserveCompaction(elapsed time.Duration, reclaimed int64) {
	Compactions.Inc()
	CompactionDuration.Observe(elapsed.Seconds())
	if reclaimed > 0 {
		ReclaimedBytes.Add(float64(reclaimed))
	}
}

// SetLogState publishes the current size of the log and index.
func SetLogState(logBytes, liveBytes int64, keys, segments int) {
	LogBytes.Set(float64(logBytes))
	LiveBytes.Set(float64(liveBytes))
	LiveKeys.Set(float64(keys))
	Segments.Set(float64(segments))
}

// Write renders every registered metric in the Prometheus text format.
func Write(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
