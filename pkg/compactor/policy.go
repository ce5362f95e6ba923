package compactor

const (
	DefaultMinCompactBytes        int64   = 1 << 20
	DefaultMinCleanableDirtyRatio float64 = 0.5
	DefaultBatchSize                      = 128
)

// Policy decides when stale log bytes are worth reclaiming.
type Policy struct {
	// MinCompactBytes is the least amount of stale bytes that triggers a compaction.
	MinCompactBytes int64
	// MinCleanableDirtyRatio is the least stale/total ratio that triggers a compaction.
	MinCleanableDirtyRatio float64
}

func DefaultPolicy() Policy {
	return Policy{
		MinCompactBytes:        DefaultMinCompactBytes,
		MinCleanableDirtyRatio: DefaultMinCleanableDirtyRatio,
	}
}

// ShouldCompact reports whether a log of total bytes, of which live are still
// referenced, crosses both thresholds.
func (p Policy) ShouldCompact(total, live int64) bool {
	stale := total - live
	if total <= 0 || stale <= 0 {
		return false
	}
	return stale >= p.MinCompactBytes && float64(stale)/float64(total) >= p.MinCleanableDirtyRatio
}
