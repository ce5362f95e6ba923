package store

import (
	"github.com/downfa11-org/go-kvs/pkg/config"
	"github.com/downfa11-org/go-kvs/util"
)

// Option adjusts the configuration used by Open.
type Option func(*config.Config)

// WithSegmentSize sets the size after which the active segment is sealed.
func WithSegmentSize(n int64) Option {
	return func(cfg *config.Config) {
		cfg.SegmentSize = n
	}
}

// WithCompression compresses newly written values with c.
func WithCompression(c util.Compression) Option {
	return func(cfg *config.Config) {
		cfg.CompressionType = c.String()
	}
}

// WithCompactionPolicy sets the stale byte and stale ratio thresholds for compaction.
func WithCompactionPolicy(minCompactBytes int64, minCleanableDirtyRatio float64) Option {
	return func(cfg *config.Config) {
		cfg.MinCompactBytes = minCompactBytes
		cfg.MinCleanableDirtyRatio = minCleanableDirtyRatio
	}
}

func WithCompactionBatchSize(n int) Option {
	return func(cfg *config.Config) {
		cfg.CompactionBatchSize = n
	}
}
