package config

import (
	"strings"

	"github.com/downfa11-org/go-kvs/util"
)

const minSegmentSize = 1024

func (cfg *Config) Normalize() {
	if strings.TrimSpace(cfg.Dir) == "" {
		cfg.Dir = "."
	}

	if cfg.SegmentSize < minSegmentSize {
		if cfg.SegmentSize != 0 {
			util.Warn("Invalid segment_size (%d), defaulting to %d", cfg.SegmentSize, DefaultSegmentSize)
		}
		cfg.SegmentSize = DefaultSegmentSize
	}

	cfg.CompressionType = strings.ToLower(strings.TrimSpace(cfg.CompressionType))
	if cfg.CompressionType == "" {
		cfg.CompressionType = DefaultCompressionType
	}
	if _, err := util.ParseCompression(cfg.CompressionType); err != nil {
		util.Warn("Invalid compression_type '%s', defaulting to 'none'", cfg.CompressionType)
		cfg.CompressionType = DefaultCompressionType
	}

	if cfg.MinCompactBytes <= 0 {
		cfg.MinCompactBytes = DefaultMinCompactBytes
	}
	if cfg.MinCleanableDirtyRatio <= 0 || cfg.MinCleanableDirtyRatio >= 1.0 {
		cfg.MinCleanableDirtyRatio = DefaultMinCleanableDirtyRatio
	}
	if cfg.CompactionBatchSize <= 0 {
		cfg.CompactionBatchSize = DefaultCompactionBatchSize
	}

	if cfg.LogLevel < util.LogLevelDebug || cfg.LogLevel > util.LogLevelSilent {
		cfg.LogLevel = util.LogLevelInfo
	}
}
