package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/downfa11-org/go-kvs/util"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSegmentSize            int64   = 1 << 20
	DefaultMinCompactBytes        int64   = 1 << 20
	DefaultMinCleanableDirtyRatio float64 = 0.5
	DefaultCompactionBatchSize            = 128
	DefaultCompressionType                = "none"
)

type Config struct {
	Dir      string        `yaml:"dir" json:"dir"`
	LogLevel util.LogLevel `yaml:"log_level" json:"log_level"`

	// log segments
	SegmentSize     int64  `yaml:"segment_size" json:"segment.size"`
	CompressionType string `yaml:"compression_type" json:"compression.type"`

	// compaction
	MinCompactBytes        int64   `yaml:"min_compact_bytes" json:"min.compact.bytes"`
	MinCleanableDirtyRatio float64 `yaml:"min_cleanable_dirty_ratio" json:"min.cleanable.dirty.ratio"`
	CompactionBatchSize    int     `yaml:"compaction_batch_size" json:"compaction.batch.size"`
}

// DefaultConfig returns a normalized config for dir.
func DefaultConfig(dir string) *Config {
	cfg := &Config{
		Dir:                    dir,
		LogLevel:               util.LogLevelInfo,
		SegmentSize:            DefaultSegmentSize,
		CompressionType:        DefaultCompressionType,
		MinCompactBytes:        DefaultMinCompactBytes,
		MinCleanableDirtyRatio: DefaultMinCleanableDirtyRatio,
		CompactionBatchSize:    DefaultCompactionBatchSize,
	}
	cfg.Normalize()
	return cfg
}

// Flags holds the raw values of the configuration flags registered on a FlagSet.
type Flags struct {
	fs *flag.FlagSet

	configPath      *string
	dir             *string
	logLevel        *string
	segmentSize     *string
	compression     *string
	minCompactBytes *string
	dirtyRatio      *string
	batchSize       *string
}

// RegisterFlags defines the configuration flags on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		fs:              fs,
		configPath:      fs.String("config", "", "Path to YAML/JSON config file"),
		dir:             fs.String("dir", ".", "Directory holding the store"),
		logLevel:        fs.String("log-level", "info", "Log Level (debug, info, warn, error, silent)"),
		segmentSize:     fs.String("segment-size", "1MB", "Segment file size (e.g. 4096, 64KB, 1MB)"),
		compression:     fs.String("compression", DefaultCompressionType, "Value compression (none, gzip, snappy, lz4)"),
		minCompactBytes: fs.String("min-compact-bytes", "1MB", "Stale bytes required before compaction runs"),
		dirtyRatio:      fs.String("min-cleanable-dirty-ratio", "0.5", "Stale/total ratio required before compaction runs"),
		batchSize:       fs.String("compaction-batch-size", strconv.Itoa(DefaultCompactionBatchSize), "Records copied per fsync during compaction"),
	}
}

// LoadConfig parses args as configuration flags. See Flags.Load.
func LoadConfig(args []string) (*Config, error) {
	fs := flag.NewFlagSet("kvs", flag.ContinueOnError)
	f := RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f.Load()
}

// Load builds a Config from flag defaults, then the optional config file, then
// every flag given explicitly on the command line, and normalizes the result.
func (f *Flags) Load() (*Config, error) {
	cfg := &Config{}
	if err := f.apply(cfg, func(string) bool { return true }); err != nil {
		return nil, err
	}

	if *f.configPath != "" {
		data, err := os.ReadFile(*f.configPath)
		if err != nil {
			return nil, err
		}

		if strings.HasSuffix(*f.configPath, ".json") {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", *f.configPath, err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", *f.configPath, err)
			}
		}
	}

	explicit := make(map[string]bool)
	f.fs.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })
	if err := f.apply(cfg, func(name string) bool { return explicit[name] }); err != nil {
		return nil, err
	}

	cfg.Normalize()
	return cfg, nil
}

func (f *Flags) apply(cfg *Config, use func(name string) bool) error {
	if use("dir") {
		cfg.Dir = *f.dir
	}
	if use("log-level") {
		level, ok := util.ParseLogLevel(*f.logLevel)
		if !ok {
			util.Warn("Invalid log level '%s', defaulting to 'info'", *f.logLevel)
		}
		cfg.LogLevel = level
	}
	if use("segment-size") {
		size, err := util.ParseSize(*f.segmentSize)
		if err != nil {
			return fmt.Errorf("invalid -segment-size: %w", err)
		}
		cfg.SegmentSize = size
	}
	if use("compression") {
		cfg.CompressionType = *f.compression
	}
	if use("min-compact-bytes") {
		size, err := util.ParseSize(*f.minCompactBytes)
		if err != nil {
			return fmt.Errorf("invalid -min-compact-bytes: %w", err)
		}
		cfg.MinCompactBytes = size
	}
	if use("min-cleanable-dirty-ratio") {
		cfg.MinCleanableDirtyRatio = util.ParseFloat(*f.dirtyRatio, DefaultMinCleanableDirtyRatio)
	}
	if use("compaction-batch-size") {
		cfg.CompactionBatchSize = util.ParseInt(*f.batchSize, DefaultCompactionBatchSize)
	}
	return nil
}

// Compression returns the configured value codec.
func (cfg *Config) Compression() (util.Compression, error) {
	return util.ParseCompression(cfg.CompressionType)
}
