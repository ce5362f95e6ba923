// Package store is an embedded, persistent string key-value store.
//
// Every mutation is appended to a command log and fsynced before the call
// returns. An in-memory index maps each live key to its newest record and is
// rebuilt from the log on Open. Space held by overwritten and removed keys is
// reclaimed by compaction once it crosses the configured thresholds.
//
// A Store exclusively owns its directory until Close.
package store

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/downfa11-org/go-kvs/pkg/compactor"
	"github.com/downfa11-org/go-kvs/pkg/config"
	"github.com/downfa11-org/go-kvs/pkg/disk"
	"github.com/downfa11-org/go-kvs/pkg/index"
	"github.com/downfa11-org/go-kvs/pkg/lock"
	"github.com/downfa11-org/go-kvs/pkg/metrics"
	"github.com/downfa11-org/go-kvs/pkg/types"
	"github.com/downfa11-org/go-kvs/util"
)

type Store struct {
	mu sync.Mutex

	dir       string
	lock      *lock.Lock
	log       *disk.Log
	index     *index.Index
	compactor *compactor.Compactor
	policy    compactor.Policy
	closed    bool
}

// Stats is a snapshot of the store's size.
type Stats struct {
	Keys       int
	Segments   int
	Active     uint64
	LogBytes   int64
	LiveBytes  int64
	StaleBytes int64
}

// Open opens the store in dir, creating the directory if needed.
func Open(dir string, opts ...Option) (*Store, error) {
	cfg := config.DefaultConfig(dir)
	for _, opt := range opts {
		opt(cfg)
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig opens the store described by cfg. Unset numeric fields take their defaults.
func OpenWithConfig(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	dir := cfg.Dir
	compression, err := cfg.Compression()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IoError{Op: "mkdir", Path: dir, Err: err}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &IoError{Op: "stat", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &IoError{Op: "open", Path: dir, Err: fmt.Errorf("not a directory")}
	}

	lk, err := lock.Acquire(dir)
	if err != nil {
		return nil, wrapErr("lock", dir, err)
	}

	log, err := disk.Open(dir, disk.Options{SegmentSize: cfg.SegmentSize, Compression: compression})
	if err != nil {
		lk.Release()
		return nil, wrapErr("open log", dir, err)
	}

	idx, err := index.Rebuild(log)
	if err != nil {
		log.Close()
		lk.Release()
		return nil, wrapErr("replay log", dir, err)
	}

	policy := compactor.Policy{
		MinCompactBytes:        cfg.MinCompactBytes,
		MinCleanableDirtyRatio: cfg.MinCleanableDirtyRatio,
	}
	if policy.MinCompactBytes <= 0 {
		policy.MinCompactBytes = compactor.DefaultMinCompactBytes
	}
	if policy.MinCleanableDirtyRatio <= 0 {
		policy.MinCleanableDirtyRatio = compactor.DefaultMinCleanableDirtyRatio
	}

	s := &Store{
		dir:       dir,
		lock:      lk,
		log:       log,
		index:     idx,
		compactor: compactor.New(log, idx, cfg.CompactionBatchSize),
		policy:    policy,
	}

	if err := s.maybeCompact(); err != nil {
		s.Close()
		return nil, err
	}
	s.publish()
	util.Debug("opened store %s: %d keys, %d segments, %d bytes", dir, idx.Len(), log.SegmentCount(), log.Size())
	return s, nil
}

// Get returns the value stored for key. found is false if key is absent.
func (s *Store) Get(key string) (value string, found bool, err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("get", start, err) }()

	if key == "" {
		return "", false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}

	loc, ok := s.index.Get(key)
	if !ok {
		return "", false, nil
	}
	rec, err := s.log.Read(loc)
	if err != nil {
		return "", false, wrapErr("read", s.dir, err)
	}
	if rec.IsRemove() || rec.Key != key {
		return "", false, fmt.Errorf("%w: %q at %s holds %s of %q", ErrIndexCorruption, key, loc, rec.Kind, rec.Key)
	}
	return rec.Value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key, value string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("set", start, err) }()

	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	loc, err := s.log.Append(types.SetRecord(key, value))
	if err != nil {
		return wrapErr("append", s.dir, err)
	}
	s.index.Put(key, loc)
	defer s.publish()
	return s.maybeCompact()
}

// Remove deletes key. It fails with ErrKeyNotFound if key is absent.
func (s *Store) Remove(key string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("remove", start, err) }()

	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.index.Get(key); !ok {
		return ErrKeyNotFound
	}
	if _, err := s.log.Append(types.RemoveRecord(key)); err != nil {
		return wrapErr("append", s.dir, err)
	}
	s.index.Delete(key)
	defer s.publish()
	return s.maybeCompact()
}

// Compact reclaims stale log space regardless of the compaction policy.
func (s *Store) Compact() (res compactor.Result, err error) {
	start := time.Now()
	defer func() { metrics.ObserveOperation("compact", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return compactor.Result{}, ErrClosed
	}
	defer s.publish()
	return s.compact()
}

func (s *Store) maybeCompact() error {
	if !s.policy.ShouldCompact(s.log.Size(), s.index.LiveBytes()) {
		return nil
	}
	util.Debug("compaction triggered: %d stale of %d bytes", s.log.Size()-s.index.LiveBytes(), s.log.Size())
	_, err := s.compact()
	return err
}

func (s *Store) compact() (compactor.Result, error) {
	res, err := s.compactor.Run()
	if err != nil {
		return res, wrapErr("compact", s.dir, err)
	}
	metrics.ObserveCompaction(res.Duration, res.ReclaimedBytes)
	return res, nil
}

func (s *Store) publish() {
	metrics.SetLogState(s.log.Size(), s.index.LiveBytes(), s.index.Len(), s.log.SegmentCount())
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.index.Len()
}

// Keys returns every live key in ascending order.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.index.Keys(), nil
}

func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Stats{}, ErrClosed
	}

	size := s.log.Size()
	live := s.index.LiveBytes()
	return Stats{
		Keys:       s.index.Len(),
		Segments:   s.log.SegmentCount(),
		Active:     s.log.Active(),
		LogBytes:   size,
		LiveBytes:  live,
		StaleBytes: size - live,
	}, nil
}

// Close flushes the log, releases every segment handle and the directory lock.
// Closing an already closed store is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.log.Close(); err != nil {
		firstErr = wrapErr("close log", s.dir, err)
	}
	if err := s.lock.Release(); err != nil {
		util.Error("failed to release lock on %s: %v", s.dir, err)
		if firstErr == nil {
			firstErr = wrapErr("unlock", s.dir, err)
		}
	}
	util.Debug("closed store %s", s.dir)
	return firstErr
}
