// Package compactor reclaims log space held by overwritten and removed keys.
//
// A run seals the active segment, copies every live record into fresh segments
// and then deletes every segment older than the first copy. The index is only
// repointed once a copy is durable, so a crash at any point leaves a log that
// replays to the same key set.
package compactor

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/downfa11-org/go-kvs/pkg/disk"
	"github.com/downfa11-org/go-kvs/pkg/index"
	"github.com/downfa11-org/go-kvs/pkg/types"
	"github.com/downfa11-org/go-kvs/util"
)

// ErrIndexMismatch is returned when an indexed location holds a record for another key
// or a remove.
var ErrIndexMismatch = errors.New("index entry does not match its record")

type Result struct {
	Generation     uint64 // first generation written by the run
	Copied         int
	Removed        int // deleted segments
	ReclaimedBytes int64
	Duration       time.Duration
}

type Compactor struct {
	log       *disk.Log
	index     *index.Index
	batchSize int
}

func New(log *disk.Log, idx *index.Index, batchSize int) *Compactor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Compactor{log: log, index: idx, batchSize: batchSize}
}

type entry struct {
	key string
	loc types.Location
}

// Run performs one full compaction. The caller must hold off writers for its duration.
func (c *Compactor) Run() (Result, error) {
	start := time.Now()
	before := c.log.Size()

	gen, err := c.log.Roll()
	if err != nil {
		return Result{}, fmt.Errorf("roll compaction segment: %w", err)
	}
	res := Result{Generation: gen}

	entries := make([]entry, 0, c.index.Len())
	c.index.Range(func(key string, loc types.Location) bool {
		if loc.Segment < gen {
			entries = append(entries, entry{key: key, loc: loc})
		}
		return true
	})
	// read sealed segments front to back
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].loc, entries[j].loc
		if a.Segment != b.Segment {
			return a.Segment < b.Segment
		}
		return a.Offset < b.Offset
	})

	for len(entries) > 0 {
		n := c.batchSize
		if n > len(entries) {
			n = len(entries)
		}
		if err := c.copyBatch(entries[:n]); err != nil {
			return res, err
		}
		res.Copied += n
		entries = entries[n:]
	}

	for _, f := range c.log.Files() {
		if !f.Sealed || f.ID >= gen {
			continue
		}
		if err := c.log.Remove(f.ID); err != nil {
			return res, fmt.Errorf("remove segment %d: %w", f.ID, err)
		}
		res.Removed++
	}

	res.ReclaimedBytes = before - c.log.Size()
	res.Duration = time.Since(start)
	util.Info("compaction done: generation %d, copied %d records, removed %d segments, reclaimed %d bytes in %s",
		res.Generation, res.Copied, res.Removed, res.ReclaimedBytes, res.Duration)
	return res, nil
}

func (c *Compactor) copyBatch(batch []entry) error {
	records := make([]types.Record, 0, len(batch))
	for _, e := range batch {
		rec, err := c.log.Read(e.loc)
		if err != nil {
			return fmt.Errorf("read %q at %s: %w", e.key, e.loc, err)
		}
		if rec.Kind != types.RecordSet || rec.Key != e.key {
			return fmt.Errorf("%w: %q at %s holds %s of %q", ErrIndexMismatch, e.key, e.loc, rec.Kind, rec.Key)
		}
		records = append(records, rec)
	}

	locs, err := c.log.AppendBatch(records)
	if err != nil {
		return fmt.Errorf("append compacted batch: %w", err)
	}
	for i, e := range batch {
		c.index.Put(e.key, locs[i])
	}
	return nil
}
