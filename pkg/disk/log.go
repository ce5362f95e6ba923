// Package disk implements the command log: an append-only sequence of
// segment files holding encoded records.
package disk

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/downfa11-org/go-kvs/pkg/codec"
	"github.com/downfa11-org/go-kvs/pkg/types"
	"github.com/downfa11-org/go-kvs/util"
	"golang.org/x/exp/mmap"
)

const DefaultSegmentSize int64 = 1 << 20

var (
	ErrLogClosed       = errors.New("command log closed")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrActiveSegment   = errors.New("cannot remove the active segment")
)

type Options struct {
	// SegmentSize is the size after which the active segment is sealed.
	// A single record larger than SegmentSize still gets a segment of its own.
	SegmentSize int64
	Compression util.Compression
}

func DefaultOptions() Options {
	return Options{SegmentSize: DefaultSegmentSize, Compression: util.CompressionNone}
}

// Log is a durable, ordered command log spread over segment files.
// Every segment except the highest generation is sealed and never written again.
type Log struct {
	dir  string
	opts Options
	enc  *codec.Encoder

	mu      sync.Mutex
	sealed  []uint64
	sizes   map[uint64]int64
	readers map[uint64]*mmap.ReaderAt // sealed segment handles, opened lazily

	active uint64
	file   *os.File
	writer *bufio.Writer
	closed bool
}

// Open discovers the segments in dir and opens the newest one for appending.
// An empty directory gets a fresh segment with generation 1.
func Open(dir string, opts Options) (*Log, error) {
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = DefaultSegmentSize
	}
	if !opts.Compression.Valid() {
		return nil, fmt.Errorf("invalid compression %s", opts.Compression)
	}

	ids, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	l := &Log{
		dir:     dir,
		opts:    opts,
		enc:     codec.NewEncoder(opts.Compression),
		sizes:   make(map[uint64]int64, len(ids)+1),
		readers: make(map[uint64]*mmap.ReaderAt),
	}

	active := uint64(1)
	if len(ids) > 0 {
		active = ids[len(ids)-1]
		l.sealed = append(l.sealed, ids[:len(ids)-1]...)
	}
	for _, id := range l.sealed {
		info, err := os.Stat(l.segmentPath(id))
		if err != nil {
			return nil, err
		}
		l.sizes[id] = info.Size()
	}

	if err := l.openActive(active); err != nil {
		return nil, err
	}
	util.Debug("opened command log %s: %d sealed segments, active %d (%d bytes)", dir, len(l.sealed), active, l.sizes[active])
	return l, nil
}

func (l *Log) openActive(id uint64) error {
	path := l.segmentPath(id)
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	if created {
		if err := syncDir(l.dir); err != nil {
			f.Close()
			return fmt.Errorf("sync dir: %w", err)
		}
	}

	l.active = id
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.sizes[id] = info.Size()
	return nil
}

// Append writes r to the active segment and fsyncs it before returning its location.
func (l *Log) Append(r types.Record) (types.Location, error) {
	locs, err := l.AppendBatch([]types.Record{r})
	if err != nil {
		return types.Location{}, err
	}
	return locs[0], nil
}

// AppendBatch appends every record in order with one fsync per touched segment.
// On failure the active segment is cut back to its last durable boundary and no
// location is returned.
func (l *Log) AppendBatch(records []types.Record) ([]types.Location, error) {
	frames := make([][]byte, 0, len(records))
	for _, r := range records {
		frame, err := l.enc.Encode(r)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLogClosed
	}
	return l.writeFrames(frames)
}

func (l *Log) writeFrames(frames [][]byte) ([]types.Location, error) {
	locs := make([]types.Location, 0, len(frames))
	mark := l.sizes[l.active]

	for _, frame := range frames {
		size := int64(len(frame))
		if cur := l.sizes[l.active]; cur > 0 && cur+size > l.opts.SegmentSize {
			if err := l.rollLocked(); err != nil {
				l.rewind(mark)
				return nil, err
			}
			mark = 0
		}

		loc := types.Location{Segment: l.active, Offset: l.sizes[l.active], Length: size}
		if _, err := l.writer.Write(frame); err != nil {
			l.rewind(mark)
			return nil, fmt.Errorf("write segment %d: %w", l.active, err)
		}
		l.sizes[l.active] += size
		locs = append(locs, loc)
	}

	if err := l.syncActive(); err != nil {
		l.rewind(mark)
		return nil, err
	}
	return locs, nil
}

func (l *Log) syncActive() error {
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush segment %d: %w", l.active, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %d: %w", l.active, err)
	}
	return nil
}

// rewind drops anything written to the active segment after mark.
func (l *Log) rewind(mark int64) {
	l.writer.Reset(l.file)
	if err := l.file.Truncate(mark); err != nil {
		util.Error("failed to rewind segment %d to %d: %v", l.active, mark, err)
		return
	}
	l.sizes[l.active] = mark
}

// Roll seals the active segment and starts a new one, returning the new generation.
func (l *Log) Roll() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrLogClosed
	}
	if err := l.rollLocked(); err != nil {
		return 0, err
	}
	return l.active, nil
}

func (l *Log) rollLocked() error {
	if err := l.syncActive(); err != nil {
		return err
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close segment %d: %w", l.active, err)
	}

	prev := l.active
	l.sealed = append(l.sealed, prev)
	if err := l.openActive(prev + 1); err != nil {
		// keep the log usable: reopen the old segment as active
		l.sealed = l.sealed[:len(l.sealed)-1]
		if rerr := l.openActive(prev); rerr != nil {
			util.Error("failed to reopen segment %d after failed rollover: %v", prev, rerr)
		}
		return fmt.Errorf("roll segment %d: %w", prev, err)
	}
	util.Debug("sealed segment %d (%d bytes), active segment is now %d", prev, l.sizes[prev], l.active)
	return nil
}

// Read loads and decodes the record at loc.
func (l *Log) Read(loc types.Location) (types.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return types.Record{}, ErrLogClosed
	}

	ra, err := l.readerFor(loc.Segment)
	if err != nil {
		return types.Record{}, err
	}
	if loc.Offset < 0 || loc.Length < codec.PrefixSize || loc.End() > l.sizes[loc.Segment] {
		return types.Record{}, fmt.Errorf("%w: location %s outside segment of %d bytes", codec.ErrCorruptRecord, loc, l.sizes[loc.Segment])
	}

	buf := make([]byte, loc.Length)
	if _, err := ra.ReadAt(buf, loc.Offset); err != nil {
		return types.Record{}, fmt.Errorf("read %s: %w", loc, err)
	}
	return codec.Decode(buf)
}

func (l *Log) readerFor(id uint64) (io.ReaderAt, error) {
	if id == l.active {
		return l.file, nil
	}
	if r, ok := l.readers[id]; ok {
		return r, nil
	}
	if _, ok := l.sizes[id]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrSegmentNotFound, id)
	}

	r, err := mmap.Open(l.segmentPath(id))
	if err != nil {
		return nil, fmt.Errorf("mmap segment %d: %w", id, err)
	}
	l.readers[id] = r
	return r, nil
}

// Remove deletes a sealed segment and releases its handle.
func (l *Log) Remove(id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}
	if id == l.active {
		return ErrActiveSegment
	}
	if _, ok := l.sizes[id]; !ok {
		return fmt.Errorf("%w: %d", ErrSegmentNotFound, id)
	}

	if r, ok := l.readers[id]; ok {
		if err := r.Close(); err != nil {
			util.Error("failed to unmap segment %d: %v", id, err)
		}
		delete(l.readers, id)
	}
	if err := os.Remove(l.segmentPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}

	delete(l.sizes, id)
	for i, s := range l.sealed {
		if s == id {
			l.sealed = append(l.sealed[:i], l.sealed[i+1:]...)
			break
		}
	}
	return syncDir(l.dir)
}

// Segments returns the sealed generations, ascending.
func (l *Log) Segments() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.sealed...)
}

// Active returns the generation currently being appended to.
func (l *Log) Active() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// All returns every generation, sealed first and the active one last.
func (l *Log) All() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append(append([]uint64(nil), l.sealed...), l.active)
}

// Files describes every segment on disk in generation order.
func (l *Log) Files() []types.SegmentFile {
	l.mu.Lock()
	defer l.mu.Unlock()

	files := make([]types.SegmentFile, 0, len(l.sealed)+1)
	for _, id := range l.sealed {
		files = append(files, types.SegmentFile{ID: id, Path: l.segmentPath(id), Size: l.sizes[id], Sealed: true})
	}
	return append(files, types.SegmentFile{ID: l.active, Path: l.segmentPath(l.active), Size: l.sizes[l.active]})
}

// Size returns the total number of bytes across all segments.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total int64
	for _, s := range l.sizes {
		total += s
	}
	return total
}

func (l *Log) SegmentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sealed) + 1
}

// Close flushes the active segment and releases every handle. It is safe to call twice.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	if err := l.syncActive(); err != nil {
		firstErr = err
	}
	if err := l.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for id, r := range l.readers {
		if err := r.Close(); err != nil {
			util.Error("failed to unmap segment %d: %v", id, err)
		}
		delete(l.readers, id)
	}
	return firstErr
}
