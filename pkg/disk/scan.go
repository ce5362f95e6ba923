package disk

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/downfa11-org/go-kvs/pkg/codec"
	"github.com/downfa11-org/go-kvs/pkg/types"
	"github.com/downfa11-org/go-kvs/util"
)

const scanBufferSize = 64 << 10

// ErrCorruptSegment is returned when an undecodable record is followed by more data.
var ErrCorruptSegment = errors.New("corrupt segment")

// errTornFrame marks a frame that runs past the end of the segment.
var errTornFrame = errors.New("torn frame")

// ScanFunc is called for every valid record of a segment in offset order.
type ScanFunc = func(rec types.Record, loc types.Location) error

// Scan reads every record of segment id in offset order. A truncated or corrupt
// record at the tail ends the scan; for the active segment the file is cut back to
// the last valid record so later appends stay aligned.
func (l *Log) Scan(id uint64, fn ScanFunc) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLogClosed
	}
	size, ok := l.sizes[id]
	path := l.segmentPath(id)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrSegmentNotFound, id)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	adviseSequential(f)

	r := bufio.NewReaderSize(f, scanBufferSize)
	header := make([]byte, codec.MaxHeaderSize)
	var off int64
	for off < size {
		frame, err := readFrame(r, header, size-off)
		switch {
		case err == nil:
		case errors.Is(err, errTornFrame):
			return l.dropTail(id, off, size, err)
		case errors.Is(err, codec.ErrCorruptRecord):
			// unreadable header: tolerated when it could be the last frame or the rest of the file is zero fill
			if endsAtTail(header[:codec.PrefixSize], r, size-off) {
				return l.dropTail(id, off, size, err)
			}
			zero, zerr := onlyZeros(header[:codec.PrefixSize], r)
			if zerr != nil {
				return fmt.Errorf("scan segment %d: %w", id, zerr)
			}
			if !zero {
				return fmt.Errorf("%w: segment %d offset %d: %v", ErrCorruptSegment, id, off, err)
			}
			return l.dropTail(id, off, size, err)
		default:
			return fmt.Errorf("scan segment %d: %w", id, err)
		}

		rec, err := codec.Decode(frame)
		if err != nil {
			if off+int64(len(frame)) < size {
				return fmt.Errorf("%w: segment %d offset %d: %v", ErrCorruptSegment, id, off, err)
			}
			return l.dropTail(id, off, size, err)
		}

		loc := types.Location{Segment: id, Offset: off, Length: int64(len(frame))}
		if err := fn(rec, loc); err != nil {
			return err
		}
		off += loc.Length
	}
	return nil
}

// readFrame reads the next frame from r given the number of bytes left in the segment.
// header is scratch space of codec.MaxHeaderSize bytes.
func readFrame(r io.Reader, header []byte, remaining int64) ([]byte, error) {
	if remaining < codec.PrefixSize {
		return nil, errTornFrame
	}
	if _, err := io.ReadFull(r, header[:codec.PrefixSize]); err != nil {
		return nil, err
	}
	hs, err := codec.HeaderSize(types.RecordKind(header[4]))
	if err != nil {
		return nil, err
	}
	if remaining < int64(hs) {
		return nil, errTornFrame
	}
	if _, err := io.ReadFull(r, header[codec.PrefixSize:hs]); err != nil {
		return nil, err
	}
	size, err := codec.FrameSize(header[:hs])
	if err != nil {
		return nil, err
	}
	if size > remaining {
		return nil, errTornFrame
	}

	frame := make([]byte, size)
	copy(frame, header[:hs])
	if _, err := io.ReadFull(r, frame[hs:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// endsAtTail reports whether the frame starting with prefix would end exactly at
// the end of the segment under any known record kind. r is only peeked.
func endsAtTail(prefix []byte, r *bufio.Reader, remaining int64) bool {
	ext, _ := r.Peek(codec.MaxHeaderSize - codec.PrefixSize)
	header := append(append(make([]byte, 0, codec.MaxHeaderSize), prefix...), ext...)
	for _, kind := range []types.RecordKind{types.RecordSet, types.RecordRemove} {
		hs, _ := codec.HeaderSize(kind)
		if len(header) < hs {
			continue
		}
		header[4] = byte(kind)
		if n, err := codec.FrameSize(header[:hs]); err == nil && n == remaining {
			return true
		}
	}
	return false
}

func onlyZeros(prefix []byte, r io.Reader) (bool, error) {
	for _, b := range prefix {
		if b != 0 {
			return false, nil
		}
	}
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b != 0 {
				return false, nil
			}
		}
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

// dropTail ends a scan at off. The active segment is truncated there; sealed
// segments are left untouched and their tail bytes count as stale.
func (l *Log) dropTail(id uint64, off, size int64, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id != l.active {
		util.Warn("segment %d: ignoring %d invalid tail bytes at offset %d: %v", id, size-off, off, cause)
		return nil
	}

	util.Warn("segment %d: truncating %d invalid tail bytes at offset %d: %v", id, size-off, off, cause)
	if err := l.writer.Flush(); err != nil {
		return err
	}
	if err := l.file.Truncate(off); err != nil {
		return fmt.Errorf("truncate segment %d: %w", id, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %d: %w", id, err)
	}
	l.sizes[id] = off
	return nil
}
