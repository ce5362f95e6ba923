package types

import "fmt"

// Location addresses one encoded record inside a segment.
type Location struct {
	Segment uint64 // segment generation
	Offset  int64  // byte offset of the record frame
	Length  int64  // full frame length
}

func (l Location) String() string {
	return fmt.Sprintf("%d@%d+%d", l.Segment, l.Offset, l.Length)
}

// End returns the offset right after the record.
func (l Location) End() int64 {
	return l.Offset + l.Length
}

// SegmentFile describes a segment on disk.
type SegmentFile struct {
	ID     uint64
	Path   string
	Size   int64
	Sealed bool
}
