package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	segmentExt     = ".log"
	segmentNameLen = 20
)

// SegmentName returns the file name of the segment with the given generation.
func SegmentName(id uint64) string {
	return fmt.Sprintf("%020d%s", id, segmentExt)
}

// parseSegmentName returns the generation encoded in name, or false if name is not a segment file.
func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, segmentExt) {
		return 0, false
	}
	base := strings.TrimSuffix(name, segmentExt)
	if len(base) != segmentNameLen {
		return 0, false
	}
	id, err := strconv.ParseUint(base, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// listSegments returns the generations of every segment file in dir, ascending.
func listSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := parseSegmentName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (l *Log) segmentPath(id uint64) string {
	return filepath.Join(l.dir, SegmentName(id))
}
