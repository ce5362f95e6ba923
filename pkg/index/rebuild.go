package index

import (
	"fmt"

	"github.com/downfa11-org/go-kvs/pkg/types"
	"github.com/downfa11-org/go-kvs/util"
)

// Log is the part of the command log needed to replay it.
type Log interface {
	All() []uint64
	Scan(id uint64, fn func(rec types.Record, loc types.Location) error) error
}

// Rebuild replays every segment of log in generation order and returns the
// resulting index. Later records win; a remove drops the key.
func Rebuild(log Log) (*Index, error) {
	x := New()
	var sets, removes int
	for _, id := range log.All() {
		err := log.Scan(id, func(rec types.Record, loc types.Location) error {
			switch rec.Kind {
			case types.RecordSet:
				x.Put(rec.Key, loc)
				sets++
			case types.RecordRemove:
				x.Delete(rec.Key)
				removes++
			default:
				return fmt.Errorf("unexpected %s record at %s", rec.Kind, loc)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("replay segment %d: %w", id, err)
		}
	}
	util.Debug("index rebuilt: %d keys from %d sets and %d removes", x.Len(), sets, removes)
	return x, nil
}
