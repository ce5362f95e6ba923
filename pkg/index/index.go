// Package index maps every live key to the location of its newest record.
package index

import (
	"sort"

	"github.com/downfa11-org/go-kvs/pkg/types"
)

// Index is not safe for concurrent use; the store serialises access.
type Index struct {
	entries   map[string]types.Location
	liveBytes int64
}

func New() *Index {
	return &Index{entries: make(map[string]types.Location)}
}

func (x *Index) Get(key string) (types.Location, bool) {
	loc, ok := x.entries[key]
	return loc, ok
}

// Put points key at loc and returns the location it replaced, if any.
func (x *Index) Put(key string, loc types.Location) (types.Location, bool) {
	prev, replaced := x.entries[key]
	if replaced {
		x.liveBytes -= prev.Length
	}
	x.entries[key] = loc
	x.liveBytes += loc.Length
	return prev, replaced
}

// Delete removes key and returns its last location.
func (x *Index) Delete(key string) (types.Location, bool) {
	prev, ok := x.entries[key]
	if !ok {
		return types.Location{}, false
	}
	delete(x.entries, key)
	x.liveBytes -= prev.Length
	return prev, true
}

func (x *Index) Len() int {
	return len(x.entries)
}

// Keys returns every indexed key in ascending order.
func (x *Index) Keys() []string {
	keys := make([]string, 0, len(x.entries))
	for k := range x.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Range calls fn for every entry until fn returns false. Iteration order is unspecified
// and the index must not be modified from fn.
func (x *Index) Range(fn func(key string, loc types.Location) bool) {
	for k, loc := range x.entries {
		if !fn(k, loc) {
			return
		}
	}
}

// LiveBytes is the encoded size of every record the index still points at.
func (x *Index) LiveBytes() int64 {
	return x.liveBytes
}
