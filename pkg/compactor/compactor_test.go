package compactor_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/downfa11-org/go-kvs/pkg/compactor"
	"github.com/downfa11-org/go-kvs/pkg/disk"
	"github.com/downfa11-org/go-kvs/pkg/index"
	"github.com/downfa11-org/go-kvs/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldCompact(t *testing.T) {
	p := compactor.Policy{MinCompactBytes: 100, MinCleanableDirtyRatio: 0.5}

	tests := []struct {
		name        string
		total, live int64
		want        bool
	}{
		{"empty", 0, 0, false},
		{"all live", 1000, 1000, false},
		{"below bytes", 150, 60, false},
		{"below ratio", 1000, 600, false},
		{"both met", 1000, 400, true},
		{"exact thresholds", 200, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShouldCompact(tt.total, tt.live))
		})
	}

	d := compactor.DefaultPolicy()
	assert.Equal(t, int64(1<<20), d.MinCompactBytes)
	assert.Equal(t, 0.5, d.MinCleanableDirtyRatio)
}

type fixture struct {
	log   *disk.Log
	index *index.Index
	ref   map[string]string
}

func newFixture(t *testing.T, segmentSize int64) *fixture {
	t.Helper()
	l, err := disk.Open(t.TempDir(), disk.Options{SegmentSize: segmentSize})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return &fixture{log: l, index: index.New(), ref: make(map[string]string)}
}

func (f *fixture) set(t *testing.T, k, v string) {
	loc, err := f.log.Append(types.SetRecord(k, v))
	require.NoError(t, err)
	f.index.Put(k, loc)
	f.ref[k] = v
}

func (f *fixture) remove(t *testing.T, k string) {
	_, err := f.log.Append(types.RemoveRecord(k))
	require.NoError(t, err)
	f.index.Delete(k)
	delete(f.ref, k)
}

func (f *fixture) verify(t *testing.T) {
	t.Helper()
	require.Equal(t, len(f.ref), f.index.Len())
	for k, v := range f.ref {
		loc, ok := f.index.Get(k)
		require.True(t, ok, k)
		rec, err := f.log.Read(loc)
		require.NoError(t, err)
		assert.Equal(t, v, rec.Value, k)
	}
}

func TestRunPreservesLiveKeys(t *testing.T) {
	f := newFixture(t, 512)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		k := fmt.Sprintf("key-%d", rng.Intn(50))
		if rng.Intn(5) == 0 {
			if _, ok := f.ref[k]; ok {
				f.remove(t, k)
				continue
			}
		}
		f.set(t, k, fmt.Sprintf("value-%d", i))
	}
	before := f.log.Size()
	oldest := f.log.All()[0]

	res, err := compactor.New(f.log, f.index, 16).Run()
	require.NoError(t, err)

	assert.Equal(t, len(f.ref), res.Copied)
	assert.Greater(t, res.Removed, 0)
	assert.Equal(t, before-f.log.Size(), res.ReclaimedBytes)
	assert.Equal(t, f.index.LiveBytes(), f.log.Size())
	for _, id := range f.log.All() {
		assert.GreaterOrEqual(t, id, res.Generation)
		assert.Greater(t, id, oldest)
	}
	f.verify(t)

	// a rebuilt index agrees with the repointed one
	rebuilt, err := index.Rebuild(f.log)
	require.NoError(t, err)
	assert.Equal(t, f.index.Keys(), rebuilt.Keys())
	for _, k := range f.index.Keys() {
		a, _ := f.index.Get(k)
		b, _ := rebuilt.Get(k)
		assert.Equal(t, a, b)
	}
}

func TestRunEmptyIndex(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.set(t, "a", "1")
	f.remove(t, "a")

	res, err := compactor.New(f.log, f.index, 0).Run()
	require.NoError(t, err)
	assert.Equal(t, 0, res.Copied)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, int64(0), f.log.Size())
}

func TestRunRejectsMismatchedIndex(t *testing.T) {
	f := newFixture(t, 1<<20)
	f.set(t, "a", "1")
	loc, _ := f.index.Get("a")
	f.index.Put("b", loc)

	_, err := compactor.New(f.log, f.index, 0).Run()
	assert.ErrorIs(t, err, compactor.ErrIndexMismatch)

	// nothing was deleted
	rec, err := f.log.Read(loc)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Key)
}
