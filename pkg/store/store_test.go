package store_test

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/downfa11-org/go-kvs/pkg/disk"
	"github.com/downfa11-org/go-kvs/pkg/lock"
	"github.com/downfa11-org/go-kvs/pkg/store"
	"github.com/downfa11-org/go-kvs/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	util.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func openStore(t *testing.T, dir string, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(dir, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustGet(t *testing.T, s *store.Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(key)
	require.NoError(t, err)
	return v, ok
}

// copyDir snapshots the segment files of src as a crash would leave them.
func copyDir(t *testing.T, src string) string {
	t.Helper()
	dst := t.TempDir()
	copyInto(t, src, dst)
	return dst
}

func copyInto(t *testing.T, src, dst string) {
	t.Helper()
	entries, err := os.ReadDir(src)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Name() == lock.FileName {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dst, e.Name()), data, 0o644))
	}
}

func TestSetGetRemove(t *testing.T) {
	s := openStore(t, t.TempDir())

	_, ok := mustGet(t, s, "missing")
	assert.False(t, ok)

	require.NoError(t, s.Set("key1", "value1"))
	v, ok := mustGet(t, s, "key1")
	assert.True(t, ok)
	assert.Equal(t, "value1", v)

	require.NoError(t, s.Set("key1", "value2"))
	v, _ = mustGet(t, s, "key1")
	assert.Equal(t, "value2", v)

	require.NoError(t, s.Set("empty", ""))
	v, ok = mustGet(t, s, "empty")
	assert.True(t, ok)
	assert.Equal(t, "", v)

	require.NoError(t, s.Remove("key1"))
	_, ok = mustGet(t, s, "key1")
	assert.False(t, ok)
	assert.ErrorIs(t, s.Remove("key1"), store.ErrKeyNotFound)
	assert.ErrorIs(t, s.Remove("never"), store.ErrKeyNotFound)

	assert.Equal(t, 1, s.Len())
	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"empty"}, keys)
}

func TestEmptyKey(t *testing.T) {
	s := openStore(t, t.TempDir())

	assert.ErrorIs(t, s.Set("", "v"), store.ErrEmptyKey)
	_, _, err := s.Get("")
	assert.ErrorIs(t, err, store.ErrEmptyKey)
	assert.ErrorIs(t, s.Remove(""), store.ErrEmptyKey)
}

func TestConcreteScenarioAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := store.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	require.NoError(t, s.Set("a", "3"))
	require.NoError(t, s.Remove("b"))
	require.NoError(t, s.Close())

	s2 := openStore(t, dir)
	v, ok := mustGet(t, s2, "a")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	_, ok = mustGet(t, s2, "b")
	assert.False(t, ok)
	assert.Equal(t, 1, s2.Len())
}

func TestDurabilityWithoutClose(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, store.WithSegmentSize(256))

	want := make(map[string]string)
	for i := 0; i < 100; i++ {
		k, v := fmt.Sprintf("key%d", i%30), fmt.Sprintf("value%d", i)
		require.NoError(t, s.Set(k, v))
		want[k] = v
	}

	snapshot := copyDir(t, dir)
	s2 := openStore(t, snapshot, store.WithSegmentSize(256))
	assert.Equal(t, len(want), s2.Len())
	for k, v := range want {
		got, ok := mustGet(t, s2, k)
		require.True(t, ok, k)
		assert.Equal(t, v, got)
	}
}

func TestSecondOpenIsLocked(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	_, err := store.Open(dir)
	assert.True(t, errors.Is(err, store.ErrLocked), "got %v", err)

	require.NoError(t, s.Close())
	s2, err := store.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestOpenOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := store.Open(path)
	var ioErr *store.IoError
	require.True(t, errors.As(err, &ioErr), "got %v", err)
	assert.Equal(t, path, ioErr.Path)
}

func TestClosedStore(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.Get("a")
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.ErrorIs(t, s.Set("a", "2"), store.ErrClosed)
	assert.ErrorIs(t, s.Remove("a"), store.ErrClosed)
	_, err = s.Compact()
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = s.Stats()
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestTruncatedTailOnReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("b", "2"))
	require.NoError(t, s.Close())

	path := filepath.Join(dir, disk.SegmentName(1))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	s2 := openStore(t, dir)
	v, ok := mustGet(t, s2, "a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = mustGet(t, s2, "b")
	assert.False(t, ok)

	// appends continue from the last valid record
	require.NoError(t, s2.Set("c", "3"))
	require.NoError(t, s2.Close())
	s3 := openStore(t, dir)
	v, _ = mustGet(t, s3, "c")
	assert.Equal(t, "3", v)
}

func TestInteriorCorruptionFailsOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set("a", "first"))
	require.NoError(t, s.Set("b", "second"))
	require.NoError(t, s.Close())

	path := filepath.Join(dir, disk.SegmentName(1))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	i := strings.Index(string(data), "first")
	require.GreaterOrEqual(t, i, 0)
	data[i] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = store.Open(dir)
	require.Error(t, err)
	assert.True(t, store.IsCorrupt(err), "got %v", err)
	assert.ErrorIs(t, err, store.ErrCorruptSegment)

	// a failed open must not keep the directory locked
	l, err := lock.Acquire(dir)
	require.NoError(t, err)
	l.Release()
}

func TestCompactionMatchesReferenceMap(t *testing.T) {
	dir := t.TempDir()
	opts := []store.Option{
		store.WithSegmentSize(1024),
		store.WithCompactionPolicy(2048, 0.5),
		store.WithCompactionBatchSize(8),
	}
	s := openStore(t, dir, opts...)

	rng := rand.New(rand.NewSource(42))
	ref := make(map[string]string)
	for i := 0; i < 2000; i++ {
		k := fmt.Sprintf("key-%d", rng.Intn(64))
		switch rng.Intn(4) {
		case 0:
			err := s.Remove(k)
			if _, ok := ref[k]; ok {
				require.NoError(t, err)
				delete(ref, k)
			} else {
				require.ErrorIs(t, err, store.ErrKeyNotFound)
			}
		default:
			v := fmt.Sprintf("value-%d-%s", i, strings.Repeat("x", rng.Intn(40)))
			require.NoError(t, s.Set(k, v))
			ref[k] = v
		}

		if i%250 == 0 {
			for k, v := range ref {
				got, ok := mustGet(t, s, k)
				require.True(t, ok, k)
				require.Equal(t, v, got)
			}
		}
	}

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, len(ref), stats.Keys)
	// the policy keeps stale bytes under both thresholds after every write
	assert.Less(t, stats.StaleBytes, int64(2048)+stats.LiveBytes+1024)

	require.NoError(t, s.Close())
	s2 := openStore(t, dir, opts...)
	assert.Equal(t, len(ref), s2.Len())
	for k, v := range ref {
		got, ok := mustGet(t, s2, k)
		require.True(t, ok, k)
		assert.Equal(t, v, got)
	}
}

func TestDiskUsageBounded(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir,
		store.WithSegmentSize(4096),
		store.WithCompactionPolicy(16*1024, 0.5),
	)

	value := strings.Repeat("v", 400)
	for i := 0; i < 3000; i++ {
		require.NoError(t, s.Set(fmt.Sprintf("key-%d", i%10), value))
	}

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Keys)
	// over 1 MB was written for 10 live keys
	assert.Less(t, stats.LogBytes, int64(64*1024))

	var onDisk int64
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		info, err := e.Info()
		require.NoError(t, err)
		onDisk += info.Size()
	}
	assert.Equal(t, stats.LogBytes, onDisk)
}

func TestForcedCompact(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Set("k", fmt.Sprintf("v%d", i)))
	}
	require.NoError(t, s.Set("other", "x"))
	require.NoError(t, s.Set("gone", "x"))
	require.NoError(t, s.Remove("gone"))

	before, err := s.Stats()
	require.NoError(t, err)
	require.Greater(t, before.StaleBytes, int64(0))

	res, err := s.Compact()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Copied)
	assert.Equal(t, before.LogBytes-before.LiveBytes, res.ReclaimedBytes)

	after, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.StaleBytes)
	assert.Equal(t, res.Generation, after.Active)

	v, _ := mustGet(t, s, "k")
	assert.Equal(t, "v49", v)
}

func TestCrashDuringCompactionRecovers(t *testing.T) {
	dir := t.TempDir()
	opts := []store.Option{
		store.WithSegmentSize(512),
		store.WithCompactionPolicy(1<<30, 0.5),
		store.WithCompactionBatchSize(4),
	}
	s, err := store.Open(dir, opts...)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	ref := make(map[string]string)
	for i := 0; i < 400; i++ {
		k := fmt.Sprintf("key-%d", rng.Intn(24))
		if _, ok := ref[k]; ok && rng.Intn(4) == 0 {
			require.NoError(t, s.Remove(k))
			delete(ref, k)
			continue
		}
		v := fmt.Sprintf("value-%d", i)
		require.NoError(t, s.Set(k, v))
		ref[k] = v
	}

	before := copyDir(t, dir)
	res, err := s.Compact()
	require.NoError(t, err)
	require.Greater(t, res.Removed, 2)
	after := copyDir(t, dir)
	require.NoError(t, s.Close())

	old := res.Generation - 1
	tests := []struct {
		name    string
		removed uint64
	}{
		{"before any removal", 0},
		{"after first removal", 1},
		{"halfway through removal", old / 2},
		{"one old segment left", old - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crashed := copyDir(t, before)
			for id := uint64(1); id <= tt.removed; id++ {
				require.NoError(t, os.Remove(filepath.Join(crashed, disk.SegmentName(id))))
			}
			copyInto(t, after, crashed)

			s2 := openStore(t, crashed, opts...)
			assert.Equal(t, len(ref), s2.Len())
			for k, v := range ref {
				got, ok := mustGet(t, s2, k)
				require.True(t, ok, k)
				assert.Equal(t, v, got)
			}
			for i := 0; i < 24; i++ {
				k := fmt.Sprintf("key-%d", i)
				if _, ok := ref[k]; !ok {
					_, found := mustGet(t, s2, k)
					assert.False(t, found, k)
				}
			}
		})
	}
}

func TestCompactionOnOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir, store.WithCompactionPolicy(1<<30, 0.5))
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		require.NoError(t, s.Set("k", strings.Repeat("x", 50)))
	}
	require.NoError(t, s.Close())

	s2 := openStore(t, dir, store.WithCompactionPolicy(1024, 0.5))
	stats, err := s2.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.StaleBytes)
	assert.Equal(t, 1, stats.Keys)
}

func TestCompressedStore(t *testing.T) {
	dir := t.TempDir()
	value := strings.Repeat("compressible-", 200)

	s, err := store.Open(dir, store.WithCompression(util.CompressionGzip))
	require.NoError(t, err)
	require.NoError(t, s.Set("k", value))
	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Less(t, stats.LogBytes, int64(len(value)))
	require.NoError(t, s.Close())

	// readable with a different codec configured
	s2 := openStore(t, dir, store.WithCompression(util.CompressionSnappy))
	got, ok := mustGet(t, s2, "k")
	assert.True(t, ok)
	assert.Equal(t, value, got)
}
