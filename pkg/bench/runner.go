package bench

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/downfa11-org/go-kvs/pkg/store"
	"github.com/downfa11-org/go-kvs/util"
)

type BenchmarkRunner struct {
	Dir          string
	NumWriters   int
	OpsPerWriter int
	KeySpace     int
	ValueSize    int
	Compression  util.Compression
	SegmentSize  int64
}

type Result struct {
	Writes          int
	Reads           int
	WriteDuration   time.Duration
	ReadDuration    time.Duration
	FinalLogBytes   int64
	FinalLiveBytes  int64
	FinalKeys       int
	FinalSegments   int
	WriteThroughput float64 // ops/sec
	ReadThroughput  float64 // ops/sec
}

func NewBenchmarkRunner(dir string, writers, opsPerWriter, keySpace, valueSize int) *BenchmarkRunner {
	return &BenchmarkRunner{
		Dir:          dir,
		NumWriters:   writers,
		OpsPerWriter: opsPerWriter,
		KeySpace:     keySpace,
		ValueSize:    valueSize,
	}
}

func benchKey(i int) string {
	return fmt.Sprintf("bench-key-%08d", i)
}

// Run writes NumWriters*OpsPerWriter random keys from concurrent writers, then reads every key back.
func (b *BenchmarkRunner) Run() (Result, error) {
	if b.NumWriters <= 0 || b.OpsPerWriter <= 0 || b.KeySpace <= 0 {
		return Result{}, fmt.Errorf("writers, ops and key space must be positive")
	}

	opts := []store.Option{store.WithCompression(b.Compression)}
	if b.SegmentSize > 0 {
		opts = append(opts, store.WithSegmentSize(b.SegmentSize))
	}
	s, err := store.Open(b.Dir, opts...)
	if err != nil {
		return Result{}, err
	}
	defer s.Close()

	value := strings.Repeat("x", b.ValueSize)
	start := time.Now()

	var wg sync.WaitGroup
	errCh := make(chan error, b.NumWriters)
	for i := 0; i < b.NumWriters; i++ {
		wg.Add(1)
		go func(wid int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(wid) + 1))
			for n := 0; n < b.OpsPerWriter; n++ {
				if err := s.Set(benchKey(rng.Intn(b.KeySpace)), value); err != nil {
					errCh <- fmt.Errorf("writer %d: %w", wid, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return Result{}, err
	}

	res := Result{
		Writes:        b.NumWriters * b.OpsPerWriter,
		WriteDuration: time.Since(start),
	}

	start = time.Now()
	for i := 0; i < b.KeySpace; i++ {
		if _, _, err := s.Get(benchKey(i)); err != nil {
			return res, err
		}
		res.Reads++
	}
	res.ReadDuration = time.Since(start)

	st, err := s.Stats()
	if err != nil {
		return res, err
	}
	res.FinalLogBytes = st.LogBytes
	res.FinalLiveBytes = st.LiveBytes
	res.FinalKeys = st.Keys
	res.FinalSegments = st.Segments
	res.WriteThroughput = float64(res.Writes) / res.WriteDuration.Seconds()
	res.ReadThroughput = float64(res.Reads) / res.ReadDuration.Seconds()
	return res, nil
}

func (r Result) Print(w io.Writer) {
	fmt.Fprintf(w, "\nBENCHMARK RESULT [store]\n")
	fmt.Fprintf(w, "-------------------------------------\n")
	fmt.Fprintf(w, " Writes        : %d in %v (%.2f ops/sec)\n", r.Writes, r.WriteDuration, r.WriteThroughput)
	fmt.Fprintf(w, " Reads         : %d in %v (%.2f ops/sec)\n", r.Reads, r.ReadDuration, r.ReadThroughput)
	fmt.Fprintf(w, " Keys          : %d\n", r.FinalKeys)
	fmt.Fprintf(w, " Segments      : %d\n", r.FinalSegments)
	fmt.Fprintf(w, " Log bytes     : %d (live %d)\n", r.FinalLogBytes, r.FinalLiveBytes)
	fmt.Fprintf(w, "-------------------------------------\n")
}
