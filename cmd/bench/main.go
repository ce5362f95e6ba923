package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/downfa11-org/go-kvs/pkg/bench"
	"github.com/downfa11-org/go-kvs/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	dir := flag.String("dir", "", "store directory (default: a fresh temp dir)")
	writers := flag.Int("writers", 4, "number of concurrent writers")
	ops := flag.Int("ops", 10000, "writes per writer")
	keys := flag.Int("keys", 1000, "number of distinct keys")
	valueSize := flag.Int("value-size", 256, "value size in bytes")
	compression := flag.String("compression", "none", "value compression (none, gzip, snappy, lz4)")
	segmentSize := flag.String("segment-size", "1MB", "segment file size")
	flag.Parse()

	c, err := util.ParseCompression(*compression)
	if err != nil {
		util.Fatal("%v", err)
	}
	segSize, err := util.ParseSize(*segmentSize)
	if err != nil {
		util.Fatal("invalid -segment-size: %v", err)
	}

	if *dir == "" {
		tmp, err := os.MkdirTemp("", "kvs-bench-")
		if err != nil {
			util.Fatal("create temp dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		*dir = tmp
	}

	runner := bench.NewBenchmarkRunner(*dir, *writers, *ops, *keys, *valueSize)
	runner.Compression = c
	runner.SegmentSize = segSize

	res, err := runner.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark failed: %v\n", err)
		return 1
	}
	res.Print(os.Stdout)
	return 0
}
