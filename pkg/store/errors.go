package store

import (
	"errors"
	"fmt"

	"github.com/downfa11-org/go-kvs/pkg/codec"
	"github.com/downfa11-org/go-kvs/pkg/compactor"
	"github.com/downfa11-org/go-kvs/pkg/disk"
	"github.com/downfa11-org/go-kvs/pkg/lock"
)

var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrIndexCorruption = errors.New("index points at a record it does not describe")
	ErrClosed          = errors.New("store is closed")
	ErrEmptyKey        = errors.New("key must not be empty")

	ErrLocked         = lock.ErrLocked
	ErrCorruptRecord  = codec.ErrCorruptRecord
	ErrCorruptSegment = disk.ErrCorruptSegment
)

// IoError reports a failed filesystem operation on the store directory.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IoError) Unwrap() error {
	return e.Err
}

// IsCorrupt reports whether err was caused by data that failed validation.
func IsCorrupt(err error) bool {
	return errors.Is(err, codec.ErrCorruptRecord) ||
		errors.Is(err, disk.ErrCorruptSegment) ||
		errors.Is(err, ErrIndexCorruption) ||
		errors.Is(err, compactor.ErrIndexMismatch)
}

// wrapErr turns filesystem failures into *IoError and passes everything else through.
func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if IsCorrupt(err) || errors.Is(err, ErrLocked) || errors.Is(err, ErrClosed) {
		return err
	}
	var ioErr *IoError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IoError{Op: op, Path: path, Err: err}
}
