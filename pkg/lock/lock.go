// Package lock guards a store directory against a second open handle.
package lock

import (
	"errors"
	"os"
	"path/filepath"
)

const FileName = "LOCK"

// ErrLocked is returned when another handle holds the directory lock.
var ErrLocked = errors.New("directory is locked by another store")

// Lock is an exclusive lock on a directory, held until Release.
type Lock struct {
	f *os.File
}

func path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Release gives up the lock. Calling it more than once is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.release()
	l.f = nil
	return err
}
