//go:build windows

package lock

import (
	"fmt"
	"os"
)

// Acquire creates <dir>/LOCK exclusively. The file is removed again on Release.
func Acquire(dir string) (*Lock, error) {
	f, err := os.OpenFile(path(dir), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	return &Lock{f: f}, nil
}

func (l *Lock) release() error {
	name := l.f.Name()
	if err := l.f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
