//go:build unix

package lock

import (
	"errors"
	"fmt"
	"os"

	"github.com/downfa11-org/go-kvs/util"
	"golang.org/x/sys/unix"
)

// Acquire takes a non-blocking flock(2) on <dir>/LOCK.
func Acquire(dir string) (*Lock, error) {
	f, err := os.OpenFile(path(dir), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, dir)
		}
		return nil, fmt.Errorf("flock %s: %w", f.Name(), err)
	}
	util.Debug("acquired lock on %s", dir)
	return &Lock{f: f}, nil
}

func (l *Lock) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("unlock %s: %w", l.f.Name(), err)
	}
	return l.f.Close()
}
