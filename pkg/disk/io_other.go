//go:build !linux
// +build !linux

package disk

import "os"

func adviseSequential(f *os.File) {}

func syncDir(dir string) error {
	return nil
}
