//go:build linux

package fs

import (
	"os"

	"golang.org/x/sys/unix"
)

// openSequential opens path and advises the kernel that it will be read
// front to back.
func openSequential(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	// Advice only; a failure here does not affect correctness.
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	return f, nil
}
