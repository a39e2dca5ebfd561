//go:build !linux

package fs

import "os"

func openSequential(path string) (*os.File, error) {
	return os.Open(path)
}
