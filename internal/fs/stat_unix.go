//go:build unix

package fs

import (
	"io/fs"
	"syscall"
)

// fileID identifies the inode behind a path.
type fileID struct {
	dev   uint64
	ino   uint64
	nlink uint64
}

// identityOf extracts device, inode and link count from a FileInfo.
func identityOf(info fs.FileInfo) fileID {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fileID{}
	}
	return fileID{
		dev:   uint64(stat.Dev),
		ino:   uint64(stat.Ino),
		nlink: uint64(stat.Nlink),
	}
}
