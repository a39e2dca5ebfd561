//go:build !unix

package fs

import "io/fs"

type fileID struct {
	dev   uint64
	ino   uint64
	nlink uint64
}

// identityOf returns a zero identity; inode data is not exposed here.
func identityOf(fs.FileInfo) fileID {
	return fileID{}
}
