//go:build darwin || linux

package mns

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile memory-maps f read-only for its full size, grounded on
// storage/filesystem/mmap/files.go's mmapFile. Shards are read far
// more often than they are written, so paging the index and data
// section in lazily beats reading the whole file up front.
func mmapFile(f *os.File) ([]byte, func() error, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if info.Size() == 0 {
		return nil, func() error { return nil }, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		return unix.Munmap(data)
	}
	return data, cleanup, nil
}
