//go:build !darwin && !linux

package mns

import (
	"io"
	"os"
)

// mmapFile falls back to a plain read for platforms with no mmap
// support wired up (everything but darwin/linux), mirroring
// storage/filesystem/mmap/scan_unsupported.go's fallback posture.
func mmapFile(f *os.File) ([]byte, func() error, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
