//go:build !linux && !darwin

package axfs

import (
	"errors"
	"os"
)

// mmapFile is unavailable on platforms without a supported mmap syscall;
// NewFileBackend falls back to buffered reads through the file itself, so
// the image remains fully usable, just without the zero-copy XIP path.
func mmapFile(f *os.File, n int64) ([]byte, func() error, error) {
	return nil, nil, errors.New("mmap: unsupported on this platform")
}
