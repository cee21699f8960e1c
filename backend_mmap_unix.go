//go:build linux || darwin

package axfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile memory-maps the first n bytes of f read-only, giving the
// region loader a true zero-copy XIP window (spec.md §6.4: "physical
// address range to remap"). Grounded on the original driver's AXFS_REMAP
// (ioremap_cached/ioremap) call in axfs_super.c's axfs_do_fill_data_ptrs;
// a userspace reader maps the file instead of remapping a physical
// address range, but the effect on the read path is identical: pages
// inside this mapping are never copied; bytes beyond it are read from the
// file through the backend's tail.
func mmapFile(f *os.File, n int64) ([]byte, func() error, error) {
	if n <= 0 {
		return nil, nil, fmt.Errorf("mmap: non-positive length %d", n)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(n), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: %w", err)
	}
	unmap := func() error {
		return unix.Munmap(data)
	}
	return data, unmap, nil
}
