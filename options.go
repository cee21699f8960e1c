package axfs

import "github.com/sirupsen/logrus"

// Option configures an Image at Open/OpenBytes time, the same functional-
// option shape the teacher uses for its Superblock.
type Option func(img *Image) error

// WithLogger replaces the default logrus logger used for structured
// diagnostic output. The only record written is one Debug-level summary
// (file count, size, mmap_size, page size) once the image is open; region
// loads and cache fills are not logged.
func WithLogger(l *logrus.Logger) Option {
	return func(img *Image) error {
		img.logger = l
		return nil
	}
}

// WithForceVirtualize disables every region's XIP fast path, forcing all
// regions to be eagerly copied into host memory instead of mapped. Mirrors
// the original driver's CONFIG_AXFS_FORCE_VIRTUALIZE build option,
// useful for backends where mmap isn't available or trustworthy.
func WithForceVirtualize(force bool) Option {
	return func(img *Image) error {
		img.forceVirtualize = force
		return nil
	}
}

// WithPageFaultObserver registers a callback invoked on every page
// resolution, receiving the inode number and the resolved array index.
// Intended for profiling hot pages, the userspace analogue of the
// original driver's page-fault counters.
func WithPageFaultObserver(fn func(inode, arrayIndex uint64)) Option {
	return func(img *Image) error {
		img.onPageFault = fn
		return nil
	}
}
