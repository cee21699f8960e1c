package axfs

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// cblockCache holds exactly one decompressed compressed-block (spec.md
// §4.5: "single-slot cache... most recently decompressed cblock"). The
// original driver protects its one buffer with a rwsemaphore that callers
// take as a writer, fill if stale, then downgrade to a reader before
// copying out — an operation Go's sync.RWMutex cannot perform atomically
// (see DESIGN.md's Open Question resolution on cache concurrency). This
// republishes an immutable snapshot behind an atomic.Pointer instead, and
// uses singleflight to collapse concurrent misses on the same cnode into
// one decompress call.
type cblockCache struct {
	cblockSize uint64
	dec        Decompressor
	current    atomic.Pointer[cblockSnapshot]
	fill       singleflight.Group
}

type cblockSnapshot struct {
	cnode uint64
	data  []byte
}

func newCblockCache(cblockSize uint64, dec Decompressor) *cblockCache {
	return &cblockCache{cblockSize: cblockSize, dec: dec}
}

// get returns the decompressed bytes of cnode physicalCnode, whose
// compressed payload is compressed[start:end] within the compressed
// region. wantLen is the expected decompressed length (cblockSize, except
// for a file's final block, which may be shorter).
func (c *cblockCache) get(physicalCnode uint64, compressed []byte, wantLen int) ([]byte, error) {
	if snap := c.current.Load(); snap != nil && snap.cnode == physicalCnode {
		return snap.data, nil
	}

	key := fmt.Sprintf("%d", physicalCnode)
	v, err, _ := c.fill.Do(key, func() (any, error) {
		// Re-check: another goroutine may have filled this exact cnode
		// while we were waiting to enter Do.
		if snap := c.current.Load(); snap != nil && snap.cnode == physicalCnode {
			return snap.data, nil
		}
		data, err := c.dec.Decompress(nil, compressed, wantLen)
		if err != nil {
			c.current.Store(nil)
			return nil, err
		}
		c.current.Store(&cblockSnapshot{cnode: physicalCnode, data: data})
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
