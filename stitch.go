package axfs

// byteTable is the in-core form of a region whose payload is a stitched
// table: depth concatenated lanes, each maxIndex bytes long. Entry i is
// reconstructed as the little-endian sum of lane[k][i] << (8*k), for
// k in [0, depth). A zero-length lane (depth 0, an absent region) always
// stitches to 0.
//
// Grounded on axfs_fs.h's AXFS_U64_STITCH/AXFS_U32_STITCH macros and
// axfs.cpp's axfs_bytetable_stitch: lanes are stored contiguously
// (lane k starts at k*maxIndex), not interleaved byte-by-byte.
type byteTable struct {
	data     []byte
	depth    int
	maxIndex uint64
}

// stitch decodes the u64 at index i from the table's depth byte lanes.
// Panics are never raised for an absent table (depth 0): it always reads
// as zero. Callers that need the max_index bound checked should do so
// before calling stitch; entries beyond max_index are a caller bug, not a
// wire-format concern, and are rejected higher up in metadata.go so the
// hot path here stays a tight loop.
func (t byteTable) stitch(i uint64) uint64 {
	if t.depth == 0 {
		return 0
	}
	var v uint64
	for k := 0; k < t.depth; k++ {
		off := uint64(k)*t.maxIndex + i
		v |= uint64(t.data[off]) << (8 * uint(k))
	}
	return v
}

// get is like stitch but validates i < maxIndex first, returning ok=false
// (rather than panicking on an out-of-range slice index) when the index is
// out of bounds or the table is empty.
func (t byteTable) get(i uint64) (uint64, bool) {
	if t.depth == 0 {
		return 0, true
	}
	if i >= t.maxIndex {
		return 0, false
	}
	return t.stitch(i), true
}

// stitchLanes splits a flat depth*maxIndex byte buffer into the byteTable
// view used by stitch/get. It does not copy: the returned byteTable aliases
// data.
func stitchLanes(data []byte, depth int, maxIndex uint64) byteTable {
	return byteTable{data: data, depth: depth, maxIndex: maxIndex}
}
