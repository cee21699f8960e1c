package axfs

import "fmt"

// pageSource describes where one page's bytes live, after the three
// independent lookups axfs_get_xip_mem/axfs_fault/axfs_readpage perform in
// the original driver have been unified into the single dispatch spec.md
// §4.4 calls for.
type pageSource struct {
	typ NodeType

	// XIP
	xipOffset uint64

	// Compressed
	physicalCnode  uint64
	compressedOff  uint64
	compressedLen  uint64
	innerOffset    uint64

	// ByteAligned
	baOffset uint64
}

// resolvePage maps (inode, pageIndex) to its transport-specific source.
// The hazard spec.md §4.4 flags by name: node_type and node_index are
// indexed by arrayIndex (= inode_array_index[inode]+pageIndex), but the
// cnode/banode tables they point into are indexed by the node_index value
// itself, never by arrayIndex. Mixing the two up silently returns the
// wrong page instead of failing.
func (img *Image) resolvePage(inode, pageIndex uint64) (pageSource, error) {
	base, err := img.meta.InodeArrayIndex(inode)
	if err != nil {
		return pageSource{}, err
	}
	arrayIndex := base + pageIndex

	if img.onPageFault != nil {
		img.onPageFault(inode, arrayIndex)
	}

	typ, err := img.meta.NodeType(arrayIndex)
	if err != nil {
		return pageSource{}, err
	}
	nodeIndex, err := img.meta.NodeIndex(arrayIndex)
	if err != nil {
		return pageSource{}, err
	}

	switch typ {
	case NodeXIP:
		return pageSource{typ: typ, xipOffset: nodeIndex * img.pageSize}, nil

	case NodeByteAligned:
		offset, err := img.meta.BanodeOffset(nodeIndex)
		if err != nil {
			return pageSource{}, err
		}
		return pageSource{typ: typ, baOffset: offset}, nil

	case NodeCompressed:
		physicalCnode, err := img.meta.CnodeIndex(nodeIndex)
		if err != nil {
			return pageSource{}, err
		}
		start, err := img.meta.CblockOffset(physicalCnode)
		if err != nil {
			return pageSource{}, err
		}
		end, err := img.cnodeEnd(physicalCnode)
		if err != nil {
			return pageSource{}, err
		}
		if end < start {
			return pageSource{}, &CorruptError{Reason: fmt.Sprintf("cnode %d has negative compressed length", physicalCnode)}
		}
		inner, err := img.meta.CnodeOffset(nodeIndex)
		if err != nil {
			return pageSource{}, err
		}
		return pageSource{
			typ:           typ,
			physicalCnode: physicalCnode,
			compressedOff: start,
			compressedLen: end - start,
			innerOffset:   inner,
		}, nil

	default:
		return pageSource{}, &CorruptError{Reason: fmt.Sprintf("unhandled node type %d", typ)}
	}
}

// cnodeEnd returns the compressed-region byte offset one past the given
// physical cnode's compressed payload, using delta encoding against the
// next cblock_offset entry (or the region's end, for the last cnode).
func (img *Image) cnodeEnd(physicalCnode uint64) (uint64, error) {
	next := physicalCnode + 1
	if v, ok := img.meta.tables[regionCblockOffset].get(next); ok {
		return v, nil
	}
	data, err := img.meta.compressedRegionBytes()
	if err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}
