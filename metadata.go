package axfs

import (
	"bytes"
	"fmt"
)

// metadata is the fully materialized index built from the superblock's 18
// regions: the three raw page-transport regions (xip, compressed,
// byte_aligned), the raw strings region, and fourteen stitched
// byte-tables. Every accessor here
// corresponds 1:1 to one of axfs_fs.h's AXFS_GET_* macros; folding them
// onto one struct (instead of the teacher's per-purpose inoderef.go
// bit-packing) keeps the stitch-then-look-up idiom in a single place.
type metadata struct {
	regions [regionCount]*region
	tables  [regionCount]byteTable
}

// newMetadata loads every region described by sb's offsets and prepares a
// byteTable view over the ones that are stitched tables rather than raw
// page data (xip/compressed/byte_aligned/strings are raw; everything else
// is a byte-table per spec.md §4.2). The tables and the strings region are
// always copied in-core; only the three page-data regions follow the
// caller's forceVirtualize setting.
func newMetadata(b Backend, sb *superblock, forceVirtualize bool, dec Decompressor) (*metadata, error) {
	m := &metadata{}
	for i, off := range sb.RegionOffsets {
		desc, err := parseRegionDescriptor(b, off)
		if err != nil {
			return nil, fmt.Errorf("%s region: %w", regionNames[i], err)
		}
		force := forceVirtualize
		switch i {
		case regionXIP, regionCompressed, regionByteAligned:
		default:
			force = true
		}
		r, err := loadRegion(b, desc, int64(sb.MmapSize), force, dec)
		if err != nil {
			return nil, fmt.Errorf("%s region: %w", regionNames[i], err)
		}
		m.regions[i] = r

		switch i {
		case regionXIP, regionCompressed, regionByteAligned, regionStrings:
			// Raw page/string data; no stitching.
		default:
			data, err := r.bytes()
			if err != nil {
				return nil, fmt.Errorf("%s region: %w", regionNames[i], err)
			}
			m.tables[i] = stitchLanes(data, int(desc.TableByteDepth), desc.MaxIndex)
		}
	}
	return m, nil
}

func (m *metadata) stitched(region int, i uint64) (uint64, error) {
	v, ok := m.tables[region].get(i)
	if !ok {
		return 0, &CorruptError{Reason: fmt.Sprintf("%s index %d out of range", regionNames[region], i)}
	}
	return v, nil
}

// NodeType returns the page transport kind for inode_array_index[inode]+page.
func (m *metadata) NodeType(arrayIndex uint64) (NodeType, error) {
	v, err := m.stitched(regionNodeType, arrayIndex)
	if err != nil {
		return 0, err
	}
	t := NodeType(v)
	if !t.valid() {
		return 0, &CorruptError{Reason: fmt.Sprintf("invalid node_type %d at array index %d", v, arrayIndex)}
	}
	return t, nil
}

// NodeIndex returns the per-transport index (cnode/banode index, or direct
// XIP page number) for a given array index. This is deliberately NOT the
// same value as arrayIndex — spec.md §4.4 calls conflating them the
// primary correctness hazard this reader has to avoid.
func (m *metadata) NodeIndex(arrayIndex uint64) (uint64, error) {
	return m.stitched(regionNodeIndex, arrayIndex)
}

func (m *metadata) CnodeOffset(cnodeIndex uint64) (uint64, error) {
	return m.stitched(regionCnodeOffset, cnodeIndex)
}

func (m *metadata) CnodeIndex(cnodeIndex uint64) (uint64, error) {
	return m.stitched(regionCnodeIndex, cnodeIndex)
}

func (m *metadata) BanodeOffset(banodeIndex uint64) (uint64, error) {
	return m.stitched(regionBanodeOffset, banodeIndex)
}

func (m *metadata) CblockOffset(cnodeIndex uint64) (uint64, error) {
	return m.stitched(regionCblockOffset, cnodeIndex)
}

func (m *metadata) InodeFileSize(inode uint64) (uint64, error) {
	return m.stitched(regionInodeFileSize, inode)
}

func (m *metadata) InodeNameOffset(inode uint64) (uint64, error) {
	return m.stitched(regionInodeNameOffset, inode)
}

func (m *metadata) InodeNumEntries(inode uint64) (uint64, error) {
	return m.stitched(regionInodeNumEntries, inode)
}

func (m *metadata) InodeModeIndex(inode uint64) (uint64, error) {
	return m.stitched(regionInodeModeIndex, inode)
}

func (m *metadata) InodeArrayIndex(inode uint64) (uint64, error) {
	return m.stitched(regionInodeArrayIndex, inode)
}

func (m *metadata) Mode(modeIndex uint64) (uint32, error) {
	v, err := m.stitched(regionModes, modeIndex)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func (m *metadata) Uid(idx uint64) (uint32, error) {
	v, err := m.stitched(regionUIDs, idx)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func (m *metadata) Gid(idx uint64) (uint32, error) {
	v, err := m.stitched(regionGIDs, idx)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// String reads a NUL-terminated name out of the strings region starting
// at byte offset off.
func (m *metadata) String(off uint64) (string, error) {
	data, err := m.regions[regionStrings].bytes()
	if err != nil {
		return "", err
	}
	if off >= uint64(len(data)) {
		return "", &CorruptError{Reason: fmt.Sprintf("string offset %d out of range", off)}
	}
	end := bytes.IndexByte(data[off:], 0)
	if end < 0 {
		return "", &CorruptError{Reason: fmt.Sprintf("unterminated string at offset %d", off)}
	}
	return string(data[off : off+uint64(end)]), nil
}

// xipPage returns the page-sized slice of XIP-mapped data at the given
// byte offset into the xip region.
func (m *metadata) xipPage(offset, pageSize uint64) ([]byte, error) {
	data, err := m.regions[regionXIP].bytes()
	if err != nil {
		return nil, err
	}
	if offset+pageSize > uint64(len(data)) {
		return nil, &CorruptError{Reason: fmt.Sprintf("xip offset %d+%d out of range", offset, pageSize)}
	}
	return data[offset : offset+pageSize], nil
}

// byteAligned returns a length-byte slice at the given offset into the
// byte_aligned region, for files whose final page does not fill a whole
// compressed block (spec.md §4.8).
func (m *metadata) byteAligned(offset, length uint64) ([]byte, error) {
	data, err := m.regions[regionByteAligned].bytes()
	if err != nil {
		return nil, err
	}
	if offset+length > uint64(len(data)) {
		return nil, &CorruptError{Reason: fmt.Sprintf("byte_aligned offset %d+%d out of range", offset, length)}
	}
	return data[offset : offset+length], nil
}

// compressedRegionBytes returns the compressed region's raw backing bytes,
// used by the cblock cache to slice out one cblock's compressed payload.
func (m *metadata) compressedRegionBytes() ([]byte, error) {
	return m.regions[regionCompressed].bytes()
}
