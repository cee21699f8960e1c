package axfs

import (
	"encoding/binary"
	"fmt"
)

// regionDescriptorSize is the fixed on-media size of one region descriptor
// (spec.md §6.2): three uint64 extents, a uint64 table row count, a
// uint32 byte-table depth, and a uint32 incore flag.
const regionDescriptorSize = 8*4 + 4 + 4

// regionDescriptor mirrors the on-media record the superblock's region
// offsets point to. Grounded on axfs_fs.h's struct axfs_region_desc.
type regionDescriptor struct {
	FSOffset       uint64 // byte offset into the logical address space
	Size           uint64 // uncompressed byte length
	CompressedSize uint64 // on-media byte length if compressed; 0 if stored raw
	MaxIndex       uint64 // row count, for regions organized as byte-tables
	TableByteDepth uint32 // lanes per stitched value; 0 means "region absent"
	Incore         uint32 // non-zero: must be resident in host memory, never XIP
}

func (d regionDescriptor) compressed() bool {
	return d.CompressedSize != 0
}

func (d regionDescriptor) present() bool {
	return d.Size != 0
}

// parseRegionDescriptor reads the descriptor at byte offset off in the
// logical address space.
func parseRegionDescriptor(b Backend, off uint64) (regionDescriptor, error) {
	buf, err := b.Fetch(int64(off), regionDescriptorSize)
	if err != nil {
		return regionDescriptor{}, fmt.Errorf("region descriptor at %d: %w", off, err)
	}
	var d regionDescriptor
	d.FSOffset = binary.BigEndian.Uint64(buf[0:8])
	d.Size = binary.BigEndian.Uint64(buf[8:16])
	d.CompressedSize = binary.BigEndian.Uint64(buf[16:24])
	d.MaxIndex = binary.BigEndian.Uint64(buf[24:32])
	d.TableByteDepth = binary.BigEndian.Uint32(buf[32:36])
	d.Incore = binary.BigEndian.Uint32(buf[36:40])
	return d, nil
}

// region is a region's materialized byte content, loaded by exactly one of
// the four strategies spec.md §4.3 describes. data is always a direct,
// ready-to-read byte slice; how it got that way (mmap alias, one-shot
// inflate, eager copy, or lazy fetch-on-first-touch) is invisible to
// metadata.go's accessors.
type region struct {
	desc regionDescriptor
	data []byte

	// lazy, when set, defers materialization until bytes() is first
	// called — used for regions that are neither XIP-eligible nor
	// marked incore, where the original driver would fault pages in on
	// demand rather than copy the whole region up front.
	lazy func() ([]byte, error)
}

func (r *region) bytes() ([]byte, error) {
	if r.data != nil || r.lazy == nil {
		return r.data, nil
	}
	data, err := r.lazy()
	if err != nil {
		return nil, err
	}
	r.data = data
	r.lazy = nil
	return r.data, nil
}

// loadRegion materializes a region's bytes using the backend, following
// the decision order of axfs_super.c's axfs_do_fill_data_ptrs: XIP direct
// mapping when eligible, else decompress, else eager copy for
// incore/force-virtualize regions, else a lazy backend fetch.
func loadRegion(b Backend, desc regionDescriptor, mmapSize int64, forceVirtualize bool, dec Decompressor) (*region, error) {
	if !desc.present() {
		return &region{desc: desc}, nil
	}

	xipEligible := !desc.compressed() && desc.Incore == 0 && !forceVirtualize &&
		int64(desc.FSOffset+desc.Size) <= mmapSize

	if xipEligible {
		mapped := b.Mapped()
		if mapped != nil {
			return &region{desc: desc, data: mapped[desc.FSOffset : desc.FSOffset+desc.Size]}, nil
		}
		// No mapped window at all (e.g. a file backend that fell back to
		// buffered reads) — the lazy fetch below still yields the same
		// bytes, just via a copy instead of zero-copy aliasing.
	}

	if desc.compressed() {
		raw, err := b.Fetch(int64(desc.FSOffset), int64(desc.CompressedSize))
		if err != nil {
			return nil, fmt.Errorf("reading compressed region: %w", err)
		}
		out, err := dec.Decompress(nil, raw, int(desc.Size))
		if err != nil {
			return nil, err
		}
		if len(out) != int(desc.Size) {
			return nil, &CorruptError{Reason: fmt.Sprintf("region inflated to %d bytes, want %d", len(out), desc.Size)}
		}
		return &region{desc: desc, data: out}, nil
	}

	if desc.Incore != 0 || forceVirtualize {
		data, err := b.Fetch(int64(desc.FSOffset), int64(desc.Size))
		if err != nil {
			return nil, fmt.Errorf("reading incore region: %w", err)
		}
		return &region{desc: desc, data: data}, nil
	}

	off, size := int64(desc.FSOffset), int64(desc.Size)
	return &region{
		desc: desc,
		lazy: func() ([]byte, error) {
			data, err := b.Fetch(off, size)
			if err != nil {
				return nil, fmt.Errorf("reading region on demand: %w", err)
			}
			return data, nil
		},
	}, nil
}
