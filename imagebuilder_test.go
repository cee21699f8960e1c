package axfs

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
)

// imageBuilder assembles a minimal, valid AXFS image byte-for-byte, the
// way mock_test.go hand-assembled fake squashfs headers, extended to a
// full image since AXFS's fixed 18-region layout has no single "minimal
// valid header" shortcut the way a truncated squashfs superblock does.
type imageBuilder struct {
	pageShift  uint8
	cblockSize uint32
	files      uint64

	// one populated regionDescriptor per region, in region index order
	descs [regionCount]regionDescriptor
	data  [regionCount][]byte
}

func newImageBuilder(files uint64) *imageBuilder {
	return &imageBuilder{pageShift: 12, cblockSize: 4096, files: files}
}

func (b *imageBuilder) setRaw(region int, data []byte) {
	b.data[region] = data
	// CompressedSize 0 means "stored raw" (region.go's compressed()), matching
	// AXFS_IS_REGION_COMPRESSED's compressed_size > 0 test exactly.
	b.descs[region] = regionDescriptor{Size: uint64(len(data))}
}

func (b *imageBuilder) setTable(region int, depth int, maxIndex uint64, lanes [][]byte) {
	var data []byte
	for _, l := range lanes {
		data = append(data, l...)
	}
	b.data[region] = data
	b.descs[region] = regionDescriptor{Size: uint64(len(data)), MaxIndex: maxIndex, TableByteDepth: uint32(depth)}
}

// compressRegion replaces a region's on-media bytes with their deflated
// form, leaving Size (the uncompressed length the region loader must
// reproduce) unchanged. Exercises loadRegion's region-level decompression
// path, distinct from the per-cblock decompression the compressed region's
// contents go through.
func (b *imageBuilder) compressRegion(region int) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(b.data[region])
	w.Close()
	b.descs[region].CompressedSize = uint64(buf.Len())
	b.data[region] = buf.Bytes()
}

func table1(values []byte) [][]byte { return [][]byte{values} }

func table2(lo, hi []byte) [][]byte { return [][]byte{lo, hi} }

// build assembles the final byte image: header, then 18 region
// descriptors back to back, then each region's raw data back to back.
func (b *imageBuilder) build() []byte {
	descOff := make([]uint64, regionCount)
	dataOff := make([]uint64, regionCount)

	cursor := uint64(superblockSize)
	for i := 0; i < regionCount; i++ {
		descOff[i] = cursor
		cursor += regionDescriptorSize
	}
	for i := 0; i < regionCount; i++ {
		dataOff[i] = cursor
		cursor += uint64(len(b.data[i]))
	}
	total := cursor

	buf := make([]byte, total)

	// superblock header
	binary.BigEndian.PutUint32(buf[0:4], magic)
	copy(buf[4:4+len(signatureText)], signatureText)
	// digest left zeroed
	headerOff := 4 + 16 + 40
	binary.BigEndian.PutUint32(buf[headerOff:], b.cblockSize)
	headerOff += 4
	binary.BigEndian.PutUint64(buf[headerOff:], b.files)
	headerOff += 8
	binary.BigEndian.PutUint64(buf[headerOff:], total) // size
	headerOff += 8
	binary.BigEndian.PutUint64(buf[headerOff:], 0) // blocks
	headerOff += 8
	binary.BigEndian.PutUint64(buf[headerOff:], total) // mmap_size: whole image mapped
	headerOff += 8
	for i := 0; i < regionCount; i++ {
		binary.BigEndian.PutUint64(buf[headerOff:], descOff[i])
		headerOff += 8
	}
	headerOff += 3 // version major/minor/sub, left zero
	buf[headerOff] = 0 // compression_type = deflate
	headerOff += 1
	headerOff += 8 // build timestamp, left zero
	buf[headerOff] = b.pageShift

	// region descriptors
	for i := 0; i < regionCount; i++ {
		d := b.descs[i]
		d.FSOffset = dataOff[i]
		o := descOff[i]
		binary.BigEndian.PutUint64(buf[o:], d.FSOffset)
		binary.BigEndian.PutUint64(buf[o+8:], d.Size)
		binary.BigEndian.PutUint64(buf[o+16:], d.CompressedSize)
		binary.BigEndian.PutUint64(buf[o+24:], d.MaxIndex)
		binary.BigEndian.PutUint32(buf[o+32:], d.TableByteDepth)
		binary.BigEndian.PutUint32(buf[o+36:], d.Incore)
	}

	// region data
	for i := 0; i < regionCount; i++ {
		copy(buf[dataOff[i]:], b.data[i])
	}

	return buf
}
