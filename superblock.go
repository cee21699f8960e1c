package axfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Magic and signature constants from spec.md §3.1/§6.1.
const (
	magic              uint32 = 0x48A0E4CD
	signatureText             = "Advanced XIP FS"
	signatureFieldSize        = 16
	digestFieldSize           = 40
)

// Region indices, in on-media order (spec.md §6.1's "region offsets, in
// order"). Named so superblock.go and region.go never disagree about
// which offset is which.
const (
	regionStrings = iota
	regionXIP
	regionByteAligned
	regionCompressed
	regionNodeType
	regionNodeIndex
	regionCnodeOffset
	regionCnodeIndex
	regionBanodeOffset
	regionCblockOffset
	regionInodeFileSize
	regionInodeNameOffset
	regionInodeNumEntries
	regionInodeModeIndex
	regionInodeArrayIndex
	regionModes
	regionUIDs
	regionGIDs
	regionCount
)

var regionNames = [regionCount]string{
	regionStrings:         "strings",
	regionXIP:             "xip",
	regionByteAligned:     "byte_aligned",
	regionCompressed:      "compressed",
	regionNodeType:        "node_type",
	regionNodeIndex:       "node_index",
	regionCnodeOffset:     "cnode_offset",
	regionCnodeIndex:      "cnode_index",
	regionBanodeOffset:    "banode_offset",
	regionCblockOffset:    "cblock_offset",
	regionInodeFileSize:   "inode_file_size",
	regionInodeNameOffset: "inode_name_offset",
	regionInodeNumEntries: "inode_num_entries",
	regionInodeModeIndex:  "inode_mode_index",
	regionInodeArrayIndex: "inode_array_index",
	regionModes:           "modes",
	regionUIDs:            "uids",
	regionGIDs:            "gids",
}

// superblockSize is the on-media header's fixed byte length (spec.md
// §6.1): 96 bytes of scalar fields, 18 region offsets at 8 bytes each,
// then version/compression/timestamp/page_shift.
const superblockSize = 96 + 8*regionCount + 3 + 1 + 8 + 1

// superblock is the parsed on-media header. Always big-endian, unlike the
// teacher's dual-endian squashfs superblock (spec.md never offers a
// little-endian variant).
type superblock struct {
	Digest          [digestFieldSize]byte
	CblockSize      uint32
	Files           uint64
	Size            uint64
	Blocks          uint64
	MmapSize        uint64
	RegionOffsets   [regionCount]uint64
	VersionMajor    uint8
	VersionMinor    uint8
	VersionSub      uint8
	CompressionType CompressionType
	BuildTimestamp  uint64
	PageShift       uint8
}

func (s *superblock) PageSize() uint64 {
	return uint64(1) << s.PageShift
}

func (s *superblock) BuildTime() time.Time {
	return time.Unix(int64(s.BuildTimestamp), 0).UTC()
}

// parseSuperblock reads and validates the fixed-layout header, rejecting
// anything that fails magic/signature/compression-type checks with
// ErrCorrupt (spec.md §7: "open is fail-fast").
func parseSuperblock(head []byte) (*superblock, error) {
	if len(head) < superblockSize {
		return nil, &CorruptError{Reason: fmt.Sprintf("superblock truncated: got %d bytes, want %d", len(head), superblockSize)}
	}

	r := bytes.NewReader(head)

	var gotMagic uint32
	if err := binary.Read(r, binary.BigEndian, &gotMagic); err != nil {
		return nil, &CorruptError{Reason: "reading magic: " + err.Error()}
	}
	if gotMagic != magic {
		return nil, &CorruptError{Reason: fmt.Sprintf("bad magic 0x%08x", gotMagic)}
	}

	var sigBuf [signatureFieldSize]byte
	if _, err := r.Read(sigBuf[:]); err != nil {
		return nil, &CorruptError{Reason: "reading signature: " + err.Error()}
	}
	if !bytes.Equal(sigBuf[:len(signatureText)], []byte(signatureText)) {
		return nil, &CorruptError{Reason: fmt.Sprintf("bad signature %q", sigBuf)}
	}

	sb := &superblock{}

	if _, err := r.Read(sb.Digest[:]); err != nil {
		return nil, &CorruptError{Reason: "reading digest: " + err.Error()}
	}

	for _, f := range []any{&sb.CblockSize, &sb.Files, &sb.Size, &sb.Blocks, &sb.MmapSize} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return nil, &CorruptError{Reason: "reading header scalar: " + err.Error()}
		}
	}

	for i := range sb.RegionOffsets {
		if err := binary.Read(r, binary.BigEndian, &sb.RegionOffsets[i]); err != nil {
			return nil, &CorruptError{Reason: fmt.Sprintf("reading %s region offset: %s", regionNames[i], err)}
		}
	}

	for _, f := range []*uint8{&sb.VersionMajor, &sb.VersionMinor, &sb.VersionSub} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return nil, &CorruptError{Reason: "reading version: " + err.Error()}
		}
	}

	var compType uint8
	if err := binary.Read(r, binary.BigEndian, &compType); err != nil {
		return nil, &CorruptError{Reason: "reading compression_type: " + err.Error()}
	}
	sb.CompressionType = CompressionType(compType)
	if _, err := lookupDecompressor(sb.CompressionType); err != nil {
		return nil, err
	}

	if err := binary.Read(r, binary.BigEndian, &sb.BuildTimestamp); err != nil {
		return nil, &CorruptError{Reason: "reading build timestamp: " + err.Error()}
	}

	if err := binary.Read(r, binary.BigEndian, &sb.PageShift); err != nil {
		return nil, &CorruptError{Reason: "reading page_shift: " + err.Error()}
	}
	if sb.PageShift == 0 || sb.PageShift > 31 {
		return nil, &CorruptError{Reason: fmt.Sprintf("implausible page_shift %d", sb.PageShift)}
	}

	if sb.MmapSize > sb.Size {
		return nil, &CorruptError{Reason: fmt.Sprintf("mmap_size %d exceeds size %d", sb.MmapSize, sb.Size)}
	}

	return sb, nil
}
