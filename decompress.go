package axfs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// CompressionType identifies the on-media compression algorithm, read from
// the superblock's compression_type byte. AXFS (unlike the squashfs format
// this reader's idiom is borrowed from) defines exactly one valid value;
// every other value is reserved and rejected at Open.
type CompressionType uint8

const (
	// CompressionDeflate is the only supported on-media compression: raw
	// zlib-wrapped DEFLATE streams (spec.md §6.3).
	CompressionDeflate CompressionType = 0
)

func (c CompressionType) String() string {
	switch c {
	case CompressionDeflate:
		return "DEFLATE"
	default:
		return fmt.Sprintf("CompressionType(%d)", uint8(c))
	}
}

// Decompressor inflates a single compressed stream whose uncompressed
// length is already known. The zlib/DEFLATE primitive itself is an
// external collaborator per spec.md §1 ("out of scope... interfaces
// only"); this interface is that boundary, with zlibDecompressor supplying
// the one registered implementation this module ships.
type Decompressor interface {
	// Decompress inflates src into a buffer of at most wantLen bytes,
	// either filling dst (if dst has capacity wantLen) or allocating a
	// new slice. If the stream ends before wantLen bytes, the returned
	// slice is cut to the bytes actually inflated; callers that need an
	// exact size compare the returned length themselves.
	Decompress(dst []byte, src []byte, wantLen int) ([]byte, error)
}

// compressorRegistry maps a CompressionType to its Decompressor, mirroring
// the teacher's CompHandler registry shape (comp.go / comp_xz.go) so adding
// a second algorithm later is a one-line registration rather than a
// rewrite — even though spec.md's Open Questions settle that AXFS images
// only ever declare type 0 today.
var compressorRegistry = map[CompressionType]Decompressor{
	CompressionDeflate: zlibDecompressor{},
}

// lookupDecompressor resolves a CompressionType to its Decompressor,
// failing closed (ErrCorrupt) for anything unregistered — which in
// practice means anything other than CompressionDeflate.
func lookupDecompressor(t CompressionType) (Decompressor, error) {
	d, ok := compressorRegistry[t]
	if !ok {
		return nil, &CorruptError{Reason: fmt.Sprintf("unsupported compression_type %d", uint8(t))}
	}
	return d, nil
}

// zlibDecompressor implements Decompressor using klauspost/compress/zlib,
// a drop-in faster replacement for compress/zlib already present in the
// teacher's own transitive dependency graph (it ships klauspost/compress
// for its zstd path). It streams directly from the compressed bytes into
// the destination buffer rather than materializing an intermediate
// scratch buffer, collapsing the original kernel driver's two cblock
// buffers into one (spec.md §9).
type zlibDecompressor struct{}

func (zlibDecompressor) Decompress(dst []byte, src []byte, wantLen int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: zlib header: %s", ErrDecompress, err)
	}
	defer r.Close()

	if cap(dst) < wantLen {
		dst = make([]byte, wantLen)
	} else {
		dst = dst[:wantLen]
	}

	n, err := io.ReadFull(r, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: %s", ErrDecompress, err)
	}
	if n != wantLen {
		// The final cblock of a file may legitimately inflate to less than
		// cblock_size (spec.md §6.3); callers that require an exact size
		// (region loads) pass wantLen equal to the expected size and treat
		// a short read as corruption themselves via the returned slice
		// length, so this is not an error here.
		dst = dst[:n]
	}
	return dst, nil
}
