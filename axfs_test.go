package axfs

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
	"io/fs"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const pageSize = 4096

// buildBasicImage lays out:
//
//	/            (inode 0, dir, 2 entries)
//	/hello.txt   (inode 1, regular, XIP page)
//	/link        (inode 2, symlink -> hello.txt, XIP page)
func buildBasicImage(t *testing.T) []byte {
	return basicImageBuilder(t).build()
}

func basicImageBuilder(t *testing.T) *imageBuilder {
	t.Helper()
	b := newImageBuilder(3)

	strings := []byte{0}
	strings = append(strings, "hello.txt\x00"...)
	strings = append(strings, "link\x00"...)
	const nameRoot, nameHello, nameLink = 0, 1, 11
	b.setRaw(regionStrings, strings)

	b.setTable(regionInodeNameOffset, 1, 3, table1([]byte{nameRoot, nameHello, nameLink}))
	b.setTable(regionInodeFileSize, 1, 3, table1([]byte{0, 11, 9}))
	b.setTable(regionInodeNumEntries, 1, 3, table1([]byte{2, 0, 0}))
	b.setTable(regionInodeModeIndex, 1, 3, table1([]byte{0, 1, 2}))
	// inode_array_index doubles as "first child inode" for directories
	// (spec.md §3.1/§4.7) and "page array base index" for regular
	// files/symlinks: root's first child is inode 1 (hello.txt); hello.txt
	// and link each own one content page, at array indices 0 and 1.
	b.setTable(regionInodeArrayIndex, 1, 3, table1([]byte{1, 0, 1}))

	modeDir := uint32(S_IFDIR | 0755)
	modeReg := uint32(S_IFREG | 0644)
	modeLnk := uint32(S_IFLNK | 0777)
	b.setTable(regionModes, 2, 3, table2(
		[]byte{byte(modeDir), byte(modeReg), byte(modeLnk)},
		[]byte{byte(modeDir >> 8), byte(modeReg >> 8), byte(modeLnk >> 8)},
	))
	b.setTable(regionUIDs, 1, 3, table1([]byte{0, 0, 0}))
	b.setTable(regionGIDs, 1, 3, table1([]byte{0, 0, 0}))

	b.setTable(regionNodeType, 1, 2, table1([]byte{byte(NodeXIP), byte(NodeXIP)}))
	b.setTable(regionNodeIndex, 1, 2, table1([]byte{0, 1}))

	xip := make([]byte, 2*pageSize)
	copy(xip[0*pageSize:], "hello world")
	copy(xip[1*pageSize:], "hello.txt")
	b.setRaw(regionXIP, xip)

	return b
}

func TestOpenBytesRegionLevelCompression(t *testing.T) {
	b := basicImageBuilder(t)
	b.compressRegion(regionInodeFileSize)

	img, err := OpenBytes(b.build())
	if err != nil {
		t.Fatalf("OpenBytes with a region-compressed table: %v", err)
	}
	defer img.Close()

	data, err := fs.ReadFile(img, "hello.txt")
	if err != nil {
		t.Fatalf("ReadFile(hello.txt): %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("hello.txt content = %q, want %q", data, "hello world")
	}
}

func TestOpenBytesBasic(t *testing.T) {
	img, err := OpenBytes(buildBasicImage(t))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	root, err := fs.Stat(img, ".")
	if err != nil {
		t.Fatalf("Stat(.): %v", err)
	}
	if !root.IsDir() {
		t.Fatalf("root is not a directory")
	}

	entries, err := fs.ReadDir(img, ".")
	if err != nil {
		t.Fatalf("ReadDir(.): %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"hello.txt", "link"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("unexpected directory listing (-want +got):\n%s", diff)
	}

	data, err := fs.ReadFile(img, "hello.txt")
	if err != nil {
		t.Fatalf("ReadFile(hello.txt): %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("hello.txt content = %q, want %q", data, "hello world")
	}

	target, err := img.ReadLink("link")
	if err != nil {
		t.Fatalf("ReadLink(link): %v", err)
	}
	if target != "hello.txt" {
		t.Fatalf("link target = %q, want %q", target, "hello.txt")
	}

	if _, err := fs.Stat(img, "nonexistent"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Stat(nonexistent) = %v, want fs.ErrNotExist", err)
	}
}

func TestOpenBytesRejectsBadMagic(t *testing.T) {
	data := buildBasicImage(t)
	data[0] ^= 0xff
	if _, err := OpenBytes(data); err == nil {
		t.Fatalf("expected error opening image with corrupted magic")
	} else if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("got %v, want an ErrCorrupt", err)
	}
}

func TestOpenBytesRejectsTruncated(t *testing.T) {
	data := buildBasicImage(t)
	if _, err := OpenBytes(data[:superblockSize-1]); err == nil {
		t.Fatalf("expected error opening truncated image")
	}
}

func TestOpenBytesRejectsUnknownCompressionType(t *testing.T) {
	data := buildBasicImage(t)
	data[243] = 5 // compression_type offset, see imagebuilder_test.go
	if _, err := OpenBytes(data); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt for unknown compression_type", err)
	}
}

// buildCompressedImage is a single-file image whose one page is stored
// compressed, exercising the cblock cache and the compressed dispatch of
// resolvePage.
func buildCompressedImage(t *testing.T, content []byte) []byte {
	t.Helper()
	b := newImageBuilder(2)

	strings := []byte{0}
	strings = append(strings, "data.bin\x00"...)
	b.setRaw(regionStrings, strings)

	b.setTable(regionInodeNameOffset, 1, 2, table1([]byte{0, 1}))
	size := len(content)
	b.setTable(regionInodeFileSize, 2, 2, table2(
		[]byte{0, byte(size)},
		[]byte{0, byte(size >> 8)},
	))
	b.setTable(regionInodeNumEntries, 1, 2, table1([]byte{1, 0}))
	b.setTable(regionInodeModeIndex, 1, 2, table1([]byte{0, 1}))
	// root's first child is inode 1 (data.bin); data.bin's own page array
	// base index is 0.
	b.setTable(regionInodeArrayIndex, 1, 2, table1([]byte{1, 0}))

	modeDir := uint32(S_IFDIR | 0755)
	modeReg := uint32(S_IFREG | 0644)
	b.setTable(regionModes, 2, 2, table2(
		[]byte{byte(modeDir), byte(modeReg)},
		[]byte{byte(modeDir >> 8), byte(modeReg >> 8)},
	))
	b.setTable(regionUIDs, 1, 2, table1([]byte{0, 0}))
	b.setTable(regionGIDs, 1, 2, table1([]byte{0, 0}))

	b.setTable(regionNodeType, 1, 1, table1([]byte{byte(NodeCompressed)}))
	b.setTable(regionNodeIndex, 1, 1, table1([]byte{0})) // logical cnode 0

	b.setTable(regionCnodeIndex, 1, 1, table1([]byte{0})) // no dedup, physical = logical
	b.setTable(regionCblockOffset, 1, 1, table1([]byte{0})) // compressed byte start, indexed by physical cnode

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(content); err != nil {
		t.Fatalf("compressing fixture: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing zlib writer: %v", err)
	}
	b.setTable(regionCnodeOffset, 1, 1, table1([]byte{0})) // inner offset within the decompressed cblock, indexed by node_index
	// The compressed region itself is always stored raw: it's a container
	// of independently-deflated cblocks, decompressed one at a time by the
	// cblock cache, not a region that is itself compressed as a whole.
	b.setRaw(regionCompressed, compressed.Bytes())

	return b.build()
}

func TestOpenBytesCompressedFile(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to pad this out")
	img, err := OpenBytes(buildCompressedImage(t, content))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	got, err := fs.ReadFile(img, "data.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

// buildMultiCblockImage lays out a 3-page file whose first two pages are
// deflated together into one cblock (so the second page's cnode_offset is
// nonzero: its bytes start partway through the decompressed cblock) and
// whose third, partial, page is deflated alone into a second cblock. This
// is the scenario that collapses if cnode_offset (per node_index, the
// inner byte offset) and cblock_offset (per physical cnode, the compressed
// range start) are ever swapped or indexed by the wrong value: a
// single-page, single-cblock, zero-offset fixture can't tell the two
// tables apart.
func buildMultiCblockImage(t *testing.T) ([]byte, []byte) {
	t.Helper()
	ps := pageSize
	page0 := bytes.Repeat([]byte{'A'}, ps)
	page1 := bytes.Repeat([]byte{'B'}, ps)
	page2 := []byte("short tail page")
	content := append(append(append([]byte{}, page0...), page1...), page2...)

	b := newImageBuilder(2)
	// cblock 0 holds two pages' worth of decompressed bytes (page0+page1);
	// cblock_size must cover the largest cblock, not just one page.
	b.cblockSize = uint32(2 * ps)

	strings := []byte{0}
	strings = append(strings, "data.bin\x00"...)
	b.setRaw(regionStrings, strings)

	b.setTable(regionInodeNameOffset, 1, 2, table1([]byte{0, 1}))
	size := len(content)
	b.setTable(regionInodeFileSize, 2, 2, table2(
		[]byte{0, byte(size)},
		[]byte{0, byte(size >> 8)},
	))
	b.setTable(regionInodeNumEntries, 1, 2, table1([]byte{1, 0}))
	b.setTable(regionInodeModeIndex, 1, 2, table1([]byte{0, 1}))
	b.setTable(regionInodeArrayIndex, 1, 2, table1([]byte{1, 0}))

	modeDir := uint32(S_IFDIR | 0755)
	modeReg := uint32(S_IFREG | 0644)
	b.setTable(regionModes, 2, 2, table2(
		[]byte{byte(modeDir), byte(modeReg)},
		[]byte{byte(modeDir >> 8), byte(modeReg >> 8)},
	))
	b.setTable(regionUIDs, 1, 2, table1([]byte{0, 0}))
	b.setTable(regionGIDs, 1, 2, table1([]byte{0, 0}))

	// 3 pages, all compressed, each with its own logical node_index value
	// (no dedup between them at this level).
	b.setTable(regionNodeType, 1, 3, table1([]byte{byte(NodeCompressed), byte(NodeCompressed), byte(NodeCompressed)}))
	b.setTable(regionNodeIndex, 1, 3, table1([]byte{0, 1, 2}))

	// node_index 0 and 1 both live in physical cnode 0 (page0+page1's
	// shared cblock); node_index 2 lives in physical cnode 1.
	b.setTable(regionCnodeIndex, 1, 3, table1([]byte{0, 0, 1}))

	// inner offset within the decompressed cblock, indexed by node_index:
	// page0 starts at 0, page1 starts after page0's ps bytes, page2 starts
	// fresh at 0 in its own cblock.
	b.setTable(regionCnodeOffset, 2, 3, table2(
		[]byte{0, byte(ps), 0},
		[]byte{0, byte(ps >> 8), 0},
	))

	compressed0 := deflate(t, append(append([]byte{}, page0...), page1...))
	compressed1 := deflate(t, page2)
	c0len := len(compressed0)

	// compressed byte range start, indexed by physical cnode: cnode 0
	// starts at 0, cnode 1 starts after cnode 0's compressed bytes.
	b.setTable(regionCblockOffset, 2, 2, table2(
		[]byte{0, byte(c0len)},
		[]byte{0, byte(c0len >> 8)},
	))

	var allCompressed bytes.Buffer
	allCompressed.Write(compressed0)
	allCompressed.Write(compressed1)
	b.setRaw(regionCompressed, allCompressed.Bytes())

	return b.build(), content
}

func TestOpenBytesCompressedFileSpansMultipleCblocks(t *testing.T) {
	data, content := buildMultiCblockImage(t)
	img, err := OpenBytes(data)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	got, err := fs.ReadFile(img, "data.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch (len got=%d want=%d)", len(got), len(content))
	}

	// Read squarely inside page1, whose bytes sit at a nonzero cnode_offset
	// within the first cblock: wrong field pairing returns garbage here
	// even when the whole-file read above happens to line up.
	f, err := img.Open("data.bin")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	r, ok := f.(io.ReaderAt)
	if !ok {
		t.Fatalf("data.bin does not implement io.ReaderAt")
	}
	buf := make([]byte, 4)
	if _, err := r.ReadAt(buf, int64(pageSize)+10); err != nil {
		t.Fatalf("ReadAt into page1: %v", err)
	}
	if !bytes.Equal(buf, []byte("BBBB")) {
		t.Fatalf("ReadAt into page1 = %q, want %q", buf, "BBBB")
	}
}

// buildByteAlignedImage is a single-file image whose one page is stored
// uncompressed at an arbitrary byte offset inside the byte_aligned region,
// exercising the NodeByteAligned transport and its short-read rejection.
func buildByteAlignedImage(t *testing.T, content []byte) *imageBuilder {
	t.Helper()
	b := newImageBuilder(2)

	strings := []byte{0}
	strings = append(strings, "tail.bin\x00"...)
	b.setRaw(regionStrings, strings)

	b.setTable(regionInodeNameOffset, 1, 2, table1([]byte{0, 1}))
	size := len(content)
	b.setTable(regionInodeFileSize, 1, 2, table1([]byte{0, byte(size)}))
	b.setTable(regionInodeNumEntries, 1, 2, table1([]byte{1, 0}))
	b.setTable(regionInodeModeIndex, 1, 2, table1([]byte{0, 1}))
	// root's first child is inode 1 (tail.bin); tail.bin's own page array
	// base index is 0.
	b.setTable(regionInodeArrayIndex, 1, 2, table1([]byte{1, 0}))

	modeDir := uint32(S_IFDIR | 0755)
	modeReg := uint32(S_IFREG | 0644)
	b.setTable(regionModes, 2, 2, table2(
		[]byte{byte(modeDir), byte(modeReg)},
		[]byte{byte(modeDir >> 8), byte(modeReg >> 8)},
	))
	b.setTable(regionUIDs, 1, 2, table1([]byte{0, 0}))
	b.setTable(regionGIDs, 1, 2, table1([]byte{0, 0}))

	b.setTable(regionNodeType, 1, 1, table1([]byte{byte(NodeByteAligned)}))
	b.setTable(regionNodeIndex, 1, 1, table1([]byte{0}))

	// banode_offset is itself a stitched table, indexed by node_index (0).
	const padding = 7
	b.setTable(regionBanodeOffset, 1, 1, table1([]byte{padding}))

	raw := make([]byte, padding+len(content))
	copy(raw[padding:], content)
	b.setRaw(regionByteAligned, raw)

	return b
}

func TestOpenBytesByteAlignedFile(t *testing.T) {
	content := []byte("tail page content, shorter than a full page")
	img, err := OpenBytes(buildByteAlignedImage(t, content).build())
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	got, err := fs.ReadFile(img, "tail.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestOpenBytesByteAlignedTruncatedPageIsCorrupt(t *testing.T) {
	content := []byte("this page's on-media bytes will be cut short")
	b := buildByteAlignedImage(t, content)
	// Truncate the byte_aligned region's stored data so the page is short
	// of the declared file size: must surface as corruption, never as a
	// silently zero-padded read.
	b.data[regionByteAligned] = b.data[regionByteAligned][:len(b.data[regionByteAligned])-5]
	b.descs[regionByteAligned] = regionDescriptor{
		Size:           uint64(len(b.data[regionByteAligned])),
		CompressedSize: 0, // still stored raw
	}

	img, err := OpenBytes(b.build())
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	_, err = fs.ReadFile(img, "tail.bin")
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt for a truncated byte-aligned page", err)
	}
}

func TestOpenBytesCompressedFileConcurrentReads(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh"), 100)
	img, err := OpenBytes(buildCompressedImage(t, content))
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer img.Close()

	const n = 16
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			got, err := fs.ReadFile(img, "data.bin")
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, content) {
				errs <- io.ErrUnexpectedEOF
				return
			}
			errs <- nil
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent read %d: %v", i, err)
		}
	}
}
