package axfs

import (
	"fmt"
	"io"
)

// readPage returns the full pageSize-aligned bytes for one page of a
// file's content (less than pageSize only for a file's final page). It
// is the one place where all three page transports converge, grounded on
// axfs_readpage/axfs_get_xip_mem/axfs_fault in axfs_inode.c each doing
// their own version of this dispatch.
func (img *Image) readPage(ino, pageIndex uint64, wantLen int) ([]byte, error) {
	src, err := img.resolvePage(ino, pageIndex)
	if err != nil {
		return nil, err
	}

	switch src.typ {
	case NodeXIP:
		return img.meta.xipPage(src.xipOffset, uint64(wantLen))

	case NodeByteAligned:
		data, err := img.meta.byteAligned(src.baOffset, uint64(wantLen))
		if err != nil {
			// A short byte_aligned slice must never be silently
			// zero-padded: a truncated final page is corruption, not a
			// legitimate hole (DESIGN.md's unaligned-read resolution).
			return nil, fmt.Errorf("byte-aligned page %d of inode %d: %w", pageIndex, ino, err)
		}
		return data, nil

	case NodeCompressed:
		compressed, err := img.meta.compressedRegionBytes()
		if err != nil {
			return nil, err
		}
		if src.compressedOff+src.compressedLen > uint64(len(compressed)) {
			return nil, &CorruptError{Reason: fmt.Sprintf("cnode %d compressed range out of bounds", src.physicalCnode)}
		}
		payload := compressed[src.compressedOff : src.compressedOff+src.compressedLen]
		cblock, err := img.cache.get(src.physicalCnode, payload, int(img.sb.CblockSize))
		if err != nil {
			return nil, err
		}
		end := src.innerOffset + uint64(wantLen)
		if end > uint64(len(cblock)) {
			return nil, &CorruptError{Reason: fmt.Sprintf("page %d of inode %d reaches past decompressed cnode %d", pageIndex, ino, src.physicalCnode)}
		}
		return cblock[src.innerOffset:end], nil

	default:
		return nil, &CorruptError{Reason: fmt.Sprintf("unhandled node type %d", src.typ)}
	}
}

// ReadAt implements io.ReaderAt over one regular file's content, driving
// the page-by-page loop the same shape as the teacher's Inode.ReadAt, but
// dispatching each page through the unified resolver instead of walking a
// block-pointer array.
func (i *Inode) ReadAt(p []byte, off int64) (int, error) {
	isRegular, err := i.IsRegular()
	if err != nil {
		return 0, err
	}
	if !isRegular {
		return 0, ErrNotRegular
	}
	return i.readContentAt(p, off)
}

// readContentAt is the page-by-page read loop shared by ReadAt (regular
// files) and Readlink (symlink targets): both kinds of inode store their
// byte content through the same page-transport mechanism, distinguished
// only by the mode bits a caller checks before calling in.
func (i *Inode) readContentAt(p []byte, off int64) (int, error) {
	size, err := i.Size()
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, &CorruptError{Reason: "negative read offset"}
	}
	if uint64(off) >= size {
		return 0, io.EOF
	}
	if uint64(off)+uint64(len(p)) > size {
		p = p[:size-uint64(off)]
	}

	pageSize := i.img.pageSize
	n := 0
	for len(p) > 0 {
		pageIndex := uint64(off) / pageSize
		inPage := uint64(off) % pageSize

		remainInFile := size - pageIndex*pageSize
		wantLen := pageSize
		if remainInFile < pageSize {
			wantLen = remainInFile
		}

		page, err := i.img.readPage(i.Num, pageIndex, int(wantLen))
		if err != nil {
			return n, err
		}
		if inPage >= uint64(len(page)) {
			return n, &CorruptError{Reason: "read offset past decoded page length"}
		}

		c := copy(p, page[inPage:])
		n += c
		p = p[c:]
		off += int64(c)
	}
	return n, nil
}

// ReadFile reads the entirety of a regular file's content.
func (i *Inode) ReadFile() ([]byte, error) {
	size, err := i.Size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := i.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// Readlink returns a symlink's target path. A symlink's target bytes are
// stored through the same page-transport mechanism as a regular file's
// content (inode_file_size and inode_array_index apply identically); only
// the mode bits distinguish "this file's bytes are a path" from "these
// bytes are data".
func (i *Inode) Readlink() (string, error) {
	isSymlink, err := i.IsSymlink()
	if err != nil {
		return "", err
	}
	if !isSymlink {
		return "", ErrNotSymlink
	}
	size, err := i.Size()
	if err != nil {
		return "", err
	}
	buf := make([]byte, size)
	n, err := i.readContentAt(buf, 0)
	if err != nil && err != io.EOF {
		return "", err
	}
	return string(buf[:n]), nil
}
