package axfs

import (
	"fmt"
	"io"
	"os"
)

// Backend is the abstract byte-range source an Image pulls bytes from: an
// initial memory-mapped window (mmap_size bytes) followed by an optional
// block-device tail (spec.md §4.1, §6.4). The region loader (with its
// descriptor parser) is the only caller; nothing above it ever sees raw
// addresses (spec.md §9's "never expose raw addresses outside the region
// loader" design note).
type Backend interface {
	// Len returns the total logical size of the address space.
	Len() int64

	// Fetch allocates and returns length bytes starting at offset.
	Fetch(offset, length int64) ([]byte, error)

	// CopyInto reads len(dst) bytes starting at offset directly into dst,
	// avoiding the allocation Fetch makes when the caller already owns a
	// buffer (Fetch itself allocates and then calls CopyInto).
	CopyInto(dst []byte, offset int64) error

	// Mapped returns the backend's in-memory window, if any, aliasing the
	// first min(mmap_size, size) bytes without copying. Region loads that
	// qualify as XIP-eligible (spec.md §4.3) use this directly instead of
	// going through CopyInto. A nil return means no zero-copy window is
	// available and every read must go through CopyInto/Fetch.
	Mapped() []byte
}

// splitBackend implements Backend by composing an optional memory-mapped
// prefix with an optional io.ReaderAt tail, splitting any request that
// straddles the mmap_size boundary. Grounded on axfs_inode.c's
// axfs_copy_data / axfs_copy_block_data, which perform exactly this split.
type splitBackend struct {
	size     int64
	mmapSize int64
	mapped   []byte   // len(mapped) == mmapSize, or nil if no window
	tail     io.ReaderAt
}

// NewBackend composes a Backend from an optional mapped prefix and an
// optional tail reader. mapped may be nil (no zero-copy window at all, the
// "neither a physical nor a virtual mapping exists" case of spec.md §4.1,
// in which case every read is served from tail) and tail may be nil only
// if mapped covers the entire size.
func NewBackend(mapped []byte, tail io.ReaderAt, mmapSize, size int64) (Backend, error) {
	if mmapSize < 0 || mmapSize > size {
		return nil, &CorruptError{Reason: fmt.Sprintf("mmap_size %d exceeds image size %d", mmapSize, size)}
	}
	if mapped != nil && int64(len(mapped)) != mmapSize {
		return nil, &CorruptError{Reason: fmt.Sprintf("mapped window length %d does not match mmap_size %d", len(mapped), mmapSize)}
	}
	if mmapSize < size && tail == nil {
		return nil, &CorruptError{Reason: "image has a block-device tail but no tail reader was supplied"}
	}
	return &splitBackend{size: size, mmapSize: mmapSize, mapped: mapped, tail: tail}, nil
}

// NewMemoryBackend wraps an entire image already resident in host memory
// (spec.md §6.4: "direct pointer to the image in host memory"). The whole
// address space is the mapped window; there is no tail.
func NewMemoryBackend(data []byte) Backend {
	return &splitBackend{size: int64(len(data)), mmapSize: int64(len(data)), mapped: data}
}

func (b *splitBackend) Len() int64 { return b.size }

func (b *splitBackend) Mapped() []byte { return b.mapped }

func (b *splitBackend) Fetch(offset, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if err := b.CopyInto(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *splitBackend) CopyInto(dst []byte, offset int64) error {
	length := int64(len(dst))
	if length == 0 {
		return nil
	}
	if offset < 0 || offset+length > b.size {
		return &CorruptError{Reason: "read out of range", Offset: offset}
	}

	cursor := offset
	written := int64(0)

	if b.mapped != nil && cursor < b.mmapSize {
		avail := b.mmapSize - cursor
		n := length - written
		if n > avail {
			n = avail
		}
		copy(dst[written:written+n], b.mapped[cursor:cursor+n])
		written += n
		cursor += n
	}

	if remaining := length - written; remaining > 0 {
		if b.tail == nil {
			return &BackendError{Region: "tail", Offset: cursor, Length: remaining, Err: io.ErrUnexpectedEOF}
		}
		// When a mapped window exists, the tail's own address space starts
		// at logical mmap_size (axfs_fs.h's AXFS_FSOFFSET_2_BLOCKOFFSET);
		// with no window at all, cursor is already an unshifted fsoffset
		// into a tail that covers the whole image.
		blockOffset := cursor
		if b.mapped != nil {
			blockOffset = cursor - b.mmapSize
		}
		if _, err := b.tail.ReadAt(dst[written:written+remaining], blockOffset); err != nil {
			return &BackendError{Region: "tail", Offset: blockOffset, Length: remaining, Err: err}
		}
	}

	return nil
}

// shiftReaderAt adapts an io.ReaderAt so that offset 0 corresponds to
// shift bytes into the underlying reader. Used to present the tail of a
// single backing file as its own zero-based address space.
type shiftReaderAt struct {
	r     io.ReaderAt
	shift int64
}

func (s shiftReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off+s.shift)
}

// NewFileBackend builds a Backend over an *os.File, attempting to
// memory-map the leading mmapSize bytes (via backend_mmap_unix.go on
// platforms that support mmap) and falling back to buffered reads through
// the file itself when mapping isn't available or mmapSize is 0
// (backend_mmap_other.go). The returned closer releases the mapping, if
// any; callers must call it when done with the backend.
func NewFileBackend(f *os.File, mmapSize, size int64) (Backend, io.Closer, error) {
	if mmapSize <= 0 {
		b, err := NewBackend(nil, f, 0, size)
		return b, noopCloser{}, err
	}

	mapped, unmap, err := mmapFile(f, mmapSize)
	if err != nil {
		// Not fatal: fall back to buffered reads over the whole file.
		b, berr := NewBackend(nil, f, 0, size)
		return b, noopCloser{}, berr
	}

	tail := io.ReaderAt(nil)
	if mmapSize < size {
		tail = shiftReaderAt{r: f, shift: mmapSize}
	}
	b, err := NewBackend(mapped, tail, mmapSize, size)
	if err != nil {
		unmap()
		return nil, nil, err
	}
	return b, closerFunc(unmap), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
