package axfs

import "fmt"

// NodeType identifies which of the three page transports a node uses. This
// is distinct from an inode's POSIX file type (carried in its mode, see
// mode.go): NodeType describes how one page-sized slice of a regular
// file's or symlink's content is stored, not what kind of filesystem
// object the inode is. Directories never have nodes of their own; only a
// regular file's or symlink's array_index range does.
type NodeType uint8

const (
	// NodeXIP pages are served directly from the memory-mapped xip region,
	// never copied.
	NodeXIP NodeType = iota
	// NodeCompressed pages live inside a deflate-compressed cblock, shared
	// with other pages of the same or other files.
	NodeCompressed
	// NodeByteAligned pages are opaque bytes at an arbitrary offset inside
	// the byte_aligned region.
	NodeByteAligned
)

func (t NodeType) String() string {
	switch t {
	case NodeXIP:
		return "XIP"
	case NodeCompressed:
		return "Compressed"
	case NodeByteAligned:
		return "ByteAligned"
	default:
		return fmt.Sprintf("NodeType(%d)", uint8(t))
	}
}

// valid reports whether t is one of the three node types an image may
// declare (spec.md invariant 1). Any other on-media value fails the page
// read that resolves it with ErrCorrupt; Open does not scan node types.
func (t NodeType) valid() bool {
	return t <= NodeByteAligned
}
