package axfs

import "io/fs"

// Inode is a lightweight handle onto one entry in the image's inode
// tables. Unlike the teacher's squashfs Inode, which eagerly parses a
// variable-length on-media record into a fat struct, an AXFS inode is
// just a row number into metadata's stitched tables — every field is
// fetched on demand, since the whole table is already materialized in
// memory (spec.md §6.1's inode_* regions).
type Inode struct {
	img *Image
	Num uint64
}

func (i *Inode) mode() (fs.FileMode, uint32, error) {
	idx, err := i.img.meta.InodeModeIndex(i.Num)
	if err != nil {
		return 0, 0, err
	}
	raw, err := i.img.meta.Mode(idx)
	if err != nil {
		return 0, 0, err
	}
	return UnixToMode(raw), raw, nil
}

// Mode returns the inode's fs.FileMode, type bits included.
func (i *Inode) Mode() (fs.FileMode, error) {
	m, _, err := i.mode()
	return m, err
}

// IsDir reports whether the inode is a directory, consulting the raw
// on-media mode bits directly (cheaper than routing through fs.FileMode).
func (i *Inode) IsDir() (bool, error) {
	_, raw, err := i.mode()
	if err != nil {
		return false, err
	}
	return raw&S_IFMT == S_IFDIR, nil
}

// IsSymlink reports whether the inode is a symbolic link.
func (i *Inode) IsSymlink() (bool, error) {
	_, raw, err := i.mode()
	if err != nil {
		return false, err
	}
	return raw&S_IFMT == S_IFLNK, nil
}

// IsRegular reports whether the inode is a plain file.
func (i *Inode) IsRegular() (bool, error) {
	_, raw, err := i.mode()
	if err != nil {
		return false, err
	}
	return raw&S_IFMT == S_IFREG, nil
}

// Size returns the inode's logical size in bytes: file content length for
// regular files, symlink target length for symlinks, or zero for
// directories (whose extent is described by NumEntries instead).
func (i *Inode) Size() (uint64, error) {
	return i.img.meta.InodeFileSize(i.Num)
}

// NumEntries returns the number of immediate children, valid only for
// directory inodes.
func (i *Inode) NumEntries() (uint64, error) {
	return i.img.meta.InodeNumEntries(i.Num)
}

// Name returns the inode's own file name (not a full path), read from the
// strings region at its stored name_offset.
func (i *Inode) Name() (string, error) {
	off, err := i.img.meta.InodeNameOffset(i.Num)
	if err != nil {
		return "", err
	}
	return i.img.meta.String(off)
}

// Uid and Gid resolve the inode's numeric owner, indexing through the
// same mode_index slot the mode table uses (spec.md §6.1: uid/gid share
// inode_mode_index's row, the mode/uid/gid triple having been
// deduplicated at image-build time since most inodes share an owner).
func (i *Inode) Uid() (uint32, error) {
	idx, err := i.img.meta.InodeModeIndex(i.Num)
	if err != nil {
		return 0, err
	}
	return i.img.meta.Uid(idx)
}

func (i *Inode) Gid() (uint32, error) {
	idx, err := i.img.meta.InodeModeIndex(i.Num)
	if err != nil {
		return 0, err
	}
	return i.img.meta.Gid(idx)
}
