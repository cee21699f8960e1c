package axfs

import (
	"io"
	"io/fs"
	"path"
	"sort"
)

// dirReader walks a directory's children in ascending name order,
// mirroring the teacher's sequential dirReader cursor shape even though
// AXFS children are a plain inode-number range rather than a packed
// on-media entry stream. A directory's first child is inode_array_index[dir]
// itself (spec.md §3.1/§4.7: "for directories: first child inode"), the same
// field axfs_lookup/axfs_readdir read via AXFS_GET_INODE_ARRAY_INDEX with no
// derived cumulative sum.
type dirReader struct {
	img   *Image
	dir   uint64
	first uint64
	count uint64
	pos   uint64
}

func (img *Image) dirReader(dir uint64) (*dirReader, error) {
	isDir, err := (&Inode{img: img, Num: dir}).IsDir()
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, ErrNotDirectory
	}
	n, err := img.meta.InodeNumEntries(dir)
	if err != nil {
		return nil, err
	}
	first, err := img.meta.InodeArrayIndex(dir)
	if err != nil {
		return nil, err
	}
	return &dirReader{img: img, dir: dir, first: first, count: n}, nil
}

func (dr *dirReader) next() (*direntry, error) {
	if dr.pos >= dr.count {
		return nil, io.EOF
	}
	ino := dr.first + dr.pos
	dr.pos++
	name, err := (&Inode{img: dr.img, Num: ino}).Name()
	if err != nil {
		return nil, err
	}
	return &direntry{img: dr.img, name: name, ino: ino}, nil
}

func (dr *dirReader) ReadDir(n int) ([]fs.DirEntry, error) {
	var res []fs.DirEntry
	for {
		de, err := dr.next()
		if err != nil {
			if err == io.EOF {
				return res, nil
			}
			return res, err
		}
		res = append(res, de)
		if n > 0 && len(res) >= n {
			return res, nil
		}
	}
}

// lookupChild finds name among dir's immediate children. Children are
// stored in ascending name order on media (spec.md §4.7), so the original
// driver's axfs_lookup can stop at the first name that sorts after the
// target instead of scanning every entry; sort.Search gives the same
// early exit without hand-rolling the comparison loop.
func (img *Image) lookupChild(dir uint64, name string) (uint64, error) {
	isDir, err := (&Inode{img: img, Num: dir}).IsDir()
	if err != nil {
		return 0, err
	}
	if !isDir {
		return 0, ErrNotDirectory
	}
	n, err := img.meta.InodeNumEntries(dir)
	if err != nil {
		return 0, err
	}
	first, err := img.meta.InodeArrayIndex(dir)
	if err != nil {
		return 0, err
	}

	var lookupErr error
	idx := sort.Search(int(n), func(k int) bool {
		childName, err := (&Inode{img: img, Num: first + uint64(k)}).Name()
		if err != nil {
			lookupErr = err
			return true
		}
		return childName >= name
	})
	if lookupErr != nil {
		return 0, lookupErr
	}
	if idx >= int(n) {
		return 0, fs.ErrNotExist
	}
	got, err := (&Inode{img: img, Num: first + uint64(idx)}).Name()
	if err != nil {
		return 0, err
	}
	if got != name {
		return 0, fs.ErrNotExist
	}
	return first + uint64(idx), nil
}

// lookupPath resolves a slash-separated path relative to dir, the way the
// teacher's LookupRelativeInodePath walks one component at a time.
func (img *Image) lookupPath(dir uint64, p string) (uint64, error) {
	cur := dir
	p = path.Clean("/" + p)
	for _, comp := range splitPath(p) {
		next, err := img.lookupChild(cur, comp)
		if err != nil {
			return 0, err
		}
		cur = next
	}
	return cur, nil
}

func splitPath(p string) []string {
	p = path.Clean(p)
	if p == "/" || p == "." || p == "" {
		return nil
	}
	var parts []string
	for _, c := range pathSplit(p) {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return parts
}

func pathSplit(p string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			parts = append(parts, p[start:i])
			start = i + 1
		}
	}
	parts = append(parts, p[start:])
	return parts
}

// direntry implements fs.DirEntry for an AXFS directory child.
type direntry struct {
	img  *Image
	name string
	ino  uint64
}

func (de *direntry) Name() string { return de.name }

func (de *direntry) IsDir() bool {
	isDir, _ := (&Inode{img: de.img, Num: de.ino}).IsDir()
	return isDir
}

func (de *direntry) Type() fs.FileMode {
	m, _ := (&Inode{img: de.img, Num: de.ino}).Mode()
	return m.Type()
}

func (de *direntry) Info() (fs.FileInfo, error) {
	return newFileInfo(de.img, de.ino, de.name)
}
