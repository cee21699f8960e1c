package axfs

import (
	"io"
	"io/fs"
	"path"
	"time"
)

// File adapts a regular-file Inode to fs.File, the same convenience shape
// as the teacher's File type.
type File struct {
	*io.SectionReader
	ino  *Inode
	name string
}

// FileDir adapts a directory Inode to fs.ReadDirFile.
type FileDir struct {
	ino  *Inode
	name string
	r    *dirReader
}

type fileinfo struct {
	name    string
	size    uint64
	mode    fs.FileMode
	modTime time.Time
}

var (
	_ fs.File        = (*File)(nil)
	_ io.ReaderAt    = (*File)(nil)
	_ fs.ReadDirFile = (*FileDir)(nil)
	_ fs.FileInfo    = (*fileinfo)(nil)
)

func newFileInfo(img *Image, ino uint64, name string) (*fileinfo, error) {
	i := &Inode{img: img, Num: ino}
	mode, err := i.Mode()
	if err != nil {
		return nil, err
	}
	size, err := i.Size()
	if err != nil {
		return nil, err
	}
	return &fileinfo{name: path.Base(name), size: size, mode: mode, modTime: img.sb.BuildTime()}, nil
}

// OpenFile returns an fs.File for the given inode, wrapping it as a
// FileDir when it is a directory.
func (img *Image) OpenFile(ino uint64, name string) (fs.File, error) {
	i := &Inode{img: img, Num: ino}
	isDir, err := i.IsDir()
	if err != nil {
		return nil, err
	}
	if isDir {
		return &FileDir{ino: i, name: name}, nil
	}
	size, err := i.Size()
	if err != nil {
		return nil, err
	}
	return &File{SectionReader: io.NewSectionReader(i, 0, int64(size)), ino: i, name: name}, nil
}

func (f *File) Stat() (fs.FileInfo, error) {
	return newFileInfo(f.ino.img, f.ino.Num, f.name)
}

func (f *File) Sys() any { return f.ino }

func (f *File) Close() error { return nil }

func (d *FileDir) Read(p []byte) (int, error) {
	return 0, fs.ErrInvalid
}

func (d *FileDir) Stat() (fs.FileInfo, error) {
	return newFileInfo(d.ino.img, d.ino.Num, d.name)
}

func (d *FileDir) Sys() any { return d.ino }

func (d *FileDir) Close() error {
	d.r = nil
	return nil
}

func (d *FileDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.r == nil {
		dr, err := d.ino.img.dirReader(d.ino.Num)
		if err != nil {
			return nil, err
		}
		d.r = dr
	}
	return d.r.ReadDir(n)
}

func (fi *fileinfo) Name() string       { return fi.name }
func (fi *fileinfo) Size() int64        { return int64(fi.size) }
func (fi *fileinfo) Mode() fs.FileMode  { return fi.mode }
func (fi *fileinfo) ModTime() time.Time { return fi.modTime }
func (fi *fileinfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *fileinfo) Sys() any           { return nil }
