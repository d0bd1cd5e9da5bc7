package device

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/pagedb/pagedb/internal/page"
)

// FileDevice backs the store with a regular file, optionally memory
// mapped. The mmap/munmap/resize dance below follows the teacher-adjacent
// pack's sirgallo-mari (IOUtils.go: mMap/munmap/resizeMmap), simplified
// because pagedb serializes all Environment calls behind one mutex and so
// has no need for mari's atomic.Value indirection or resize goroutine.
type FileDevice struct {
	file     *os.File
	flags    Flags
	pageSize int
	mapped   []byte // nil unless FlagDisableMmap is unset and mmap succeeded
	size     int64
}

var _ Device = (*FileDevice)(nil)

func (d *FileDevice) Create(path string, flags Flags, mode uint32, size int64, pageSize int) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		return err
	}
	d.file = f
	d.flags = flags
	d.pageSize = pageSize
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			return err
		}
	}
	d.size = size
	return d.remap()
}

func (d *FileDevice) Open(path string, flags Flags, pageSize int) error {
	openFlags := os.O_RDWR
	if flags&FlagReadOnly != 0 {
		openFlags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, openFlags, 0)
	if err != nil {
		return err
	}
	d.file = f
	d.flags = flags
	d.pageSize = pageSize
	info, err := f.Stat()
	if err != nil {
		return err
	}
	d.size = info.Size()
	return d.remap()
}

func (d *FileDevice) remap() error {
	if d.mapped != nil {
		_ = unix.Munmap(d.mapped)
		d.mapped = nil
	}
	if d.flags&FlagDisableMmap != 0 || d.size == 0 {
		return nil
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if d.flags&FlagReadOnly != 0 {
		prot = unix.PROT_READ
	}
	m, err := unix.Mmap(int(d.file.Fd()), 0, int(d.size), prot, unix.MAP_SHARED)
	if err != nil {
		// Memory mapping is an optimization; fall back to read()/write().
		d.mapped = nil
		return nil
	}
	d.mapped = m
	return nil
}

func (d *FileDevice) Read(offset int64, dst []byte) error {
	if d.file == nil {
		return ErrClosed
	}
	if d.mapped != nil && offset >= 0 && offset+int64(len(dst)) <= int64(len(d.mapped)) {
		copy(dst, d.mapped[offset:offset+int64(len(dst))])
		return nil
	}
	return readFull(d.file, offset, dst)
}

func (d *FileDevice) Write(offset int64, src []byte) error {
	if d.file == nil {
		return ErrClosed
	}
	if d.flags&FlagReadOnly != 0 {
		return ErrClosed
	}
	need := offset + int64(len(src))
	if need > d.size {
		if err := d.Truncate(need); err != nil {
			return err
		}
	}
	if d.mapped != nil && offset >= 0 && offset+int64(len(src)) <= int64(len(d.mapped)) {
		copy(d.mapped[offset:offset+int64(len(src))], src)
		return nil
	}
	return writeFull(d.file, offset, src)
}

func (d *FileDevice) Alloc(pageSize int) (page.ID, error) {
	off := d.size
	if err := d.Truncate(off + int64(pageSize)); err != nil {
		return page.NilID, err
	}
	return page.ID(off), nil
}

func (d *FileDevice) Truncate(size int64) error {
	if err := d.file.Truncate(size); err != nil {
		return err
	}
	d.size = size
	return d.remap()
}

func (d *FileDevice) Mmap(offset int64, length int) ([]byte, error) {
	if d.mapped == nil {
		return nil, ErrUnsupported
	}
	if offset < 0 || offset+int64(length) > int64(len(d.mapped)) {
		return nil, ErrShortIO
	}
	return d.mapped[offset : offset+int64(length)], nil
}

func (d *FileDevice) Flush() error {
	if d.mapped != nil {
		if err := unix.Msync(d.mapped, unix.MS_SYNC); err != nil {
			return err
		}
	}
	if d.flags&FlagEnableFsync != 0 {
		return d.file.Sync()
	}
	return nil
}

func (d *FileDevice) Size() (int64, error) { return d.size, nil }

func (d *FileDevice) Close() error {
	if d.mapped != nil {
		_ = unix.Munmap(d.mapped)
		d.mapped = nil
	}
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
