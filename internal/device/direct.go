package device

import (
	"os"

	"github.com/ncw/directio"

	"github.com/pagedb/pagedb/internal/page"
)

// DirectFileDevice opens the backing file with O_DIRECT, via
// github.com/ncw/directio, bypassing the OS page cache entirely. It is
// selected when the embedder sets FlagDisableMmap together with
// FlagDirectIO (spec §6's disable-mmap flag, sharpened for the case where
// double-buffering through both the OS cache and pagedb's own PageCache is
// undesirable — large sequential recovery scans, or hosts that want tight
// control over resident memory). All I/O must be directio.AlignSize
// aligned in both offset and length, which holds automatically here
// because page sizes are always powers of two >= directio.AlignSize.
type DirectFileDevice struct {
	file     *os.File
	flags    Flags
	pageSize int
	size     int64
}

var _ Device = (*DirectFileDevice)(nil)

func (d *DirectFileDevice) Create(path string, flags Flags, mode uint32, size int64, pageSize int) error {
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		return err
	}
	d.file = f
	d.flags = flags
	d.pageSize = alignedPageSize(pageSize)
	if size > 0 {
		if err := f.Truncate(alignUp(size)); err != nil {
			return err
		}
	}
	d.size = size
	return nil
}

func (d *DirectFileDevice) Open(path string, flags Flags, pageSize int) error {
	openFlags := os.O_RDWR
	if flags&FlagReadOnly != 0 {
		openFlags = os.O_RDONLY
	}
	f, err := directio.OpenFile(path, openFlags, 0)
	if err != nil {
		return err
	}
	d.file = f
	d.flags = flags
	d.pageSize = alignedPageSize(pageSize)
	info, err := f.Stat()
	if err != nil {
		return err
	}
	d.size = info.Size()
	return nil
}

func alignedPageSize(pageSize int) int {
	if pageSize%directio.AlignSize != 0 {
		return ((pageSize / directio.AlignSize) + 1) * directio.AlignSize
	}
	return pageSize
}

func alignUp(n int64) int64 {
	a := int64(directio.AlignSize)
	if n%a == 0 {
		return n
	}
	return ((n / a) + 1) * a
}

// alignedBuffer returns an AlignSize-aligned buffer of exactly n bytes, as
// O_DIRECT requires for every read/write.
func alignedBuffer(n int) []byte {
	return directio.AlignedBlock(int(alignUp(int64(n))))
}

func (d *DirectFileDevice) Read(offset int64, dst []byte) error {
	if d.file == nil {
		return ErrClosed
	}
	buf := alignedBuffer(len(dst))
	if err := readFull(d.file, offset, buf); err != nil {
		return err
	}
	copy(dst, buf[:len(dst)])
	return nil
}

func (d *DirectFileDevice) Write(offset int64, src []byte) error {
	if d.file == nil || d.flags&FlagReadOnly != 0 {
		return ErrClosed
	}
	need := offset + int64(len(src))
	if need > d.size {
		if err := d.Truncate(need); err != nil {
			return err
		}
	}
	buf := alignedBuffer(len(src))
	copy(buf, src)
	return writeFull(d.file, offset, buf)
}

func (d *DirectFileDevice) Alloc(pageSize int) (page.ID, error) {
	off := d.size
	if err := d.Truncate(off + int64(pageSize)); err != nil {
		return page.NilID, err
	}
	return page.ID(off), nil
}

func (d *DirectFileDevice) Truncate(size int64) error {
	if err := d.file.Truncate(alignUp(size)); err != nil {
		return err
	}
	d.size = size
	return nil
}

// Mmap is unsupported: the entire point of O_DIRECT is to avoid a second
// cached view of the data.
func (d *DirectFileDevice) Mmap(int64, int) ([]byte, error) { return nil, ErrUnsupported }

func (d *DirectFileDevice) Flush() error {
	if d.flags&FlagEnableFsync != 0 {
		return d.file.Sync()
	}
	return nil
}

func (d *DirectFileDevice) Size() (int64, error) { return d.size, nil }

func (d *DirectFileDevice) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
