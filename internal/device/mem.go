package device

import (
	"sync"

	"github.com/dsnet/golib/memfile"

	"github.com/pagedb/pagedb/internal/page"
)

// MemDevice backs the store with a growable in-memory arena instead of a
// file, for spec §6's "in-memory" environment flag. The arena itself is an
// ordinary Go slice; github.com/dsnet/golib/memfile wraps it as an
// io.ReaderAt/io.WriterAt so MemDevice can share the same readFull/
// writeFull helpers FileDevice uses, and so a MemDevice's contents can be
// hex-dumped or diffed in tests the same way a real file's can.
//
// freeList tracks offsets of pages released via the page-manager freelist
// (spec §4.1's "growable byte arena and a freelist of reused offsets") so
// Alloc can reuse a hole before growing the arena.
type MemDevice struct {
	mu       sync.Mutex
	buf      []byte
	file     *memfile.File
	flags    Flags
	pageSize int
	freeList []page.ID
}

var _ Device = (*MemDevice)(nil)

func (d *MemDevice) Create(_ string, flags Flags, _ uint32, size int64, pageSize int) error {
	d.flags = flags
	d.pageSize = pageSize
	d.buf = make([]byte, size)
	d.file = memfile.New(d.buf)
	return nil
}

func (d *MemDevice) Open(path string, flags Flags, pageSize int) error {
	// An in-memory device has nothing to reopen from; Open behaves like
	// Create with a zero-size arena so the caller's recovery/initial
	// layout logic runs the same path either way.
	return d.Create(path, flags, 0, 0, pageSize)
}

func (d *MemDevice) Read(offset int64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrClosed
	}
	return readFull(d.file, offset, dst)
}

func (d *MemDevice) Write(offset int64, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ErrClosed
	}
	if need := offset + int64(len(src)); need > int64(len(d.buf)) {
		if err := d.growLocked(need); err != nil {
			return err
		}
	}
	return writeFull(d.file, offset, src)
}

func (d *MemDevice) Alloc(pageSize int) (page.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.freeList); n > 0 {
		id := d.freeList[n-1]
		d.freeList = d.freeList[:n-1]
		return id, nil
	}
	off := int64(len(d.buf))
	if err := d.growLocked(off + int64(pageSize)); err != nil {
		return page.NilID, err
	}
	return page.ID(off), nil
}

// Free returns a page offset to the reuse freelist, mirroring the
// device-level freelist spec §4.1 describes for the in-memory variant.
func (d *MemDevice) Free(id page.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freeList = append(d.freeList, id)
}

func (d *MemDevice) growLocked(size int64) error {
	if size <= int64(len(d.buf)) {
		return nil
	}
	grown := make([]byte, size)
	copy(grown, d.buf)
	d.buf = grown
	d.file = memfile.New(d.buf)
	return nil
}

func (d *MemDevice) Truncate(size int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if size <= int64(len(d.buf)) {
		d.buf = d.buf[:size]
	} else {
		d.growLockedNoErr(size)
	}
	d.file = memfile.New(d.buf)
	return nil
}

func (d *MemDevice) growLockedNoErr(size int64) { _ = d.growLocked(size) }

// Mmap returns a borrowed slice directly into the backing arena: for an
// in-memory device this is always available and is in fact how the page
// cache should prefer to address it.
func (d *MemDevice) Mmap(offset int64, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset < 0 || offset+int64(length) > int64(len(d.buf)) {
		return nil, ErrShortIO
	}
	return d.buf[offset : offset+int64(length)], nil
}

func (d *MemDevice) Flush() error { return nil }

func (d *MemDevice) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.buf)), nil
}

func (d *MemDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = nil
	d.file = nil
	return nil
}
