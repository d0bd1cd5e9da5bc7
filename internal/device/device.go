// Package device implements the raw block-device abstraction of spec §4.1:
// read/write/allocate against a file, an O_DIRECT-aligned file, or an
// in-memory arena, all behind one interface.
package device

import (
	"errors"
	"io"

	"github.com/pagedb/pagedb/internal/page"
)

var (
	// ErrClosed is returned by any operation against a closed Device.
	ErrClosed = errors.New("device: closed")
	// ErrShortIO is returned when a read/write could not move the full
	// requested length, which for a page-aligned store always indicates
	// corruption or a truncated file rather than a retryable condition.
	ErrShortIO = errors.New("device: short read or write")
)

// Flags mirror the subset of spec §6's Environment flags that affect how
// the device is opened.
type Flags uint32

const (
	FlagInMemory    Flags = 1 << iota // backing store never touches disk
	FlagReadOnly                      // reject Write/Alloc/Truncate
	FlagDisableMmap                   // force read()/write() instead of mmap()
	FlagEnableFsync                   // Flush calls fsync/FlushFileBuffers
	FlagDirectIO                      // open with O_DIRECT, aligned I/O only
)

// Device is the block-device contract every component above it (page
// cache, blob manager, btree, journal) is written against. Implementations
// never interpret page contents; they move bytes at page-aligned offsets.
type Device interface {
	// Create truncates or creates the backing store at the given initial
	// size (in bytes, must be a multiple of pageSize) and mode.
	Create(path string, flags Flags, mode uint32, size int64, pageSize int) error
	// Open opens an existing backing store.
	Open(path string, flags Flags, pageSize int) error

	// Read copies len(dst) bytes starting at offset into dst.
	Read(offset int64, dst []byte) error
	// Write copies src to offset, growing the backing store first via
	// Truncate if offset+len(src) exceeds the current size.
	Write(offset int64, src []byte) error

	// Alloc reserves a new page-aligned region of exactly pageSize bytes
	// and returns its offset. File-backed devices always grow the backing
	// store; MemDevice first hands back an offset released through its
	// Free method, and grows only when none is available.
	Alloc(pageSize int) (page.ID, error)

	// Truncate grows or shrinks the backing store to exactly size bytes.
	Truncate(size int64) error

	// Mmap returns a borrowed, directly addressable view of [offset,
	// offset+length) when the device supports memory mapping; returns
	// ErrUnsupported otherwise, in which case callers fall back to Read.
	Mmap(offset int64, length int) ([]byte, error)

	// Flush durably persists all writes issued so far. With
	// FlagEnableFsync this calls fsync/FlushFileBuffers; otherwise it is
	// a (cheap) best-effort sync point only — journaling is what makes
	// durability guarantees, per spec §4.2.
	Flush() error

	// Size returns the current backing-store size in bytes.
	Size() (int64, error)

	// Close releases all resources. Safe to call once only.
	Close() error
}

// ErrUnsupported is returned by Mmap on devices without a memory-mapped
// view (e.g. direct I/O).
var ErrUnsupported = errors.New("device: operation unsupported")

// readFull is the shared short-read/short-write guard every
// implementation funnels through.
func readFull(r io.ReaderAt, offset int64, dst []byte) error {
	n, err := r.ReadAt(dst, offset)
	if err != nil && err != io.EOF {
		return err
	}
	if n != len(dst) {
		return ErrShortIO
	}
	return nil
}

func writeFull(w io.WriterAt, offset int64, src []byte) error {
	n, err := w.WriteAt(src, offset)
	if err != nil {
		return err
	}
	if n != len(src) {
		return ErrShortIO
	}
	return nil
}
