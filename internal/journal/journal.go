// Package journal implements spec §4.6: a two-file rotating logical log
// of transaction boundaries and changesets, replayed by internal/recovery
// after a crash.
package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	magic         = "PGDJ"
	headerSize    = 16 // magic(4) + pageSizeEcho(4) + lastLSN(8)
	fileNameA     = "journal0"
	fileNameB     = "journal1"
	defaultMaxLen = 64 * 1024 * 1024 // rotate once a file exceeds this many bytes
)

type jfile struct {
	path string
	f    *os.File
	w    *bufio.Writer
	size int64
}

// Journal owns the pair of on-disk files described in spec §4.6 and the
// monotonically increasing LSN counter allocated from it.
type Journal struct {
	mu          sync.Mutex // journal may be flushed from a background-goroutine-free maintenance tick; guards file switch bookkeeping only
	dir         string
	pageSize    int
	files       [2]*jfile
	current     int // index into files of the "current" file
	maxFileSize int64
	nextLSN     uint64
	openTxns    map[uint64]bool // txns begun in the current file, not yet committed/aborted — rotation waits for these to drain
}

// Open creates (if needed) and opens both journal files inside dir.
func Open(dir string, pageSize int) (*Journal, error) {
	j := &Journal{
		dir:         dir,
		pageSize:    pageSize,
		maxFileSize: defaultMaxLen,
		openTxns:    make(map[uint64]bool),
	}
	for i, name := range [2]string{fileNameA, fileNameB} {
		jf, err := openFile(filepath.Join(dir, name), pageSize)
		if err != nil {
			return nil, err
		}
		j.files[i] = jf
	}
	if j.files[1].lastLSN() > j.files[0].lastLSN() {
		j.current = 1
	}
	j.nextLSN = max64(j.files[0].lastLSN(), j.files[1].lastLSN()) + 1
	return j, nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func openFile(path string, pageSize int) (*jfile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	jf := &jfile{path: path, f: f, size: info.Size()}
	if info.Size() == 0 {
		if err := jf.writeHeader(pageSize, 0); err != nil {
			return nil, err
		}
	}
	if _, err := f.Seek(0, 2); err != nil {
		return nil, err
	}
	jf.w = bufio.NewWriter(f)
	return jf, nil
}

func (jf *jfile) writeHeader(pageSize int, lastLSN uint64) error {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(pageSize))
	binary.LittleEndian.PutUint64(buf[8:16], lastLSN)
	if _, err := jf.f.WriteAt(buf, 0); err != nil {
		return err
	}
	if jf.size < headerSize {
		jf.size = headerSize
	}
	return nil
}

// lastLSN reads back the header's last-LSN field, used only at Open to
// decide which file is "current".
func (jf *jfile) lastLSN() uint64 {
	buf := make([]byte, headerSize)
	if _, err := jf.f.ReadAt(buf, 0); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[8:16])
}

// NextLSN allocates and returns the next journal LSN. LSNs are never
// reused, per spec §3's invariants.
func (j *Journal) NextLSN() uint64 {
	lsn := j.nextLSN
	j.nextLSN++
	return lsn
}

// LastAllocatedLSN returns the most recently allocated LSN without
// allocating a new one, used by the page cache's durability check (every
// LSN up to and including this one has already been appended to the
// journal's in-memory buffer, though not necessarily fsynced).
func (j *Journal) LastAllocatedLSN() uint64 {
	if j.nextLSN == 0 {
		return 0
	}
	return j.nextLSN - 1
}

func (j *Journal) cur() *jfile { return j.files[j.current] }

func (j *Journal) append(e *Entry) error {
	buf := e.encode()
	n, err := j.cur().w.Write(buf)
	if err != nil {
		return err
	}
	j.cur().size += int64(n)
	return nil
}

// AppendTxnBegin records the start of a transaction.
func (j *Journal) AppendTxnBegin(txnID uint64, flags uint32, name string) error {
	j.openTxns[txnID] = true
	return j.append(&Entry{Kind: KindTxnBegin, LSN: j.NextLSN(), TxnID: txnID, Flags: flags, Name: name})
}

// AppendTxnCommit records a transaction's commit point.
func (j *Journal) AppendTxnCommit(txnID uint64) error {
	delete(j.openTxns, txnID)
	return j.append(&Entry{Kind: KindTxnCommit, LSN: j.NextLSN(), TxnID: txnID})
}

// AppendTxnAbort records a transaction's abort.
func (j *Journal) AppendTxnAbort(txnID uint64) error {
	delete(j.openTxns, txnID)
	return j.append(&Entry{Kind: KindTxnAbort, LSN: j.NextLSN(), TxnID: txnID})
}

// AppendInsert records a logical insert/overwrite/duplicate-insert op.
func (j *Journal) AppendInsert(txnID uint64, dbID uint32, key, record []byte, dupIndex uint32, flags uint32, partialOffset, partialSize uint64) (uint64, error) {
	lsn := j.NextLSN()
	err := j.append(&Entry{
		Kind: KindInsert, LSN: lsn, TxnID: txnID, DBID: dbID,
		Key: key, Record: record, DupIndex: dupIndex, Flags: flags,
		PartialOffset: partialOffset, PartialSize: partialSize,
	})
	return lsn, err
}

// AppendErase records a logical erase op.
func (j *Journal) AppendErase(txnID uint64, dbID uint32, key []byte, dupIndex uint32, flags uint32) (uint64, error) {
	lsn := j.NextLSN()
	err := j.append(&Entry{Kind: KindErase, LSN: lsn, TxnID: txnID, DBID: dbID, Key: key, DupIndex: dupIndex, Flags: flags})
	return lsn, err
}

// AppendChangeset records the authoritative durable form of a mutation:
// the full byte image of every page it touched, stamped with lsn.
func (j *Journal) AppendChangeset(lsn uint64, pages []ChangesetPage) error {
	return j.append(&Entry{Kind: KindChangeset, LSN: lsn, ChangesetPages: pages})
}

// Flush pushes buffered writes to the OS and, if fsync is true, to disk,
// then updates the current file's header with the last LSN written and
// considers rotation.
func (j *Journal) Flush(fsync bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cf := j.cur()
	if err := cf.w.Flush(); err != nil {
		return err
	}
	if fsync {
		if err := cf.f.Sync(); err != nil {
			return err
		}
	}
	if err := cf.writeHeader(j.pageSize, j.nextLSN-1); err != nil {
		return err
	}
	return j.maybeRotate()
}

// maybeRotate implements spec §4.6's rotation rule: once the current file
// exceeds maxFileSize and no transaction spans it (none began in it and
// is still open), the other file is truncated and becomes current.
func (j *Journal) maybeRotate() error {
	if j.cur().size < j.maxFileSize || len(j.openTxns) > 0 {
		return nil
	}
	other := j.files[1-j.current]
	if err := other.f.Truncate(0); err != nil {
		return err
	}
	if err := other.writeHeader(j.pageSize, j.nextLSN-1); err != nil {
		return err
	}
	if _, err := other.f.Seek(headerSize, 0); err != nil {
		return err
	}
	other.size = headerSize
	other.w = bufio.NewWriter(other.f)
	j.current = 1 - j.current
	return nil
}

// ScanAll reads every entry from both files, in file order, without
// interpreting or sorting them — internal/recovery merges and sorts by
// LSN. A record with a truncated length prefix or a mismatched back
// pointer (spec §4.6) ends that file's scan at the point of damage rather
// than failing the whole scan.
func (j *Journal) ScanAll() ([]Entry, error) {
	var all []Entry
	order := []int{1 - j.current, j.current} // older file first, current last
	for _, idx := range order {
		entries, err := scanFile(j.files[idx].path)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

func scanFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize || string(data[0:4]) != magic {
		return nil, fmt.Errorf("journal: %s missing valid header", path)
	}
	var entries []Entry
	off := headerSize
	for off+4 <= len(data) {
		total := int(binary.LittleEndian.Uint32(data[off : off+4]))
		recStart := off + 4
		recEnd := recStart + total
		if total < 1 || recEnd+4 > len(data) {
			break // incomplete length prefix: treat as end of log
		}
		backLen := binary.LittleEndian.Uint32(data[recEnd : recEnd+4])
		if int(backLen) != total {
			break // mismatched back-pointer: torn record
		}
		kind := Kind(data[recStart])
		payload := data[recStart+1 : recEnd]
		e, err := decodeEntry(kind, payload)
		if err != nil {
			break // undecodable mid-record payload: stop as if absent
		}
		entries = append(entries, *e)
		off = recEnd + 4
	}
	return entries, nil
}

// Truncate resets both journal files to empty (post-recovery cleanup,
// spec §4.6 step 5).
func (j *Journal) Truncate(lastLSN uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, jf := range j.files {
		if err := jf.f.Truncate(0); err != nil {
			return err
		}
		if err := jf.writeHeader(j.pageSize, lastLSN); err != nil {
			return err
		}
		if _, err := jf.f.Seek(headerSize, 0); err != nil {
			return err
		}
		jf.size = headerSize
		jf.w = bufio.NewWriter(jf.f)
	}
	j.current = 0
	j.nextLSN = lastLSN + 1
	j.openTxns = make(map[uint64]bool)
	return nil
}

// Close flushes and closes both files.
func (j *Journal) Close() error {
	var firstErr error
	for _, jf := range j.files {
		if err := jf.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := jf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
