// Package btree implements spec §4.4: the B+-tree index over page ids,
// generalized from the teacher's bltree.go/bufmgr.go (PageFetch/FindSlot
// descent, deletePage/collapseRoot merge, fence-key propagated on split)
// to pagedb's single-environment-mutex concurrency model — since
// Environment serializes every call through one mutex, there is never a
// concurrent split in flight for another goroutine to chase via sibling
// links the way the teacher's B-link tree does; sibling links are kept
// (cursors and range scans still want them) but the "retry right" protocol
// is dropped as dead weight. See DESIGN.md.
package btree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/pagedb/pagedb/internal/blob"
	"github.com/pagedb/pagedb/internal/changeset"
	"github.com/pagedb/pagedb/internal/pagecache"
	"github.com/pagedb/pagedb/internal/page"
)

var (
	ErrNotFound      = errors.New("btree: key not found")
	ErrKeyExists     = errors.New("btree: key already exists")
	ErrTreeCorrupt   = errors.New("btree: integrity check failed")
	ErrRecordTooLong = errors.New("btree: record exceeds database limits")
	ErrLimitsReached = errors.New("btree: record-number counter exhausted")
)

// DupPosition selects where a duplicate value lands within an existing
// key's run, per spec §4.4's UPS_DUPLICATE_INSERT_FIRST/LAST/BEFORE/AFTER.
type DupPosition int

const (
	// DupNone means the insert is not a duplicate at all (exact-match
	// without allowDuplicate goes through the overwrite/ErrKeyExists path).
	DupNone DupPosition = iota
	DupFirst
	DupLast
	DupBefore
	DupAfter
)

// FindFlags selects exact vs. approximate matching for Find/FindApprox,
// per spec §3/§4.4's lt/gt/eq+lt/eq+gt transient match flags.
type FindFlags int

const (
	FindExact FindFlags = iota
	FindLT
	FindGT
	FindLTE
	FindGTE
)

// BtreeIndex is one database's B+-tree: a root page id, a key comparator
// and the blob manager used for extended keys, big records and promoted
// duplicate tables.
type BtreeIndex struct {
	cache    *pagecache.Cache
	blobs    *blob.Manager
	pageSize int
	keyType  KeyType
	cmp      CompareFunc
	rootID   page.ID

	// recNoWidth is 0 (not a record-number database), 32 or 64, per
	// spec §6's record-number-32/record-number-64 distinction.
	recNoWidth int
	nextRecNo  uint64
}

// Open wraps an existing root page (rootID != page.NilID) or, if rootID is
// page.NilID, allocates a fresh empty leaf root and returns its id via
// BtreeIndex.Root() for the caller to persist in the database descriptor.
// recNoWidth is 0/32/64 and startRecNo seeds the auto-increment counter
// (the caller persists/restores it across reopen via the database
// descriptor; see CurrentRecordNumber).
func Open(cs *changeset.Changeset, cache *pagecache.Cache, blobs *blob.Manager, pageSize int, kt KeyType, cmp CompareFunc, rootID page.ID, recNoWidth int, startRecNo uint64) (*BtreeIndex, error) {
	idx := &BtreeIndex{cache: cache, blobs: blobs, pageSize: pageSize, keyType: kt, cmp: cmp, rootID: rootID, recNoWidth: recNoWidth, nextRecNo: startRecNo}
	if rootID == page.NilID {
		pg, err := cache.NewPage(page.TypeBtreeLeaf)
		if err != nil {
			return nil, err
		}
		n := initNode(pg, 0)
		n.encode(idx.capacity())
		cs.AddPage(pg.ID, changeset.BucketIndex)
		cache.Release(pg.ID, true)
		idx.rootID = pg.ID
	}
	return idx, nil
}

// Root returns the current root page id, for the caller to persist.
func (idx *BtreeIndex) Root() page.ID { return idx.rootID }

func (idx *BtreeIndex) capacity() int { return idx.pageSize - page.HeaderSize }

func (idx *BtreeIndex) fetch(id page.ID) (*node, error) {
	pg, err := idx.cache.Fetch(id)
	if err != nil {
		return nil, err
	}
	return decodeNode(pg), nil
}

func (idx *BtreeIndex) release(n *node, dirty bool) {
	idx.cache.Release(n.pg.ID, dirty)
}

// resolveKey materializes the comparison/storage form of key, overflowing
// to a blob and returning the extended-key slot form (8-byte prefix +
// blob.ID) when key is longer than extendedKeyThreshold.
func (idx *BtreeIndex) resolveKey(cs *changeset.Changeset, key []byte) ([]byte, KeyFlag, error) {
	if len(key) <= extendedKeyThreshold {
		return key, 0, nil
	}
	id, err := idx.blobs.Allocate(cs, key)
	if err != nil {
		return nil, 0, err
	}
	stored := make([]byte, 8+8)
	copy(stored, key[:8])
	binary.LittleEndian.PutUint64(stored[8:16], uint64(id))
	return stored, KeyExtended, nil
}

// fullKey recovers the original key bytes given a slot's stored key/flags.
func (idx *BtreeIndex) fullKey(stored []byte, flags KeyFlag) ([]byte, error) {
	if flags&KeyExtended == 0 {
		return stored, nil
	}
	id := blob.ID(binary.LittleEndian.Uint64(stored[8:16]))
	return idx.blobs.Read(id)
}

// resolveRecord picks the inline/blob encoding for a record value per
// spec §4.4's record-size-class flags.
func (idx *BtreeIndex) resolveRecord(cs *changeset.Changeset, record []byte) ([]byte, KeyFlag, error) {
	switch {
	case len(record) == 0:
		return nil, KeyRecordEmpty, nil
	case len(record) <= recordTinyMax:
		return record, KeyRecordTiny, nil
	case len(record) <= recordSmallMax:
		return record, KeyRecordSmall, nil
	default:
		id, err := idx.blobs.Allocate(cs, record)
		if err != nil {
			return nil, 0, err
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(id))
		return b, 0, nil
	}
}

func (idx *BtreeIndex) fullRecord(stored []byte, flags KeyFlag) ([]byte, error) {
	switch {
	case flags&KeyRecordEmpty != 0:
		return nil, nil
	case flags&(KeyRecordTiny|KeyRecordSmall) != 0:
		return stored, nil
	default:
		id := blob.ID(binary.LittleEndian.Uint64(stored))
		return idx.blobs.Read(id)
	}
}

// pathEntry records one step of a root-to-leaf descent so Insert/Erase can
// walk back up to fix fence keys and perform splits/merges without needing
// parent pointers on disk.
type pathEntry struct {
	id  page.ID
	idx int // this page's slot index in its parent (-1 for the root)
}

// descend walks from the root to the leaf that should contain key,
// recording the path. It does not fetch-and-hold every page: each is
// released once its child id has been read off.
func (idx *BtreeIndex) descend(key []byte) ([]pathEntry, error) {
	var path []pathEntry
	id := idx.rootID
	slotInParent := -1
	for {
		n, err := idx.fetch(id)
		if err != nil {
			return nil, err
		}
		if n.isLeaf() {
			idx.release(n, false)
			path = append(path, pathEntry{id: id, idx: slotInParent})
			return path, nil
		}
		i, exact := n.find(key, idx.cmp)
		var child page.ID
		var slot int
		switch {
		case exact:
			child = childID(n.entries[i])
			slot = i
		case i == 0:
			child = n.ptrDown
			slot = -1
		default:
			child = childID(n.entries[i-1])
			slot = i - 1
		}
		idx.release(n, false)
		path = append(path, pathEntry{id: id, idx: slotInParent})
		id = child
		slotInParent = slot
	}
}

// Find returns the record bytes and flags stored for key.
func (idx *BtreeIndex) Find(key []byte) ([]byte, KeyFlag, error) {
	path, err := idx.descend(key)
	if err != nil {
		return nil, 0, err
	}
	leaf, err := idx.fetch(path[len(path)-1].id)
	if err != nil {
		return nil, 0, err
	}
	defer idx.release(leaf, false)

	i, exact := leaf.find(key, idx.cmp)
	if !exact {
		return nil, 0, ErrNotFound
	}
	rec, err := idx.fullRecord(leaf.entries[i].value, leaf.entries[i].flags)
	if err != nil {
		return nil, 0, err
	}
	return rec, leaf.entries[i].flags, nil
}

// FindApprox resolves key under an lt/gt/eq+lt/eq+gt mode: FindLT/FindGT
// return the strict predecessor/successor (falling across sibling leaves
// via Previous/Next), and FindLTE/FindGTE first check for an exact match
// at the descended leaf before falling back the same way, per spec §3's
// approximate-match transient flags and §4.4's "For approximate matching
// (lt/gt/eq+lt/eq+gt)..." note.
func (idx *BtreeIndex) FindApprox(key []byte, mode FindFlags) (Item, error) {
	if mode == FindExact {
		rec, flags, err := idx.Find(key)
		if err != nil {
			return Item{}, err
		}
		return Item{Key: key, Record: rec, Flags: flags}, nil
	}

	if mode == FindLTE || mode == FindGTE {
		path, err := idx.descend(key)
		if err != nil {
			return Item{}, err
		}
		leaf, err := idx.fetch(path[len(path)-1].id)
		if err != nil {
			return Item{}, err
		}
		i, exact := leaf.find(key, idx.cmp)
		if exact {
			it, err := idx.resolve(leaf.entries[i])
			idx.release(leaf, false)
			return it, err
		}
		idx.release(leaf, false)
	}

	switch mode {
	case FindLT, FindLTE:
		return idx.Previous(key)
	case FindGT, FindGTE:
		return idx.Next(key)
	default:
		return Item{}, ErrNotFound
	}
}

// Insert stores record under key. If key already exists and dup is
// DupNone, overwrite replaces its record; otherwise a duplicate entry is
// added at the position dup selects (dupIndex is the 0-based existing
// duplicate the DupBefore/DupAfter position is relative to), promoting
// to an out-of-line duplicate table once the inline run exceeds
// duplicateThreshold entries, per spec §4.4.
func (idx *BtreeIndex) Insert(cs *changeset.Changeset, key, record []byte, dup DupPosition, dupIndex uint32, overwrite bool) error {
	path, err := idx.descend(key)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1].id
	leaf, err := idx.fetch(leafID)
	if err != nil {
		return err
	}

	i, exact := leaf.find(key, idx.cmp)
	recVal, recFlags, err := idx.resolveRecord(cs, record)
	if err != nil {
		idx.release(leaf, false)
		return err
	}

	switch {
	case exact && dup != DupNone:
		if err := idx.appendDuplicate(cs, leaf, i, recVal, recFlags, dup, dupIndex); err != nil {
			idx.release(leaf, false)
			return err
		}
	case exact && overwrite:
		leaf.entries[i].value = recVal
		leaf.entries[i].flags = (leaf.entries[i].flags &^ (KeyRecordEmpty | KeyRecordTiny | KeyRecordSmall)) | recFlags
	case exact:
		idx.release(leaf, false)
		return ErrKeyExists
	default:
		keyVal, keyFlags, err := idx.resolveKey(cs, key)
		if err != nil {
			idx.release(leaf, false)
			return err
		}
		leaf.insertAt(i, entry{key: keyVal, value: recVal, flags: keyFlags | recFlags})
	}

	if leaf.fits(idx.capacity(), 0, 0) {
		leaf.encode(idx.capacity())
		cs.AddPage(leafID, changeset.BucketIndex)
		idx.release(leaf, true)
		return nil
	}
	return idx.splitAndPersist(cs, path, leaf)
}

// dupInsertOffset computes where, within a run of runLen existing
// duplicates (0-based), a new value lands for the given position
// selector. dupIndex is only consulted for DupBefore/DupAfter. Per
// spec.md's Open Question on UPS_DUPLICATE_INSERT_AFTER, inserting
// after the last duplicate intentionally collapses to DupLast rather
// than erroring — this matches the original engine's behavior.
func dupInsertOffset(pos DupPosition, dupIndex uint32, runLen int) int {
	switch pos {
	case DupFirst:
		return 0
	case DupBefore:
		off := int(dupIndex)
		if off > runLen {
			off = runLen
		}
		return off
	case DupAfter:
		off := int(dupIndex) + 1
		if off > runLen {
			off = runLen
		}
		return off
	default: // DupLast
		return runLen
	}
}

// appendDuplicate adds value as another instance of the key at slot i, at
// the position pos/dupIndex selects within the run, promoting the run to
// a blob-backed duplicate table once it grows past duplicateThreshold
// entries.
func (idx *BtreeIndex) appendDuplicate(cs *changeset.Changeset, leaf *node, i int, value []byte, flags KeyFlag, pos DupPosition, dupIndex uint32) error {
	e := leaf.entries[i]
	if e.flags&KeyExtendedDuplicates != 0 {
		id := blob.ID(binary.LittleEndian.Uint64(e.value))
		return idx.appendToDupTable(cs, leaf, i, id, value, flags, pos, dupIndex)
	}

	runStart := i
	for runStart > 0 && sameKey(leaf.entries[runStart-1], e, idx.cmp) {
		runStart--
	}
	runEnd := i + 1
	for runEnd < len(leaf.entries) && sameKey(leaf.entries[runEnd], e, idx.cmp) {
		runEnd++
	}
	runLen := runEnd - runStart
	at := runStart + dupInsertOffset(pos, dupIndex, runLen)
	if runLen+1 <= duplicateThreshold {
		leaf.insertAt(at, entry{key: append([]byte(nil), e.key...), value: value, flags: (e.flags &^ (KeyRecordEmpty | KeyRecordTiny | KeyRecordSmall)) | flags})
		return nil
	}

	// Promote: gather every value in the run, splice the new one in at
	// the selected offset, store as a doubling-capacity blob table, and
	// collapse the run to one slot.
	values := make([][]byte, 0, runLen+1)
	valFlags := make([]KeyFlag, 0, runLen+1)
	for j := runStart; j < runEnd; j++ {
		values = append(values, leaf.entries[j].value)
		valFlags = append(valFlags, leaf.entries[j].flags&(KeyRecordEmpty|KeyRecordTiny|KeyRecordSmall))
	}
	offset := dupInsertOffset(pos, dupIndex, runLen)
	values = append(values[:offset], append([][]byte{value}, values[offset:]...)...)
	valFlags = append(valFlags[:offset], append([]KeyFlag{flags}, valFlags[offset:]...)...)

	id, err := idx.newDupTable(cs, values, valFlags)
	if err != nil {
		return err
	}
	head := entry{
		key:   append([]byte(nil), e.key...),
		value: encodeChildID(page.ID(id)),
		flags: (e.flags &^ (KeyRecordEmpty | KeyRecordTiny | KeyRecordSmall)) | KeyExtendedDuplicates,
	}
	leaf.entries = append(leaf.entries[:runStart], append([]entry{head}, leaf.entries[runEnd:]...)...)
	return nil
}

func sameKey(a, b entry, cmp CompareFunc) bool { return cmp(a.key, b.key) == 0 }

// dupTableHeaderLen is count(4) + capacity(4); each stored value is
// flags(1) + len(4) + bytes.
const dupTableHeaderLen = 8

func (idx *BtreeIndex) newDupTable(cs *changeset.Changeset, values [][]byte, flags []KeyFlag) (blob.ID, error) {
	capacity := duplicateThreshold * 2
	for capacity < len(values) {
		capacity *= 2
	}
	buf := encodeDupTable(uint32(len(values)), uint32(capacity), values, flags)
	return idx.blobs.Allocate(cs, buf)
}

func (idx *BtreeIndex) appendToDupTable(cs *changeset.Changeset, leaf *node, i int, id blob.ID, value []byte, flags KeyFlag, pos DupPosition, dupIndex uint32) error {
	buf, err := idx.blobs.Read(id)
	if err != nil {
		return err
	}
	count, capacity, values, valFlags := decodeDupTable(buf)
	offset := dupInsertOffset(pos, dupIndex, len(values))
	values = append(values[:offset], append([][]byte{value}, values[offset:]...)...)
	valFlags = append(valFlags[:offset], append([]KeyFlag{flags}, valFlags[offset:]...)...)
	count++
	if count > capacity {
		capacity *= 2
	}
	newBuf := encodeDupTable(count, capacity, values, valFlags)
	newID, err := idx.blobs.Overwrite(cs, id, newBuf)
	if err != nil {
		return err
	}
	leaf.entries[i].value = encodeChildID(page.ID(newID))
	return nil
}

func encodeDupTable(count, capacity uint32, values [][]byte, flags []KeyFlag) []byte {
	size := dupTableHeaderLen
	for _, v := range values {
		size += 1 + 4 + len(v)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], count)
	binary.LittleEndian.PutUint32(buf[4:8], capacity)
	off := dupTableHeaderLen
	for i, v := range values {
		buf[off] = byte(flags[i])
		binary.LittleEndian.PutUint32(buf[off+1:off+5], uint32(len(v)))
		copy(buf[off+5:off+5+len(v)], v)
		off += 5 + len(v)
	}
	return buf
}

func decodeDupTable(buf []byte) (count, capacity uint32, values [][]byte, flags []KeyFlag) {
	count = binary.LittleEndian.Uint32(buf[0:4])
	capacity = binary.LittleEndian.Uint32(buf[4:8])
	off := dupTableHeaderLen
	for i := uint32(0); i < count; i++ {
		f := KeyFlag(buf[off])
		n := binary.LittleEndian.Uint32(buf[off+1 : off+5])
		v := append([]byte(nil), buf[off+5:off+5+int(n)]...)
		values = append(values, v)
		flags = append(flags, f)
		off += 5 + int(n)
	}
	return
}

// Duplicates returns every value stored for key, whether inline or
// promoted to an out-of-line table; used by internal/cursor to enumerate
// duplicate runs.
func (idx *BtreeIndex) Duplicates(key []byte) ([][]byte, error) {
	path, err := idx.descend(key)
	if err != nil {
		return nil, err
	}
	leaf, err := idx.fetch(path[len(path)-1].id)
	if err != nil {
		return nil, err
	}
	defer idx.release(leaf, false)

	i, exact := leaf.find(key, idx.cmp)
	if !exact {
		return nil, ErrNotFound
	}
	e := leaf.entries[i]
	if e.flags&KeyExtendedDuplicates != 0 {
		buf, err := idx.blobs.Read(blob.ID(childID(e)))
		if err != nil {
			return nil, err
		}
		_, _, values, flags := decodeDupTable(buf)
		out := make([][]byte, len(values))
		for j, v := range values {
			rec, err := idx.fullRecord(v, flags[j])
			if err != nil {
				return nil, err
			}
			out[j] = rec
		}
		return out, nil
	}
	var out [][]byte
	for j := i; j < len(leaf.entries) && sameKey(leaf.entries[j], e, idx.cmp); j++ {
		rec, err := idx.fullRecord(leaf.entries[j].value, leaf.entries[j].flags)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Erase removes key (and, for a duplicate run, every instance of it).
func (idx *BtreeIndex) Erase(cs *changeset.Changeset, key []byte) error {
	path, err := idx.descend(key)
	if err != nil {
		return err
	}
	leafID := path[len(path)-1].id
	leaf, err := idx.fetch(leafID)
	if err != nil {
		return err
	}
	i, exact := leaf.find(key, idx.cmp)
	if !exact {
		idx.release(leaf, false)
		return ErrNotFound
	}
	e := leaf.entries[i]
	for i < len(leaf.entries) && sameKey(leaf.entries[i], e, idx.cmp) {
		leaf.deleteAt(i)
	}
	leaf.encode(idx.capacity())
	cs.AddPage(leafID, changeset.BucketIndex)
	idx.release(leaf, true)
	return idx.maybeMerge(cs, path)
}

// CurrentRecordNumber returns the last record number assigned (0 if none
// has been assigned yet), for the caller to persist across reopen.
func (idx *BtreeIndex) CurrentRecordNumber() uint64 { return idx.nextRecNo }

// RecordNumberWidth returns 0 (not a record-number database), 32 or 64.
func (idx *BtreeIndex) RecordNumberWidth() int { return idx.recNoWidth }

// AssignRecordNumber advances the auto-increment counter and returns the
// newly assigned key encoded in host (little-endian) byte order at the
// configured width, per spec §4.4's "store current_record_number+1 in
// host endian in the key buffer supplied by the caller." It returns
// ErrLimitsReached once the counter would wrap the configured width, per
// spec §7's "limits reached" capacity error.
func (idx *BtreeIndex) AssignRecordNumber() ([]byte, error) {
	switch idx.recNoWidth {
	case 32:
		if idx.nextRecNo >= math.MaxUint32 {
			return nil, ErrLimitsReached
		}
		idx.nextRecNo++
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(idx.nextRecNo))
		return b, nil
	case 64:
		if idx.nextRecNo == math.MaxUint64 {
			return nil, ErrLimitsReached
		}
		idx.nextRecNo++
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, idx.nextRecNo)
		return b, nil
	default:
		return nil, fmt.Errorf("btree: AssignRecordNumber called on a non-record-number database")
	}
}
