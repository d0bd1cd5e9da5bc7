package btree

import (
	"encoding/binary"

	"github.com/pagedb/pagedb/internal/page"
)

// This is the "Default" node layout spec §4.4 names: variable-length keys
// and values packed into one page, grounded on the teacher's bltree.go Page
// frame (a header plus a byte slab addressed by slot index) but decoded
// eagerly into a Go slice of entries rather than mutated in place — every
// mutation rewrites the whole payload. Simpler than the teacher's in-place
// slot shuffling and cheap enough at spec's page sizes; PAX and bitmap
// layouts (pax.go, bitmap.go) make the same trade for the same reason.
const (
	nodeHeaderLen = 32
	slotSize      = 4
	entryOverhead = 4 // uint16 keyLen + uint16 valLen, surrounding the raw bytes
)

// entry is one decoded slot: a key, its value bytes (a literal record, an
// 8-byte blob.ID, or an 8-byte child page.ID for internal nodes) and flags.
type entry struct {
	key   []byte
	value []byte
	flags KeyFlag
}

// node is the decoded, mutable view of one B-tree page used by BtreeIndex.
type node struct {
	pg      *page.Page
	level   uint8
	right   page.ID
	left    page.ID
	ptrDown page.ID
	entries []entry
}

func initNode(pg *page.Page, level uint8) *node {
	pg.Header.Type = page.TypeBtreeInternal
	if level == 0 {
		pg.Header.Type = page.TypeBtreeLeaf
		pg.Header.Flags |= page.FlagLeaf
	}
	return &node{pg: pg, level: level}
}

func decodeNode(pg *page.Page) *node {
	buf := pg.Payload
	n := &node{
		pg:      pg,
		level:   buf[4],
		right:   page.ID(binary.LittleEndian.Uint64(buf[8:16])),
		left:    page.ID(binary.LittleEndian.Uint64(buf[16:24])),
		ptrDown: page.ID(binary.LittleEndian.Uint64(buf[24:32])),
	}
	count := int(binary.LittleEndian.Uint16(buf[0:2]))
	n.entries = make([]entry, count)
	for i := 0; i < count; i++ {
		slotOff := nodeHeaderLen + i*slotSize
		flags := KeyFlag(buf[slotOff])
		dataOff := int(binary.LittleEndian.Uint16(buf[slotOff+2 : slotOff+4]))
		keyLen := int(binary.LittleEndian.Uint16(buf[dataOff : dataOff+2]))
		key := buf[dataOff+2 : dataOff+2+keyLen]
		valOff := dataOff + 2 + keyLen
		valLen := int(binary.LittleEndian.Uint16(buf[valOff : valOff+2]))
		val := buf[valOff+2 : valOff+2+valLen]
		n.entries[i] = entry{key: append([]byte(nil), key...), value: append([]byte(nil), val...), flags: flags}
	}
	return n
}

func (n *node) isLeaf() bool { return n.level == 0 }
func (n *node) count() int  { return len(n.entries) }

// byteSize reports how many payload bytes n would need if encoded now.
func (n *node) byteSize() int {
	total := nodeHeaderLen + len(n.entries)*slotSize
	for _, e := range n.entries {
		total += entryOverhead + len(e.key) + len(e.value)
	}
	return total
}

// fits reports whether n, plus one additional entry of the given key/value
// lengths, still fits within capacity bytes.
func (n *node) fits(capacity, extraKeyLen, extraValLen int) bool {
	return n.byteSize()+slotSize+entryOverhead+extraKeyLen+extraValLen <= capacity
}

// encode serializes n back into its backing page, overwriting Payload.
// Panics if the encoded form would not fit — callers must split first.
func (n *node) encode(capacity int) {
	if n.byteSize() > capacity {
		panic("btree: node does not fit its page")
	}
	buf := n.pg.Payload
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(n.entries)))
	buf[4] = n.level
	binary.LittleEndian.PutUint64(buf[8:16], uint64(n.right))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(n.left))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(n.ptrDown))

	dataOff := len(buf)
	for i, e := range n.entries {
		size := entryOverhead + len(e.key) + len(e.value)
		dataOff -= size
		binary.LittleEndian.PutUint16(buf[dataOff:dataOff+2], uint16(len(e.key)))
		copy(buf[dataOff+2:dataOff+2+len(e.key)], e.key)
		valOff := dataOff + 2 + len(e.key)
		binary.LittleEndian.PutUint16(buf[valOff:valOff+2], uint16(len(e.value)))
		copy(buf[valOff+2:valOff+2+len(e.value)], e.value)

		slotOff := nodeHeaderLen + i*slotSize
		buf[slotOff] = byte(e.flags)
		binary.LittleEndian.PutUint16(buf[slotOff+2:slotOff+4], uint16(dataOff))
	}
	if n.isLeaf() {
		n.pg.Header.Type = page.TypeBtreeLeaf
		n.pg.Header.Flags |= page.FlagLeaf
	} else {
		n.pg.Header.Type = page.TypeBtreeInternal
		n.pg.Header.Flags &^= page.FlagLeaf
	}
	n.pg.SetDirty(true)
}

// find returns the index of the first entry whose key is >= key under cmp,
// and whether that entry's key equals key exactly (standard B-tree lower
// bound search).
func (n *node) find(key []byte, cmp CompareFunc) (int, bool) {
	lo, hi := 0, len(n.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		c := cmp(n.entries[mid].key, key)
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	exact := lo < len(n.entries) && cmp(n.entries[lo].key, key) == 0
	return lo, exact
}

func (n *node) insertAt(i int, e entry) {
	n.entries = append(n.entries, entry{})
	copy(n.entries[i+1:], n.entries[i:])
	n.entries[i] = e
}

func (n *node) deleteAt(i int) {
	n.entries = append(n.entries[:i], n.entries[i+1:]...)
}

// splitPoint returns the median index: entries [0,mid) stay, [mid,end) move
// to the new right sibling, per spec §4.4's split rule.
func (n *node) splitPoint() int { return len(n.entries) / 2 }

func childID(e entry) page.ID { return page.ID(binary.LittleEndian.Uint64(e.value)) }

func encodeChildID(id page.ID) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(id))
	return b
}
