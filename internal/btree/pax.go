package btree

import "encoding/binary"

// paxNode is the PAX ("partition attributes across") fixed-width layout
// spec §4.4 names as an alternative to the Default variable layout:
// instead of interleaving each key with its value, all keys are packed
// contiguously followed by all values, which lets a numeric-key range scan
// touch one dense run of memory instead of striding through slot headers.
// It only applies to databases whose key and value widths are fixed
// (record-number or fixed-binary keys with fixed-size records); Default
// remains the layout BtreeIndex dispatches through (see DESIGN.md), but the
// codec below is complete and round-trips independently of that decision.
type paxNode struct {
	keyWidth   int
	valueWidth int
	count      int
	keys       []byte // count*keyWidth, densely packed
	values     []byte // count*valueWidth, densely packed
}

func newPaxNode(keyWidth, valueWidth int) *paxNode {
	return &paxNode{keyWidth: keyWidth, valueWidth: valueWidth}
}

func (p *paxNode) byteSize() int {
	return 8 + p.count*(p.keyWidth+p.valueWidth)
}

// encode writes the header (keyWidth, valueWidth, count as uint16 each,
// plus 2 bytes padding) followed by the key array then the value array.
func (p *paxNode) encode() []byte {
	buf := make([]byte, p.byteSize())
	binary.LittleEndian.PutUint16(buf[0:2], uint16(p.keyWidth))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(p.valueWidth))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(p.count))
	copy(buf[8:8+len(p.keys)], p.keys)
	copy(buf[8+len(p.keys):], p.values)
	return buf
}

func decodePaxNode(buf []byte) *paxNode {
	kw := int(binary.LittleEndian.Uint16(buf[0:2]))
	vw := int(binary.LittleEndian.Uint16(buf[2:4]))
	count := int(binary.LittleEndian.Uint16(buf[4:6]))
	p := &paxNode{keyWidth: kw, valueWidth: vw, count: count}
	p.keys = append([]byte(nil), buf[8:8+count*kw]...)
	p.values = append([]byte(nil), buf[8+count*kw:8+count*kw+count*vw]...)
	return p
}

func (p *paxNode) keyAt(i int) []byte   { return p.keys[i*p.keyWidth : (i+1)*p.keyWidth] }
func (p *paxNode) valueAt(i int) []byte { return p.values[i*p.valueWidth : (i+1)*p.valueWidth] }

// find returns the lower-bound index of key among p's packed keys.
func (p *paxNode) find(key []byte, cmp CompareFunc) (int, bool) {
	lo, hi := 0, p.count
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(p.keyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < p.count && cmp(p.keyAt(lo), key) == 0
}

func (p *paxNode) insertAt(i int, key, value []byte) {
	p.keys = append(p.keys, make([]byte, p.keyWidth)...)
	copy(p.keys[(i+1)*p.keyWidth:], p.keys[i*p.keyWidth:p.count*p.keyWidth])
	copy(p.keys[i*p.keyWidth:], key)

	p.values = append(p.values, make([]byte, p.valueWidth)...)
	copy(p.values[(i+1)*p.valueWidth:], p.values[i*p.valueWidth:p.count*p.valueWidth])
	copy(p.values[i*p.valueWidth:], value)

	p.count++
}
