package btree

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestPaxNode_InsertAndEncodeRoundTrip(t *testing.T) {
	p := newPaxNode(8, 4)
	put := func(k uint64, v uint32) {
		kb := make([]byte, 8)
		binary.LittleEndian.PutUint64(kb, k)
		vb := make([]byte, 4)
		binary.LittleEndian.PutUint32(vb, v)
		i, _ := p.find(kb, Comparator(KeyTypeUint64))
		p.insertAt(i, kb, vb)
	}
	put(30, 3)
	put(10, 1)
	put(20, 2)

	for i := 0; i < p.count-1; i++ {
		if Comparator(KeyTypeUint64)(p.keyAt(i), p.keyAt(i+1)) >= 0 {
			t.Fatalf("keys not sorted after insert: index %d", i)
		}
	}

	buf := p.encode()
	decoded := decodePaxNode(buf)
	if decoded.count != p.count {
		t.Fatalf("decoded count = %d, want %d", decoded.count, p.count)
	}
	if !bytes.Equal(decoded.keys, p.keys) || !bytes.Equal(decoded.values, p.values) {
		t.Errorf("decode/encode round trip mismatch")
	}
}

func TestBitmapNode_SetUnsetEncodeRoundTrip(t *testing.T) {
	b := newBitmapNode(100, 64, 4)
	vb := func(n uint32) []byte {
		v := make([]byte, 4)
		binary.LittleEndian.PutUint32(v, n)
		return v
	}
	b.set(105, vb(1))
	b.set(103, vb(2))
	b.set(110, vb(3))

	if !b.has(105) || !b.has(103) || !b.has(110) {
		t.Fatalf("expected records to be present")
	}
	if b.has(104) {
		t.Fatalf("record 104 should be absent")
	}
	if got := binary.LittleEndian.Uint32(b.valueAt(103)); got != 2 {
		t.Errorf("valueAt(103) = %d, want 2", got)
	}

	buf := b.encode()
	decoded := decodeBitmapNode(buf)
	if !decoded.has(105) || !decoded.has(103) || !decoded.has(110) {
		t.Fatalf("decoded bitmap lost presence bits")
	}
	if got := binary.LittleEndian.Uint32(decoded.valueAt(110)); got != 3 {
		t.Errorf("decoded valueAt(110) = %d, want 3", got)
	}

	b.unset(103)
	if b.has(103) {
		t.Fatalf("record 103 should be absent after unset")
	}
	if got := binary.LittleEndian.Uint32(b.valueAt(105)); got != 1 {
		t.Errorf("valueAt(105) after unset = %d, want 1", got)
	}
}
