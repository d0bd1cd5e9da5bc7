package journal

import (
	"encoding/binary"
	"fmt"

	"github.com/pagedb/pagedb/internal/page"
)

// Kind tags a journal entry's payload shape, per spec §4.6's entry table.
type Kind uint8

const (
	KindTxnBegin Kind = iota + 1
	KindTxnCommit
	KindTxnAbort
	KindInsert
	KindErase
	KindChangeset
)

// ChangesetPage is one (page id, full page bytes) pair inside a
// kind_changeset entry.
type ChangesetPage struct {
	ID    page.ID
	Bytes []byte
}

// Entry is a single decoded journal record. Only the fields relevant to
// Kind are populated; the rest are zero.
type Entry struct {
	Kind Kind
	LSN  uint64

	TxnID uint64
	Flags uint32
	Name  string

	DBID          uint32
	Key           []byte
	Record        []byte
	PartialOffset uint64
	PartialSize   uint64
	DupIndex      uint32

	ChangesetPages []ChangesetPage
}

// encode serializes e as: len(4) kind(1) payload backLen(4). The trailing
// backLen copy is spec §4.6's "back-pointer": recovery treats a record
// whose header length and footer length disagree as a torn write and
// stops scanning there, same as an incomplete length prefix.
func (e *Entry) encode() []byte {
	payload := e.encodePayload()
	total := 1 + len(payload)
	buf := make([]byte, 4+total+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	buf[4] = byte(e.Kind)
	copy(buf[5:], payload)
	binary.LittleEndian.PutUint32(buf[4+total:], uint32(total))
	return buf
}

func putBytes(buf *[]byte, b []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	*buf = append(*buf, lenBuf[:]...)
	*buf = append(*buf, b...)
}

func getBytes(buf []byte, off int) ([]byte, int, error) {
	if off+4 > len(buf) {
		return nil, off, fmt.Errorf("journal: truncated length prefix at %d", off)
	}
	n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	if off+n > len(buf) {
		return nil, off, fmt.Errorf("journal: truncated payload at %d", off)
	}
	return buf[off : off+n], off + n, nil
}

func (e *Entry) encodePayload() []byte {
	var buf []byte
	var u8 [8]byte
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(u8[:], v)
		buf = append(buf, u8[:]...)
	}
	putU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}

	putU64(e.LSN)
	switch e.Kind {
	case KindTxnBegin:
		putU64(e.TxnID)
		putU32(e.Flags)
		putBytes(&buf, []byte(e.Name))
	case KindTxnCommit, KindTxnAbort:
		putU64(e.TxnID)
	case KindInsert:
		putU64(e.TxnID)
		putU32(e.DBID)
		putBytes(&buf, e.Key)
		putBytes(&buf, e.Record)
		putU32(e.DupIndex)
		putU32(e.Flags)
		putU64(e.PartialOffset)
		putU64(e.PartialSize)
	case KindErase:
		putU64(e.TxnID)
		putU32(e.DBID)
		putBytes(&buf, e.Key)
		putU32(e.DupIndex)
		putU32(e.Flags)
	case KindChangeset:
		putU32(uint32(len(e.ChangesetPages)))
		for _, p := range e.ChangesetPages {
			putU64(uint64(p.ID))
			putBytes(&buf, p.Bytes)
		}
	}
	return buf
}

func decodeEntry(kind Kind, payload []byte) (*Entry, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("journal: entry payload too short")
	}
	e := &Entry{Kind: kind}
	e.LSN = binary.LittleEndian.Uint64(payload[0:8])
	off := 8
	var err error
	switch kind {
	case KindTxnBegin:
		if off+12 > len(payload) {
			return nil, fmt.Errorf("journal: truncated txn_begin")
		}
		e.TxnID = binary.LittleEndian.Uint64(payload[off : off+8])
		off += 8
		e.Flags = binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		name, _, err := getBytes(payload, off)
		if err != nil {
			return nil, err
		}
		e.Name = string(name)
	case KindTxnCommit, KindTxnAbort:
		if off+8 > len(payload) {
			return nil, fmt.Errorf("journal: truncated txn_commit/abort")
		}
		e.TxnID = binary.LittleEndian.Uint64(payload[off : off+8])
	case KindInsert:
		e.TxnID = binary.LittleEndian.Uint64(payload[off : off+8])
		off += 8
		e.DBID = binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		if e.Key, off, err = getBytes(payload, off); err != nil {
			return nil, err
		}
		if e.Record, off, err = getBytes(payload, off); err != nil {
			return nil, err
		}
		if off+24 > len(payload) {
			return nil, fmt.Errorf("journal: truncated insert tail")
		}
		e.DupIndex = binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		e.Flags = binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		e.PartialOffset = binary.LittleEndian.Uint64(payload[off : off+8])
		off += 8
		e.PartialSize = binary.LittleEndian.Uint64(payload[off : off+8])
	case KindErase:
		e.TxnID = binary.LittleEndian.Uint64(payload[off : off+8])
		off += 8
		e.DBID = binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		if e.Key, off, err = getBytes(payload, off); err != nil {
			return nil, err
		}
		if off+8 > len(payload) {
			return nil, fmt.Errorf("journal: truncated erase tail")
		}
		e.DupIndex = binary.LittleEndian.Uint32(payload[off : off+4])
		off += 4
		e.Flags = binary.LittleEndian.Uint32(payload[off : off+4])
	case KindChangeset:
		if off+4 > len(payload) {
			return nil, fmt.Errorf("journal: truncated changeset count")
		}
		n := int(binary.LittleEndian.Uint32(payload[off : off+4]))
		off += 4
		e.ChangesetPages = make([]ChangesetPage, 0, n)
		for i := 0; i < n; i++ {
			if off+8 > len(payload) {
				return nil, fmt.Errorf("journal: truncated changeset page id")
			}
			id := page.ID(binary.LittleEndian.Uint64(payload[off : off+8]))
			off += 8
			var bytes []byte
			if bytes, off, err = getBytes(payload, off); err != nil {
				return nil, err
			}
			e.ChangesetPages = append(e.ChangesetPages, ChangesetPage{ID: id, Bytes: bytes})
		}
	default:
		return nil, fmt.Errorf("journal: unknown entry kind %d", kind)
	}
	return e, nil
}
