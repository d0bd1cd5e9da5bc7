package pagedb

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/natefinch/atomic"

	"github.com/pagedb/pagedb/internal/btree"
	"github.com/pagedb/pagedb/internal/page"
)

// metaFile is the sidecar descriptor spec §6 describes as living in page
// 0 of the store. Page 0 in this implementation is reserved (the device
// is created one page long, so allocation starts at the next page) but
// nothing is written to it; the
// authoritative clean-shutdown bit, LSN watermark and per-database
// descriptor table live here instead, written with
// github.com/natefinch/atomic so a crash between writes never leaves a
// half-updated descriptor table behind. See DESIGN.md.
type metaFile struct {
	CleanShutdown bool
	LastLSN       uint64
	NextDBID      uint32
	Databases     []dbDescriptor
}

type dbDescriptor struct {
	ID         uint32
	Name       string
	RootPageID page.ID
	KeyType    btree.KeyType
	KeySize    int
	RecordSize int
	Flags      DatabaseFlags

	// NextRecNo persists a record-number database's auto-increment
	// counter across close/reopen, per spec §4.4.
	NextRecNo uint64
}

// metaPath derives the sidecar descriptor's path from the store's main
// file path, the same way the journal derives "<path>.journal" — a
// sibling file, not an entry inside path (path is a file, not a
// directory).
func metaPath(storePath string) string { return storePath + ".meta" }

func writeMeta(storePath string, m metaFile) error {
	var buf bytes.Buffer
	putU64 := func(v uint64) { binary.Write(&buf, binary.LittleEndian, v) }
	putU32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	putBytes := func(b []byte) { putU32(uint32(len(b))); buf.Write(b) }

	var flags byte
	if m.CleanShutdown {
		flags = 1
	}
	buf.WriteByte(flags)
	putU64(m.LastLSN)
	putU32(m.NextDBID)
	putU32(uint32(len(m.Databases)))
	for _, d := range m.Databases {
		putU32(d.ID)
		putBytes([]byte(d.Name))
		putU64(uint64(d.RootPageID))
		putU32(uint32(d.KeyType))
		putU32(uint32(d.KeySize))
		putU32(uint32(d.RecordSize))
		putU32(uint32(d.Flags))
		putU64(d.NextRecNo)
	}
	return atomic.WriteFile(metaPath(storePath), bytes.NewReader(buf.Bytes()))
}

func readMeta(storePath string) (metaFile, error) {
	data, err := os.ReadFile(metaPath(storePath))
	if os.IsNotExist(err) {
		return metaFile{}, nil
	}
	if err != nil {
		return metaFile{}, err
	}
	r := bytes.NewReader(data)
	var m metaFile
	var flags byte
	if flags, err = r.ReadByte(); err != nil {
		return metaFile{}, err
	}
	m.CleanShutdown = flags&1 != 0
	if err := binary.Read(r, binary.LittleEndian, &m.LastLSN); err != nil {
		return metaFile{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.NextDBID); err != nil {
		return metaFile{}, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return metaFile{}, err
	}
	readBytes := func() ([]byte, error) {
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, err
		}
		b := make([]byte, l)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, err
		}
		return b, nil
	}
	for i := uint32(0); i < n; i++ {
		var d dbDescriptor
		if err := binary.Read(r, binary.LittleEndian, &d.ID); err != nil {
			return metaFile{}, err
		}
		name, err := readBytes()
		if err != nil {
			return metaFile{}, err
		}
		d.Name = string(name)
		var rootID uint64
		if err := binary.Read(r, binary.LittleEndian, &rootID); err != nil {
			return metaFile{}, err
		}
		d.RootPageID = page.ID(rootID)
		var kt32, ks32, rs32, fl32 uint32
		if err := binary.Read(r, binary.LittleEndian, &kt32); err != nil {
			return metaFile{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &ks32); err != nil {
			return metaFile{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &rs32); err != nil {
			return metaFile{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &fl32); err != nil {
			return metaFile{}, err
		}
		d.KeyType = btree.KeyType(kt32)
		d.KeySize = int(ks32)
		d.RecordSize = int(rs32)
		d.Flags = DatabaseFlags(fl32)
		if err := binary.Read(r, binary.LittleEndian, &d.NextRecNo); err != nil {
			return metaFile{}, err
		}
		m.Databases = append(m.Databases, d)
	}
	return m, nil
}
