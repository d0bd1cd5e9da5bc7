package btree

import (
	"bytes"
	"encoding/binary"
	"math"
)

// KeyType is the declared semantic type of a database's keys, per spec
// §3/§6. Numeric types compare numerically rather than lexicographically.
type KeyType uint8

const (
	KeyTypeUint8 KeyType = iota
	KeyTypeUint16
	KeyTypeUint32
	KeyTypeUint64
	KeyTypeReal32
	KeyTypeReal64
	KeyTypeBinaryFixed
	KeyTypeBinaryUnbounded
	KeyTypeCustom
)

// CompareFunc orders two encoded keys, returning <0, 0, >0 like bytes.Compare.
type CompareFunc func(a, b []byte) int

// Comparator resolves the CompareFunc for kt. Custom-compare databases
// (spec §6's custom-compare-hash flag) pass their own function instead of
// calling this.
func Comparator(kt KeyType) CompareFunc {
	switch kt {
	case KeyTypeUint8:
		return func(a, b []byte) int { return int(a[0]) - int(b[0]) }
	case KeyTypeUint16:
		return func(a, b []byte) int {
			return cmpUint64(uint64(binary.LittleEndian.Uint16(a)), uint64(binary.LittleEndian.Uint16(b)))
		}
	case KeyTypeUint32:
		return func(a, b []byte) int {
			return cmpUint64(uint64(binary.LittleEndian.Uint32(a)), uint64(binary.LittleEndian.Uint32(b)))
		}
	case KeyTypeUint64:
		return func(a, b []byte) int {
			return cmpUint64(binary.LittleEndian.Uint64(a), binary.LittleEndian.Uint64(b))
		}
	case KeyTypeReal32:
		return func(a, b []byte) int {
			return cmpFloat64(float64(math.Float32frombits(binary.LittleEndian.Uint32(a))),
				float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
		}
	case KeyTypeReal64:
		return func(a, b []byte) int {
			return cmpFloat64(math.Float64frombits(binary.LittleEndian.Uint64(a)),
				math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
	default: // fixed/unbounded binary and custom-without-override fall back to byte order
		return bytes.Compare
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat64(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsNumeric reports whether kt compares numerically rather than
// lexicographically.
func IsNumeric(kt KeyType) bool {
	switch kt {
	case KeyTypeUint8, KeyTypeUint16, KeyTypeUint32, KeyTypeUint64, KeyTypeReal32, KeyTypeReal64:
		return true
	default:
		return false
	}
}
