package pagedb

import (
	"go.uber.org/zap"

	"github.com/pagedb/pagedb/internal/btree"
)

// EnvironmentFlags mirror spec §6's environment-level flags, carried
// through to device.Flags and the journal/recovery wiring at Create/Open
// time. Named the same way the teacher's NewBufMgr/NewBLTree callers pass
// a small bitmask of behavior switches rather than a dozen booleans.
type EnvironmentFlags uint32

const (
	FlagInMemory EnvironmentFlags = 1 << iota
	FlagReadOnly
	FlagDisableMmap
	FlagEnableFsync
	FlagDirectIO
	FlagEnableTransactions
	FlagEnableRecovery
	FlagAutoRecovery
)

// EnvironmentConfig configures Environment.Create/Open. There is no
// file-based config format (per SPEC_FULL.md); every knob is a struct
// field, in the same spirit as the teacher's NewBufMgr(bits, nodeMax,
// pbm, lastPageZeroId) positional-but-grouped parameter style.
type EnvironmentConfig struct {
	PageSize       int   // must be a power of two; 0 defaults to page.DefaultSize
	CacheSizeBytes int64 // 0 defaults to 1024 frames worth
	Flags          EnvironmentFlags
	JournalDir     string // "" defaults to <path>.journal; unused with FlagInMemory
	Logger         *zap.Logger
}

func (c EnvironmentConfig) pageSize() int {
	if c.PageSize <= 0 {
		return 16 * 1024
	}
	return c.PageSize
}

func (c EnvironmentConfig) cacheFrames() int {
	if c.CacheSizeBytes <= 0 {
		return 1024
	}
	frames := int(c.CacheSizeBytes / int64(c.pageSize()))
	if frames < 1 {
		frames = 1
	}
	return frames
}

// DatabaseFlags mirror spec §6's per-database flags.
type DatabaseFlags uint32

const (
	DBFlagEnableDuplicateKeys DatabaseFlags = 1 << iota
	DBFlagRecordNumber32
	DBFlagRecordNumber64
	DBFlagSortDuplicates
)

// recNoWidth returns 0 (not a record-number database), 32 or 64, per
// spec §6's record-number-32/record-number-64 distinction.
func (f DatabaseFlags) recNoWidth() int {
	switch {
	case f&DBFlagRecordNumber64 != 0:
		return 64
	case f&DBFlagRecordNumber32 != 0:
		return 32
	default:
		return 0
	}
}

// DatabaseConfig configures Environment.CreateDatabase, the same way the
// teacher's bltree.go callers pick a key comparator once at tree creation.
type DatabaseConfig struct {
	KeyType    btree.KeyType
	KeySize    int // 0 means variable-length keys
	RecordSize int // 0 means variable-length records
	Flags      DatabaseFlags
	Compare    btree.CompareFunc // nil selects the default comparator for KeyType
}

func (c DatabaseConfig) comparator() btree.CompareFunc {
	if c.Compare != nil {
		return c.Compare
	}
	return btree.Comparator(c.KeyType)
}
