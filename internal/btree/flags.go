package btree

// KeyFlag bits are stored per slot alongside each key, per spec §4.4/§6.
type KeyFlag byte

const (
	// KeyExtended marks a key whose bytes overflow into a blob rather than
	// living inline in the node (spec §4.4's extended-key overflow).
	KeyExtended KeyFlag = 1 << 0
	// KeyExtendedDuplicates marks a slot whose duplicates have been
	// promoted from an inline run to an out-of-line duplicate table.
	KeyExtendedDuplicates KeyFlag = 1 << 1
	// KeyInitialized distinguishes an explicitly-inserted empty record
	// from a slot that was never written (record-number auto-increment
	// gaps, mostly).
	KeyInitialized KeyFlag = 1 << 2
	// KeyNoRecord marks a key inserted with no record at all.
	KeyNoRecord KeyFlag = 1 << 3

	// KeyRecordTiny, KeyRecordSmall and KeyRecordEmpty are the
	// record-size-class flags spec §4.4 uses to avoid a blob-manager round
	// trip for the common cases of very small or empty records: the
	// record is stashed inline in the slot's value area instead of
	// becoming a blob.ID.
	KeyRecordEmpty KeyFlag = 1 << 4
	KeyRecordTiny  KeyFlag = 1 << 5
	KeyRecordSmall KeyFlag = 1 << 6

	// KeyCompressed marks a node whose keys are bitmap/run-length encoded
	// rather than stored verbatim (compressed record-number layout).
	KeyCompressed KeyFlag = 1 << 7
)

// recordTinyMax and recordSmallMax bound the record-size classes above:
// records at or under recordTinyMax bytes are stored inline as KeyRecordTiny,
// up to recordSmallMax bytes inline as KeyRecordSmall, and anything larger
// is always an 8-byte blob.ID with neither flag set.
const (
	recordTinyMax  = 8
	recordSmallMax = 32
)

// duplicateThreshold is the inline duplicate run length spec §4.4 allows
// before promoting to an out-of-line duplicate table.
const duplicateThreshold = 8

// extendedKeyThreshold is the inline key length spec §4.4 allows before a
// key's bytes are pushed into a blob; the slot then holds the key's first
// 8 bytes followed by the 8-byte blob.ID and carries KeyExtended.
const extendedKeyThreshold = 64
