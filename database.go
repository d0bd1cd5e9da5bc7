package pagedb

import (
	"github.com/pagedb/pagedb/internal/btree"
	"github.com/pagedb/pagedb/internal/changeset"
	"github.com/pagedb/pagedb/internal/cursor"
	"github.com/pagedb/pagedb/internal/txn"
)

const (
	flagOverwrite uint32 = 1 << 0
	// bits 1-3 carry the duplicate position selector (DupPosition fits in
	// 3 bits) so it survives the journal/txn-operation wire format
	// alongside overwrite, per spec §4.4's duplicate-insert flags.
	flagDupPositionShift = 1
	flagDupPositionMask  = uint32(0x7) << flagDupPositionShift
)

func dupPositionFlags(pos btree.DupPosition) uint32 {
	return (uint32(pos) << flagDupPositionShift) & flagDupPositionMask
}

func dupPositionFromFlags(flags uint32) btree.DupPosition {
	return btree.DupPosition((flags & flagDupPositionMask) >> flagDupPositionShift)
}

// DupPosition selects where a duplicate value lands within an existing
// key's run, per spec §4.4's UPS_DUPLICATE_INSERT_FIRST/LAST/BEFORE/AFTER.
type DupPosition = btree.DupPosition

const (
	DupNone   = btree.DupNone
	DupFirst  = btree.DupFirst
	DupLast   = btree.DupLast
	DupBefore = btree.DupBefore
	DupAfter  = btree.DupAfter
)

// FindMode selects exact vs. approximate matching for Database.Find, per
// spec §3/§4.4's lt/gt/eq+lt/eq+gt transient match flags.
type FindMode = btree.FindFlags

const (
	FindExact = btree.FindExact
	FindLT    = btree.FindLT
	FindGT    = btree.FindGT
	FindLTE   = btree.FindLTE
	FindGTE   = btree.FindGTE
)

// Database is one named B+-tree index within an Environment, combining
// the tree itself with that database's slice of the environment's shared
// transaction table.
type Database struct {
	env   *Environment
	id    uint32
	name  string
	cfg   DatabaseConfig
	index *btree.BtreeIndex
}

// ID returns the database's stable numeric identifier (stored in the
// environment descriptor table, used to address it from journal entries
// and transaction operations).
func (db *Database) ID() uint32 { return db.id }

// Name returns the database's name.
func (db *Database) Name() string { return db.name }

func (db *Database) validateKey(key []byte) error {
	if db.cfg.KeySize > 0 && len(key) != db.cfg.KeySize {
		return newError(CodeInvalidKeySize, "key size does not match the database's fixed key size", nil)
	}
	return nil
}

func (db *Database) validateRecord(record []byte) error {
	if db.cfg.RecordSize > 0 && len(record) != db.cfg.RecordSize {
		return newError(CodeInvalidRecordSize, "record size does not match the database's fixed record size", nil)
	}
	return nil
}

// Insert stores record under key. tx may be nil, in which case the write
// runs as an implicit transaction that commits before Insert returns
// (spec §5's autocommit mode). overwrite replaces an existing record for
// key; dup (only meaningful when the database allows duplicates) selects
// where among key's existing duplicates the new record lands, per spec
// §4.4's UPS_DUPLICATE_INSERT_FIRST/LAST/BEFORE/AFTER (dupIndex is the
// existing duplicate's 0-based index that DupBefore/DupAfter are relative
// to; ignored otherwise).
//
// If the database is a record-number database (DBFlagRecordNumber32/64),
// key is ignored and a fresh auto-increment key is assigned instead, per
// spec §4.4; Insert returns the actual key used so the caller can recover
// the assigned value, matching the original engine's "store
// current_record_number+1 in the caller's key buffer" behavior without
// needing an in/out parameter.
func (db *Database) Insert(tx *Transaction, key, record []byte, overwrite bool, dup DupPosition, dupIndex uint32) ([]byte, error) {
	if dup != DupNone && db.cfg.Flags&DBFlagEnableDuplicateKeys == 0 {
		return nil, newError(CodeDuplicateKey, "database does not allow duplicate keys", nil)
	}
	env := db.env
	var actualKey []byte
	err := env.withLock(func() error {
		if width := db.cfg.Flags.recNoWidth(); width != 0 {
			assigned, err := db.index.AssignRecordNumber()
			if err != nil {
				return err
			}
			key = assigned
		}
		actualKey = key
		if err := db.validateKey(key); err != nil {
			return err
		}
		if err := db.validateRecord(record); err != nil {
			return err
		}
		txID, temp, err := env.resolveTxnLocked(tx)
		if err != nil {
			return err
		}
		flags := dupPositionFlags(dup)
		if overwrite {
			flags |= flagOverwrite
		}
		var lsn uint64
		if env.jrnl != nil {
			lsn, err = env.jrnl.AppendInsert(txID, db.id, key, record, dupIndex, flags, 0, 0)
			if err != nil {
				return err
			}
		}
		if _, err := env.txns.Insert(txID, db.id, key, record, dupIndex, flags, lsn, overwrite, dup != DupNone); err != nil {
			if temp {
				env.abortLocked(txID)
			}
			return err
		}
		if temp {
			return env.commitLocked(txID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return actualKey, nil
}

// Find returns the key and record matching key under mode. FindExact
// requires an exact match; FindLT/FindGT/FindLTE/FindGTE resolve the
// nearest approximate match instead, per spec §3/§4.4's lt/gt/eq+lt/eq+gt
// transient match flags. tx's in-flight operations are only consulted for
// an exact match on key (approximate resolution falls straight to the
// committed index — see DESIGN.md for the stated simplification).
func (db *Database) Find(tx *Transaction, key []byte, mode FindMode) ([]byte, []byte, error) {
	env := db.env
	var outKey, record []byte
	err := env.withLock(func() error {
		txID := uint64(0)
		if tx != nil {
			txID = tx.id
		}
		op, found, erased, err := env.txns.Find(txID, db.id, key)
		if err != nil {
			return err
		}
		if mode == FindExact {
			if err := db.validateKey(key); err != nil {
				return err
			}
			if erased {
				return btree.ErrNotFound
			}
			if found {
				outKey, record = key, op.Record
				return nil
			}
			rec, _, err := db.index.Find(key)
			if err != nil {
				return err
			}
			outKey, record = key, rec
			return nil
		}
		it, err := db.index.FindApprox(key, mode)
		if err != nil {
			return err
		}
		outKey, record = it.Key, it.Record
		return nil
	})
	return outKey, record, err
}

// Erase removes key. tx may be nil for an autocommit erase.
func (db *Database) Erase(tx *Transaction, key []byte) error {
	if err := db.validateKey(key); err != nil {
		return err
	}
	env := db.env
	return env.withLock(func() error {
		txID, temp, err := env.resolveTxnLocked(tx)
		if err != nil {
			return err
		}
		var lsn uint64
		if env.jrnl != nil {
			lsn, err = env.jrnl.AppendErase(txID, db.id, key, 0, 0)
			if err != nil {
				return err
			}
		}
		if _, err := env.txns.Erase(txID, db.id, key, 0, 0, lsn); err != nil {
			if temp {
				env.abortLocked(txID)
			}
			return err
		}
		if temp {
			return env.commitLocked(txID)
		}
		return nil
	})
}

// Duplicates returns every record stored for key.
func (db *Database) Duplicates(key []byte) ([][]byte, error) {
	var out [][]byte
	err := db.env.withLock(func() error {
		vals, err := db.index.Duplicates(key)
		if err != nil {
			return err
		}
		out = vals
		return nil
	})
	return out, err
}

// Check runs the B+-tree's internal integrity check (spec §8).
func (db *Database) Check() error {
	return db.env.withLock(func() error {
		return db.index.Check()
	})
}

// CurrentRecordNumber returns the last auto-increment key assigned by
// Insert for a record-number database (0 if none has been assigned yet).
func (db *Database) CurrentRecordNumber() uint64 {
	return db.index.CurrentRecordNumber()
}

// Cursor opens a new cursor over db, scoped to tx's view (nil for
// autocommit).
func (db *Database) Cursor(tx *Transaction) *Cursor {
	txID := uint64(0)
	if tx != nil {
		txID = tx.id
	}
	return &Cursor{env: db.env, c: cursor.New(cursorIndex{db.index}, db.env.txns, db.id, txID)}
}

// applyOp pushes one committed transaction operation through the index,
// recording every touched page into cs. Caller holds env.mu.
func (db *Database) applyOp(cs *changeset.Changeset, o *txn.Operation) error {
	switch o.Kind {
	case txn.KindInsert:
		return db.index.Insert(cs, o.Key, o.Record, dupPositionFromFlags(o.Flags), o.DupIndex, o.Flags&flagOverwrite != 0)
	case txn.KindErase:
		return db.index.Erase(cs, o.Key)
	}
	return nil
}

// cursorIndex adapts *btree.BtreeIndex to the cursor.Index interface
// (a thin rename; BtreeIndex's navigation methods already match it).
type cursorIndex struct{ idx *btree.BtreeIndex }

func (c cursorIndex) First() (btree.Item, error)             { return c.idx.First() }
func (c cursorIndex) Last() (btree.Item, error)               { return c.idx.Last() }
func (c cursorIndex) Next(key []byte) (btree.Item, error)     { return c.idx.Next(key) }
func (c cursorIndex) Previous(key []byte) (btree.Item, error) { return c.idx.Previous(key) }
func (c cursorIndex) Duplicates(key []byte) ([][]byte, error) { return c.idx.Duplicates(key) }
