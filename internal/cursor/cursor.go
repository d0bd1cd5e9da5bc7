// Package cursor implements the bridging cursor from spec §4.5's last two
// paragraphs: a position that is conceptually a merge of a BtreeIndex
// position and the TxnIndex's view of in-flight operations against the
// current key, synchronized on every move.
//
// Grounded in the teacher's bltree.go cursor-like `Seek`/`SeekNext`
// traversal helpers (descend-then-follow-sibling-links), generalized to
// additionally consult a txn.Manager so a cursor never reports a record an
// open transaction has since erased.
package cursor

import (
	"errors"

	"github.com/pagedb/pagedb/internal/btree"
	"github.com/pagedb/pagedb/internal/txn"
)

var ErrNilCursor = errors.New("cursor: cursor has no current position")

// Index is the subset of BtreeIndex navigation a Cursor needs, kept as an
// interface so tests can fake it without a real page cache.
type Index interface {
	First() (btree.Item, error)
	Last() (btree.Item, error)
	Next(key []byte) (btree.Item, error)
	Previous(key []byte) (btree.Item, error)
	Duplicates(key []byte) ([][]byte, error)
}

// Cursor is one client's iteration position over a Database, merging the
// committed btree view with dbID's txn-side overrides for whichever
// transaction the cursor was opened under (txnID 0 for the
// autocommit/no-transaction case).
type Cursor struct {
	index Index
	txns  *txn.Manager
	txnID uint64
	dbID  uint32

	valid    bool
	key      []byte
	record   []byte
	dupCache [][]byte
	dupIndex int
}

// New creates a cursor over index, consulting txns for dbID's operations
// under txnID (0 for no active transaction).
func New(index Index, txns *txn.Manager, dbID uint32, txnID uint64) *Cursor {
	return &Cursor{index: index, txns: txns, dbID: dbID, txnID: txnID}
}

// synchronize resolves item against the txn-side view of its key,
// skipping it (returning ok=false) if the nearest applicable operation is
// an erase, and refreshes the duplicate cache.
func (c *Cursor) synchronize(item btree.Item) (ok bool, err error) {
	if c.txns != nil {
		op, found, erased, err := c.txns.Find(c.txnID, c.dbID, item.Key)
		if err != nil {
			return false, err
		}
		if erased {
			return false, nil
		}
		if found {
			item.Record = op.Record
		}
	}
	c.valid = true
	c.key = item.Key
	c.record = item.Record
	c.dupIndex = 0
	dups, err := c.index.Duplicates(item.Key)
	if err == nil {
		c.dupCache = dups
	} else {
		c.dupCache = nil
	}
	return true, nil
}

// advance repeatedly calls step(key) — a Next/Previous-shaped traversal —
// until it lands on a key the txn-side view does not consider erased, or
// exhausts the index.
func (c *Cursor) advance(start []byte, step func([]byte) (btree.Item, error)) error {
	key := start
	for {
		item, err := step(key)
		if err != nil {
			c.valid = false
			return err
		}
		ok, err := c.synchronize(item)
		if err != nil {
			c.valid = false
			return err
		}
		if ok {
			return nil
		}
		key = item.Key
	}
}

// First moves the cursor to the smallest key.
func (c *Cursor) First() error {
	item, err := c.index.First()
	if err != nil {
		c.valid = false
		return err
	}
	ok, err := c.synchronize(item)
	if err != nil {
		return err
	}
	if !ok {
		return c.advance(item.Key, c.index.Next)
	}
	return nil
}

// Last moves the cursor to the largest key.
func (c *Cursor) Last() error {
	item, err := c.index.Last()
	if err != nil {
		c.valid = false
		return err
	}
	ok, err := c.synchronize(item)
	if err != nil {
		return err
	}
	if !ok {
		return c.advance(item.Key, c.index.Previous)
	}
	return nil
}

// Next moves the cursor to the next key after its current position.
func (c *Cursor) Next() error {
	if !c.valid {
		return ErrNilCursor
	}
	if c.dupIndex+1 < len(c.dupCache) {
		c.dupIndex++
		c.record = c.dupCache[c.dupIndex]
		return nil
	}
	return c.advance(c.key, c.index.Next)
}

// Previous moves the cursor to the previous key before its current
// position.
func (c *Cursor) Previous() error {
	if !c.valid {
		return ErrNilCursor
	}
	if c.dupIndex > 0 {
		c.dupIndex--
		c.record = c.dupCache[c.dupIndex]
		return nil
	}
	return c.advance(c.key, c.index.Previous)
}

// Key returns the cursor's current key. Valid reports whether the cursor
// currently has a position at all (spec §7's cursor-is-nil error case).
func (c *Cursor) Key() []byte    { return c.key }
func (c *Cursor) Record() []byte { return c.record }
func (c *Cursor) Valid() bool    { return c.valid }

// Invalidate clears the cursor's position, used when the operation it was
// pointing at transitions to aborted (spec §5's shared-resource policy).
func (c *Cursor) Invalidate() {
	c.valid = false
	c.key = nil
	c.record = nil
	c.dupCache = nil
}
