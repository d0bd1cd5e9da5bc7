package pagedb

import "github.com/pagedb/pagedb/internal/cursor"

// Transaction is a handle to one open transaction, returned by
// Environment.TxnBegin. The zero value is not usable; a nil *Transaction
// is a valid argument to Database's methods and selects autocommit mode.
type Transaction struct {
	env *Environment
	id  uint64
}

// Commit applies every operation recorded against tx and makes it
// visible to subsequent readers.
func (tx *Transaction) Commit() error {
	return tx.env.withLock(func() error {
		return tx.env.commitLocked(tx.id)
	})
}

// Abort discards every operation recorded against tx.
func (tx *Transaction) Abort() error {
	return tx.env.withLock(func() error {
		return tx.env.abortLocked(tx.id)
	})
}

// resolveTxnLocked returns the id to record operations against: tx's id,
// or a fresh temporary transaction's id when tx is nil (spec §5's
// autocommit mode). Caller holds env.mu.
func (env *Environment) resolveTxnLocked(tx *Transaction) (id uint64, temporary bool, err error) {
	if tx != nil {
		return tx.id, false, nil
	}
	t, err := env.beginLocked(0, "", true)
	if err != nil {
		return 0, false, err
	}
	return t.id, true, nil
}

// Cursor wraps internal/cursor for the public API, translating its
// not-found/nil-cursor errors into the boundary taxonomy.
type Cursor struct {
	env *Environment
	c   *cursor.Cursor
}

func (c *Cursor) First() error {
	return c.env.withLock(func() error { return c.c.First() })
}

func (c *Cursor) Last() error {
	return c.env.withLock(func() error { return c.c.Last() })
}

func (c *Cursor) Next() error {
	return c.env.withLock(func() error {
		if !c.c.Valid() {
			return ErrCursorIsNil
		}
		return c.c.Next()
	})
}

func (c *Cursor) Previous() error {
	return c.env.withLock(func() error {
		if !c.c.Valid() {
			return ErrCursorIsNil
		}
		return c.c.Previous()
	})
}

// Key and Record return the cursor's current position. Valid reports
// whether the cursor currently has one at all.
func (c *Cursor) Key() []byte    { return c.c.Key() }
func (c *Cursor) Record() []byte { return c.c.Record() }
func (c *Cursor) Valid() bool    { return c.c.Valid() }
