// Package txn implements spec §4.5: TxnOperation/TxnNode/TxnIndex, the
// conflict rules for concurrent inserts/erases against the same key, and
// the commit/abort lifecycle, grounded in the teacher's arena-of-structs
// style (bltree.go addresses pages by numeric id rather than pointer; this
// package addresses operations and nodes the same way, per SPEC_FULL §9's
// "pointer graphs as arenas keyed by a 32-bit index" resolution) since a
// TxnOperation legitimately outlives any one Go call stack (it sits in the
// index until its owning transaction commits or aborts).
package txn

import (
	"errors"
)

var (
	ErrConflict     = errors.New("txn: conflicting operation from another active transaction")
	ErrDuplicateKey = errors.New("txn: key already exists")
	ErrNotActive    = errors.New("txn: transaction is not active")
)

// Kind distinguishes the two logical operations a transaction can record
// against a key.
type Kind uint8

const (
	KindInsert Kind = iota
	KindErase
)

// OpID and NodeID are 1-based arena indices; 0 is the nil sentinel.
type OpID uint32
type NodeID uint32

// Operation is one TxnOperation: spec §4.5's append-only chain element.
type Operation struct {
	ID       OpID
	Kind     Kind
	TxnID    uint64
	DBID     uint32
	Key      []byte
	Record   []byte
	DupIndex uint32
	Flags    uint32
	LSN      uint64
	Flushed  bool
	Aborted  bool
	Prev     OpID // previous (older) operation against the same key
}

// node is a TxnNode: the newest operation recorded against one (dbID, key).
type node struct {
	dbID uint32
	key  []byte
	head OpID
}

// State is a Transaction's lifecycle state.
type State uint8

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

// Transaction is spec §4.5's Transaction: an ordered (oldest-first) list
// of operation ids plus lifecycle state.
type Transaction struct {
	ID        uint64
	Flags     uint32
	Name      string
	Temporary bool
	State     State
	Ops       []OpID
}

// Manager owns the arenas of Operations and TxnNodes and the live
// Transaction table, implementing spec §4.5's TxnIndex and commit/abort.
type Manager struct {
	ops       []Operation // ops[0] is a sentinel; real ids start at 1
	nodes     []node
	nodeByKey map[string]NodeID
	txns      map[uint64]*Transaction
	nextTxnID uint64
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		ops:       make([]Operation, 1),
		nodeByKey: make(map[string]NodeID),
		txns:      make(map[uint64]*Transaction),
	}
}

func nodeKey(dbID uint32, key []byte) string {
	b := make([]byte, 4+len(key))
	b[0] = byte(dbID)
	b[1] = byte(dbID >> 8)
	b[2] = byte(dbID >> 16)
	b[3] = byte(dbID >> 24)
	copy(b[4:], key)
	return string(b)
}

// Begin opens a new transaction and returns it; the caller journals
// txn_begin itself (Manager has no journal dependency).
func (m *Manager) Begin(flags uint32, name string, temporary bool) *Transaction {
	m.nextTxnID++
	t := &Transaction{ID: m.nextTxnID, Flags: flags, Name: name, Temporary: temporary, State: StateActive}
	m.txns[t.ID] = t
	return t
}

// Lookup returns the live Transaction for id, if any.
func (m *Manager) Lookup(id uint64) (*Transaction, bool) {
	t, ok := m.txns[id]
	return t, ok
}

func (m *Manager) op(id OpID) *Operation { return &m.ops[id] }

// liveHead walks past aborted operations to the newest live one in n's
// chain, returning 0 if none remain.
func (m *Manager) liveHead(head OpID) OpID {
	cur := head
	for cur != 0 && m.op(cur).Aborted {
		cur = m.op(cur).Prev
	}
	return cur
}

func (m *Manager) checkConflict(head OpID, txnID uint64) (*Operation, error) {
	cur := m.liveHead(head)
	if cur == 0 {
		return nil, nil
	}
	live := m.op(cur)
	if live.TxnID != txnID {
		if owner, ok := m.txns[live.TxnID]; ok && owner.State == StateActive {
			return nil, ErrConflict
		}
	}
	return live, nil
}

// Insert appends an insert operation for key under txnID, detecting
// conflicts per spec §4.5: a live operation from a different still-active
// transaction is a conflict; a live insert from the same/committed
// lineage requires overwrite or duplicate to be set.
func (m *Manager) Insert(txnID uint64, dbID uint32, key, record []byte, dupIndex uint32, flags uint32, lsn uint64, overwrite, duplicate bool) (OpID, error) {
	t, ok := m.txns[txnID]
	if !ok || t.State != StateActive {
		return 0, ErrNotActive
	}
	nk := nodeKey(dbID, key)
	nid, ok := m.nodeByKey[nk]
	if !ok {
		m.nodes = append(m.nodes, node{dbID: dbID, key: append([]byte(nil), key...)})
		nid = NodeID(len(m.nodes) - 1)
		m.nodeByKey[nk] = nid
	}
	n := &m.nodes[nid]

	live, err := m.checkConflict(n.head, txnID)
	if err != nil {
		return 0, err
	}
	if live != nil && live.Kind == KindInsert && !overwrite && !duplicate {
		return 0, ErrDuplicateKey
	}

	m.ops = append(m.ops, Operation{
		Kind: KindInsert, TxnID: txnID, DBID: dbID,
		Key: append([]byte(nil), key...), Record: append([]byte(nil), record...),
		DupIndex: dupIndex,
		Flags:    flags, LSN: lsn, Prev: n.head,
	})
	id := OpID(len(m.ops) - 1)
	m.ops[id].ID = id
	n.head = id
	t.Ops = append(t.Ops, id)
	return id, nil
}

// Erase appends an erase operation for key under txnID, with the same
// conflict detection as Insert.
func (m *Manager) Erase(txnID uint64, dbID uint32, key []byte, dupIndex uint32, flags uint32, lsn uint64) (OpID, error) {
	t, ok := m.txns[txnID]
	if !ok || t.State != StateActive {
		return 0, ErrNotActive
	}
	nk := nodeKey(dbID, key)
	nid, ok := m.nodeByKey[nk]
	if !ok {
		m.nodes = append(m.nodes, node{dbID: dbID, key: append([]byte(nil), key...)})
		nid = NodeID(len(m.nodes) - 1)
		m.nodeByKey[nk] = nid
	}
	n := &m.nodes[nid]

	if _, err := m.checkConflict(n.head, txnID); err != nil {
		return 0, err
	}

	m.ops = append(m.ops, Operation{
		Kind: KindErase, TxnID: txnID, DBID: dbID,
		Key: append([]byte(nil), key...), DupIndex: dupIndex,
		Flags: flags, LSN: lsn, Prev: n.head,
	})
	id := OpID(len(m.ops) - 1)
	m.ops[id].ID = id
	n.head = id
	t.Ops = append(t.Ops, id)
	return id, nil
}

// Find implements spec §4.5 step 1: walk the TxnNode chain for key from
// newest to oldest. found=false,erased=false means no txn-side operation
// applies and the caller should fall back to the BtreeIndex. found=false,
// erased=true means the newest applicable operation is an erase.
func (m *Manager) Find(txnID uint64, dbID uint32, key []byte) (op *Operation, found, erased bool, err error) {
	nid, ok := m.nodeByKey[nodeKey(dbID, key)]
	if !ok {
		return nil, false, false, nil
	}
	cur := m.nodes[nid].head
	for cur != 0 {
		o := m.op(cur)
		if o.Aborted {
			cur = o.Prev
			continue
		}
		owner, ok := m.txns[o.TxnID]
		switch {
		case o.TxnID == txnID || (ok && owner.State == StateCommitted):
			if o.Kind == KindErase {
				return nil, false, true, nil
			}
			return o, true, false, nil
		case ok && owner.State == StateActive:
			return nil, false, false, ErrConflict
		default:
			cur = o.Prev
		}
	}
	return nil, false, false, nil
}

// Commit walks txnID's operations oldest-to-newest, invoking apply on each
// (the caller is expected to push the mutation through a Changeset), marks
// each as flushed, and transitions the transaction to committed. If apply
// returns an error mid-walk, Commit stops and returns it without marking
// the transaction committed, leaving already-applied ops flushed (the
// caller is expected to put the Environment into its read-only error
// state at that point, per spec §7).
func (m *Manager) Commit(txnID uint64, apply func(o *Operation) error) error {
	t, ok := m.txns[txnID]
	if !ok || t.State != StateActive {
		return ErrNotActive
	}
	for _, id := range t.Ops {
		o := m.op(id)
		if o.Aborted {
			continue
		}
		if err := apply(o); err != nil {
			return err
		}
		o.Flushed = true
	}
	t.State = StateCommitted
	return nil
}

// Abort marks every operation of txnID as aborted and transitions it to
// the aborted state. No btree mutation occurs.
func (m *Manager) Abort(txnID uint64) error {
	t, ok := m.txns[txnID]
	if !ok || t.State != StateActive {
		return ErrNotActive
	}
	for _, id := range t.Ops {
		m.op(id).Aborted = true
	}
	t.State = StateAborted
	return nil
}
