package btree

import "github.com/pagedb/pagedb/internal/page"

// Item is one leaf entry as returned by the navigation methods below: a
// fully-resolved key and record (blob-backed or inline transparently).
type Item struct {
	Key    []byte
	Record []byte
	Flags  KeyFlag
}

func (idx *BtreeIndex) resolve(e entry) (Item, error) {
	key, err := idx.fullKey(e.key, e.flags)
	if err != nil {
		return Item{}, err
	}
	rec, err := idx.fullRecord(e.value, e.flags)
	if err != nil {
		return Item{}, err
	}
	return Item{Key: key, Record: rec, Flags: e.flags}, nil
}

func (idx *BtreeIndex) leftmostLeaf() (page.ID, error) {
	id := idx.rootID
	for {
		n, err := idx.fetch(id)
		if err != nil {
			return 0, err
		}
		leaf := n.isLeaf()
		next := n.ptrDown
		idx.release(n, false)
		if leaf {
			return id, nil
		}
		id = next
	}
}

// First returns the smallest key in the index.
func (idx *BtreeIndex) First() (Item, error) {
	id, err := idx.leftmostLeaf()
	if err != nil {
		return Item{}, err
	}
	for id != page.NilID {
		n, err := idx.fetch(id)
		if err != nil {
			return Item{}, err
		}
		if len(n.entries) > 0 {
			it, err := idx.resolve(n.entries[0])
			idx.release(n, false)
			return it, err
		}
		next := n.right
		idx.release(n, false)
		id = next
	}
	return Item{}, ErrNotFound
}

// Last returns the largest key in the index.
func (idx *BtreeIndex) Last() (Item, error) {
	id, err := idx.leftmostLeaf()
	if err != nil {
		return Item{}, err
	}
	var lastID page.ID = page.NilID
	for id != page.NilID {
		lastID = id
		n, err := idx.fetch(id)
		if err != nil {
			return Item{}, err
		}
		next := n.right
		idx.release(n, false)
		id = next
	}
	for lastID != page.NilID {
		n, err := idx.fetch(lastID)
		if err != nil {
			return Item{}, err
		}
		if len(n.entries) > 0 {
			it, err := idx.resolve(n.entries[len(n.entries)-1])
			idx.release(n, false)
			return it, err
		}
		prev := n.left
		idx.release(n, false)
		lastID = prev
	}
	return Item{}, ErrNotFound
}

// Next returns the smallest indexed key strictly greater than key.
func (idx *BtreeIndex) Next(key []byte) (Item, error) {
	path, err := idx.descend(key)
	if err != nil {
		return Item{}, err
	}
	id := path[len(path)-1].id
	for id != page.NilID {
		n, err := idx.fetch(id)
		if err != nil {
			return Item{}, err
		}
		i, exact := n.find(key, idx.cmp)
		if exact {
			i++
		}
		if i < len(n.entries) {
			it, err := idx.resolve(n.entries[i])
			idx.release(n, false)
			return it, err
		}
		next := n.right
		idx.release(n, false)
		id = next
	}
	return Item{}, ErrNotFound
}

// Previous returns the largest indexed key strictly less than key.
func (idx *BtreeIndex) Previous(key []byte) (Item, error) {
	path, err := idx.descend(key)
	if err != nil {
		return Item{}, err
	}
	id := path[len(path)-1].id
	for id != page.NilID {
		n, err := idx.fetch(id)
		if err != nil {
			return Item{}, err
		}
		i, _ := n.find(key, idx.cmp)
		if i > 0 {
			it, err := idx.resolve(n.entries[i-1])
			idx.release(n, false)
			return it, err
		}
		prev := n.left
		idx.release(n, false)
		id = prev
	}
	return Item{}, ErrNotFound
}
