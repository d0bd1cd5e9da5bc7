package btree

import (
	"fmt"

	"github.com/pagedb/pagedb/internal/changeset"
	"github.com/pagedb/pagedb/internal/page"
)

// splitAndPersist handles an overflowing node (already decoded and
// modified, but not yet fitting its page) by splitting it and propagating
// the new fence key up the path, recursing into ancestors that overflow in
// turn and growing the tree by one level when the root itself splits.
func (idx *BtreeIndex) splitAndPersist(cs *changeset.Changeset, path []pathEntry, n *node) error {
	i := len(path) - 1
	for {
		mid := n.splitPoint()
		rightEntries := append([]entry(nil), n.entries[mid:]...)
		n.entries = n.entries[:mid]

		var fenceKey []byte
		var rightPtrDown page.ID
		if n.isLeaf() {
			fenceKey = append([]byte(nil), rightEntries[0].key...)
		} else {
			fenceKey = append([]byte(nil), rightEntries[0].key...)
			rightPtrDown = childID(rightEntries[0])
			rightEntries = rightEntries[1:]
		}

		rightPg, err := idx.cache.NewPage(page.TypeBtreeLeaf)
		if err != nil {
			return err
		}
		rightNode := initNode(rightPg, n.level)
		rightNode.entries = rightEntries
		rightNode.ptrDown = rightPtrDown
		rightNode.right = n.right
		rightNode.left = n.pg.ID
		n.right = rightPg.ID

		if rightNode.right != page.NilID {
			old, err := idx.fetch(rightNode.right)
			if err != nil {
				return err
			}
			old.left = rightPg.ID
			old.encode(idx.capacity())
			cs.AddPage(old.pg.ID, changeset.BucketIndex)
			idx.release(old, true)
		}

		n.encode(idx.capacity())
		cs.AddPage(n.pg.ID, changeset.BucketIndex)
		idx.release(n, true)

		rightNode.encode(idx.capacity())
		cs.AddPage(rightPg.ID, changeset.BucketIndex)
		idx.cache.Release(rightPg.ID, true)

		if i == 0 {
			rootPg, err := idx.cache.NewPage(page.TypeBtreeInternal)
			if err != nil {
				return err
			}
			root := initNode(rootPg, n.level+1)
			root.ptrDown = n.pg.ID
			root.entries = []entry{{key: fenceKey, value: encodeChildID(rightPg.ID)}}
			root.encode(idx.capacity())
			cs.AddPage(rootPg.ID, changeset.BucketIndex)
			idx.cache.Release(rootPg.ID, true)
			idx.rootID = rootPg.ID
			return nil
		}

		parent, err := idx.fetch(path[i-1].id)
		if err != nil {
			return err
		}
		insertPos := path[i].idx + 1
		parent.insertAt(insertPos, entry{key: fenceKey, value: encodeChildID(rightPg.ID)})
		if parent.fits(idx.capacity(), 0, 0) {
			parent.encode(idx.capacity())
			cs.AddPage(parent.pg.ID, changeset.BucketIndex)
			idx.release(parent, true)
			return nil
		}
		n = parent
		i--
	}
}

// minFillRatio divides a page's capacity: a leaf whose encoded size is below
// capacity/minFillRatio is considered underfull and a merge with its right
// sibling is attempted.
const minFillRatio = 4

// maybeMerge implements spec §4.4's merge path: an underfull leaf is
// folded into its right sibling when the combination still fits one page,
// its fence key is removed from the parent, and a root that degenerates to
// a single child (no entries, only ptrDown) is collapsed by one level.
// Internal nodes are never merged or rebalanced; only the root collapse
// applies to them.
func (idx *BtreeIndex) maybeMerge(cs *changeset.Changeset, path []pathEntry) error {
	leafID := path[len(path)-1].id
	leaf, err := idx.fetch(leafID)
	if err != nil {
		return err
	}
	if len(path) == 1 || leaf.byteSize() >= idx.capacity()/minFillRatio || leaf.right == page.NilID {
		idx.release(leaf, false)
		return idx.collapseRootIfNeeded()
	}

	right, err := idx.fetch(leaf.right)
	if err != nil {
		idx.release(leaf, false)
		return err
	}
	if leaf.byteSize()+right.byteSize()-nodeHeaderLen > idx.capacity() {
		idx.release(leaf, false)
		idx.release(right, false)
		return idx.collapseRootIfNeeded()
	}

	leaf.entries = append(leaf.entries, right.entries...)
	leaf.right = right.right
	if right.right != page.NilID {
		rr, err := idx.fetch(right.right)
		if err != nil {
			return err
		}
		rr.left = leaf.pg.ID
		rr.encode(idx.capacity())
		cs.AddPage(rr.pg.ID, changeset.BucketIndex)
		idx.release(rr, true)
	}
	leaf.encode(idx.capacity())
	cs.AddPage(leaf.pg.ID, changeset.BucketIndex)
	idx.release(leaf, true)
	idx.release(right, false) // right's page is now logically unreferenced, left resident

	if parentIdx := len(path) - 2; parentIdx >= 0 {
		parent, err := idx.fetch(path[parentIdx].id)
		if err != nil {
			return err
		}
		removeAt := path[len(path)-1].idx + 1
		if removeAt >= 0 && removeAt < len(parent.entries) {
			parent.deleteAt(removeAt)
		}
		parent.encode(idx.capacity())
		cs.AddPage(parent.pg.ID, changeset.BucketIndex)
		idx.release(parent, true)
	}
	return idx.collapseRootIfNeeded()
}

func (idx *BtreeIndex) collapseRootIfNeeded() error {
	root, err := idx.fetch(idx.rootID)
	if err != nil {
		return err
	}
	if !root.isLeaf() && len(root.entries) == 0 {
		idx.release(root, false)
		idx.rootID = root.ptrDown
		return nil
	}
	idx.release(root, false)
	return nil
}

// Check walks the whole tree verifying the invariants spec §4.4 names:
// every node's entries are sorted under the index's comparator, leaf level
// is uniform across the bottom of the tree, and the leaf chain's sibling
// links and key order are globally consistent (not just within one
// parent's children).
func (idx *BtreeIndex) Check() error {
	leafDepth := -1
	if err := idx.checkSorted(idx.rootID, 0, &leafDepth); err != nil {
		return err
	}
	return idx.checkLeafChain()
}

// checkSorted verifies per-node key order and uniform leaf depth; it does
// not check sibling links, since those span across sibling subtrees that
// this recursion never visits together.
func (idx *BtreeIndex) checkSorted(id page.ID, depth int, leafDepth *int) error {
	n, err := idx.fetch(id)
	if err != nil {
		return err
	}
	defer idx.release(n, false)

	for i := 1; i < len(n.entries); i++ {
		if idx.cmp(n.entries[i-1].key, n.entries[i].key) >= 0 {
			return fmt.Errorf("%w: page %d entries out of order at %d", ErrTreeCorrupt, id, i)
		}
	}
	if n.isLeaf() {
		if *leafDepth == -1 {
			*leafDepth = depth
		} else if *leafDepth != depth {
			return fmt.Errorf("%w: leaf page %d at depth %d, want %d", ErrTreeCorrupt, id, depth, *leafDepth)
		}
		return nil
	}
	if n.ptrDown == page.NilID {
		return fmt.Errorf("%w: internal page %d missing ptrDown", ErrTreeCorrupt, id)
	}
	if err := idx.checkSorted(n.ptrDown, depth+1, leafDepth); err != nil {
		return err
	}
	for _, e := range n.entries {
		if err := idx.checkSorted(childID(e), depth+1, leafDepth); err != nil {
			return err
		}
	}
	return nil
}

// checkLeafChain descends to the leftmost leaf and walks the .right chain
// to the end, verifying mutual left/right linkage and strictly increasing
// keys across leaf boundaries.
func (idx *BtreeIndex) checkLeafChain() error {
	id := idx.rootID
	for {
		n, err := idx.fetch(id)
		if err != nil {
			return err
		}
		leaf := n.isLeaf()
		next := n.ptrDown
		idx.release(n, false)
		if leaf {
			break
		}
		id = next
	}

	var prevID page.ID = page.NilID
	var prevLastKey []byte
	for id != page.NilID {
		n, err := idx.fetch(id)
		if err != nil {
			return err
		}
		if n.left != prevID {
			idx.release(n, false)
			return fmt.Errorf("%w: leaf %d left = %d, want %d", ErrTreeCorrupt, id, n.left, prevID)
		}
		if len(n.entries) > 0 && prevLastKey != nil {
			if idx.cmp(prevLastKey, n.entries[0].key) >= 0 {
				idx.release(n, false)
				return fmt.Errorf("%w: leaf %d key out of order with predecessor", ErrTreeCorrupt, id)
			}
		}
		if len(n.entries) > 0 {
			prevLastKey = append([]byte(nil), n.entries[len(n.entries)-1].key...)
		}
		prevID = id
		next := n.right
		idx.release(n, false)
		id = next
	}
	return nil
}
