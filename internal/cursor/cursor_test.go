package cursor

import (
	"testing"

	"github.com/pagedb/pagedb/internal/btree"
	"github.com/pagedb/pagedb/internal/txn"
)

// fakeIndex is a minimal in-memory stand-in for btree.BtreeIndex's
// navigation surface, keyed by insertion order (already sorted).
type fakeIndex struct {
	items [][2]string // key, record
}

func (f *fakeIndex) find(i int) btree.Item {
	return btree.Item{Key: []byte(f.items[i][0]), Record: []byte(f.items[i][1])}
}

func (f *fakeIndex) First() (btree.Item, error) {
	if len(f.items) == 0 {
		return btree.Item{}, btree.ErrNotFound
	}
	return f.find(0), nil
}

func (f *fakeIndex) Last() (btree.Item, error) {
	if len(f.items) == 0 {
		return btree.Item{}, btree.ErrNotFound
	}
	return f.find(len(f.items) - 1), nil
}

func (f *fakeIndex) Next(key []byte) (btree.Item, error) {
	for i, it := range f.items {
		if it[0] == string(key) {
			if i+1 < len(f.items) {
				return f.find(i + 1), nil
			}
			return btree.Item{}, btree.ErrNotFound
		}
	}
	return btree.Item{}, btree.ErrNotFound
}

func (f *fakeIndex) Previous(key []byte) (btree.Item, error) {
	for i, it := range f.items {
		if it[0] == string(key) {
			if i > 0 {
				return f.find(i - 1), nil
			}
			return btree.Item{}, btree.ErrNotFound
		}
	}
	return btree.Item{}, btree.ErrNotFound
}

func (f *fakeIndex) Duplicates(key []byte) ([][]byte, error) {
	for _, it := range f.items {
		if it[0] == string(key) {
			return [][]byte{[]byte(it[1])}, nil
		}
	}
	return nil, nil
}

func TestCursor_FirstNextLast(t *testing.T) {
	idx := &fakeIndex{items: [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}}
	c := New(idx, nil, 1, 0)

	if err := c.First(); err != nil {
		t.Fatalf("First() err = %v", err)
	}
	if string(c.Key()) != "a" {
		t.Errorf("Key() = %q, want a", c.Key())
	}
	if err := c.Next(); err != nil {
		t.Fatalf("Next() err = %v", err)
	}
	if string(c.Key()) != "b" {
		t.Errorf("Key() = %q, want b", c.Key())
	}
	if err := c.Last(); err != nil {
		t.Fatalf("Last() err = %v", err)
	}
	if string(c.Key()) != "c" {
		t.Errorf("Key() = %q, want c", c.Key())
	}
}

func TestCursor_SkipsTxnErasedKey(t *testing.T) {
	idx := &fakeIndex{items: [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}}
	mgr := txn.New()
	t1 := mgr.Begin(0, "", false)
	if _, err := mgr.Erase(t1.ID, 1, []byte("b"), 0, 0, 1); err != nil {
		t.Fatalf("Erase() err = %v", err)
	}

	c := New(idx, mgr, 1, t1.ID)
	if err := c.First(); err != nil {
		t.Fatalf("First() err = %v", err)
	}
	if err := c.Next(); err != nil {
		t.Fatalf("Next() err = %v", err)
	}
	if string(c.Key()) != "c" {
		t.Errorf("Next() skipped erased key wrong: Key() = %q, want c", c.Key())
	}
}

func TestCursor_ReflectsTxnOverride(t *testing.T) {
	idx := &fakeIndex{items: [][2]string{{"a", "1"}}}
	mgr := txn.New()
	t1 := mgr.Begin(0, "", false)
	if _, err := mgr.Insert(t1.ID, 1, []byte("a"), []byte("overridden"), 0, 0, 1, true, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}

	c := New(idx, mgr, 1, t1.ID)
	if err := c.First(); err != nil {
		t.Fatalf("First() err = %v", err)
	}
	if string(c.Record()) != "overridden" {
		t.Errorf("Record() = %q, want overridden", c.Record())
	}
}

func TestCursor_NilBeforeFirst(t *testing.T) {
	idx := &fakeIndex{}
	c := New(idx, nil, 1, 0)
	if err := c.Next(); err != ErrNilCursor {
		t.Errorf("Next() on unpositioned cursor err = %v, want ErrNilCursor", err)
	}
}
