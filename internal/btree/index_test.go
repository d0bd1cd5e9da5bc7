package btree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pagedb/pagedb/internal/blob"
	"github.com/pagedb/pagedb/internal/changeset"
	"github.com/pagedb/pagedb/internal/device"
	"github.com/pagedb/pagedb/internal/pagecache"
	"github.com/pagedb/pagedb/internal/page"
)

func newTestIndex(t *testing.T) (*BtreeIndex, *pagecache.Cache) {
	t.Helper()
	d := &device.MemDevice{}
	// Size the device to one page so page 0 stays reserved, as it is for a
	// real environment; page 0 doubles as page.NilID.
	if err := d.Create("", device.FlagInMemory, 0, page.DefaultSize, page.DefaultSize); err != nil {
		t.Fatalf("Create() err = %v", err)
	}
	cache := pagecache.New(d, page.DefaultSize, 256, nil)
	blobs := blob.New(cache, page.DefaultSize)
	cs := changeset.New(cache)
	idx, err := Open(cs, cache, blobs, page.DefaultSize, KeyTypeBinaryUnbounded, Comparator(KeyTypeBinaryUnbounded), page.NilID, 0, 0)
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	return idx, cache
}

func TestBtreeIndex_InsertFindRoundTrip(t *testing.T) {
	idx, cache := newTestIndex(t)
	cs := changeset.New(cache)

	want := map[string]string{}
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("key-%04d", i)
		v := fmt.Sprintf("value-%d", i)
		want[k] = v
		if err := idx.Insert(cs, []byte(k), []byte(v), DupNone, 0, false); err != nil {
			t.Fatalf("Insert(%q) err = %v", k, err)
		}
	}
	for k, v := range want {
		got, _, err := idx.Find([]byte(k))
		if err != nil {
			t.Fatalf("Find(%q) err = %v", k, err)
		}
		if string(got) != v {
			t.Errorf("Find(%q) = %q, want %q", k, got, v)
		}
	}
	if err := idx.Check(); err != nil {
		t.Errorf("Check() err = %v", err)
	}
}

func TestBtreeIndex_InsertCausesMultiLevelSplit(t *testing.T) {
	idx, cache := newTestIndex(t)
	cs := changeset.New(cache)

	n := 5000
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k-%06d", i)
		if err := idx.Insert(cs, []byte(k), bytes.Repeat([]byte{'z'}, 40), DupNone, 0, false); err != nil {
			t.Fatalf("Insert(%d) err = %v", i, err)
		}
	}
	if err := idx.Check(); err != nil {
		t.Fatalf("Check() err = %v", err)
	}
	for _, i := range []int{0, 1, n / 2, n - 1} {
		k := fmt.Sprintf("k-%06d", i)
		if _, _, err := idx.Find([]byte(k)); err != nil {
			t.Errorf("Find(%q) err = %v", k, err)
		}
	}
}

func TestBtreeIndex_EraseRemovesKey(t *testing.T) {
	idx, cache := newTestIndex(t)
	cs := changeset.New(cache)

	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("e-%03d", i)
		if err := idx.Insert(cs, []byte(k), []byte("v"), DupNone, 0, false); err != nil {
			t.Fatalf("Insert() err = %v", err)
		}
	}
	if err := idx.Erase(cs, []byte("e-025")); err != nil {
		t.Fatalf("Erase() err = %v", err)
	}
	if _, _, err := idx.Find([]byte("e-025")); err != ErrNotFound {
		t.Errorf("Find() after Erase() err = %v, want ErrNotFound", err)
	}
	if _, _, err := idx.Find([]byte("e-024")); err != nil {
		t.Errorf("Find(e-024) err = %v, want nil", err)
	}
	if err := idx.Check(); err != nil {
		t.Errorf("Check() err = %v", err)
	}
}

func TestBtreeIndex_DuplicatesInlineAndPromoted(t *testing.T) {
	idx, cache := newTestIndex(t)
	cs := changeset.New(cache)

	if err := idx.Insert(cs, []byte("dup"), []byte("v0"), DupNone, 0, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	for i := 1; i < 20; i++ {
		v := fmt.Sprintf("v%d", i)
		if err := idx.Insert(cs, []byte("dup"), []byte(v), DupLast, 0, false); err != nil {
			t.Fatalf("Insert(dup %d) err = %v", i, err)
		}
	}
	vals, err := idx.Duplicates([]byte("dup"))
	if err != nil {
		t.Fatalf("Duplicates() err = %v", err)
	}
	want := make([][]byte, 20)
	want[0] = []byte("v0")
	for i := 1; i < 20; i++ {
		want[i] = []byte(fmt.Sprintf("v%d", i))
	}
	if diff := cmp.Diff(want, vals); diff != "" {
		t.Errorf("Duplicates() mismatch (-want +got):\n%s", diff)
	}
}

func TestBtreeIndex_ExtendedKeyOverflow(t *testing.T) {
	idx, cache := newTestIndex(t)
	cs := changeset.New(cache)

	longKey := bytes.Repeat([]byte("k"), 200)
	if err := idx.Insert(cs, longKey, []byte("value"), DupNone, 0, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	got, _, err := idx.Find(longKey)
	if err != nil {
		t.Fatalf("Find() err = %v", err)
	}
	if string(got) != "value" {
		t.Errorf("Find() = %q, want %q", got, "value")
	}
}

func TestBtreeIndex_OverwriteExisting(t *testing.T) {
	idx, cache := newTestIndex(t)
	cs := changeset.New(cache)

	if err := idx.Insert(cs, []byte("k"), []byte("v1"), DupNone, 0, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	if err := idx.Insert(cs, []byte("k"), []byte("v1"), DupNone, 0, false); err != ErrKeyExists {
		t.Fatalf("Insert() duplicate without overwrite err = %v, want ErrKeyExists", err)
	}
	if err := idx.Insert(cs, []byte("k"), []byte("v2"), DupNone, 0, true); err != nil {
		t.Fatalf("Insert() overwrite err = %v", err)
	}
	got, _, err := idx.Find([]byte("k"))
	if err != nil {
		t.Fatalf("Find() err = %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("Find() = %q, want %q", got, "v2")
	}
}
