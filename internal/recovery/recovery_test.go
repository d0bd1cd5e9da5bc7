package recovery

import (
	"testing"

	"github.com/pagedb/pagedb/internal/device"
	"github.com/pagedb/pagedb/internal/journal"
	"github.com/pagedb/pagedb/internal/page"
)

type fakeApplier struct {
	inserts []string
	erases  []string
}

func (f *fakeApplier) ApplyInsert(dbID uint32, key, record []byte, dupIndex uint32, flags uint32, off, size uint64) error {
	f.inserts = append(f.inserts, string(key)+"="+string(record))
	return nil
}

func (f *fakeApplier) ApplyErase(dbID uint32, key []byte, dupIndex uint32, flags uint32) error {
	f.erases = append(f.erases, string(key))
	return nil
}

func newDevice(t *testing.T, size int64) device.Device {
	t.Helper()
	d := &device.MemDevice{}
	if err := d.Create("", device.FlagInMemory, 0, size, page.DefaultSize); err != nil {
		t.Fatalf("Create() err = %v", err)
	}
	return d
}

func TestRecover_AppliesDurableChangesetAndReplaysUndurableCommit(t *testing.T) {
	dev := newDevice(t, 4*page.DefaultSize)
	dir := t.TempDir()
	jrnl, err := journal.Open(dir, page.DefaultSize)
	if err != nil {
		t.Fatalf("journal.Open() err = %v", err)
	}

	// txn 1: begin, insert, commit, and a durable changeset covering it.
	if err := jrnl.AppendTxnBegin(1, 0, ""); err != nil {
		t.Fatalf("AppendTxnBegin() err = %v", err)
	}
	if _, err := jrnl.AppendInsert(1, 7, []byte("a"), []byte("1"), 0, 0, 0, 0); err != nil {
		t.Fatalf("AppendInsert() err = %v", err)
	}
	if err := jrnl.AppendTxnCommit(1); err != nil {
		t.Fatalf("AppendTxnCommit() err = %v", err)
	}
	durableLSN := jrnl.NextLSN()
	pageBytes := make([]byte, page.DefaultSize)
	pageBytes[0] = 0xAB
	if err := jrnl.AppendChangeset(durableLSN, []journal.ChangesetPage{{ID: page.ID(page.DefaultSize), Bytes: pageBytes}}); err != nil {
		t.Fatalf("AppendChangeset() err = %v", err)
	}

	// txn 2: begin, insert, commit, but NO changeset recorded for it (as
	// if the crash happened between commit and the changeset flush).
	if err := jrnl.AppendTxnBegin(2, 0, ""); err != nil {
		t.Fatalf("AppendTxnBegin() err = %v", err)
	}
	if _, err := jrnl.AppendInsert(2, 7, []byte("b"), []byte("2"), 0, 0, 0, 0); err != nil {
		t.Fatalf("AppendInsert() err = %v", err)
	}
	if err := jrnl.AppendTxnCommit(2); err != nil {
		t.Fatalf("AppendTxnCommit() err = %v", err)
	}

	// txn 3: begins but never commits or aborts — must be rolled back.
	if err := jrnl.AppendTxnBegin(3, 0, ""); err != nil {
		t.Fatalf("AppendTxnBegin() err = %v", err)
	}
	if _, err := jrnl.AppendInsert(3, 7, []byte("c"), []byte("3"), 0, 0, 0, 0); err != nil {
		t.Fatalf("AppendInsert() err = %v", err)
	}

	if err := jrnl.Flush(false); err != nil {
		t.Fatalf("Flush() err = %v", err)
	}

	applier := &fakeApplier{}
	report, err := Recover(dev, jrnl, page.DefaultSize, applier)
	if err != nil {
		t.Fatalf("Recover() err = %v", err)
	}

	if report.PagesRestored != 1 {
		t.Errorf("PagesRestored = %d, want 1", report.PagesRestored)
	}
	if report.TxnsRolledBack != 1 {
		t.Errorf("TxnsRolledBack = %d, want 1", report.TxnsRolledBack)
	}
	if len(applier.inserts) != 1 || applier.inserts[0] != "b=2" {
		t.Errorf("replayed inserts = %v, want [b=2]", applier.inserts)
	}

	got := make([]byte, page.DefaultSize)
	if err := dev.Read(page.DefaultSize, got); err != nil {
		t.Fatalf("Read() err = %v", err)
	}
	if got[0] != 0xAB {
		t.Errorf("restored page byte0 = %x, want ab", got[0])
	}

	entries, err := jrnl.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll() err = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("journal not truncated after recovery: %d entries remain", len(entries))
	}
}
