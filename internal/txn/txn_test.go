package txn

import "testing"

func TestManager_InsertFindCommit(t *testing.T) {
	m := New()
	t1 := m.Begin(0, "", false)

	if _, err := m.Insert(t1.ID, 1, []byte("k"), []byte("v1"), 0, 0, 1, false, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	op, found, erased, err := m.Find(t1.ID, 1, []byte("k"))
	if err != nil || !found || erased {
		t.Fatalf("Find() = (%v,%v,%v,%v), want (op,true,false,nil)", op, found, erased, err)
	}
	if string(op.Record) != "v1" {
		t.Errorf("Find() record = %q, want v1", op.Record)
	}

	applied := 0
	if err := m.Commit(t1.ID, func(o *Operation) error { applied++; return nil }); err != nil {
		t.Fatalf("Commit() err = %v", err)
	}
	if applied != 1 {
		t.Errorf("Commit() applied %d ops, want 1", applied)
	}
	if t1.State != StateCommitted {
		t.Errorf("State = %v, want StateCommitted", t1.State)
	}
}

func TestManager_SecondActiveTxnConflicts(t *testing.T) {
	m := New()
	t1 := m.Begin(0, "", false)
	t2 := m.Begin(0, "", false)

	if _, err := m.Insert(t1.ID, 1, []byte("k"), []byte("v1"), 0, 0, 1, false, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	if _, err := m.Insert(t2.ID, 1, []byte("k"), []byte("v2"), 0, 0, 2, false, false); err != ErrConflict {
		t.Fatalf("Insert() from second active txn err = %v, want ErrConflict", err)
	}
	if _, _, _, err := m.Find(t2.ID, 1, []byte("k")); err != ErrConflict {
		t.Fatalf("Find() from second active txn err = %v, want ErrConflict", err)
	}
}

func TestManager_InsertAfterAbortSucceeds(t *testing.T) {
	m := New()
	t1 := m.Begin(0, "", false)
	if _, err := m.Insert(t1.ID, 1, []byte("k"), []byte("v1"), 0, 0, 1, false, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	if err := m.Abort(t1.ID); err != nil {
		t.Fatalf("Abort() err = %v", err)
	}

	t2 := m.Begin(0, "", false)
	if _, err := m.Insert(t2.ID, 1, []byte("k"), []byte("v2"), 0, 0, 2, false, false); err != nil {
		t.Fatalf("Insert() after abort err = %v", err)
	}
	op, found, _, err := m.Find(t2.ID, 1, []byte("k"))
	if err != nil || !found || string(op.Record) != "v2" {
		t.Fatalf("Find() = (%v,%v,%v), want v2", op, found, err)
	}
}

func TestManager_DuplicateInsertWithoutFlagFails(t *testing.T) {
	m := New()
	t1 := m.Begin(0, "", false)
	if _, err := m.Insert(t1.ID, 1, []byte("k"), []byte("v1"), 0, 0, 1, false, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	if err := m.Commit(t1.ID, func(*Operation) error { return nil }); err != nil {
		t.Fatalf("Commit() err = %v", err)
	}

	t2 := m.Begin(0, "", false)
	if _, err := m.Insert(t2.ID, 1, []byte("k"), []byte("v2"), 0, 0, 2, false, false); err != ErrDuplicateKey {
		t.Fatalf("Insert() plain duplicate err = %v, want ErrDuplicateKey", err)
	}
	if _, err := m.Insert(t2.ID, 1, []byte("k"), []byte("v2"), 0, 0, 2, true, false); err != nil {
		t.Fatalf("Insert() with overwrite err = %v, want nil", err)
	}
}

func TestManager_EraseThenFindReportsErased(t *testing.T) {
	m := New()
	t1 := m.Begin(0, "", false)
	if _, err := m.Insert(t1.ID, 1, []byte("k"), []byte("v1"), 0, 0, 1, false, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	if err := m.Commit(t1.ID, func(*Operation) error { return nil }); err != nil {
		t.Fatalf("Commit() err = %v", err)
	}

	t2 := m.Begin(0, "", false)
	if _, err := m.Erase(t2.ID, 1, []byte("k"), 0, 0, 2); err != nil {
		t.Fatalf("Erase() err = %v", err)
	}
	_, found, erased, err := m.Find(t2.ID, 1, []byte("k"))
	if err != nil || found || !erased {
		t.Fatalf("Find() after erase = (found=%v,erased=%v,err=%v), want (false,true,nil)", found, erased, err)
	}
}

func TestManager_AbortLeavesNoMutation(t *testing.T) {
	m := New()
	t1 := m.Begin(0, "", false)
	if _, err := m.Insert(t1.ID, 1, []byte("k"), []byte("v1"), 0, 0, 1, false, false); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	applied := 0
	_ = applied
	if err := m.Abort(t1.ID); err != nil {
		t.Fatalf("Abort() err = %v", err)
	}
	if _, found, erased, err := m.Find(2, 1, []byte("k")); err != nil || found || erased {
		t.Fatalf("Find() after abort = (found=%v,erased=%v,err=%v), want (false,false,nil)", found, erased, err)
	}
}
