package pagedb_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/pagedb/pagedb"
	"github.com/pagedb/pagedb/internal/btree"
)

func newMemEnv(t *testing.T) *pagedb.Environment {
	t.Helper()
	env, err := pagedb.Create("", pagedb.EnvironmentConfig{Flags: pagedb.FlagInMemory})
	if err != nil {
		t.Fatalf("Create() err = %v", err)
	}
	t.Cleanup(func() { env.Close() })
	return env
}

func TestDatabase_InsertFindErase(t *testing.T) {
	env := newMemEnv(t)
	db, err := env.CreateDatabase("widgets", pagedb.DatabaseConfig{KeyType: btree.KeyTypeBinaryUnbounded})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}

	if _, err := db.Insert(nil, []byte("a"), []byte("1"), false, pagedb.DupNone, 0); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	_, got, err := db.Find(nil, []byte("a"), pagedb.FindExact)
	if err != nil {
		t.Fatalf("Find() err = %v", err)
	}
	if string(got) != "1" {
		t.Errorf("Find() = %q, want 1", got)
	}

	if err := db.Erase(nil, []byte("a")); err != nil {
		t.Fatalf("Erase() err = %v", err)
	}
	if _, _, err := db.Find(nil, []byte("a"), pagedb.FindExact); !errors.Is(err, pagedb.ErrKeyNotFound) {
		t.Errorf("Find() after erase err = %v, want ErrKeyNotFound", err)
	}
}

func TestDatabase_InsertWithoutOverwriteRejectsDuplicate(t *testing.T) {
	env := newMemEnv(t)
	db, err := env.CreateDatabase("widgets", pagedb.DatabaseConfig{KeyType: btree.KeyTypeBinaryUnbounded})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}
	if _, err := db.Insert(nil, []byte("a"), []byte("1"), false, pagedb.DupNone, 0); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	_, err = db.Insert(nil, []byte("a"), []byte("2"), false, pagedb.DupNone, 0)
	if !errors.Is(err, pagedb.ErrDuplicateKey) {
		t.Errorf("Insert() duplicate err = %v, want ErrDuplicateKey", err)
	}
	if _, err := db.Insert(nil, []byte("a"), []byte("2"), true, pagedb.DupNone, 0); err != nil {
		t.Fatalf("Insert() overwrite err = %v", err)
	}
	_, got, _ := db.Find(nil, []byte("a"), pagedb.FindExact)
	if string(got) != "2" {
		t.Errorf("Find() after overwrite = %q, want 2", got)
	}
}

func TestTransaction_CommitMakesWritesVisible(t *testing.T) {
	env := newMemEnv(t)
	db, err := env.CreateDatabase("widgets", pagedb.DatabaseConfig{KeyType: btree.KeyTypeBinaryUnbounded})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}
	tx, err := env.TxnBegin(0, "")
	if err != nil {
		t.Fatalf("TxnBegin() err = %v", err)
	}
	if _, err := db.Insert(tx, []byte("a"), []byte("1"), false, pagedb.DupNone, 0); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	// Own transaction sees its own write immediately.
	if _, got, err := db.Find(tx, []byte("a"), pagedb.FindExact); err != nil || string(got) != "1" {
		t.Fatalf("Find(tx) = %q, %v, want 1, nil", got, err)
	}
	// A reader outside the transaction conflicts with its pending write
	// before commit.
	if _, _, err := db.Find(nil, []byte("a"), pagedb.FindExact); !errors.Is(err, pagedb.ErrTxnConflict) {
		t.Errorf("Find(nil) before commit err = %v, want ErrTxnConflict", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() err = %v", err)
	}
	if _, got, err := db.Find(nil, []byte("a"), pagedb.FindExact); err != nil || string(got) != "1" {
		t.Fatalf("Find(nil) after commit = %q, %v, want 1, nil", got, err)
	}
}

func TestTransaction_AbortDiscardsWrites(t *testing.T) {
	env := newMemEnv(t)
	db, err := env.CreateDatabase("widgets", pagedb.DatabaseConfig{KeyType: btree.KeyTypeBinaryUnbounded})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}
	tx, err := env.TxnBegin(0, "")
	if err != nil {
		t.Fatalf("TxnBegin() err = %v", err)
	}
	if _, err := db.Insert(tx, []byte("a"), []byte("1"), false, pagedb.DupNone, 0); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	if err := tx.Abort(); err != nil {
		t.Fatalf("Abort() err = %v", err)
	}
	if _, _, err := db.Find(nil, []byte("a"), pagedb.FindExact); !errors.Is(err, pagedb.ErrKeyNotFound) {
		t.Errorf("Find(nil) after abort err = %v, want ErrKeyNotFound", err)
	}
}

func TestDatabase_CursorIteratesInOrder(t *testing.T) {
	env := newMemEnv(t)
	db, err := env.CreateDatabase("widgets", pagedb.DatabaseConfig{KeyType: btree.KeyTypeBinaryUnbounded})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}
	for _, k := range []string{"b", "a", "c"} {
		if _, err := db.Insert(nil, []byte(k), []byte(k+k), false, pagedb.DupNone, 0); err != nil {
			t.Fatalf("Insert(%q) err = %v", k, err)
		}
	}
	c := db.Cursor(nil)
	var keys []string
	if err := c.First(); err != nil {
		t.Fatalf("First() err = %v", err)
	}
	for {
		keys = append(keys, string(c.Key()))
		if err := c.Next(); err != nil {
			break
		}
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestDatabase_CheckReportsHealthyTree(t *testing.T) {
	env := newMemEnv(t)
	db, err := env.CreateDatabase("widgets", pagedb.DatabaseConfig{KeyType: btree.KeyTypeBinaryUnbounded})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}
	for i := 0; i < 500; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		if _, err := db.Insert(nil, k, k, false, pagedb.DupNone, 0); err != nil {
			t.Fatalf("Insert() err = %v", err)
		}
	}
	if err := db.Check(); err != nil {
		t.Errorf("Check() err = %v", err)
	}
}

func TestEnvironment_FileBackedReopenSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")

	env, err := pagedb.Create(path, pagedb.EnvironmentConfig{})
	if err != nil {
		t.Fatalf("Create() err = %v", err)
	}
	db, err := env.CreateDatabase("widgets", pagedb.DatabaseConfig{KeyType: btree.KeyTypeBinaryUnbounded})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}
	if _, err := db.Insert(nil, []byte("a"), []byte("1"), false, pagedb.DupNone, 0); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}

	env2, err := pagedb.Open(path, pagedb.EnvironmentConfig{})
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	defer env2.Close()
	if report := env2.LastRecoveryReport(); report != nil {
		t.Errorf("LastRecoveryReport() = %+v, want nil after clean shutdown", report)
	}
	ids := env2.Databases()
	if len(ids) != 1 {
		t.Fatalf("Databases() = %v, want one database", ids)
	}
	db2, err := env2.OpenDatabase(ids[0])
	if err != nil {
		t.Fatalf("OpenDatabase() err = %v", err)
	}
	if db2.Name() != "widgets" {
		t.Errorf("Name() = %q, want widgets", db2.Name())
	}
	_, got, err := db2.Find(nil, []byte("a"), pagedb.FindExact)
	if err != nil || string(got) != "1" {
		t.Fatalf("Find() = %q, %v, want 1, nil", got, err)
	}
}

func TestEnvironment_RejectsKeySizeMismatch(t *testing.T) {
	env := newMemEnv(t)
	db, err := env.CreateDatabase("fixed", pagedb.DatabaseConfig{KeyType: btree.KeyTypeBinaryUnbounded, KeySize: 4})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}
	_, err = db.Insert(nil, []byte("a"), []byte("1"), false, pagedb.DupNone, 0)
	var pe *pagedb.Error
	if !errors.As(err, &pe) || pe.Code() != pagedb.CodeInvalidKeySize {
		t.Errorf("Insert() err = %v, want CodeInvalidKeySize", err)
	}
}

func TestDatabase_DuplicatePositions(t *testing.T) {
	env := newMemEnv(t)
	db, err := env.CreateDatabase("dups", pagedb.DatabaseConfig{
		KeyType: btree.KeyTypeBinaryUnbounded,
		Flags:   pagedb.DBFlagEnableDuplicateKeys,
	})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}

	if _, err := db.Insert(nil, []byte("k"), []byte("mid"), false, pagedb.DupNone, 0); err != nil {
		t.Fatalf("Insert() err = %v", err)
	}
	if _, err := db.Insert(nil, []byte("k"), []byte("first"), false, pagedb.DupFirst, 0); err != nil {
		t.Fatalf("Insert(DupFirst) err = %v", err)
	}
	if _, err := db.Insert(nil, []byte("k"), []byte("last"), false, pagedb.DupLast, 0); err != nil {
		t.Fatalf("Insert(DupLast) err = %v", err)
	}
	if _, err := db.Insert(nil, []byte("k"), []byte("before-mid"), false, pagedb.DupBefore, 1); err != nil {
		t.Fatalf("Insert(DupBefore) err = %v", err)
	}

	vals, err := db.Duplicates([]byte("k"))
	if err != nil {
		t.Fatalf("Duplicates() err = %v", err)
	}
	want := []string{"first", "before-mid", "mid", "last"}
	if len(vals) != len(want) {
		t.Fatalf("Duplicates() = %v, want %v", vals, want)
	}
	for i, w := range want {
		if string(vals[i]) != w {
			t.Errorf("Duplicates()[%d] = %q, want %q", i, vals[i], w)
		}
	}
}

func TestDatabase_RecordNumberAutoAssignsAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.db")

	env, err := pagedb.Create(path, pagedb.EnvironmentConfig{})
	if err != nil {
		t.Fatalf("Create() err = %v", err)
	}
	db, err := env.CreateDatabase("seq", pagedb.DatabaseConfig{
		KeyType: btree.KeyTypeUint64,
		Flags:   pagedb.DBFlagRecordNumber64,
	})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}

	var lastKey []byte
	for i := 0; i < 3; i++ {
		key, err := db.Insert(nil, nil, []byte("v"), false, pagedb.DupNone, 0)
		if err != nil {
			t.Fatalf("Insert() err = %v", err)
		}
		lastKey = key
	}
	if got := db.CurrentRecordNumber(); got != 3 {
		t.Errorf("CurrentRecordNumber() = %d, want 3", got)
	}
	if _, _, err := db.Find(nil, lastKey, pagedb.FindExact); err != nil {
		t.Errorf("Find() on last assigned key err = %v", err)
	}

	if err := env.Close(); err != nil {
		t.Fatalf("Close() err = %v", err)
	}

	env2, err := pagedb.Open(path, pagedb.EnvironmentConfig{})
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	defer env2.Close()
	db2, err := env2.OpenDatabase(db.ID())
	if err != nil {
		t.Fatalf("OpenDatabase() err = %v", err)
	}
	if got := db2.CurrentRecordNumber(); got != 3 {
		t.Errorf("CurrentRecordNumber() after reopen = %d, want 3", got)
	}
	key, err := db2.Insert(nil, nil, []byte("v4"), false, pagedb.DupNone, 0)
	if err != nil {
		t.Fatalf("Insert() after reopen err = %v", err)
	}
	if db2.CurrentRecordNumber() != 4 {
		t.Errorf("CurrentRecordNumber() = %d, want 4 (counter must not reset on reopen)", db2.CurrentRecordNumber())
	}
	_, rec, err := db2.Find(nil, key, pagedb.FindExact)
	if err != nil || string(rec) != "v4" {
		t.Errorf("Find(assigned key) = %q, %v, want v4, nil", rec, err)
	}
}

func TestDatabase_ApproximateFind(t *testing.T) {
	env := newMemEnv(t)
	db, err := env.CreateDatabase("approx", pagedb.DatabaseConfig{KeyType: btree.KeyTypeBinaryUnbounded})
	if err != nil {
		t.Fatalf("CreateDatabase() err = %v", err)
	}
	for _, k := range []string{"a", "c", "e"} {
		if _, err := db.Insert(nil, []byte(k), []byte(k), false, pagedb.DupNone, 0); err != nil {
			t.Fatalf("Insert(%q) err = %v", k, err)
		}
	}

	gotKey, _, err := db.Find(nil, []byte("c"), pagedb.FindLT)
	if err != nil || string(gotKey) != "a" {
		t.Errorf("Find(c, LT) = %q, %v, want a, nil", gotKey, err)
	}
	gotKey, _, err = db.Find(nil, []byte("c"), pagedb.FindGT)
	if err != nil || string(gotKey) != "e" {
		t.Errorf("Find(c, GT) = %q, %v, want e, nil", gotKey, err)
	}
	gotKey, _, err = db.Find(nil, []byte("c"), pagedb.FindLTE)
	if err != nil || string(gotKey) != "c" {
		t.Errorf("Find(c, LTE) = %q, %v, want c, nil", gotKey, err)
	}
	gotKey, _, err = db.Find(nil, []byte("b"), pagedb.FindGTE)
	if err != nil || string(gotKey) != "c" {
		t.Errorf("Find(b, GTE) = %q, %v, want c, nil", gotKey, err)
	}
	if _, _, err := db.Find(nil, []byte("e"), pagedb.FindGT); !errors.Is(err, pagedb.ErrKeyNotFound) {
		t.Errorf("Find(e, GT) err = %v, want ErrKeyNotFound", err)
	}
}
