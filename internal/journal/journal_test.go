package journal

import "testing"

func TestJournal_AppendAndScanRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		run  func(j *Journal) error
		want []Kind
	}{
		{
			name: "begin insert commit",
			run: func(j *Journal) error {
				if err := j.AppendTxnBegin(1, 0, ""); err != nil {
					return err
				}
				if _, err := j.AppendInsert(1, 1, []byte("k"), []byte("v"), 0, 0, 0, 0); err != nil {
					return err
				}
				return j.AppendTxnCommit(1)
			},
			want: []Kind{KindTxnBegin, KindInsert, KindTxnCommit},
		},
		{
			name: "begin erase abort",
			run: func(j *Journal) error {
				if err := j.AppendTxnBegin(2, 0, ""); err != nil {
					return err
				}
				if _, err := j.AppendErase(2, 1, []byte("k"), 0, 0); err != nil {
					return err
				}
				return j.AppendTxnAbort(2)
			},
			want: []Kind{KindTxnBegin, KindErase, KindTxnAbort},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			j, err := Open(dir, 4096)
			if err != nil {
				t.Fatalf("Open() err = %v", err)
			}
			defer j.Close()

			if err := tt.run(j); err != nil {
				t.Fatalf("run() err = %v", err)
			}
			if err := j.Flush(false); err != nil {
				t.Fatalf("Flush() err = %v", err)
			}

			entries, err := j.ScanAll()
			if err != nil {
				t.Fatalf("ScanAll() err = %v", err)
			}
			var kinds []Kind
			for _, e := range entries {
				kinds = append(kinds, e.Kind)
			}
			if len(kinds) != len(tt.want) {
				t.Fatalf("ScanAll() = %v, want kinds %v", kinds, tt.want)
			}
			for i := range kinds {
				if kinds[i] != tt.want[i] {
					t.Errorf("entry %d kind = %v, want %v", i, kinds[i], tt.want[i])
				}
			}
		})
	}
}

func TestJournal_LSNMonotonic(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 4096)
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	defer j.Close()

	var last uint64
	for i := 0; i < 100; i++ {
		lsn := j.NextLSN()
		if lsn <= last {
			t.Fatalf("NextLSN() = %d, want strictly greater than %d", lsn, last)
		}
		last = lsn
	}
}

func TestJournal_ChangesetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 4096)
	if err != nil {
		t.Fatalf("Open() err = %v", err)
	}
	defer j.Close()

	pages := []ChangesetPage{
		{ID: 16384, Bytes: []byte("page-one-bytes")},
		{ID: 32768, Bytes: []byte("page-two-bytes")},
	}
	lsn := j.NextLSN()
	if err := j.AppendChangeset(lsn, pages); err != nil {
		t.Fatalf("AppendChangeset() err = %v", err)
	}
	if err := j.Flush(false); err != nil {
		t.Fatalf("Flush() err = %v", err)
	}

	entries, err := j.ScanAll()
	if err != nil {
		t.Fatalf("ScanAll() err = %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != KindChangeset {
		t.Fatalf("ScanAll() = %+v, want one changeset entry", entries)
	}
	got := entries[0].ChangesetPages
	if len(got) != len(pages) {
		t.Fatalf("ChangesetPages len = %d, want %d", len(got), len(pages))
	}
	for i := range pages {
		if got[i].ID != pages[i].ID || string(got[i].Bytes) != string(pages[i].Bytes) {
			t.Errorf("page %d = %+v, want %+v", i, got[i], pages[i])
		}
	}
}
