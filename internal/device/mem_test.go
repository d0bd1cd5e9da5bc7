package device

import (
	"bytes"
	"testing"
)

func TestMemDevice_WriteRead(t *testing.T) {
	type write struct {
		offset int64
		data   []byte
	}
	tests := []struct {
		name   string
		writes []write
		readAt int64
		readN  int
		want   []byte
	}{
		{
			name:   "single write read back",
			writes: []write{{0, []byte("hello")}},
			readAt: 0,
			readN:  5,
			want:   []byte("hello"),
		},
		{
			name: "write grows arena",
			writes: []write{
				{0, []byte("aaaa")},
				{100, []byte("bbbb")},
			},
			readAt: 100,
			readN:  4,
			want:   []byte("bbbb"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &MemDevice{}
			if err := d.Create("", FlagInMemory, 0, 0, 4096); err != nil {
				t.Fatalf("Create() err = %v", err)
			}
			for _, w := range tt.writes {
				if err := d.Write(w.offset, w.data); err != nil {
					t.Fatalf("Write() err = %v", err)
				}
			}
			got := make([]byte, tt.readN)
			if err := d.Read(tt.readAt, got); err != nil {
				t.Fatalf("Read() err = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Read() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMemDevice_AllocReusesFreedPages(t *testing.T) {
	d := &MemDevice{}
	if err := d.Create("", FlagInMemory, 0, 0, 4096); err != nil {
		t.Fatalf("Create() err = %v", err)
	}
	first, err := d.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc() err = %v", err)
	}
	d.Free(first)
	second, err := d.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc() err = %v", err)
	}
	if second != first {
		t.Errorf("Alloc() after Free() = %v, want reused %v", second, first)
	}
}
