package pagecache

import (
	"testing"

	"github.com/pagedb/pagedb/internal/device"
	"github.com/pagedb/pagedb/internal/page"
)

func newTestDevice(t *testing.T) device.Device {
	t.Helper()
	d := &device.MemDevice{}
	if err := d.Create("", device.FlagInMemory, 0, 0, page.DefaultSize); err != nil {
		t.Fatalf("Create() err = %v", err)
	}
	return d
}

func TestCache_EvictsUnpinnedOverRecentlyUsed(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		fetches  int
	}{
		{name: "capacity one forces eviction on second new page", capacity: 1, fetches: 3},
		{name: "capacity three allows three resident pages", capacity: 3, fetches: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newTestDevice(t)
			c := New(dev, page.DefaultSize, tt.capacity, nil)
			var last *page.Page
			for i := 0; i < tt.fetches; i++ {
				pg, err := c.NewPage(page.TypeBtreeLeaf)
				if err != nil {
					t.Fatalf("NewPage() err = %v", err)
				}
				c.Release(pg.ID, true)
				last = pg
			}
			if c.Len() > tt.capacity {
				t.Errorf("Len() = %d, want <= %d", c.Len(), tt.capacity)
			}
			if _, err := c.Fetch(last.ID); err != nil {
				t.Errorf("Fetch(last) err = %v, want evicted page reloadable", err)
			}
		})
	}
}

func TestCache_PinnedPageSurvivesEviction(t *testing.T) {
	dev := newTestDevice(t)
	c := New(dev, page.DefaultSize, 1, nil)

	pinned, err := c.NewPage(page.TypeBtreeLeaf)
	if err != nil {
		t.Fatalf("NewPage() err = %v", err)
	}
	// pinned stays pinned (no Release): the next NewPage must not evict it.
	if !c.Pinned(pinned.ID) {
		t.Fatalf("Pinned() = false, want true right after NewPage")
	}

	if _, err := c.NewPage(page.TypeBtreeLeaf); err == nil {
		t.Fatalf("NewPage() with sole frame pinned = nil error, want ErrAllPinned")
	} else if err != ErrAllPinned {
		t.Fatalf("NewPage() err = %v, want ErrAllPinned", err)
	}
}

func TestCache_WriteBackRespectsDurability(t *testing.T) {
	dev := newTestDevice(t)
	durable := false
	c := New(dev, page.DefaultSize, 1, func(uint64) bool { return durable })

	pg, err := c.NewPage(page.TypeBtreeLeaf)
	if err != nil {
		t.Fatalf("NewPage() err = %v", err)
	}
	pg.Header.LSN = 5
	c.Release(pg.ID, true)

	if _, err := c.NewPage(page.TypeBtreeLeaf); err != ErrNotDurable {
		t.Fatalf("NewPage() err = %v, want ErrNotDurable while LSN undurable", err)
	}

	durable = true
	if _, err := c.NewPage(page.TypeBtreeLeaf); err != nil {
		t.Fatalf("NewPage() err = %v, want success once LSN durable", err)
	}
}
