// Package pagecache implements the fixed-size page-frame pool with
// second-chance (clock) eviction described in spec §4.1, generalized from
// the teacher's BufMgr hash-table + Latchs clock scan (bufmgr.go's
// PinLatch/UnpinLatch/LatchLink and the victim-search loop inside
// PinLatch) to the frame-level dirty/pinned/recently-used bits spec §4.1
// names directly.
package pagecache

import (
	"errors"

	"github.com/pagedb/pagedb/internal/device"
	"github.com/pagedb/pagedb/internal/page"
)

var (
	// ErrAllPinned is returned when Fetch cannot find an evictable victim
	// because every resident frame is pinned by a live Changeset.
	ErrAllPinned = errors.New("pagecache: no evictable frame, all pages pinned")
	// ErrNotDurable guards spec §4.1 step 3: a dirty victim whose LSN is
	// not yet known-durable in the journal must not be silently written
	// back; the caller is expected to have routed that mutation through a
	// Changeset first.
	ErrNotDurable = errors.New("pagecache: evicting dirty page whose LSN is not yet durable")
)

// DurableChecker reports whether lsn is already durable in the journal.
// When journaling is disabled the Cache is constructed with a checker
// that always returns true.
type DurableChecker func(lsn uint64) bool

type frame struct {
	id           page.ID
	pg           *page.Page
	pinCount     int
	recentlyUsed bool
}

// Cache is the fixed-size set of page frames from spec §4.1. Capacity is
// expressed in frames (cacheLimitBytes / pageSize), matching the teacher's
// nodeMax parameter to NewBufMgr.
type Cache struct {
	dev      device.Device
	pageSize int
	capacity int

	frames  map[page.ID]*frame
	order   []page.ID // clock order, index by clockHand
	hand    int
	durable DurableChecker

	latch spinLatch // see latch.go: guards order/hand during eviction scans
}

// New creates a Cache backed by dev, holding at most capacity frames of
// pageSize bytes each. durable may be nil when journaling is disabled.
func New(dev device.Device, pageSize, capacity int, durable DurableChecker) *Cache {
	if durable == nil {
		durable = func(uint64) bool { return true }
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		dev:      dev,
		pageSize: pageSize,
		capacity: capacity,
		frames:   make(map[page.ID]*frame, capacity),
		durable:  durable,
	}
}

// Fetch returns the page at id, pinning it. Pages are unpinned with
// Release once the caller is done (a Changeset holds the pin for the
// duration of one externally visible operation, per spec §4.2).
func (c *Cache) Fetch(id page.ID) (*page.Page, error) {
	if f, ok := c.frames[id]; ok {
		f.pinCount++
		f.recentlyUsed = true
		return f.pg, nil
	}
	if len(c.frames) >= c.capacity {
		if err := c.evictOne(); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, c.pageSize)
	if err := c.dev.Read(int64(id), buf); err != nil {
		return nil, err
	}
	pg := page.Decode(id, buf)
	c.insert(&frame{id: id, pg: pg, pinCount: 1, recentlyUsed: true})
	return pg, nil
}

// NewPage allocates a fresh page on the device and inserts it into the
// cache already pinned and dirty.
func (c *Cache) NewPage(typ page.Type) (*page.Page, error) {
	id, err := c.dev.Alloc(c.pageSize)
	if err != nil {
		return nil, err
	}
	if len(c.frames) >= c.capacity {
		if err := c.evictOne(); err != nil {
			return nil, err
		}
	}
	pg := page.New(id, c.pageSize)
	pg.Header.Type = typ
	pg.SetDirty(true)
	c.insert(&frame{id: id, pg: pg, pinCount: 1, recentlyUsed: true})
	return pg, nil
}

func (c *Cache) insert(f *frame) {
	c.latch.Lock()
	defer c.latch.Unlock()
	c.frames[f.id] = f
	c.order = append(c.order, f.id)
}

// Release unpins a page previously returned by Fetch/NewPage. dirty marks
// whether the caller mutated it.
func (c *Cache) Release(id page.ID, dirty bool) {
	f, ok := c.frames[id]
	if !ok {
		return
	}
	if dirty {
		f.pg.SetDirty(true)
	}
	if f.pinCount > 0 {
		f.pinCount--
	}
}

// Pinned reports whether id currently has a positive pin count, i.e. is
// owned by a live Changeset.
func (c *Cache) Pinned(id page.ID) bool {
	f, ok := c.frames[id]
	return ok && f.pinCount > 0
}

// WriteBack forces a dirty page's bytes through the Device and clears its
// dirty bit, used by Changeset.Flush's step 4 (spec §4.2).
func (c *Cache) WriteBack(id page.ID) error {
	f, ok := c.frames[id]
	if !ok {
		return nil
	}
	return c.writeBack(f)
}

func (c *Cache) writeBack(f *frame) error {
	buf := make([]byte, c.pageSize)
	f.pg.Header.Checksum = page.Checksum(f.pg)
	f.pg.Encode(buf)
	if err := c.dev.Write(int64(f.id), buf); err != nil {
		return err
	}
	f.pg.SetDirty(false)
	return nil
}

// evictOne runs the second-chance clock scan of spec §4.1 step 2-3: skip
// pinned frames, skip (and clear) frames with the recently-used bit set,
// write back the chosen dirty victim (after the durability check) and
// drop it from the cache.
func (c *Cache) evictOne() error {
	c.latch.Lock()
	defer c.latch.Unlock()

	n := len(c.order)
	for scanned := 0; scanned < 2*n+1; scanned++ {
		if len(c.order) == 0 {
			return ErrAllPinned
		}
		if c.hand >= len(c.order) {
			c.hand = 0
		}
		id := c.order[c.hand]
		f, ok := c.frames[id]
		if !ok {
			c.removeAt(c.hand)
			continue
		}
		if f.pinCount > 0 {
			c.hand++
			continue
		}
		if f.recentlyUsed {
			f.recentlyUsed = false
			c.hand++
			continue
		}
		if f.pg.Dirty() {
			if !c.durable(f.pg.Header.LSN) {
				return ErrNotDurable
			}
			if err := c.writeBack(f); err != nil {
				return err
			}
		}
		delete(c.frames, id)
		c.removeAt(c.hand)
		return nil
	}
	return ErrAllPinned
}

func (c *Cache) removeAt(i int) {
	c.order = append(c.order[:i], c.order[i+1:]...)
}

// Flush writes back every dirty frame, used on Environment.Close and by
// MaintenanceTick.
func (c *Cache) Flush() error {
	for _, id := range c.order {
		f := c.frames[id]
		if f.pg.Dirty() {
			if err := c.writeBack(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len reports the number of resident frames, for tests and metrics.
func (c *Cache) Len() int { return len(c.frames) }
