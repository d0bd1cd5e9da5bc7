package pagecache

import (
	"runtime"
	"sync/atomic"
)

// spinLatch is a tiny user-space spinlock, carried over from the teacher's
// BufMgr.lock / Latchs.readWr (bufmgr.go's SpinLatch-guarded allocation
// page and hash-chain locks). Cache takes it around frame insertion and
// the eviction scan. Environment calls into Cache only while holding its
// own mutex, which it does not release during Device I/O, so the latch is
// never contended in practice; Fetch's cache-hit path and Release do not
// take it.
type spinLatch struct{ state uint32 }

func (s *spinLatch) Lock() {
	for !atomic.CompareAndSwapUint32(&s.state, 0, 1) {
		runtime.Gosched()
	}
}

func (s *spinLatch) TryLock() bool {
	return atomic.CompareAndSwapUint32(&s.state, 0, 1)
}

func (s *spinLatch) Unlock() {
	atomic.StoreUint32(&s.state, 0)
}
