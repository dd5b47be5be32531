package storage

import (
	"runtime"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/heapdb/heapdb/common"
	"github.com/heapdb/heapdb/logger"
)

// Number of frames inspected per pass before yielding, and the number of
// passes after which the clock stops honoring reference bits.
const (
	clockStride  = 64
	maxClockScan = 64
)

// BufferPool keeps a fixed number of page frames in memory and moves pages
// between them and the DiskManager on demand. Callers borrow a page with
// PinPage and must release it with exactly one UnpinPage; a pinned frame is
// never evicted. Replacement is clock (second chance).
//
// The pool is shared process-wide state and is safe for concurrent use.
type BufferPool struct {
	disk      *DiskManager
	frames    []PageFrame
	clockHand uint64
	pageTable *xsync.MapOf[common.PageID, *PageFrame]
	log       *logrus.Entry
}

// NewBufferPool creates a pool with numFrames in-memory page frames backed by
// the given disk manager.
func NewBufferPool(numFrames int, disk *DiskManager) *BufferPool {
	common.Assert(numFrames >= 2, "buffer pool needs at least 2 frames")
	bp := &BufferPool{
		disk:      disk,
		frames:    make([]PageFrame, numFrames),
		pageTable: xsync.NewMapOf[common.PageID, *PageFrame](),
		log:       logger.WithComponent("bufferpool"),
	}
	for i := range bp.frames {
		bp.frames[i].pageID = common.InvalidPageID
	}
	return bp
}

// DiskManager returns the underlying page allocator.
func (bp *BufferPool) DiskManager() *DiskManager {
	return bp.disk
}

// tryTouchPage pins the frame if it still holds the wanted page. Another
// goroutine may have evicted it between the table lookup and the lock.
func tryTouchPage(frame *PageFrame, pid common.PageID) bool {
	frame.mu.Lock()
	defer frame.mu.Unlock()
	if frame.pageID != pid {
		return false
	}
	frame.pinCount++
	frame.refBit = true
	return true
}

// findVictim returns an unpinned frame, locked, ready to be repurposed.
func (bp *BufferPool) findVictim() *PageFrame {
	numFrames := uint64(len(bp.frames))
	scans := 0
	for {
		for i := 0; i < clockStride; i++ {
			idx := atomic.AddUint64(&bp.clockHand, 1) % numFrames
			frame := &bp.frames[idx]
			if !frame.mu.TryLock() {
				continue
			}
			if frame.pinCount > 0 {
				frame.mu.Unlock()
				continue
			}
			if scans >= maxClockScan || !frame.refBit {
				return frame
			}
			frame.refBit = false
			frame.mu.Unlock()
			scans++
		}
		runtime.Gosched()
	}
}

// evict writes the victim back if dirty. The victim is passed in locked.
func (bp *BufferPool) evict(victim *PageFrame) error {
	if !victim.pageID.IsValid() || !victim.dirty {
		return nil
	}
	if err := bp.disk.WritePage(victim.pageID, victim.Bytes[:]); err != nil {
		return err
	}
	victim.dirty = false
	return nil
}

// PinPage brings the page into the pool (if not already resident) and pins
// it. The returned frame stays resident until the matching UnpinPage.
func (bp *BufferPool) PinPage(pid common.PageID) (*PageFrame, error) {
	for {
		if frame, ok := bp.pageTable.Load(pid); ok {
			if tryTouchPage(frame, pid) {
				return frame, nil
			}
			continue
		}

		victim := bp.findVictim() // returned locked

		// Install our victim as the single official frame for this page
		// before loading it. Losers wait for the winner's read.
		actual, loaded := bp.pageTable.LoadOrStore(pid, victim)
		if loaded {
			victim.mu.Unlock()
			if tryTouchPage(actual, pid) {
				return actual, nil
			}
			continue
		}

		if err := bp.evict(victim); err != nil {
			victim.mu.Unlock()
			bp.pageTable.Delete(pid)
			return nil, err
		}
		if victim.pageID.IsValid() {
			bp.pageTable.Delete(victim.pageID)
		}

		if err := bp.disk.ReadPage(pid, victim.Bytes[:]); err != nil {
			victim.pageID = common.InvalidPageID
			victim.mu.Unlock()
			bp.pageTable.Delete(pid)
			return nil, err
		}

		victim.pageID = pid
		victim.pinCount = 1
		victim.refBit = false
		victim.dirty = false
		victim.mu.Unlock()
		return victim, nil
	}
}

// UnpinPage releases one pin. With dirty set, the page is written back to
// disk before its frame is reused.
func (bp *BufferPool) UnpinPage(frame *PageFrame, dirty bool) {
	frame.mu.Lock()
	defer frame.mu.Unlock()
	common.Assert(frame.pinCount > 0, "unpinning %s which is not pinned", frame.pageID)
	frame.pinCount--
	if dirty {
		frame.dirty = true
	}
}

// NewPage allocates a fresh zero-filled page and returns it pinned.
func (bp *BufferPool) NewPage() (common.PageID, *PageFrame, error) {
	pid, err := bp.disk.AllocatePages(1)
	if err != nil {
		return common.InvalidPageID, nil, err
	}
	frame, err := bp.PinPage(pid)
	if err != nil {
		_ = bp.disk.FreePage(pid)
		return common.InvalidPageID, nil, err
	}
	return pid, frame, nil
}

// FreePage evicts the page from the pool without write-back and returns it to
// the allocator. The caller must not hold a pin on it.
func (bp *BufferPool) FreePage(pid common.PageID) error {
	if frame, ok := bp.pageTable.Load(pid); ok {
		frame.mu.Lock()
		if frame.pageID == pid {
			common.Assert(frame.pinCount == 0, "freeing pinned %s", pid)
			frame.pageID = common.InvalidPageID
			frame.dirty = false
			frame.refBit = false
			bp.pageTable.Delete(pid)
			bp.log.Debugf("dropped %s from pool", pid)
		}
		frame.mu.Unlock()
	}
	return bp.disk.FreePage(pid)
}

// FlushAll writes every dirty resident page to disk, regardless of pins.
// Used at shutdown and by tests.
func (bp *BufferPool) FlushAll() error {
	for i := range bp.frames {
		frame := &bp.frames[i]
		frame.mu.Lock()
		if err := bp.evict(frame); err != nil {
			frame.mu.Unlock()
			return err
		}
		frame.mu.Unlock()
	}
	return nil
}
