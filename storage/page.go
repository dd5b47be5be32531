package storage

import (
	"sync"

	"github.com/heapdb/heapdb/common"
)

// PageFrame holds one page worth of bytes in memory together with the buffer
// pool bookkeeping for that slot: which page occupies the frame, how many
// callers have it pinned, and whether it must be written back before reuse.
//
// Bytes is the first field so that the page contents stay 8-byte aligned for
// word-level access.
type PageFrame struct {
	// Bytes is the raw page image. Callers may read and write it only while
	// they hold a pin on the frame.
	Bytes [common.PageSize]byte

	mu       sync.Mutex
	pageID   common.PageID
	pinCount int
	refBit   bool
	dirty    bool
}

// PageID returns the id of the page currently held by the frame.
func (f *PageFrame) PageID() common.PageID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageID
}
