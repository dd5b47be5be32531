package heap

import (
	"github.com/heapdb/heapdb/common"
	"github.com/heapdb/heapdb/storage"
)

// HeapScan iterates every live record of a heap file in storage order: data
// pages in directory-chain order, slots in slot order within each page.
//
// The scan snapshots the data-page list of one directory page at a time and
// pins at most one data page while positioned on it, so a long scan never
// starves the buffer pool. Mutating the file mid-scan yields undefined
// visibility for the affected records, matching the usual storage-layer
// contract; the scan itself stays well-formed.
//
//	scan := hf.OpenScan()
//	defer scan.Close()
//	for scan.Next() {
//	    use(scan.RID(), scan.Record())
//	}
//	if err := scan.Err() != nil { ... }
type HeapScan struct {
	hf *HeapFile

	nextDir common.PageID
	pages   []common.PageID
	pageIdx int

	frame *storage.PageFrame
	pid   common.PageID
	slot  int32

	rec []byte
	rid common.RecordID

	err    error
	closed bool
}

// Next advances to the next live record. It returns false at end of file or
// on error; check Err after the loop.
func (s *HeapScan) Next() bool {
	if s.err != nil || s.closed {
		return false
	}
	for {
		if s.frame != nil {
			dp := AsDataPage(s.frame)
			for s.slot < int32(dp.SlotCount()) {
				slot := s.slot
				s.slot++
				if !dp.IsLive(slot) {
					continue
				}
				rec, err := dp.Select(slot)
				if err != nil {
					s.fail(err)
					return false
				}
				s.rec = rec
				s.rid = common.RecordID{PageID: s.pid, Slot: slot}
				return true
			}
			s.hf.pool.UnpinPage(s.frame, false)
			s.frame = nil
		}

		if s.pageIdx >= len(s.pages) {
			if !s.loadNextDir() {
				return false
			}
			continue
		}

		s.pid = s.pages[s.pageIdx]
		s.pageIdx++
		frame, err := s.hf.pool.PinPage(s.pid)
		if err != nil {
			s.fail(err)
			return false
		}
		s.frame = frame
		s.slot = 0
	}
}

// loadNextDir snapshots the data-page ids of the next directory page.
// Returns false at the end of the chain or on error.
func (s *HeapScan) loadNextDir() bool {
	if !s.nextDir.IsValid() {
		return false
	}
	frame, err := s.hf.pool.PinPage(s.nextDir)
	if err != nil {
		s.fail(err)
		return false
	}
	dir := AsDirectoryPage(frame)
	s.pages = s.pages[:0]
	for i := 0; i < dir.EntryCount(); i++ {
		s.pages = append(s.pages, dir.PageIDAt(i))
	}
	s.pageIdx = 0
	s.nextDir = dir.NextPage()
	s.hf.pool.UnpinPage(frame, false)
	return true
}

func (s *HeapScan) fail(err error) {
	s.err = err
	if s.frame != nil {
		s.hf.pool.UnpinPage(s.frame, false)
		s.frame = nil
	}
}

// Record returns the bytes of the current record. Valid after a true Next;
// the slice is a copy the caller may keep.
func (s *HeapScan) Record() []byte {
	return s.rec
}

// RID returns the id of the current record. Valid after a true Next.
func (s *HeapScan) RID() common.RecordID {
	return s.rid
}

// Err returns the error that stopped the scan, if any.
func (s *HeapScan) Err() error {
	return s.err
}

// Close releases the scan's pin and its reference on the file. Closing twice
// is harmless.
func (s *HeapScan) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.frame != nil {
		s.hf.pool.UnpinPage(s.frame, false)
		s.frame = nil
	}
	return s.hf.Release()
}
