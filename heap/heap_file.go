package heap

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/heapdb/heapdb/catalog"
	"github.com/heapdb/heapdb/common"
	"github.com/heapdb/heapdb/logger"
	"github.com/heapdb/heapdb/storage"
)

// HeapFile is an unordered collection of variable-length records spread
// across data pages, addressed by (page, slot) record ids. A chain of
// directory pages, anchored at headID, summarizes the record count and free
// bytes of every data page; free-space search is first-fit over chain order.
//
// Named heap files persist through the file catalog. Temporary heap files
// (scratch storage for sorts and joins) have no catalog entry and are
// destroyed when the last holder calls Release.
//
// A HeapFile borrows pages from the buffer pool only for the duration of one
// pin/unpin bracket and retains nothing between calls. Operations on one
// instance must be serialized by the caller; the buffer pool itself is
// shared, thread-safe infrastructure.
type HeapFile struct {
	pool *storage.BufferPool
	cat  *catalog.FileCatalog
	name string

	headID   common.PageID
	temp     bool
	refs     int
	consumed bool

	log *logrus.Entry
}

// OpenHeapFile opens the named heap file, creating it if the catalog has no
// entry: a fresh empty directory page is allocated and registered under the
// name.
func OpenHeapFile(pool *storage.BufferPool, cat *catalog.FileCatalog, name string) (*HeapFile, error) {
	hf := &HeapFile{
		pool:   pool,
		cat:    cat,
		name:   name,
		headID: common.InvalidPageID,
		refs:   1,
		log:    logger.WithComponent("heap").WithField("file", name),
	}

	if headID, ok := cat.Lookup(name); ok {
		hf.headID = headID
		return hf, nil
	}

	headID, frame, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	InitDirectoryPage(frame)
	pool.UnpinPage(frame, true)

	if err := cat.Register(name, headID); err != nil {
		_ = pool.FreePage(headID)
		return nil, err
	}
	hf.headID = headID
	hf.log.Infof("created heap file, directory head %s", headID)
	return hf, nil
}

// NewTempHeapFile creates an unnamed scratch heap file. Allocation is fully
// lazy: a temp file that is never written to never touches the buffer pool
// and leaves nothing to clean up.
func NewTempHeapFile(pool *storage.BufferPool) *HeapFile {
	return &HeapFile{
		pool:   pool,
		headID: common.InvalidPageID,
		temp:   true,
		refs:   1,
		log:    logger.WithComponent("heap").WithField("file", "(temp)"),
	}
}

// Name returns the catalog name, or the empty string for a temp file.
func (hf *HeapFile) Name() string {
	return hf.name
}

// IsTemp reports whether the file is a temporary (uncataloged) heap file.
func (hf *HeapFile) IsTemp() bool {
	return hf.temp
}

func (hf *HeapFile) checkUsable() {
	common.Assert(!hf.consumed, "heap file used after DeleteFile")
}

// ensureHead allocates the first directory page of a lazily created temp
// file.
func (hf *HeapFile) ensureHead() error {
	if hf.headID.IsValid() {
		return nil
	}
	common.Assert(hf.temp, "named heap file without a directory head")
	headID, frame, err := hf.pool.NewPage()
	if err != nil {
		return err
	}
	InitDirectoryPage(frame)
	hf.pool.UnpinPage(frame, true)
	hf.headID = headID
	return nil
}

// retain adds a holder reference (used by scans over temp files).
func (hf *HeapFile) retain() {
	hf.checkUsable()
	hf.refs++
}

// Release drops one holder reference. When the last reference to a temporary
// heap file is released, its pages are reclaimed immediately; named files
// are unaffected. Releasing is how scratch files are disposed of
// deterministically instead of waiting for garbage collection.
func (hf *HeapFile) Release() error {
	common.Assert(hf.refs > 0, "heap file released more often than retained")
	hf.refs--
	if hf.refs == 0 && hf.temp && !hf.consumed {
		return hf.DeleteFile()
	}
	return nil
}

// InsertRecord stores the record and returns its id. Records larger than
// MaxRecordSize are rejected before any page is touched. The search for
// space is first-fit over the directory chain; when no page qualifies, a new
// data page (and, if the chain is full, a new directory page) is created.
func (hf *HeapFile) InsertRecord(rec []byte) (common.RecordID, error) {
	hf.checkUsable()
	if len(rec) > MaxRecordSize {
		return common.RecordID{}, common.NewError(common.RecordTooLarge,
			"record of %d bytes exceeds the %d byte page capacity", len(rec), MaxRecordSize)
	}
	if err := hf.ensureHead(); err != nil {
		return common.RecordID{}, err
	}

	pid, err := hf.getAvailPage(len(rec))
	if err != nil {
		return common.RecordID{}, err
	}

	frame, err := hf.pool.PinPage(pid)
	if err != nil {
		return common.RecordID{}, err
	}
	dp := AsDataPage(frame)
	slot, err := dp.Insert(rec)
	if err != nil {
		hf.pool.UnpinPage(frame, false)
		if errors.Is(err, errPageFull) {
			// The directory promised room this page does not have.
			return common.RecordID{}, common.NewError(common.DirectoryConsistency,
				"directory free-space entry for %s is stale", pid)
		}
		return common.RecordID{}, err
	}
	freeCnt := dp.FreeSpace()
	hf.pool.UnpinPage(frame, true)

	if err := hf.updateDirEntry(pid, +1, freeCnt); err != nil {
		return common.RecordID{}, err
	}
	return common.RecordID{PageID: pid, Slot: slot}, nil
}

// pinDataPage pins the page of a caller-supplied record id, verifying it is
// a data page of this file. Failures surface as InvalidRecordID.
func (hf *HeapFile) pinDataPage(rid common.RecordID) (*storage.PageFrame, error) {
	if !rid.PageID.IsValid() || !hf.headID.IsValid() {
		return nil, common.NewError(common.InvalidRecordID, "no record at %s", rid)
	}
	frame, err := hf.pool.PinPage(rid.PageID)
	if err != nil {
		return nil, common.NewError(common.InvalidRecordID, "no page for %s: %v", rid, err)
	}
	if PageType(frame) != DataPageType {
		hf.pool.UnpinPage(frame, false)
		return nil, common.NewError(common.InvalidRecordID, "%s does not address a data page", rid)
	}
	return frame, nil
}

// SelectRecord returns a copy of the record bytes.
func (hf *HeapFile) SelectRecord(rid common.RecordID) ([]byte, error) {
	hf.checkUsable()
	frame, err := hf.pinDataPage(rid)
	if err != nil {
		return nil, err
	}
	rec, err := AsDataPage(frame).Select(rid.Slot)
	hf.pool.UnpinPage(frame, false)
	return rec, err
}

// UpdateRecord replaces the record bytes in place. The directory entry's
// free-space mirror is refreshed before the call returns, so the window in
// which it is stale never spans operations.
func (hf *HeapFile) UpdateRecord(rid common.RecordID, rec []byte) error {
	hf.checkUsable()
	frame, err := hf.pinDataPage(rid)
	if err != nil {
		return err
	}
	dp := AsDataPage(frame)
	if err := dp.Update(rid.Slot, rec); err != nil {
		hf.pool.UnpinPage(frame, false)
		return err
	}
	freeCnt := dp.FreeSpace()
	hf.pool.UnpinPage(frame, true)
	return hf.updateDirEntry(rid.PageID, 0, freeCnt)
}

// DeleteRecord removes the record. A data page emptied by the deletion is
// freed and its directory entry removed; a directory page emptied as a
// consequence is unlinked from the chain and freed as well.
func (hf *HeapFile) DeleteRecord(rid common.RecordID) error {
	hf.checkUsable()
	frame, err := hf.pinDataPage(rid)
	if err != nil {
		return err
	}
	dp := AsDataPage(frame)
	if err := dp.Delete(rid.Slot); err != nil {
		hf.pool.UnpinPage(frame, false)
		return err
	}
	freeCnt := dp.FreeSpace()
	hf.pool.UnpinPage(frame, true)
	return hf.updateDirEntry(rid.PageID, -1, freeCnt)
}

// RecordCount returns the number of live records in the file, summing the
// per-page record counts mirrored in the directory chain.
func (hf *HeapFile) RecordCount() (int, error) {
	hf.checkUsable()
	total := 0
	cur := hf.headID
	for cur.IsValid() {
		frame, err := hf.pool.PinPage(cur)
		if err != nil {
			return 0, err
		}
		dir := AsDirectoryPage(frame)
		for i := 0; i < dir.EntryCount(); i++ {
			total += dir.RecCountAt(i)
		}
		next := dir.NextPage()
		hf.pool.UnpinPage(frame, false)
		cur = next
	}
	return total, nil
}

// OpenScan starts a sequential scan anchored at the directory head. The scan
// holds a reference on the file; Close it before releasing a temp file.
func (hf *HeapFile) OpenScan() *HeapScan {
	hf.checkUsable()
	hf.retain()
	return &HeapScan{
		hf:      hf,
		nextDir: hf.headID,
	}
}

// DeleteFile destroys the heap file: every data page is freed, then every
// directory page, then the catalog entry of a named file is removed. The
// instance is consumed; further use is a caller error.
func (hf *HeapFile) DeleteFile() error {
	hf.checkUsable()
	hf.consumed = true

	cur := hf.headID
	for cur.IsValid() {
		frame, err := hf.pool.PinPage(cur)
		if err != nil {
			return err
		}
		dir := AsDirectoryPage(frame)
		for i := 0; i < dir.EntryCount(); i++ {
			if err := hf.pool.FreePage(dir.PageIDAt(i)); err != nil {
				hf.pool.UnpinPage(frame, false)
				return err
			}
		}
		next := dir.NextPage()
		hf.pool.UnpinPage(frame, false)
		if err := hf.pool.FreePage(cur); err != nil {
			return err
		}
		cur = next
	}
	hf.headID = common.InvalidPageID

	hf.log.Info("heap file deleted")
	if !hf.temp {
		return hf.cat.Unregister(hf.name)
	}
	return nil
}

// getAvailPage returns a data page with at least reclen free bytes: the
// first qualifying entry in chain order, or a freshly created page when the
// walk finds none.
func (hf *HeapFile) getAvailPage(reclen int) (common.PageID, error) {
	// A zero-length record still consumes a slot entry; demand at least one
	// free byte so full pages are never targeted.
	if reclen == 0 {
		reclen = 1
	}
	cur := hf.headID
	for cur.IsValid() {
		frame, err := hf.pool.PinPage(cur)
		if err != nil {
			return common.InvalidPageID, err
		}
		dir := AsDirectoryPage(frame)
		for i := 0; i < dir.EntryCount(); i++ {
			if dir.FreeCountAt(i) >= reclen {
				pid := dir.PageIDAt(i)
				hf.pool.UnpinPage(frame, false)
				return pid, nil
			}
		}
		next := dir.NextPage()
		hf.pool.UnpinPage(frame, false)
		cur = next
	}
	return hf.insertPage()
}

// dirLoc locates one directory entry: the directory page holding it, the
// entry index within that page, and the preceding directory page (invalid
// for the head), needed when an emptied directory page is unlinked.
type dirLoc struct {
	dirID  common.PageID
	index  int
	prevID common.PageID
}

// findDirEntry walks the chain for the entry describing the given data page.
// A miss is reported as DirectoryConsistency: every data page owned by the
// file has exactly one entry, so a miss means either caller misuse or broken
// bookkeeping, and is never ignored.
func (hf *HeapFile) findDirEntry(pid common.PageID) (dirLoc, error) {
	prev := common.InvalidPageID
	cur := hf.headID
	for cur.IsValid() {
		frame, err := hf.pool.PinPage(cur)
		if err != nil {
			return dirLoc{}, err
		}
		dir := AsDirectoryPage(frame)
		for i := 0; i < dir.EntryCount(); i++ {
			if dir.PageIDAt(i) == pid {
				hf.pool.UnpinPage(frame, false)
				return dirLoc{dirID: cur, index: i, prevID: prev}, nil
			}
		}
		next := dir.NextPage()
		hf.pool.UnpinPage(frame, false)
		prev, cur = cur, next
	}
	return dirLoc{}, common.NewError(common.DirectoryConsistency,
		"%s has no directory entry", pid)
}

// updateDirEntry overwrites the record-count and free-byte mirror of the
// given data page's entry, applying deltaRec to the count. A count that
// reaches zero triggers deletePage.
func (hf *HeapFile) updateDirEntry(pid common.PageID, deltaRec, freeCnt int) error {
	loc, err := hf.findDirEntry(pid)
	if err != nil {
		return err
	}

	frame, err := hf.pool.PinPage(loc.dirID)
	if err != nil {
		return err
	}
	dir := AsDirectoryPage(frame)
	common.Assert(dir.PageIDAt(loc.index) == pid, "directory entry moved mid-operation")

	newCount := dir.RecCountAt(loc.index) + deltaRec
	common.Assert(newCount >= 0, "record count of %s went negative", pid)
	dir.SetRecCountAt(loc.index, newCount)
	dir.SetFreeCountAt(loc.index, freeCnt)
	hf.pool.UnpinPage(frame, true)

	if newCount == 0 {
		return hf.deletePage(pid, loc)
	}
	return nil
}

// insertPage creates a new empty data page, records it in the directory, and
// returns its id. The walk runs to the chain tail; the tail is extended with
// a fresh directory page when full. The data page is allocated before the
// directory is extended, so a failed extension can hand the data page back
// instead of leaving a dangling link. Every branch below returns.
func (hf *HeapFile) insertPage() (common.PageID, error) {
	common.Assert(hf.headID.IsValid(), "insertPage on a file without a directory head")

	cur := hf.headID
	var tail *storage.PageFrame
	for {
		frame, err := hf.pool.PinPage(cur)
		if err != nil {
			return common.InvalidPageID, err
		}
		next := AsDirectoryPage(frame).NextPage()
		if !next.IsValid() {
			tail = frame // keep the tail pinned
			break
		}
		hf.pool.UnpinPage(frame, false)
		cur = next
	}

	dataID, dataFrame, err := hf.pool.NewPage()
	if err != nil {
		hf.pool.UnpinPage(tail, false)
		return common.InvalidPageID, err
	}
	InitDataPage(dataFrame)
	freeCnt := AsDataPage(dataFrame).FreeSpace()
	hf.pool.UnpinPage(dataFrame, true)

	tailDir := AsDirectoryPage(tail)
	if tailDir.EntryCount() < MaxDirEntries {
		tailDir.AppendEntry(dataID, 0, freeCnt)
		hf.pool.UnpinPage(tail, true)
		hf.log.Debugf("new data page %s", dataID)
		return dataID, nil
	}

	// The tail is full: grow the chain by one directory page. Two directory
	// pages are pinned only while the forward link moves over.
	dirID, dirFrame, err := hf.pool.NewPage()
	if err != nil {
		hf.pool.UnpinPage(tail, false)
		_ = hf.pool.FreePage(dataID)
		return common.InvalidPageID, err
	}
	InitDirectoryPage(dirFrame)
	AsDirectoryPage(dirFrame).AppendEntry(dataID, 0, freeCnt)
	tailDir.SetNextPage(dirID)
	hf.pool.UnpinPage(tail, true)
	hf.pool.UnpinPage(dirFrame, true)
	hf.log.Debugf("directory chain grown with %s, new data page %s", dirID, dataID)
	return dataID, nil
}

// deletePage removes the directory entry at loc, frees the data page, and
// shrinks the chain: a directory page left with no entries is unlinked and
// freed, patching the predecessor's forward link, or advancing headID when
// the head itself empties. A sole empty head is kept so the file always has
// an anchor.
func (hf *HeapFile) deletePage(pid common.PageID, loc dirLoc) error {
	frame, err := hf.pool.PinPage(loc.dirID)
	if err != nil {
		return err
	}
	dir := AsDirectoryPage(frame)
	common.Assert(dir.PageIDAt(loc.index) == pid, "directory entry moved mid-operation")
	dir.Compact(loc.index)
	remaining := dir.EntryCount()
	next := dir.NextPage()
	hf.pool.UnpinPage(frame, true)

	if err := hf.pool.FreePage(pid); err != nil {
		return err
	}
	hf.log.Debugf("freed empty data page %s", pid)

	if remaining > 0 {
		return nil
	}

	if loc.dirID == hf.headID {
		if !next.IsValid() {
			// Sole, otherwise-empty head: the permanent anchor stays.
			return nil
		}
		hf.headID = next
		if !hf.temp {
			if err := hf.cat.Rebind(hf.name, next); err != nil {
				return err
			}
		}
		hf.log.Debugf("directory head advanced to %s", next)
		return hf.pool.FreePage(loc.dirID)
	}

	prevFrame, err := hf.pool.PinPage(loc.prevID)
	if err != nil {
		return err
	}
	prevDir := AsDirectoryPage(prevFrame)
	common.Assert(prevDir.NextPage() == loc.dirID, "directory chain changed mid-operation")
	prevDir.SetNextPage(next)
	hf.pool.UnpinPage(prevFrame, true)
	hf.log.Debugf("unlinked empty directory page %s", loc.dirID)
	return hf.pool.FreePage(loc.dirID)
}
