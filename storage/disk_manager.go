package storage

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/heapdb/heapdb/common"
	"github.com/heapdb/heapdb/logger"
)

// SpaceMapSlots is the number of pages tracked by one space-map page,
// including the map page itself.
const SpaceMapSlots = common.PageSize * 8

// DiskManager allocates and frees pages in the database file. Allocation
// state lives in space-map pages: every SpaceMapSlots pages, one page is a
// bitmap in which bit i records whether page mapPage+i is allocated. Bit 0
// covers the map page itself and is always set.
//
// Space-map pages are read and written directly, bypassing the buffer pool,
// so that allocation never competes with callers for frames.
type DiskManager struct {
	file *DiskFile
	mu   sync.Mutex
	log  *logrus.Entry
}

// NewDiskManager wraps the database file, initializing the first space-map
// page if the file is empty.
func NewDiskManager(file *DiskFile) (*DiskManager, error) {
	dm := &DiskManager{file: file, log: logger.WithComponent("disk")}
	if file.NumPages() == 0 {
		if err := dm.appendMapPage(); err != nil {
			return nil, err
		}
	}
	return dm, nil
}

// appendMapPage extends the file by one page and initializes it as a space
// map. The new map page must land exactly on a map boundary.
func (dm *DiskManager) appendMapPage() error {
	pid, err := dm.file.Allocate(1)
	if err != nil {
		return err
	}
	common.Assert(int32(pid)%SpaceMapSlots == 0, "space-map page %s off the map stride", pid)

	var buf [common.PageSize]byte
	bm := AsBitmap(buf[:], SpaceMapSlots)
	bm.SetBit(0, true)
	return dm.file.WritePage(pid, buf[:])
}

func mapPageFor(pid common.PageID) common.PageID {
	return pid - pid%SpaceMapSlots
}

// AllocatePages reserves a contiguous run of count pages and returns the
// first page id. The file grows as needed; a run never crosses a space-map
// boundary. Failures surface as AllocationFailure.
func (dm *DiskManager) AllocatePages(count int) (common.PageID, error) {
	common.Assert(count > 0 && count < SpaceMapSlots, "allocation run of %d pages out of range", count)
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var buf [common.PageSize]byte
	for mapPid := common.PageID(0); ; mapPid += SpaceMapSlots {
		if int(mapPid) == dm.file.NumPages() {
			// Every tracked page so far is allocated; open a new map interval.
			if err := dm.appendMapPage(); err != nil {
				return common.InvalidPageID, err
			}
		}
		if err := dm.file.ReadPage(mapPid, buf[:]); err != nil {
			return common.InvalidPageID, err
		}
		bm := AsBitmap(buf[:], SpaceMapSlots)

		off := bm.FindZeroRun(1, count)
		if off == -1 {
			continue
		}

		first := mapPid + common.PageID(off)
		last := first + common.PageID(count) - 1
		if int(last) >= dm.file.NumPages() {
			if _, err := dm.file.Allocate(int(last) - dm.file.NumPages() + 1); err != nil {
				return common.InvalidPageID, err
			}
		}
		for i := 0; i < count; i++ {
			bm.SetBit(off+i, true)
		}
		if err := dm.file.WritePage(mapPid, buf[:]); err != nil {
			return common.InvalidPageID, err
		}
		dm.log.Debugf("allocated %d page(s) starting at %s", count, first)
		return first, nil
	}
}

// FreePage returns the page to the allocator. Freeing a page that is not
// allocated indicates corrupted bookkeeping and fails with
// DirectoryConsistency.
func (dm *DiskManager) FreePage(pid common.PageID) error {
	mapPid := mapPageFor(pid)
	common.Assert(pid != mapPid, "cannot free space-map page %s", pid)
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var buf [common.PageSize]byte
	if err := dm.file.ReadPage(mapPid, buf[:]); err != nil {
		return err
	}
	bm := AsBitmap(buf[:], SpaceMapSlots)
	rel := int(pid - mapPid)
	if !bm.LoadBit(rel) {
		return common.NewError(common.DirectoryConsistency, "freeing unallocated %s", pid)
	}
	bm.SetBit(rel, false)
	if err := dm.file.WritePage(mapPid, buf[:]); err != nil {
		return err
	}
	dm.log.Debugf("freed %s", pid)
	return nil
}

// IsAllocated reports whether the page is currently allocated.
func (dm *DiskManager) IsAllocated(pid common.PageID) (bool, error) {
	if !pid.IsValid() || int(pid) >= dm.file.NumPages() {
		return false, nil
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var buf [common.PageSize]byte
	mapPid := mapPageFor(pid)
	if err := dm.file.ReadPage(mapPid, buf[:]); err != nil {
		return false, err
	}
	bm := AsBitmap(buf[:], SpaceMapSlots)
	return bm.LoadBit(int(pid - mapPid)), nil
}

// AllocatedPages returns the number of pages currently allocated to callers,
// excluding the space-map pages themselves. Used for leak accounting.
func (dm *DiskManager) AllocatedPages() (int, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var buf [common.PageSize]byte
	total := 0
	for mapPid := common.PageID(0); int(mapPid) < dm.file.NumPages(); mapPid += SpaceMapSlots {
		if err := dm.file.ReadPage(mapPid, buf[:]); err != nil {
			return 0, err
		}
		bm := AsBitmap(buf[:], SpaceMapSlots)
		total += bm.CountSet() - 1 // the map page's own bit
	}
	return total, nil
}

// ReadPage reads an allocated page image from disk.
func (dm *DiskManager) ReadPage(pid common.PageID, frame []byte) error {
	return dm.file.ReadPage(pid, frame)
}

// WritePage writes a page image back to disk.
func (dm *DiskManager) WritePage(pid common.PageID, frame []byte) error {
	return dm.file.WritePage(pid, frame)
}
