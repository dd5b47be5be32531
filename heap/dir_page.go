// Package heap implements heap files: unordered collections of
// variable-length records stored on slotted data pages, indexed by a chain of
// directory pages that summarize per-page free space.
package heap

import (
	"encoding/binary"

	"github.com/heapdb/heapdb/common"
	"github.com/heapdb/heapdb/storage"
)

// Page type tags stored in the first header word of every heap-managed page.
// A zeroed (never initialized) page has type 0 and is rejected by record
// operations.
const (
	DirPageType  uint16 = 10
	DataPageType uint16 = 11
)

const (
	dirOffEntryCount = 2
	dirOffNextPage   = 4
	dirHeaderSize    = 8

	// pageID(4) + recCount(2) + freeCnt(2)
	dirEntrySize = 8
)

// MaxDirEntries is the number of data-page entries one directory page holds.
const MaxDirEntries = (common.PageSize - dirHeaderSize) / dirEntrySize

// PageType reads the type tag of a pinned page.
func PageType(frame *storage.PageFrame) uint16 {
	return binary.LittleEndian.Uint16(frame.Bytes[0:])
}

// DirectoryPage is a view over a pinned frame holding one page of the
// directory chain: a table of (dataPageID, recordCount, freeBytes) entries
// plus a forward link to the next directory page.
//
// Entry order is insertion order and carries no meaning beyond
// first-found-wins during free-space search.
type DirectoryPage struct {
	frame *storage.PageFrame
}

// InitDirectoryPage formats a fresh frame as an empty directory page with no
// successor.
func InitDirectoryPage(frame *storage.PageFrame) {
	binary.LittleEndian.PutUint16(frame.Bytes[0:], DirPageType)
	binary.LittleEndian.PutUint16(frame.Bytes[dirOffEntryCount:], 0)
	next := int32(common.InvalidPageID)
	binary.LittleEndian.PutUint32(frame.Bytes[dirOffNextPage:], uint32(next))
}

// AsDirectoryPage casts a pinned frame to a DirectoryPage view.
func AsDirectoryPage(frame *storage.PageFrame) DirectoryPage {
	common.Assert(PageType(frame) == DirPageType, "page is not a directory page")
	return DirectoryPage{frame: frame}
}

// EntryCount returns the number of entries in use.
func (dp DirectoryPage) EntryCount() int {
	return int(binary.LittleEndian.Uint16(dp.frame.Bytes[dirOffEntryCount:]))
}

func (dp DirectoryPage) setEntryCount(n int) {
	common.Assert(n >= 0 && n <= MaxDirEntries, "directory entry count %d out of range", n)
	binary.LittleEndian.PutUint16(dp.frame.Bytes[dirOffEntryCount:], uint16(n))
}

// NextPage returns the forward link, or InvalidPageID at the chain tail.
func (dp DirectoryPage) NextPage() common.PageID {
	return common.PageID(int32(binary.LittleEndian.Uint32(dp.frame.Bytes[dirOffNextPage:])))
}

// SetNextPage updates the forward link.
func (dp DirectoryPage) SetNextPage(pid common.PageID) {
	binary.LittleEndian.PutUint32(dp.frame.Bytes[dirOffNextPage:], uint32(int32(pid)))
}

func (dp DirectoryPage) entryBase(i int) int {
	common.Assert(i >= 0 && i < dp.EntryCount(), "directory entry index %d out of range", i)
	return dirHeaderSize + i*dirEntrySize
}

// PageIDAt returns the data page id of entry i.
func (dp DirectoryPage) PageIDAt(i int) common.PageID {
	return common.PageID(int32(binary.LittleEndian.Uint32(dp.frame.Bytes[dp.entryBase(i):])))
}

// RecCountAt returns the record count mirrored in entry i.
func (dp DirectoryPage) RecCountAt(i int) int {
	return int(binary.LittleEndian.Uint16(dp.frame.Bytes[dp.entryBase(i)+4:]))
}

// SetRecCountAt overwrites the record count of entry i.
func (dp DirectoryPage) SetRecCountAt(i, n int) {
	common.Assert(n >= 0, "negative record count %d", n)
	binary.LittleEndian.PutUint16(dp.frame.Bytes[dp.entryBase(i)+4:], uint16(n))
}

// FreeCountAt returns the free-byte count mirrored in entry i.
func (dp DirectoryPage) FreeCountAt(i int) int {
	return int(binary.LittleEndian.Uint16(dp.frame.Bytes[dp.entryBase(i)+6:]))
}

// SetFreeCountAt overwrites the free-byte count of entry i.
func (dp DirectoryPage) SetFreeCountAt(i, n int) {
	common.Assert(n >= 0 && n < common.PageSize, "free count %d out of range", n)
	binary.LittleEndian.PutUint16(dp.frame.Bytes[dp.entryBase(i)+6:], uint16(n))
}

// AppendEntry adds an entry after the last one in use. The page must not be
// full.
func (dp DirectoryPage) AppendEntry(pid common.PageID, recCount, freeCnt int) {
	n := dp.EntryCount()
	common.Assert(n < MaxDirEntries, "appending to a full directory page")
	dp.setEntryCount(n + 1)
	base := dp.entryBase(n)
	binary.LittleEndian.PutUint32(dp.frame.Bytes[base:], uint32(int32(pid)))
	dp.SetRecCountAt(n, recCount)
	dp.SetFreeCountAt(n, freeCnt)
}

// Compact removes entry i, shifting subsequent entries left by one.
func (dp DirectoryPage) Compact(i int) {
	n := dp.EntryCount()
	common.Assert(i >= 0 && i < n, "compacting directory entry %d out of range", i)
	copy(dp.frame.Bytes[dirHeaderSize+i*dirEntrySize:dirHeaderSize+(n-1)*dirEntrySize],
		dp.frame.Bytes[dirHeaderSize+(i+1)*dirEntrySize:dirHeaderSize+n*dirEntrySize])
	dp.setEntryCount(n - 1)
}
