package common

import "fmt"

// PageSize is the fixed size of every page managed by the storage layer.
const PageSize = 4096

// PageID is the number of a page within the database file.
type PageID int32

// InvalidPageID is the "no page" sentinel. It terminates the directory chain
// of a heap file and marks not-found results.
const InvalidPageID PageID = -1

// IsValid reports whether the PageID refers to an actual page.
func (p PageID) IsValid() bool {
	return p >= 0
}

func (p PageID) String() string {
	if !p.IsValid() {
		return "page(invalid)"
	}
	return fmt.Sprintf("page(%d)", int32(p))
}

// RecordID addresses one record as a (page, slot) pair. The storage layer
// treats it as opaque except for the page component, which routes operations
// to the owning data page.
type RecordID struct {
	PageID
	Slot int32
}

func (r RecordID) String() string {
	return fmt.Sprintf("rid(%s, %d)", r.PageID, r.Slot)
}
