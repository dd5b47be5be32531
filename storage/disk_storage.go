package storage

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/heapdb/heapdb/common"
)

// DiskFile performs page-granular I/O against a single OS file. Reads and
// writes to different pages may run concurrently; file extension is
// serialized.
type DiskFile struct {
	file *os.File
	// numPages caches the file length in pages so reads do not stat().
	numPages atomic.Int32
	// allocMu serializes Truncate-based extension.
	allocMu sync.Mutex
}

// OpenDiskFile opens (or creates) the database file at path.
func OpenDiskFile(path string) (*DiskFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open database file %s", path)
	}
	df, err := NewDiskFile(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return df, nil
}

// NewDiskFile wraps an already open OS file. The file length must be a
// multiple of the page size.
func NewDiskFile(file *os.File) (*DiskFile, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat database file")
	}
	df := &DiskFile{file: file}
	df.numPages.Store(int32(stat.Size() / int64(common.PageSize)))
	return df, nil
}

// Allocate grows the file by numPages zero-filled pages and returns the page
// number of the first new page.
func (f *DiskFile) Allocate(numPages int) (common.PageID, error) {
	common.Assert(numPages > 0, "allocation count must be positive")
	f.allocMu.Lock()
	defer f.allocMu.Unlock()

	current := f.numPages.Load()
	newTotal := current + int32(numPages)
	if err := f.file.Truncate(int64(newTotal) * int64(common.PageSize)); err != nil {
		return common.InvalidPageID, common.NewError(common.AllocationFailure,
			"cannot extend database file to %d pages: %v", newTotal, err)
	}
	f.numPages.Store(newTotal)
	return common.PageID(current), nil
}

// ReadPage reads the page into frame, which must be exactly one page long.
func (f *DiskFile) ReadPage(pid common.PageID, frame []byte) error {
	common.Assert(len(frame) == common.PageSize, "read buffer must be one page")
	if !pid.IsValid() || int32(pid) >= f.numPages.Load() {
		return errors.Errorf("read out of bounds: %s (file has %d pages)", pid, f.numPages.Load())
	}
	_, err := f.file.ReadAt(frame, int64(pid)*int64(common.PageSize))
	return errors.Wrapf(err, "read %s", pid)
}

// WritePage writes frame to the page. The page must already be allocated;
// WritePage never extends the file.
func (f *DiskFile) WritePage(pid common.PageID, frame []byte) error {
	common.Assert(len(frame) == common.PageSize, "write buffer must be one page")
	if !pid.IsValid() || int32(pid) >= f.numPages.Load() {
		return errors.Errorf("write out of bounds: %s (file has %d pages)", pid, f.numPages.Load())
	}
	_, err := f.file.WriteAt(frame, int64(pid)*int64(common.PageSize))
	return errors.Wrapf(err, "write %s", pid)
}

// Sync flushes buffered writes to stable storage.
func (f *DiskFile) Sync() error {
	return errors.Wrap(f.file.Sync(), "sync database file")
}

// Close closes the underlying OS file.
func (f *DiskFile) Close() error {
	return f.file.Close()
}

// NumPages returns the current file length in pages.
func (f *DiskFile) NumPages() int {
	return int(f.numPages.Load())
}
