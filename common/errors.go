package common

import (
	"errors"
	"fmt"
)

type ErrorCode int

const (
	// RecordTooLarge indicates a record that cannot fit on an empty data
	// page. It is raised before any page is touched.
	RecordTooLarge ErrorCode = iota
	// InvalidRecordID indicates a select/update/delete aimed at a page or
	// slot that does not hold a live record.
	InvalidRecordID
	// DirectoryConsistency indicates that a data page referenced by an
	// operation has no directory entry, or that internal free-space
	// bookkeeping contradicts the page contents.
	DirectoryConsistency
	// AllocationFailure indicates the page allocator could not supply a new
	// page. It is never retried internally.
	AllocationFailure
	// DuplicateObject indicates an attempt to register a file name that the
	// catalog already holds.
	DuplicateObject
	// NoSuchObject indicates a catalog request for a name that is not
	// registered.
	NoSuchObject
)

func (c ErrorCode) String() string {
	switch c {
	case RecordTooLarge:
		return "RecordTooLarge"
	case InvalidRecordID:
		return "InvalidRecordID"
	case DirectoryConsistency:
		return "DirectoryConsistency"
	case AllocationFailure:
		return "AllocationFailure"
	case DuplicateObject:
		return "DuplicateObject"
	case NoSuchObject:
		return "NoSuchObject"
	}
	return "unknown"
}

// StorageError is the coded error type of the storage engine. The code lets
// callers branch on the failure kind without string matching.
type StorageError struct {
	Code   ErrorCode
	Detail string
}

func (e StorageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// NewError builds a StorageError with a formatted detail message.
func NewError(code ErrorCode, format string, args ...any) error {
	return StorageError{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err is, or wraps, a StorageError with the given
// code.
func HasCode(err error, code ErrorCode) bool {
	var se StorageError
	return errors.As(err, &se) && se.Code == code
}
