package heap

import (
	"encoding/binary"
	"errors"

	"github.com/heapdb/heapdb/common"
	"github.com/heapdb/heapdb/storage"
)

// DataPage layout:
//
//	pageType(2) | slotCount(2) | freeStart(2) | freeEnd(2) | payload ->  ... <- slot directory
//
// Record bytes grow forward from the header; the slot directory grows
// backward from the page end, one (offset, length) pair per slot. Slot
// numbers are stable for the lifetime of a record, so deletion marks the slot
// rather than shifting the directory. Freed payload space is reclaimed by
// in-page compaction when a later insert needs it.
const (
	dataOffSlotCount = 2
	dataOffFreeStart = 4
	dataOffFreeEnd   = 6
	dataHeaderSize   = 8

	slotEntrySize = 4

	// deletedSlotOffset marks a dead slot; payload offsets are always below
	// the page size, so the value cannot collide with a live record.
	deletedSlotOffset = 0xFFFF
)

// MaxRecordSize is the largest record that fits on an empty data page.
const MaxRecordSize = common.PageSize - dataHeaderSize - slotEntrySize

// errPageFull reports an insert into a page without room for the record.
// The heap file only targets pages whose directory entry shows enough free
// space, so this surfacing indicates stale bookkeeping.
var errPageFull = errors.New("data page has insufficient free space")

// DataPage is a view over a pinned frame holding record bytes in a slotted
// layout.
type DataPage struct {
	frame *storage.PageFrame
}

// InitDataPage formats a fresh frame as an empty data page.
func InitDataPage(frame *storage.PageFrame) {
	binary.LittleEndian.PutUint16(frame.Bytes[0:], DataPageType)
	binary.LittleEndian.PutUint16(frame.Bytes[dataOffSlotCount:], 0)
	binary.LittleEndian.PutUint16(frame.Bytes[dataOffFreeStart:], dataHeaderSize)
	binary.LittleEndian.PutUint16(frame.Bytes[dataOffFreeEnd:], uint16(common.PageSize))
}

// AsDataPage casts a pinned frame to a DataPage view.
func AsDataPage(frame *storage.PageFrame) DataPage {
	common.Assert(PageType(frame) == DataPageType, "page is not a data page")
	return DataPage{frame: frame}
}

// SlotCount returns the number of slots in the directory, live or deleted.
func (dp DataPage) SlotCount() int {
	return int(binary.LittleEndian.Uint16(dp.frame.Bytes[dataOffSlotCount:]))
}

func (dp DataPage) setSlotCount(n int) {
	binary.LittleEndian.PutUint16(dp.frame.Bytes[dataOffSlotCount:], uint16(n))
}

func (dp DataPage) freeStart() int {
	return int(binary.LittleEndian.Uint16(dp.frame.Bytes[dataOffFreeStart:]))
}

func (dp DataPage) setFreeStart(n int) {
	binary.LittleEndian.PutUint16(dp.frame.Bytes[dataOffFreeStart:], uint16(n))
}

func (dp DataPage) freeEnd() int {
	return int(binary.LittleEndian.Uint16(dp.frame.Bytes[dataOffFreeEnd:]))
}

func (dp DataPage) setFreeEnd(n int) {
	binary.LittleEndian.PutUint16(dp.frame.Bytes[dataOffFreeEnd:], uint16(n))
}

func slotPos(i int) int {
	return common.PageSize - (i+1)*slotEntrySize
}

func (dp DataPage) slotAt(i int) (off, length int) {
	pos := slotPos(i)
	off = int(binary.LittleEndian.Uint16(dp.frame.Bytes[pos:]))
	length = int(binary.LittleEndian.Uint16(dp.frame.Bytes[pos+2:]))
	return off, length
}

func (dp DataPage) setSlot(i, off, length int) {
	pos := slotPos(i)
	binary.LittleEndian.PutUint16(dp.frame.Bytes[pos:], uint16(off))
	binary.LittleEndian.PutUint16(dp.frame.Bytes[pos+2:], uint16(length))
}

// liveBytes sums the payload lengths of live slots and reports whether any
// deleted slot is available for reuse.
func (dp DataPage) liveBytes() (live int, reusable bool) {
	for i := 0; i < dp.SlotCount(); i++ {
		off, length := dp.slotAt(i)
		if off == deletedSlotOffset {
			reusable = true
		} else {
			live += length
		}
	}
	return live, reusable
}

// FreeSpace returns the number of bytes available for one new record,
// counting payload space reclaimable by compaction. This reading is the
// authoritative value mirrored into the owning directory entry.
func (dp DataPage) FreeSpace() int {
	live, reusable := dp.liveBytes()
	free := common.PageSize - dataHeaderSize - dp.SlotCount()*slotEntrySize - live
	if !reusable {
		free -= slotEntrySize
	}
	if free < 0 {
		free = 0
	}
	return free
}

// RecordCount returns the number of live records on the page.
func (dp DataPage) RecordCount() int {
	count := 0
	for i := 0; i < dp.SlotCount(); i++ {
		if off, _ := dp.slotAt(i); off != deletedSlotOffset {
			count++
		}
	}
	return count
}

// compactPayload repacks live records to the front of the payload region,
// reclaiming space left by deleted and relocated records. Slot numbers are
// unchanged.
func (dp DataPage) compactPayload() {
	var buf [common.PageSize]byte
	cursor := dataHeaderSize
	for i := 0; i < dp.SlotCount(); i++ {
		off, length := dp.slotAt(i)
		if off == deletedSlotOffset {
			continue
		}
		copy(buf[cursor:], dp.frame.Bytes[off:off+length])
		dp.setSlot(i, cursor, length)
		cursor += length
	}
	copy(dp.frame.Bytes[dataHeaderSize:cursor], buf[dataHeaderSize:cursor])
	dp.setFreeStart(cursor)
}

// Insert stores the record and returns its slot number, reusing a deleted
// slot when one exists.
func (dp DataPage) Insert(rec []byte) (int32, error) {
	if len(rec) > MaxRecordSize {
		return 0, common.NewError(common.RecordTooLarge,
			"record of %d bytes exceeds page capacity %d", len(rec), MaxRecordSize)
	}
	if dp.FreeSpace() < len(rec) {
		return 0, errPageFull
	}

	slot := -1
	for i := 0; i < dp.SlotCount(); i++ {
		if off, _ := dp.slotAt(i); off == deletedSlotOffset {
			slot = i
			break
		}
	}

	needed := len(rec)
	if slot == -1 {
		needed += slotEntrySize
	}
	if dp.freeEnd()-dp.freeStart() < needed {
		dp.compactPayload()
		if dp.freeEnd()-dp.freeStart() < needed {
			// FreeSpace clamps at zero, so a zero-length record can pass the
			// check above on a page without room for its slot entry.
			return 0, errPageFull
		}
	}

	if slot == -1 {
		slot = dp.SlotCount()
		dp.setSlotCount(slot + 1)
		dp.setFreeEnd(dp.freeEnd() - slotEntrySize)
	}

	start := dp.freeStart()
	copy(dp.frame.Bytes[start:], rec)
	dp.setSlot(slot, start, len(rec))
	dp.setFreeStart(start + len(rec))
	return int32(slot), nil
}

// checkLive validates that the slot holds a live record.
func (dp DataPage) checkLive(slot int32) error {
	if slot < 0 || int(slot) >= dp.SlotCount() {
		return common.NewError(common.InvalidRecordID, "slot %d out of range", slot)
	}
	if off, _ := dp.slotAt(int(slot)); off == deletedSlotOffset {
		return common.NewError(common.InvalidRecordID, "slot %d holds no record", slot)
	}
	return nil
}

// Select returns a copy of the record bytes in the slot.
func (dp DataPage) Select(slot int32) ([]byte, error) {
	if err := dp.checkLive(slot); err != nil {
		return nil, err
	}
	off, length := dp.slotAt(int(slot))
	out := make([]byte, length)
	copy(out, dp.frame.Bytes[off:off+length])
	return out, nil
}

// Update replaces the record in the slot. Shrinking updates happen in place;
// growing updates relocate within the page and fail with RecordTooLarge if
// the page cannot hold the new length even after compaction.
func (dp DataPage) Update(slot int32, rec []byte) error {
	if err := dp.checkLive(slot); err != nil {
		return err
	}
	off, oldLen := dp.slotAt(int(slot))

	if len(rec) <= oldLen {
		copy(dp.frame.Bytes[off:], rec)
		dp.setSlot(int(slot), off, len(rec))
		return nil
	}

	live, _ := dp.liveBytes()
	avail := common.PageSize - dataHeaderSize - dp.SlotCount()*slotEntrySize - (live - oldLen)
	if len(rec) > avail {
		return common.NewError(common.RecordTooLarge,
			"updated record of %d bytes does not fit (%d available)", len(rec), avail)
	}

	// Drop the old bytes before compacting so their space is reclaimed.
	dp.setSlot(int(slot), deletedSlotOffset, 0)
	if dp.freeEnd()-dp.freeStart() < len(rec) {
		dp.compactPayload()
	}
	start := dp.freeStart()
	copy(dp.frame.Bytes[start:], rec)
	dp.setSlot(int(slot), start, len(rec))
	dp.setFreeStart(start + len(rec))
	return nil
}

// Delete frees the slot. The payload bytes are reclaimed lazily by
// compaction.
func (dp DataPage) Delete(slot int32) error {
	if err := dp.checkLive(slot); err != nil {
		return err
	}
	dp.setSlot(int(slot), deletedSlotOffset, 0)
	return nil
}

// IsLive reports whether the slot holds a live record. Used by scans to skip
// deleted slots without error plumbing.
func (dp DataPage) IsLive(slot int32) bool {
	if slot < 0 || int(slot) >= dp.SlotCount() {
		return false
	}
	off, _ := dp.slotAt(int(slot))
	return off != deletedSlotOffset
}
