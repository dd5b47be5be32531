package storage

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heapdb/heapdb/common"
)

func newTestPool(t *testing.T, numFrames int) *BufferPool {
	t.Helper()
	return NewBufferPool(numFrames, newTestDiskManager(t))
}

func TestBufferPool_PinUnpinRoundtrip(t *testing.T) {
	bp := newTestPool(t, 4)

	pid, frame, err := bp.NewPage()
	require.NoError(t, err)

	copy(frame.Bytes[:], []byte("hello frames"))
	bp.UnpinPage(frame, true)

	frame, err = bp.PinPage(pid)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello frames"), frame.Bytes[:12])
	bp.UnpinPage(frame, false)
}

func TestBufferPool_DirtyPageSurvivesEviction(t *testing.T) {
	bp := newTestPool(t, 2)

	pid, frame, err := bp.NewPage()
	require.NoError(t, err)
	binary.LittleEndian.PutUint64(frame.Bytes[:], 0xDEADBEEF)
	bp.UnpinPage(frame, true)

	// Churn through enough pages to force the dirty page out of both frames.
	for i := 0; i < 8; i++ {
		p, f, err := bp.NewPage()
		require.NoError(t, err)
		bp.UnpinPage(f, false)
		require.NoError(t, bp.FreePage(p))
	}

	frame, err = bp.PinPage(pid)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xDEADBEEF), binary.LittleEndian.Uint64(frame.Bytes[:]),
		"dirty page written back before eviction")
	bp.UnpinPage(frame, false)
}

func TestBufferPool_PinnedPagesStayResident(t *testing.T) {
	bp := newTestPool(t, 4)

	// Pin three pages and keep them pinned.
	var held []*PageFrame
	var heldIDs []common.PageID
	for i := 0; i < 3; i++ {
		pid, frame, err := bp.NewPage()
		require.NoError(t, err)
		frame.Bytes[0] = byte(i + 1)
		held = append(held, frame)
		heldIDs = append(heldIDs, pid)
	}

	// The remaining frame churns; the pinned ones must not be disturbed.
	for i := 0; i < 8; i++ {
		p, f, err := bp.NewPage()
		require.NoError(t, err)
		bp.UnpinPage(f, false)
		require.NoError(t, bp.FreePage(p))
	}

	for i, frame := range held {
		assert.Equal(t, heldIDs[i], frame.PageID())
		assert.Equal(t, byte(i+1), frame.Bytes[0])
		bp.UnpinPage(frame, true)
	}
}

func TestBufferPool_FreePageDropsFrame(t *testing.T) {
	bp := newTestPool(t, 4)

	pid, frame, err := bp.NewPage()
	require.NoError(t, err)
	frame.Bytes[0] = 0xAA
	bp.UnpinPage(frame, true)

	require.NoError(t, bp.FreePage(pid))

	// The id gets recycled; its content must come back zeroed, not stale.
	pid2, err := bp.DiskManager().AllocatePages(1)
	require.NoError(t, err)
	require.Equal(t, pid, pid2)
	frame, err = bp.PinPage(pid2)
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame.Bytes[0], "dropped frame is not served for the recycled id")
	bp.UnpinPage(frame, false)
}

func TestBufferPool_FlushAll(t *testing.T) {
	bp := newTestPool(t, 4)
	dm := bp.DiskManager()

	pid, frame, err := bp.NewPage()
	require.NoError(t, err)
	copy(frame.Bytes[:], []byte("flushed"))
	bp.UnpinPage(frame, true)

	require.NoError(t, bp.FlushAll())

	// Bypass the pool: the image must be on disk.
	var buf [common.PageSize]byte
	require.NoError(t, dm.ReadPage(pid, buf[:]))
	assert.Equal(t, []byte("flushed"), buf[:7])
}

func TestBufferPool_ConcurrentPins(t *testing.T) {
	bp := newTestPool(t, 8)

	const pages = 32
	var pids []common.PageID
	for i := 0; i < pages; i++ {
		pid, frame, err := bp.NewPage()
		require.NoError(t, err)
		binary.LittleEndian.PutUint32(frame.Bytes[:], uint32(i))
		bp.UnpinPage(frame, true)
		pids = append(pids, pid)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				idx := (seed*31 + i*17) % pages
				frame, err := bp.PinPage(pids[idx])
				if err != nil {
					t.Error(err)
					return
				}
				if got := binary.LittleEndian.Uint32(frame.Bytes[:]); got != uint32(idx) {
					t.Errorf("page %v holds %d, want %d", pids[idx], got, idx)
				}
				bp.UnpinPage(frame, false)
			}
		}(g)
	}
	wg.Wait()
}
