package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heapdb/heapdb/common"
)

func newTestDiskManager(t *testing.T) *DiskManager {
	t.Helper()
	dm, err := NewDiskManager(newTestDiskFile(t))
	require.NoError(t, err)
	return dm
}

func TestDiskManager_InitializesSpaceMap(t *testing.T) {
	df := newTestDiskFile(t)
	dm, err := NewDiskManager(df)
	require.NoError(t, err)

	// Page 0 is the space map; nothing else is allocated yet.
	assert.Equal(t, 1, df.NumPages())
	allocated, err := dm.AllocatedPages()
	require.NoError(t, err)
	assert.Equal(t, 0, allocated)
}

func TestDiskManager_AllocateAndFree(t *testing.T) {
	dm := newTestDiskManager(t)

	first, err := dm.AllocatePages(1)
	require.NoError(t, err)
	assert.Equal(t, common.PageID(1), first, "page 0 is the space map")

	second, err := dm.AllocatePages(1)
	require.NoError(t, err)
	assert.Equal(t, common.PageID(2), second)

	ok, err := dm.IsAllocated(first)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, dm.FreePage(first))
	ok, err = dm.IsAllocated(first)
	require.NoError(t, err)
	assert.False(t, ok)

	// The freed page is recycled before the file grows.
	third, err := dm.AllocatePages(1)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestDiskManager_DoubleFreeFails(t *testing.T) {
	dm := newTestDiskManager(t)

	pid, err := dm.AllocatePages(1)
	require.NoError(t, err)
	require.NoError(t, dm.FreePage(pid))

	err = dm.FreePage(pid)
	require.Error(t, err)
	assert.True(t, common.HasCode(err, common.DirectoryConsistency))
}

func TestDiskManager_ContiguousRuns(t *testing.T) {
	dm := newTestDiskManager(t)

	run, err := dm.AllocatePages(4)
	require.NoError(t, err)
	assert.Equal(t, common.PageID(1), run)

	// Punch a 2-page hole; a 3-page run must skip it.
	require.NoError(t, dm.FreePage(2))
	require.NoError(t, dm.FreePage(3))

	big, err := dm.AllocatePages(3)
	require.NoError(t, err)
	assert.Equal(t, common.PageID(5), big)

	small, err := dm.AllocatePages(2)
	require.NoError(t, err)
	assert.Equal(t, common.PageID(2), small, "hole is reused for a fitting run")
}

func TestDiskManager_AllocatedPagesAccounting(t *testing.T) {
	dm := newTestDiskManager(t)

	var pids []common.PageID
	for i := 0; i < 10; i++ {
		pid, err := dm.AllocatePages(1)
		require.NoError(t, err)
		pids = append(pids, pid)
	}
	allocated, err := dm.AllocatedPages()
	require.NoError(t, err)
	assert.Equal(t, 10, allocated)

	for _, pid := range pids {
		require.NoError(t, dm.FreePage(pid))
	}
	allocated, err = dm.AllocatedPages()
	require.NoError(t, err)
	assert.Equal(t, 0, allocated, "all pages returned")
}

func TestDiskManager_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	df, err := OpenDiskFile(dir + "/test.dat")
	require.NoError(t, err)
	dm, err := NewDiskManager(df)
	require.NoError(t, err)

	pid, err := dm.AllocatePages(1)
	require.NoError(t, err)
	require.NoError(t, df.Close())

	df, err = OpenDiskFile(dir + "/test.dat")
	require.NoError(t, err)
	defer df.Close()
	dm, err = NewDiskManager(df)
	require.NoError(t, err)

	ok, err := dm.IsAllocated(pid)
	require.NoError(t, err)
	assert.True(t, ok, "allocation state is durable")
}
