package heap

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heapdb/heapdb/common"
)

func TestHeapScan_Empty(t *testing.T) {
	hf, _, _ := newTestHeap(t)

	scan := hf.OpenScan()
	assert.False(t, scan.Next())
	assert.NoError(t, scan.Err())
	require.NoError(t, scan.Close())
}

func TestHeapScan_EmptyTempFile(t *testing.T) {
	pool, _ := newTestStack(t)
	tmp := NewTempHeapFile(pool)

	// A lazy temp file has no directory at all; the scan just ends.
	scan := tmp.OpenScan()
	assert.False(t, scan.Next())
	assert.NoError(t, scan.Err())
	require.NoError(t, scan.Close())
	require.NoError(t, tmp.Release())
}

func TestHeapScan_VisitsEveryRecordOnce(t *testing.T) {
	hf, _, _ := newTestHeap(t)

	// Enough bulk to span several data pages.
	want := map[string]bool{}
	for i := 0; i < 200; i++ {
		rec := []byte(fmt.Sprintf("record-%04d-%s", i, bytes.Repeat([]byte{'p'}, 100)))
		_, err := hf.InsertRecord(rec)
		require.NoError(t, err)
		want[string(rec)] = false
	}

	scan := hf.OpenScan()
	defer scan.Close()
	for scan.Next() {
		key := string(scan.Record())
		seen, ok := want[key]
		require.True(t, ok, "unexpected record %q", key)
		require.False(t, seen, "record %q returned twice", key)
		want[key] = true
	}
	require.NoError(t, scan.Err())
	for key, seen := range want {
		assert.True(t, seen, "record %q never returned", key)
	}
}

func TestHeapScan_SkipsDeleted(t *testing.T) {
	hf, _, _ := newTestHeap(t)

	var rids []common.RecordID
	for i := 0; i < 20; i++ {
		rid, err := hf.InsertRecord([]byte{byte(i)})
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	for i := 0; i < 20; i += 2 {
		require.NoError(t, hf.DeleteRecord(rids[i]))
	}

	var got []byte
	scan := hf.OpenScan()
	defer scan.Close()
	for scan.Next() {
		require.Len(t, scan.Record(), 1)
		got = append(got, scan.Record()[0])
	}
	require.NoError(t, scan.Err())
	assert.Equal(t, []byte{1, 3, 5, 7, 9, 11, 13, 15, 17, 19}, got)
}

func TestHeapScan_RIDsAreSelectable(t *testing.T) {
	hf, _, _ := newTestHeap(t)

	for i := 0; i < 30; i++ {
		_, err := hf.InsertRecord(bytes.Repeat([]byte{byte(i)}, 700))
		require.NoError(t, err)
	}

	scan := hf.OpenScan()
	defer scan.Close()
	for scan.Next() {
		direct, err := hf.SelectRecord(scan.RID())
		require.NoError(t, err)
		assert.Equal(t, scan.Record(), direct)
	}
	require.NoError(t, scan.Err())
}

func TestHeapScan_RecordIsStable(t *testing.T) {
	hf, _, _ := newTestHeap(t)
	_, err := hf.InsertRecord([]byte("one"))
	require.NoError(t, err)
	_, err = hf.InsertRecord([]byte("two"))
	require.NoError(t, err)

	scan := hf.OpenScan()
	defer scan.Close()
	require.True(t, scan.Next())
	first := scan.Record()
	require.True(t, scan.Next())

	// Advancing must not clobber a previously returned slice.
	assert.Equal(t, []byte("one"), first)
	assert.Equal(t, []byte("two"), scan.Record())
}

func TestHeapScan_CloseIsIdempotent(t *testing.T) {
	hf, _, _ := newTestHeap(t)
	_, err := hf.InsertRecord([]byte("x"))
	require.NoError(t, err)

	scan := hf.OpenScan()
	require.True(t, scan.Next())
	require.NoError(t, scan.Close())
	require.NoError(t, scan.Close())
	assert.False(t, scan.Next(), "closed scan stays exhausted")
}

func TestHeapScan_MidScanCloseUnpins(t *testing.T) {
	hf, _, _ := newTestHeap(t)

	var rids []common.RecordID
	for i := 0; i < 10; i++ {
		rid, err := hf.InsertRecord([]byte("rec"))
		require.NoError(t, err)
		rids = append(rids, rid)
	}

	scan := hf.OpenScan()
	require.True(t, scan.Next())
	require.NoError(t, scan.Close())

	// With the scan's pin gone, the pages can be emptied and freed.
	for _, rid := range rids {
		require.NoError(t, hf.DeleteRecord(rid))
	}
}
