package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap_SetAndLoad(t *testing.T) {
	buf := make([]byte, 64)
	bm := AsBitmap(buf, 512)

	assert.False(t, bm.LoadBit(0))
	assert.False(t, bm.SetBit(0, true))
	assert.True(t, bm.LoadBit(0))
	assert.True(t, bm.SetBit(0, true), "setting a set bit reports prev=true")

	// Bits land in the backing buffer, not a private copy.
	assert.Equal(t, byte(1), buf[0])

	assert.True(t, bm.SetBit(0, false))
	assert.False(t, bm.LoadBit(0))
	assert.Equal(t, byte(0), buf[0])

	// Word boundaries.
	bm.SetBit(63, true)
	bm.SetBit(64, true)
	assert.True(t, bm.LoadBit(63))
	assert.True(t, bm.LoadBit(64))
	assert.False(t, bm.LoadBit(65))
}

func TestBitmap_CountSet(t *testing.T) {
	buf := make([]byte, 16)
	bm := AsBitmap(buf, 100) // partial last word

	assert.Equal(t, 0, bm.CountSet())
	for _, i := range []int{0, 1, 63, 64, 99} {
		bm.SetBit(i, true)
	}
	assert.Equal(t, 5, bm.CountSet())
}

func TestBitmap_FindZeroRun(t *testing.T) {
	buf := make([]byte, 32)
	bm := AsBitmap(buf, 256)

	assert.Equal(t, 0, bm.FindZeroRun(0, 1))
	assert.Equal(t, 5, bm.FindZeroRun(5, 1), "search honors the start offset")

	// Fill the first word; the search must skip over it whole.
	for i := 0; i < 64; i++ {
		bm.SetBit(i, true)
	}
	assert.Equal(t, 64, bm.FindZeroRun(0, 1))

	// A run may not include set bits.
	bm.SetBit(70, true)
	assert.Equal(t, 64, bm.FindZeroRun(0, 6))
	assert.Equal(t, 71, bm.FindZeroRun(0, 8))
}

func TestBitmap_FindZeroRun_Exhausted(t *testing.T) {
	buf := make([]byte, 8)
	bm := AsBitmap(buf, 64)

	for i := 0; i < 64; i++ {
		bm.SetBit(i, true)
	}
	assert.Equal(t, -1, bm.FindZeroRun(0, 1))

	bm.SetBit(63, false)
	assert.Equal(t, 63, bm.FindZeroRun(0, 1))
	assert.Equal(t, -1, bm.FindZeroRun(0, 2), "run does not fit before the end")
}

func TestBitmap_ViewIsShared(t *testing.T) {
	buf := make([]byte, 8)
	a := AsBitmap(buf, 64)
	b := AsBitmap(buf, 64)

	require.False(t, a.SetBit(17, true))
	assert.True(t, b.LoadBit(17), "views over the same buffer agree")
}
