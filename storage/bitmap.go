package storage

import (
	"math/bits"
	"unsafe"

	"github.com/heapdb/heapdb/common"
)

// Bitmap is a structured view over a byte buffer, used by the space map to
// track page allocation. It does not own the bytes; mutations land directly
// in the underlying buffer (typically a page image).
type Bitmap struct {
	words   []uint64
	numBits int
}

// AsBitmap creates a Bitmap view over data. The slice must be 8-byte aligned
// and large enough to hold numBits.
func AsBitmap(data []byte, numBits int) Bitmap {
	common.Assert(common.AlignedTo8(len(data)), "bitmap buffer length must be a multiple of 8")
	numWords := (numBits + 63) / 64
	common.Assert(len(data) >= numWords*8, "bitmap buffer too small for %d bits", numBits)

	words := unsafe.Slice((*uint64)(unsafe.Pointer(&data[0])), numWords)
	return Bitmap{words: words, numBits: numBits}
}

// SetBit sets bit i to on and returns its previous value.
func (b *Bitmap) SetBit(i int, on bool) (prev bool) {
	common.Assert(i >= 0 && i < b.numBits, "bitmap index %d out of bounds", i)
	word, mask := &b.words[i/64], uint64(1)<<uint(i%64)
	prev = *word&mask != 0
	if on {
		*word |= mask
	} else {
		*word &^= mask
	}
	return prev
}

// LoadBit returns the value of bit i.
func (b *Bitmap) LoadBit(i int) bool {
	common.Assert(i >= 0 && i < b.numBits, "bitmap index %d out of bounds", i)
	return b.words[i/64]&(uint64(1)<<uint(i%64)) != 0
}

// CountSet returns the number of set bits.
func (b *Bitmap) CountSet() int {
	total := 0
	for i, word := range b.words {
		if i == len(b.words)-1 && b.numBits%64 != 0 {
			word &= (uint64(1) << uint(b.numBits%64)) - 1
		}
		total += bits.OnesCount64(word)
	}
	return total
}

// FindZeroRun returns the index of the first run of length consecutive zero
// bits at or after start, or -1 if no such run exists. Full words are skipped
// without inspecting individual bits.
func (b *Bitmap) FindZeroRun(start, length int) int {
	common.Assert(start >= 0 && start <= b.numBits, "bitmap start %d out of bounds", start)
	common.Assert(length > 0, "zero run length must be positive")

	run := 0
	i := start
	for i < b.numBits {
		if i%64 == 0 && run == 0 && b.words[i/64] == ^uint64(0) {
			i += 64
			continue
		}
		if b.LoadBit(i) {
			run = 0
		} else {
			run++
			if run == length {
				return i - length + 1
			}
		}
		i++
	}
	return -1
}
