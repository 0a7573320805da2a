// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bitmap provides a fixed-size bitmap.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a fixed-size set of bits. The zero value is an empty bitmap of
// size zero.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// size is the number of valid bits.
	size uint32

	// bitBlock holds the bits. The last block may be partially used.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// Size returns the total number of bits in the bitmap.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint32 {
	return b.numOnes
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// IsFull returns true if every bit is set.
func (b *Bitmap) IsFull() bool {
	return b.numOnes == b.size
}

func (b *Bitmap) check(i uint32) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
}

// Contains returns true if bit i is set.
func (b *Bitmap) Contains(i uint32) bool {
	b.check(i)
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i.
func (b *Bitmap) Add(i uint32) {
	b.check(i)
	mask := uint64(1) << (i % 64)
	if b.bitBlock[i/64]&mask == 0 {
		b.bitBlock[i/64] |= mask
		b.numOnes++
	}
}

// Remove clears bit i.
func (b *Bitmap) Remove(i uint32) {
	b.check(i)
	mask := uint64(1) << (i % 64)
	if b.bitBlock[i/64]&mask != 0 {
		b.bitBlock[i/64] &^= mask
		b.numOnes--
	}
}

// FirstZero returns the first unset bit from the range [start, size).
func (b *Bitmap) FirstZero(start uint32) (uint32, error) {
	if start >= b.size {
		return 0, fmt.Errorf("given start of range exceeds bitmap size")
	}
	for i := start / 64; i < uint32(len(b.bitBlock)); i++ {
		// Treat the bits below start as set.
		w := b.bitBlock[i]
		if i == start/64 {
			w |= (uint64(1) << (start % 64)) - 1
		}
		if w == ^uint64(0) {
			continue
		}
		bit := i*64 + uint32(bits.TrailingZeros64(^w))
		if bit >= b.size {
			break
		}
		return bit, nil
	}
	return 0, fmt.Errorf("bitmap has no unset bit from %d", start)
}

// FirstOne returns the first set bit from the range [start, size).
func (b *Bitmap) FirstOne(start uint32) (uint32, error) {
	if start >= b.size {
		return 0, fmt.Errorf("given start of range exceeds bitmap size")
	}
	for i := start / 64; i < uint32(len(b.bitBlock)); i++ {
		w := b.bitBlock[i]
		if i == start/64 {
			w &^= (uint64(1) << (start % 64)) - 1
		}
		if w == 0 {
			continue
		}
		return i*64 + uint32(bits.TrailingZeros64(w)), nil
	}
	return 0, fmt.Errorf("bitmap has no set bit from %d", start)
}
