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

// Package pgalloc provides physical memory and the raw page allocator.
//
// Physical memory is sparse: a page has backing only after it is first
// written. The allocator hands out pages from a contiguous pool and tracks
// them in a free bitmap. Pages outside the pool (low memory, the kernel
// image) are addressable but never allocated.
//
// A MemoryFile is a process-wide singleton touched only by the goroutine that
// owns the logical CPU, so it has no locking.
package pgalloc

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/procore/pkg/bitmap"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
)

type page [hostarch.PageSize]byte

// MemoryFileOpts configures a MemoryFile.
type MemoryFileOpts struct {
	// PoolBase is the physical address of the first allocatable page.
	PoolBase hostarch.PhysAddr

	// PoolSize is the size of the allocatable pool in bytes.
	PoolSize uint32
}

// MemoryFile is the machine's physical memory plus the page pool carved out
// of it.
type MemoryFile struct {
	ram map[hostarch.PhysAddr]*page

	base   hostarch.PhysAddr
	frames uint32

	// used has a bit set for every allocated page of the pool.
	used bitmap.Bitmap

	// rotor is where the next search for a free page starts.
	rotor uint32
}

// NewMemoryFile creates a MemoryFile.
func NewMemoryFile(opts MemoryFileOpts) (*MemoryFile, error) {
	if !opts.PoolBase.IsPageAligned() || opts.PoolSize%hostarch.PageSize != 0 {
		return nil, fmt.Errorf("page pool [%v, +%#x) is not page aligned", opts.PoolBase, opts.PoolSize)
	}
	if opts.PoolSize == 0 {
		return nil, fmt.Errorf("page pool is empty")
	}
	if uint64(opts.PoolBase)+uint64(opts.PoolSize) > 1<<32 {
		return nil, fmt.Errorf("page pool [%v, +%#x) exceeds the physical address space", opts.PoolBase, opts.PoolSize)
	}
	frames := opts.PoolSize / hostarch.PageSize
	return &MemoryFile{
		ram:    make(map[hostarch.PhysAddr]*page),
		base:   opts.PoolBase,
		frames: frames,
		used:   bitmap.New(frames),
	}, nil
}

// Allocate returns a zeroed page from the pool.
func (f *MemoryFile) Allocate() (hostarch.PhysAddr, error) {
	i, err := f.used.FirstZero(f.rotor)
	if err != nil && f.rotor != 0 {
		i, err = f.used.FirstZero(0)
	}
	if err != nil {
		log.Debugf("Page pool exhausted: %d pages in use", f.used.Count())
		return 0, linuxerr.ENOMEM
	}
	f.used.Add(i)
	f.rotor = (i + 1) % f.frames
	pa := f.base + hostarch.PhysAddr(i)*hostarch.PageSize
	delete(f.ram, pa)
	return pa, nil
}

// Free returns pa to the pool.
//
// Preconditions: pa was returned by Allocate and not freed since.
func (f *MemoryFile) Free(pa hostarch.PhysAddr) {
	i, ok := f.frameIndex(pa)
	if !ok {
		panic(fmt.Sprintf("freeing page %v outside the pool", pa))
	}
	if !f.used.Contains(i) {
		panic(fmt.Sprintf("double free of page %v", pa))
	}
	f.used.Remove(i)
	delete(f.ram, pa)
}

// IsAllocated returns true if pa is a pool page currently handed out.
func (f *MemoryFile) IsAllocated(pa hostarch.PhysAddr) bool {
	i, ok := f.frameIndex(pa.RoundDown())
	return ok && f.used.Contains(i)
}

// InPool returns true if pa lies inside the allocatable pool.
func (f *MemoryFile) InPool(pa hostarch.PhysAddr) bool {
	_, ok := f.frameIndex(pa.RoundDown())
	return ok
}

// TotalPages returns the number of pages in the pool.
func (f *MemoryFile) TotalPages() uint32 {
	return f.frames
}

// UsedPages returns the number of pool pages currently allocated.
func (f *MemoryFile) UsedPages() uint32 {
	return f.used.Count()
}

func (f *MemoryFile) frameIndex(pa hostarch.PhysAddr) (uint32, bool) {
	if !pa.IsPageAligned() || pa < f.base {
		return 0, false
	}
	i := uint32(pa-f.base) / hostarch.PageSize
	return i, i < f.frames
}

// pageFor returns the backing of the page holding pa, creating it if
// create is set. A nil result reads as zeroes.
func (f *MemoryFile) pageFor(pa hostarch.PhysAddr, create bool) *page {
	base := pa.RoundDown()
	p := f.ram[base]
	if p == nil && create {
		p = new(page)
		f.ram[base] = p
	}
	return p
}

// ReadAt copies physical memory starting at pa into dst.
func (f *MemoryFile) ReadAt(dst []byte, pa hostarch.PhysAddr) {
	for len(dst) > 0 {
		off := uint32(pa) & (hostarch.PageSize - 1)
		n := int(hostarch.PageSize - off)
		if n > len(dst) {
			n = len(dst)
		}
		if p := f.pageFor(pa, false); p != nil {
			copy(dst[:n], p[off:])
		} else {
			clear(dst[:n])
		}
		dst = dst[n:]
		pa += hostarch.PhysAddr(n)
	}
}

// WriteAt copies src into physical memory starting at pa.
func (f *MemoryFile) WriteAt(src []byte, pa hostarch.PhysAddr) {
	for len(src) > 0 {
		off := uint32(pa) & (hostarch.PageSize - 1)
		n := copy(f.pageFor(pa, true)[off:], src)
		src = src[n:]
		pa += hostarch.PhysAddr(n)
	}
}

// Zero clears the page holding pa.
func (f *MemoryFile) Zero(pa hostarch.PhysAddr) {
	delete(f.ram, pa.RoundDown())
}

// Uint32 reads the little-endian word at pa.
//
// Preconditions: pa is 4-byte aligned.
func (f *MemoryFile) Uint32(pa hostarch.PhysAddr) uint32 {
	p := f.pageFor(pa, false)
	if p == nil {
		return 0
	}
	off := uint32(pa) & (hostarch.PageSize - 1)
	return binary.LittleEndian.Uint32(p[off:])
}

// SetUint32 writes the little-endian word v at pa.
//
// Preconditions: pa is 4-byte aligned.
func (f *MemoryFile) SetUint32(pa hostarch.PhysAddr, v uint32) {
	off := uint32(pa) & (hostarch.PageSize - 1)
	binary.LittleEndian.PutUint32(f.pageFor(pa, true)[off:], v)
}
