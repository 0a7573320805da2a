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

// Package mm implements address spaces: the VMAs a task owns, the page
// tables they are mapped into, and the fault handler that fills them in on
// demand.
//
// Lock order: mm is not locked. Every MemoryManager and the shared KernelMM
// are only touched by the goroutine that owns the CPU.
package mm

import (
	"fmt"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/pgalloc"
	"gvisor.dev/procore/pkg/sentry/platform/ring0/pagetables"
)

// Layout constants of a user address space.
const (
	// UserspaceBottom is the user/kernel split: the lowest user address.
	UserspaceBottom hostarch.Addr = 0x40000000

	// StackTop is the first address above the user stack.
	StackTop hostarch.Addr = 0xA0000000

	// UserspaceTop is the first address above user space.
	UserspaceTop hostarch.Addr = 0xE0000000
)

// Well-known VMA names.
const (
	KernelVMAName = "[kernel]"
	HeapVMAName   = "[heap]"
	StackVMAName  = "[stack]"
)

// MemoryManager implements a task's virtual address space.
type MemoryManager struct {
	kernel *KernelMM
	mf     *pgalloc.MemoryFile

	// pt holds the mappings at or above the split. It is nil once
	// released.
	pt *pagetables.PageTables
	as *pagetables.AddressSpace

	vmas vmaSet

	// brk is the current program break. It lies inside the heap VMA or at
	// its end.
	brk hostarch.Addr
}

// NewMemoryManager returns an empty address space sharing k's kernel
// mappings.
func NewMemoryManager(k *KernelMM) (*MemoryManager, error) {
	pt, err := pagetables.New(k.mf)
	if err != nil {
		return nil, err
	}
	mm := &MemoryManager{
		kernel: k,
		mf:     k.mf,
		pt:     pt,
		as:     pagetables.NewAddressSpace(k.space, pt),
	}
	mm.vmas.init()
	return mm, nil
}

// AddressSpace returns what the page-directory base register is loaded with
// while mm is active.
func (mm *MemoryManager) AddressSpace() *pagetables.AddressSpace {
	return mm.as
}

// Kernel returns the shared kernel memory.
func (mm *MemoryManager) Kernel() *KernelMM {
	return mm.kernel
}

// MemoryFile returns the physical memory backing mm.
func (mm *MemoryManager) MemoryFile() *pgalloc.MemoryFile {
	return mm.mf
}

// AddVMA inserts v. The VMA is not mapped; see MapVMA. It returns EINVAL if
// v overlaps another VMA or lies on the wrong side of the split, and EEXIST
// if its name is in use.
func (mm *MemoryManager) AddVMA(v VMA) error {
	split := mm.kernel.space.Split()
	if v.Kernel {
		if v.Start != 0 || v.Length != uint32(split) || v.Exact {
			return fmt.Errorf("kernel VMA %v must mirror [0, %v): %w", &v, split, linuxerr.EINVAL)
		}
	} else if v.Start < split || v.End() > UserspaceTop || v.End() < v.Start {
		return fmt.Errorf("%v outside user space: %w", &v, linuxerr.EINVAL)
	}
	nv := v
	if err := mm.vmas.insert(&nv); err != nil {
		return err
	}
	log.Debugf("Added VMA %v", &nv)
	return nil
}

// FindByName returns a copy of the VMA called name.
func (mm *MemoryManager) FindByName(name string) (VMA, bool) {
	if v := mm.vmas.findName(name); v != nil {
		return *v, true
	}
	return VMA{}, false
}

// FindByAddr returns a copy of the VMA containing addr.
func (mm *MemoryManager) FindByAddr(addr hostarch.Addr) (VMA, bool) {
	if v := mm.vmas.findAddr(addr); v != nil {
		return *v, true
	}
	return VMA{}, false
}

// VMAs returns copies of every VMA, in insertion order.
func (mm *MemoryManager) VMAs() []VMA {
	return mm.vmas.all()
}

func (mm *MemoryManager) lookupVMA(name string) (*VMA, error) {
	v := mm.vmas.findName(name)
	if v == nil {
		return nil, fmt.Errorf("VMA %q: %w", name, linuxerr.ENOENT)
	}
	return v, nil
}

// MapVMA installs every page of the named VMA. Pages that are already
// mapped are left alone, so MapVMA may be retried after a failure.
//
// MapVMA does not undo its work on failure. It returns ErrPartial if some
// pages were installed before the failure and ENOMEM if none were.
//
// The kernel VMA needs no work: the shared kernel space is already part of
// every address space.
func (mm *MemoryManager) MapVMA(name string) error {
	v, err := mm.lookupVMA(name)
	if err != nil {
		return err
	}
	if v.Kernel {
		return nil
	}
	return mapRange(mm.mf, mm.pt, v, v.Range())
}

// mapRange installs the pages of v in ar into pt.
func mapRange(mf *pgalloc.MemoryFile, pt *pagetables.PageTables, v *VMA, ar hostarch.AddrRange) error {
	opts := v.mapOpts()
	// mapped counts pages of ar that are mapped, whether by this call or
	// an earlier one.
	mapped := 0
	for va := ar.Start; va < ar.End; {
		if _, _, ok := pt.Lookup(va); ok {
			mapped++
			va += hostarch.PageSize
			continue
		}
		if v.Exact {
			// Map the whole run of unmapped pages at once.
			end := va + hostarch.PageSize
			for end < ar.End {
				if _, _, ok := pt.Lookup(end); ok {
					break
				}
				end += hostarch.PageSize
			}
			n, err := pt.Map(va, uint32(end-va), opts, v.physFor(va))
			mapped += n
			if err != nil {
				return partialError(v, mapped, err)
			}
			va = end
			continue
		}
		pa, err := mf.Allocate()
		if err != nil {
			return partialError(v, mapped, err)
		}
		if err := pt.MapPage(va, pa, opts); err != nil {
			mf.Free(pa)
			return partialError(v, mapped, err)
		}
		mapped++
		va += hostarch.PageSize
	}
	return nil
}

// partialError reports a failure to map v. ErrPartial means some of v is
// mapped and stays mapped; ENOMEM means none of it is.
func partialError(v *VMA, mapped int, err error) error {
	if mapped > 0 {
		return fmt.Errorf("mapping %v stopped after %d pages: %v: %w", v, mapped, err, linuxerr.ErrPartial)
	}
	return fmt.Errorf("mapping %v: %w", v, linuxerr.ENOMEM)
}

// EvictVMA unmaps the named VMA, returns its pages to the pool unless it is
// exact, reclaims page tables left empty, and removes the VMA. The kernel
// VMA cannot be evicted.
func (mm *MemoryManager) EvictVMA(name string) error {
	v, err := mm.lookupVMA(name)
	if err != nil {
		return err
	}
	if v.Kernel {
		return fmt.Errorf("evicting %v: %w", v, linuxerr.EINVAL)
	}
	mm.unmapRange(v, v.Range())
	mm.reclaimTables(v.Range())
	mm.vmas.remove(v)
	log.Debugf("Evicted VMA %v", v)
	return nil
}

// EvictPage unmaps the page holding va, which must belong to a user VMA. If
// reclaim is set the page table covering it is freed when left empty.
func (mm *MemoryManager) EvictPage(va hostarch.Addr, reclaim bool) error {
	v := mm.vmas.findAddr(va)
	if v == nil {
		return fmt.Errorf("no VMA at %v: %w", va, linuxerr.ENOENT)
	}
	if v.Kernel {
		return fmt.Errorf("evicting kernel page %v: %w", va, linuxerr.EINVAL)
	}
	page := va.RoundDown()
	ar := hostarch.AddrRange{Start: page, End: page + hostarch.PageSize}
	if !mm.unmapRange(v, ar) {
		return fmt.Errorf("page %v not mapped: %w", page, linuxerr.ENOENT)
	}
	if reclaim {
		mm.reclaimTables(ar)
	}
	return nil
}

// unmapRange removes the mappings of v in ar. It returns true if anything
// was mapped.
func (mm *MemoryManager) unmapRange(v *VMA, ar hostarch.AddrRange) bool {
	if v.Exact {
		// Exact pages are not from the pool; there is nothing to free.
		present := len(mm.pt.MappedPages(ar.Start, ar.End)) > 0
		mm.pt.Unmap(ar.Start, uint32(ar.Length()))
		return present
	}
	unmapped := false
	for va := ar.Start; va < ar.End; va += hostarch.PageSize {
		pa, ok := mm.pt.UnmapPage(va)
		if !ok {
			continue
		}
		unmapped = true
		if !v.Exact {
			mm.mf.Free(pa)
		}
	}
	return unmapped
}

// reclaimTables frees each page table covering ar that no longer maps
// anything.
func (mm *MemoryManager) reclaimTables(ar hostarch.AddrRange) {
	if ar.Length() == 0 {
		return
	}
	first := ar.Start &^ (hostarch.TableSpan - 1)
	for va := first; va < ar.End; va += hostarch.TableSpan {
		// ENOENT and EBUSY both mean there is nothing to reclaim.
		_ = mm.pt.ReclaimTable(va)
		if va+hostarch.TableSpan < va {
			break
		}
	}
}

// ExtendVMA grows the named VMA by length bytes in direction dir. Growing
// down moves the start (and the physical base of an exact VMA) down by
// length. If the new range would overlap another VMA, ExtendVMA returns
// EINVAL and the VMA is unchanged. New pages are faulted in lazily.
func (mm *MemoryManager) ExtendVMA(name string, dir Direction, length uint32) error {
	v, err := mm.lookupVMA(name)
	if err != nil {
		return err
	}
	if v.Kernel || length%hostarch.PageSize != 0 {
		return fmt.Errorf("extending %v by %#x: %w", v, length, linuxerr.EINVAL)
	}
	if length == 0 {
		return nil
	}
	var added hostarch.AddrRange
	switch dir {
	case Up:
		end, ok := v.End().AddLength(length)
		if !ok || end > UserspaceTop {
			return fmt.Errorf("extending %v up by %#x: %w", v, length, linuxerr.EINVAL)
		}
		added = hostarch.AddrRange{Start: v.End(), End: end}
	case Down:
		start := v.Start - hostarch.Addr(length)
		if start > v.Start || start < mm.kernel.space.Split() || (v.Exact && hostarch.PhysAddr(length) > v.Phys) {
			return fmt.Errorf("extending %v down by %#x: %w", v, length, linuxerr.EINVAL)
		}
		added = hostarch.AddrRange{Start: start, End: v.Start}
	default:
		panic(fmt.Sprintf("unknown direction %d", dir))
	}
	if o := mm.vmas.overlapping(added, v); o != nil {
		return fmt.Errorf("extending %v %v by %#x overlaps %v: %w", v, dir, length, o, linuxerr.EINVAL)
	}
	if dir == Down {
		mm.vmas.move(v, added.Start)
		if v.Exact {
			v.Phys -= hostarch.PhysAddr(length)
		}
	}
	v.Length += length
	return nil
}

// shrinkVMA drops length bytes from the end of v, evicting the
// pages that fall outside it.
func (mm *MemoryManager) shrinkVMA(v *VMA, length uint32) {
	if length > v.Length {
		panic(fmt.Sprintf("shrinking %v by %#x", v, length))
	}
	cut := hostarch.AddrRange{Start: v.End() - hostarch.Addr(length), End: v.End()}
	for _, va := range mm.pt.MappedPages(cut.Start, cut.End) {
		if err := mm.EvictPage(va, false); err != nil {
			panic(fmt.Sprintf("evicting %v from %v: %v", va, v, err))
		}
	}
	mm.reclaimTables(cut)
	v.Length -= length
}

// RemapVMA changes the permissions of the named VMA and applies them to
// every page already mapped.
func (mm *MemoryManager) RemapVMA(name string, perms Perms) error {
	v, err := mm.lookupVMA(name)
	if err != nil {
		return err
	}
	if v.Kernel {
		return fmt.Errorf("remapping %v: %w", v, linuxerr.EINVAL)
	}
	v.Perms = perms
	opts := v.mapOpts()
	for va := v.Start; va < v.End(); va += hostarch.PageSize {
		mm.pt.Protect(va, opts)
	}
	return nil
}

// Release tears down the address space: the page directory and tables
// first, then the VMAs and the pages they owned. mm may not be used
// afterward.
func (mm *MemoryManager) Release() {
	if mm.pt == nil {
		return
	}
	type owned struct {
		pa    hostarch.PhysAddr
		exact bool
	}
	var pages []owned
	for _, v := range mm.vmas.ordered {
		if v.Kernel {
			continue
		}
		for va := v.Start; va < v.End(); va += hostarch.PageSize {
			if pa, _, ok := mm.pt.Lookup(va); ok {
				pages = append(pages, owned{pa: pa, exact: v.Exact})
			}
		}
	}
	mm.pt.Release()
	mm.pt = nil
	mm.as = nil
	for _, p := range pages {
		if !p.exact {
			mm.mf.Free(p.pa)
		}
	}
	mm.vmas.ordered = nil
	mm.vmas.index.Clear(false)
}
