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

// Package pagetables provides a generic implementation of two-level i386
// pagetables.
//
// Both the directory and the tables live in physical pages obtained from a
// Memory; entries are read and written through it as 32-bit words.
package pagetables

import (
	"fmt"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
)

// Memory is the physical memory the tables are built in.
type Memory interface {
	// Allocate returns a zeroed page.
	Allocate() (hostarch.PhysAddr, error)

	// Free returns a page obtained from Allocate.
	Free(hostarch.PhysAddr)

	// Uint32 reads a word of physical memory.
	Uint32(hostarch.PhysAddr) uint32

	// SetUint32 writes a word of physical memory.
	SetUint32(hostarch.PhysAddr, uint32)
}

// PageTables is a set of page tables rooted in a page directory.
type PageTables struct {
	mem  Memory
	root hostarch.PhysAddr
}

// New returns new PageTables with an empty directory.
func New(mem Memory) (*PageTables, error) {
	root, err := mem.Allocate()
	if err != nil {
		return nil, err
	}
	return &PageTables{mem: mem, root: root}, nil
}

// Root returns the physical address of the page directory.
func (p *PageTables) Root() hostarch.PhysAddr {
	return p.root
}

func entryAddr(table hostarch.PhysAddr, index int) hostarch.PhysAddr {
	return table + hostarch.PhysAddr(index*4)
}

func (p *PageTables) directoryEntry(va hostarch.Addr) PTE {
	return PTE(p.mem.Uint32(entryAddr(p.root, va.DirectoryIndex())))
}

// leaf returns the physical address of the page-table entry for va, or false
// if no table covers va. If alloc is set a missing table is allocated.
func (p *PageTables) leaf(va hostarch.Addr, alloc bool) (hostarch.PhysAddr, bool, error) {
	pde := p.directoryEntry(va)
	if !pde.Valid() {
		if !alloc {
			return 0, false, nil
		}
		table, err := p.mem.Allocate()
		if err != nil {
			return 0, false, err
		}
		pde = directoryEntry(table)
		p.mem.SetUint32(entryAddr(p.root, va.DirectoryIndex()), uint32(pde))
	}
	return entryAddr(pde.Address(), va.TableIndex()), true, nil
}

// MapPage installs a single mapping of the page holding va to physical
// address pa, replacing any existing one.
//
// Preconditions: pa is page aligned.
func (p *PageTables) MapPage(va hostarch.Addr, pa hostarch.PhysAddr, opts MapOpts) error {
	ea, _, err := p.leaf(va, true)
	if err != nil {
		return err
	}
	p.mem.SetUint32(ea, uint32(makePTE(pa, opts)))
	return nil
}

// Map installs mappings for [va, va+length) to [pa, pa+length).
//
// On failure the pages mapped so far are left in place and the number of
// pages mapped is returned along with the error.
func (p *PageTables) Map(va hostarch.Addr, length uint32, opts MapOpts, pa hostarch.PhysAddr) (int, error) {
	if !va.IsPageAligned() || length%hostarch.PageSize != 0 {
		panic(fmt.Sprintf("unaligned mapping [%v, +%#x)", va, length))
	}
	n := 0
	for off := uint32(0); off < length; off += hostarch.PageSize {
		if err := p.MapPage(va+hostarch.Addr(off), pa+hostarch.PhysAddr(off), opts); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// UnmapPage clears the mapping of the page holding va. It returns the
// physical page that was mapped, if any.
func (p *PageTables) UnmapPage(va hostarch.Addr) (hostarch.PhysAddr, bool) {
	ea, ok, _ := p.leaf(va, false)
	if !ok {
		return 0, false
	}
	pte := PTE(p.mem.Uint32(ea))
	if !pte.Valid() {
		return 0, false
	}
	p.mem.SetUint32(ea, 0)
	return pte.Address(), true
}

// Unmap clears every mapping in [va, va+length).
func (p *PageTables) Unmap(va hostarch.Addr, length uint32) {
	for off := uint32(0); off < length; off += hostarch.PageSize {
		p.UnmapPage(va + hostarch.Addr(off))
	}
}

// Lookup returns the physical address va translates to, including its page
// offset, and the options of the mapping.
func (p *PageTables) Lookup(va hostarch.Addr) (hostarch.PhysAddr, MapOpts, bool) {
	ea, ok, _ := p.leaf(va, false)
	if !ok {
		return 0, MapOpts{}, false
	}
	pte := PTE(p.mem.Uint32(ea))
	if !pte.Valid() {
		return 0, MapOpts{}, false
	}
	return pte.Address() + hostarch.PhysAddr(va.PageOffset()), pte.Opts(), true
}

// Protect changes the options of an existing mapping. It returns false if
// va is not mapped.
func (p *PageTables) Protect(va hostarch.Addr, opts MapOpts) bool {
	ea, ok, _ := p.leaf(va, false)
	if !ok {
		return false
	}
	pte := PTE(p.mem.Uint32(ea))
	if !pte.Valid() {
		return false
	}
	p.mem.SetUint32(ea, uint32(makePTE(pte.Address(), opts)))
	return true
}

// ReclaimTable frees the page table covering va if none of its entries are
// present. It returns ENOENT if there is no such table and EBUSY if the
// table is still in use.
func (p *PageTables) ReclaimTable(va hostarch.Addr) error {
	pde := p.directoryEntry(va)
	if !pde.Valid() {
		return linuxerr.ENOENT
	}
	table := pde.Address()
	for i := 0; i < hostarch.EntriesPerTable; i++ {
		if PTE(p.mem.Uint32(entryAddr(table, i))).Valid() {
			return linuxerr.EBUSY
		}
	}
	p.mem.SetUint32(entryAddr(p.root, va.DirectoryIndex()), 0)
	p.mem.Free(table)
	return nil
}

// Release frees every page table and the directory. Mapped pages are not
// touched; the caller owns them.
func (p *PageTables) Release() {
	for i := 0; i < hostarch.EntriesPerTable; i++ {
		pde := PTE(p.mem.Uint32(entryAddr(p.root, i)))
		if pde.Valid() {
			p.mem.Free(pde.Address())
		}
	}
	p.mem.Free(p.root)
	p.root = 0
}

// TableCount returns the number of page tables currently allocated.
func (p *PageTables) TableCount() int {
	n := 0
	for i := 0; i < hostarch.EntriesPerTable; i++ {
		if PTE(p.mem.Uint32(entryAddr(p.root, i))).Valid() {
			n++
		}
	}
	return n
}

// MappedPages returns the address of every mapped page in [start, end), in
// increasing order.
func (p *PageTables) MappedPages(start, end hostarch.Addr) []hostarch.Addr {
	var pages []hostarch.Addr
	p.iterateRange(start, end, func(va hostarch.Addr, _ PTE) {
		pages = append(pages, va)
	})
	return pages
}

// iterateRange calls fn for every present entry in [start, end).
func (p *PageTables) iterateRange(start, end hostarch.Addr, fn func(va hostarch.Addr, pte PTE)) {
	for va := start.RoundDown(); va < end; {
		pde := p.directoryEntry(va)
		if !pde.Valid() {
			next := (va &^ (hostarch.TableSpan - 1)) + hostarch.TableSpan
			if next <= va {
				return
			}
			va = next
			continue
		}
		if pte := PTE(p.mem.Uint32(entryAddr(pde.Address(), va.TableIndex()))); pte.Valid() {
			fn(va, pte)
		}
		if va+hostarch.PageSize <= va {
			return
		}
		va += hostarch.PageSize
	}
}
