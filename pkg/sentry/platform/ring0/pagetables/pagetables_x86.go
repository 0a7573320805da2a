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

package pagetables

import (
	"fmt"

	"gvisor.dev/procore/pkg/hostarch"
)

// Bits in page directory and page table entries.
const (
	present      = 0x001
	writable     = 0x002
	user         = 0x004
	writeThrough = 0x008
	cacheDisable = 0x010
	accessed     = 0x020
	dirty        = 0x040

	addressMask = 0xfffff000
)

// MapOpts are x86 options.
type MapOpts struct {
	// AccessType defines permissions. Execute is recorded by the VMA only;
	// non-PAE entries cannot express it.
	AccessType hostarch.AccessType

	// User indicates the page is accessible from ring 3.
	User bool

	// MemoryType is the caching behavior of the page.
	MemoryType hostarch.MemoryType
}

// String implements fmt.Stringer.String.
func (o MapOpts) String() string {
	u := "kernel"
	if o.User {
		u = "user"
	}
	return fmt.Sprintf("%s/%s/%s", o.AccessType, u, o.MemoryType.ShortString())
}

// PTE is a page table or page directory entry.
type PTE uint32

// Valid returns true iff this entry is present.
func (p PTE) Valid() bool {
	return p&present != 0
}

// Address extracts the physical address of the page or table.
func (p PTE) Address() hostarch.PhysAddr {
	return hostarch.PhysAddr(p & addressMask)
}

// Opts returns the PTE options.
//
// Every present page is readable.
func (p PTE) Opts() MapOpts {
	if !p.Valid() {
		return MapOpts{}
	}
	opts := MapOpts{
		AccessType: hostarch.AccessType{
			Read:  true,
			Write: p&writable != 0,
		},
		User: p&user != 0,
	}
	switch {
	case p&cacheDisable != 0:
		opts.MemoryType = hostarch.MemoryTypeUncached
	case p&writeThrough != 0:
		opts.MemoryType = hostarch.MemoryTypeWriteThrough
	}
	return opts
}

// makePTE encodes a present entry for addr with opts.
func makePTE(addr hostarch.PhysAddr, opts MapOpts) PTE {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("unaligned physical address %v", addr))
	}
	v := PTE(addr) | present
	if opts.AccessType.Write {
		v |= writable
	}
	if opts.User {
		v |= user
	}
	switch opts.MemoryType {
	case hostarch.MemoryTypeWriteThrough:
		v |= writeThrough
	case hostarch.MemoryTypeUncached:
		v |= cacheDisable
	}
	return v
}

// directoryEntry is the entry installed for a page table: permissions are
// decided at the leaf.
func directoryEntry(table hostarch.PhysAddr) PTE {
	return PTE(table) | present | writable | user
}

// CR3 returns the page-directory base register value for these tables.
func (p *PageTables) CR3() uint32 {
	return uint32(p.root)
}
