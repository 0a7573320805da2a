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

// KernelSpace holds the mappings of every address below the user/kernel
// split. There is exactly one; every AddressSpace refers to it.
type KernelSpace struct {
	*PageTables

	split hostarch.Addr
}

// NewKernelSpace returns an empty kernel space covering [0, split).
func NewKernelSpace(mem Memory, split hostarch.Addr) (*KernelSpace, error) {
	if !split.IsPageAligned() || split%hostarch.TableSpan != 0 {
		panic(fmt.Sprintf("split %v is not table aligned", split))
	}
	pt, err := New(mem)
	if err != nil {
		return nil, err
	}
	return &KernelSpace{PageTables: pt, split: split}, nil
}

// Split returns the lowest user address.
func (k *KernelSpace) Split() hostarch.Addr {
	return k.split
}

// Contains returns true if va is kernel space.
func (k *KernelSpace) Contains(va hostarch.Addr) bool {
	return va < k.split
}

// AddressSpace is what the page-directory base register points at: the
// shared kernel space plus, for tasks that run user code, their own tables
// for addresses at or above the split.
type AddressSpace struct {
	kernel *KernelSpace
	user   *PageTables
}

// NewAddressSpace combines k with user tables. user may be nil for an
// address space that only maps the kernel.
func NewAddressSpace(k *KernelSpace, user *PageTables) *AddressSpace {
	return &AddressSpace{kernel: k, user: user}
}

// Kernel returns the shared kernel space.
func (as *AddressSpace) Kernel() *KernelSpace {
	return as.kernel
}

// User returns the user tables, or nil.
func (as *AddressSpace) User() *PageTables {
	return as.user
}

// CR3 returns the directory the hardware walks for this address space.
func (as *AddressSpace) CR3() uint32 {
	if as.user != nil {
		return as.user.CR3()
	}
	return as.kernel.CR3()
}

// tablesFor returns the tables responsible for va, or nil.
func (as *AddressSpace) tablesFor(va hostarch.Addr) *PageTables {
	if as.kernel.Contains(va) {
		return as.kernel.PageTables
	}
	return as.user
}

// Lookup translates va without checking permissions.
func (as *AddressSpace) Lookup(va hostarch.Addr) (hostarch.PhysAddr, MapOpts, bool) {
	pt := as.tablesFor(va)
	if pt == nil {
		return 0, MapOpts{}, false
	}
	return pt.Lookup(va)
}

// Translate translates an access to va as the MMU would. If the access is
// refused, present reports whether a mapping existed (a protection fault)
// or not (a not-present fault).
func (as *AddressSpace) Translate(va hostarch.Addr, at hostarch.AccessType, userMode bool) (pa hostarch.PhysAddr, present bool, ok bool) {
	pa, opts, present := as.Lookup(va)
	if !present {
		return 0, false, false
	}
	if userMode && !opts.User {
		return 0, true, false
	}
	if at.Write && !opts.AccessType.Write {
		return 0, true, false
	}
	return pa, true, true
}
