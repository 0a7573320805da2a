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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/pgalloc"
)

const pteSize = hostarch.PageSize

type mapping struct {
	Start hostarch.Addr
	Addr  hostarch.PhysAddr
	Opts  MapOpts
}

func newMemory(t *testing.T, pages uint32) *pgalloc.MemoryFile {
	t.Helper()
	mf, err := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{PoolBase: 0x4000000, PoolSize: pages * hostarch.PageSize})
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	return mf
}

func newTables(t *testing.T, mf *pgalloc.MemoryFile) *PageTables {
	t.Helper()
	pt, err := New(mf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return pt
}

func checkMappings(t *testing.T, pt *PageTables, want []mapping) {
	t.Helper()
	var found []mapping
	pt.iterateRange(0, ^hostarch.Addr(0), func(va hostarch.Addr, pte PTE) {
		found = append(found, mapping{Start: va, Addr: pte.Address(), Opts: pte.Opts()})
	})
	if diff := cmp.Diff(want, found); diff != "" {
		t.Errorf("mappings differ (-want +got):\n%s", diff)
	}
}

var rw = MapOpts{AccessType: hostarch.ReadWrite, User: true}

func TestUnmap(t *testing.T) {
	pt := newTables(t, newMemory(t, 8))

	// Map and unmap one entry.
	if err := pt.MapPage(0x40400000, pteSize*42, rw); err != nil {
		t.Fatalf("MapPage failed: %v", err)
	}
	if pa, ok := pt.UnmapPage(0x40400000); !ok || pa != pteSize*42 {
		t.Errorf("UnmapPage = %v, %v, want %#x, true", pa, ok, pteSize*42)
	}
	if _, ok := pt.UnmapPage(0x40400000); ok {
		t.Errorf("second UnmapPage found a mapping")
	}

	checkMappings(t, pt, nil)
}

func TestReadOnly(t *testing.T) {
	pt := newTables(t, newMemory(t, 8))
	ro := MapOpts{AccessType: hostarch.Read, User: true}
	pt.MapPage(0x40400000, pteSize*42, ro)

	checkMappings(t, pt, []mapping{
		{0x40400000, pteSize * 42, ro},
	})
}

func TestMemoryTypes(t *testing.T) {
	pt := newTables(t, newMemory(t, 8))
	wt := MapOpts{AccessType: hostarch.ReadWrite, MemoryType: hostarch.MemoryTypeWriteThrough}
	uc := MapOpts{AccessType: hostarch.Read, MemoryType: hostarch.MemoryTypeUncached}
	pt.MapPage(0x1000, 0x1000, wt)
	pt.MapPage(0x2000, 0x2000, uc)

	checkMappings(t, pt, []mapping{
		{0x1000, 0x1000, wt},
		{0x2000, 0x2000, uc},
	})
}

func TestRangeAcrossTables(t *testing.T) {
	mf := newMemory(t, 8)
	pt := newTables(t, mf)
	start := hostarch.Addr(0x403fe000)
	if n, err := pt.Map(start, 4*pteSize, rw, 0x100000); err != nil || n != 4 {
		t.Fatalf("Map = %d, %v, want 4, nil", n, err)
	}
	if got := pt.TableCount(); got != 2 {
		t.Errorf("TableCount() = %d, want 2", got)
	}
	checkMappings(t, pt, []mapping{
		{0x403fe000, 0x100000, rw},
		{0x403ff000, 0x101000, rw},
		{0x40400000, 0x102000, rw},
		{0x40401000, 0x103000, rw},
	})

	pa, opts, ok := pt.Lookup(0x40400123)
	if !ok || pa != 0x102123 || opts != rw {
		t.Errorf("Lookup = %v, %v, %v", pa, opts, ok)
	}
}

func TestPartialMapOnExhaustion(t *testing.T) {
	// One page for the directory, one for the first table.
	mf := newMemory(t, 2)
	pt := newTables(t, mf)
	n, err := pt.Map(0x403ff000, 2*pteSize, rw, 0x100000)
	if !linuxerr.Equals(linuxerr.ENOMEM, err) || n != 1 {
		t.Fatalf("Map = %d, %v, want 1, ENOMEM", n, err)
	}
	checkMappings(t, pt, []mapping{
		{0x403ff000, 0x100000, rw},
	})
}

func TestProtect(t *testing.T) {
	pt := newTables(t, newMemory(t, 8))
	pt.MapPage(0x40000000, 0x5000, rw)
	ro := MapOpts{AccessType: hostarch.Read, User: true}
	if !pt.Protect(0x40000000, ro) {
		t.Fatalf("Protect of a mapped page failed")
	}
	if pt.Protect(0x40001000, ro) {
		t.Errorf("Protect of an unmapped page succeeded")
	}
	checkMappings(t, pt, []mapping{
		{0x40000000, 0x5000, ro},
	})
}

func TestReclaimTable(t *testing.T) {
	mf := newMemory(t, 8)
	pt := newTables(t, mf)
	if err := pt.ReclaimTable(0x40000000); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("ReclaimTable without a table = %v, want ENOENT", err)
	}
	pt.MapPage(0x40000000, 0x5000, rw)
	if err := pt.ReclaimTable(0x40000000); !linuxerr.Equals(linuxerr.EBUSY, err) {
		t.Errorf("ReclaimTable of a used table = %v, want EBUSY", err)
	}
	used := mf.UsedPages()
	pt.UnmapPage(0x40000000)
	if err := pt.ReclaimTable(0x40000000); err != nil {
		t.Errorf("ReclaimTable of an empty table = %v", err)
	}
	if got := mf.UsedPages(); got != used-1 {
		t.Errorf("UsedPages() = %d after reclaim, want %d", got, used-1)
	}

	pt.Release()
	if got := mf.UsedPages(); got != 0 {
		t.Errorf("UsedPages() = %d after Release, want 0", got)
	}
}

func TestAddressSpaceSharesKernel(t *testing.T) {
	mf := newMemory(t, 16)
	ks, err := NewKernelSpace(mf, 0x40000000)
	if err != nil {
		t.Fatalf("NewKernelSpace failed: %v", err)
	}
	a := NewAddressSpace(ks, newTables(t, mf))
	b := NewAddressSpace(ks, newTables(t, mf))
	kernelOnly := NewAddressSpace(ks, nil)

	// A kernel mapping made after the address spaces exist is visible to
	// all of them.
	ks.MapPage(0x100000, 0x100000, MapOpts{AccessType: hostarch.ReadWrite})
	for _, as := range []*AddressSpace{a, b, kernelOnly} {
		if pa, _, ok := as.Lookup(0x100010); !ok || pa != 0x100010 {
			t.Errorf("kernel lookup = %v, %v", pa, ok)
		}
	}
	a.User().MapPage(0x40000000, 0x7000, rw)
	if _, _, ok := b.Lookup(0x40000000); ok {
		t.Errorf("user mapping leaked between address spaces")
	}
	if _, _, ok := kernelOnly.Lookup(0x40000000); ok {
		t.Errorf("kernel-only address space translated a user address")
	}
	if kernelOnly.CR3() != ks.CR3() || a.CR3() == b.CR3() {
		t.Errorf("CR3 values are not distinct per address space")
	}
}

func TestTranslate(t *testing.T) {
	mf := newMemory(t, 16)
	ks, _ := NewKernelSpace(mf, 0x40000000)
	as := NewAddressSpace(ks, newTables(t, mf))
	ks.MapPage(0xff000, 0xff000, MapOpts{AccessType: hostarch.Read})
	as.User().MapPage(0x40000000, 0x7000, MapOpts{AccessType: hostarch.Read, User: true})

	for _, tc := range []struct {
		name        string
		va          hostarch.Addr
		at          hostarch.AccessType
		userMode    bool
		wantPresent bool
		wantOK      bool
	}{
		{"user read", 0x40000004, hostarch.Read, true, true, true},
		{"user write to read-only", 0x40000004, hostarch.Write, true, true, false},
		{"user read of kernel page", 0xff000, hostarch.Read, true, true, false},
		{"kernel read of kernel page", 0xff000, hostarch.Read, false, true, true},
		{"not present", 0x40001000, hostarch.Read, true, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, present, ok := as.Translate(tc.va, tc.at, tc.userMode)
			if present != tc.wantPresent || ok != tc.wantOK {
				t.Errorf("Translate = present %v ok %v, want %v %v", present, ok, tc.wantPresent, tc.wantOK)
			}
		})
	}
}

func TestMappedPages(t *testing.T) {
	pt := newTables(t, newMemory(t, 8))
	// Two pages at the end of one table and one in the next.
	if n, err := pt.Map(0x403fe000, 2*pteSize, rw, 0x100000); err != nil || n != 2 {
		t.Fatalf("Map = %d, %v, want 2, nil", n, err)
	}
	if err := pt.MapPage(0x40400000, 0x200000, rw); err != nil {
		t.Fatalf("MapPage failed: %v", err)
	}
	for _, tc := range []struct {
		start, end hostarch.Addr
		want       []hostarch.Addr
	}{
		{0, ^hostarch.Addr(0), []hostarch.Addr{0x403fe000, 0x403ff000, 0x40400000}},
		{0x403ff000, 0x40400000, []hostarch.Addr{0x403ff000}},
		{0x40401000, 0x50000000, nil},
	} {
		if diff := cmp.Diff(tc.want, pt.MappedPages(tc.start, tc.end)); diff != "" {
			t.Errorf("MappedPages(%v, %v) mismatch (-want +got):\n%s", tc.start, tc.end, diff)
		}
	}
	pt.Unmap(0x403fe000, 3*pteSize)
	if got := pt.MappedPages(0, ^hostarch.Addr(0)); len(got) != 0 {
		t.Errorf("MappedPages after Unmap = %v, want none", got)
	}
}
