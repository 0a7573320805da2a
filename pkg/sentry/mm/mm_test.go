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

package mm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/pgalloc"
)

const poolBase = hostarch.PhysAddr(0x4000000)

func newTestMM(t *testing.T, pages uint32) (*MemoryManager, *pgalloc.MemoryFile) {
	t.Helper()
	mf, err := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{
		PoolBase: poolBase,
		PoolSize: pages * hostarch.PageSize,
	})
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	k, err := NewKernelMM(mf, DefaultKernelOpts())
	if err != nil {
		t.Fatalf("NewKernelMM failed: %v", err)
	}
	mm, err := NewMemoryManager(k)
	if err != nil {
		t.Fatalf("NewMemoryManager failed: %v", err)
	}
	return mm, mf
}

func mustAdd(t *testing.T, mm *MemoryManager, v VMA) {
	t.Helper()
	if err := mm.AddVMA(v); err != nil {
		t.Fatalf("AddVMA(%v) failed: %v", &v, err)
	}
}

// checkBacking verifies that every page of v is mapped to the physical page
// its VMA implies.
func checkBacking(t *testing.T, mm *MemoryManager, v VMA) {
	t.Helper()
	seen := make(map[hostarch.PhysAddr]bool)
	for va := v.Start; va < v.End(); va += hostarch.PageSize {
		pa, opts, ok := mm.AddressSpace().Lookup(va + 0x10)
		if !ok {
			t.Errorf("%v not mapped", va)
			continue
		}
		if v.Exact {
			if want := v.Phys + hostarch.PhysAddr(va-v.Start) + 0x10; pa != want {
				t.Errorf("Lookup(%v) = %v, want %v", va+0x10, pa, want)
			}
		} else {
			page := pa.RoundDown()
			if !mm.MemoryFile().IsAllocated(page) {
				t.Errorf("Lookup(%v) = %v, not an allocated page", va, pa)
			}
			if seen[page] {
				t.Errorf("page %v mapped twice", page)
			}
			seen[page] = true
		}
		if opts.AccessType.Write != v.Perms.Write || !opts.User {
			t.Errorf("%v mapped with %v, want write=%t user", va, opts, v.Perms.Write)
		}
	}
}

func TestMapEvict(t *testing.T) {
	for _, v := range []VMA{
		{Name: "anon", Start: 0x40000000, Length: 4 * hostarch.PageSize, Perms: Perms{Write: true}},
		{Name: "ro", Start: 0x40800000, Length: 2 * hostarch.PageSize},
		{Name: "exact", Start: 0x50000000, Length: 3 * hostarch.PageSize, Exact: true, Phys: 0xb8000, Perms: Perms{Write: true, CacheDisable: true}},
		{Name: "straddle", Start: 0x403fe000, Length: 4 * hostarch.PageSize, Perms: Perms{Write: true}},
	} {
		t.Run(v.Name, func(t *testing.T) {
			mm, mf := newTestMM(t, 64)
			base := mf.UsedPages()
			mustAdd(t, mm, v)
			if err := mm.MapVMA(v.Name); err != nil {
				t.Fatalf("MapVMA failed: %v", err)
			}
			checkBacking(t, mm, v)

			// Mapping again is a no-op.
			used := mf.UsedPages()
			if err := mm.MapVMA(v.Name); err != nil {
				t.Fatalf("second MapVMA failed: %v", err)
			}
			if mf.UsedPages() != used {
				t.Errorf("second MapVMA allocated %d pages", mf.UsedPages()-used)
			}

			if err := mm.EvictVMA(v.Name); err != nil {
				t.Fatalf("EvictVMA failed: %v", err)
			}
			if got := mf.UsedPages(); got != base {
				t.Errorf("UsedPages() after evict = %d, want %d", got, base)
			}
			if _, _, ok := mm.AddressSpace().Lookup(v.Start); ok {
				t.Errorf("%v still mapped after evict", v.Start)
			}
			if _, ok := mm.FindByName(v.Name); ok {
				t.Errorf("VMA %q still present after evict", v.Name)
			}
		})
	}
}

func TestMapVMAPartial(t *testing.T) {
	// Two pages of kernel tables and one user directory leave five.
	mm, mf := newTestMM(t, 8)
	b := VMA{Name: "b", Start: 0x40000000, Length: 2 * hostarch.PageSize, Perms: Perms{Write: true}}
	a := VMA{Name: "a", Start: 0x40010000, Length: 4 * hostarch.PageSize, Perms: Perms{Write: true}}
	mustAdd(t, mm, b)
	mustAdd(t, mm, a)
	if err := mm.MapVMA("b"); err != nil {
		t.Fatalf("MapVMA(b) failed: %v", err)
	}

	err := mm.MapVMA("a")
	if !errors.Is(err, linuxerr.ErrPartial) {
		t.Fatalf("MapVMA(a) = %v, want ErrPartial", err)
	}
	mapped := 0
	for va := a.Start; va < a.End(); va += hostarch.PageSize {
		if _, _, ok := mm.AddressSpace().Lookup(va); ok {
			mapped++
		}
	}
	if mapped != 2 {
		t.Errorf("partial map left %d pages, want 2", mapped)
	}

	// A retry that fails on its first new page is still partial: the pages
	// mapped before stay mapped.
	if err := mm.MapVMA("a"); !errors.Is(err, linuxerr.ErrPartial) {
		t.Errorf("retried MapVMA(a) without memory = %v, want ErrPartial", err)
	}

	// Free memory and retry from the partial state.
	if err := mm.EvictVMA("b"); err != nil {
		t.Fatalf("EvictVMA(b) failed: %v", err)
	}
	if err := mm.MapVMA("a"); err != nil {
		t.Fatalf("retried MapVMA(a) failed: %v", err)
	}
	checkBacking(t, mm, a)
	if got := mf.UsedPages(); got != mf.TotalPages() {
		t.Errorf("UsedPages() = %d, want %d", got, mf.TotalPages())
	}
}

func TestMapExactAroundFaultedPage(t *testing.T) {
	mm, mf := newTestMM(t, 16)
	v := VMA{Name: "fb", Start: 0x50000000, Length: 5 * hostarch.PageSize, Exact: true, Phys: 0xb8000, Perms: Perms{Write: true}}
	mustAdd(t, mm, v)
	if err := mm.HandleFault(v.Start+2*hostarch.PageSize, arch.FaultUser|arch.FaultWrite); err != nil {
		t.Fatalf("HandleFault failed: %v", err)
	}
	used := mf.UsedPages()
	if err := mm.MapVMA(v.Name); err != nil {
		t.Fatalf("MapVMA failed: %v", err)
	}
	checkBacking(t, mm, v)
	if got := mf.UsedPages(); got != used {
		t.Errorf("exact MapVMA used %d pool pages, want 0", got-used)
	}
	if diff := cmp.Diff(MapsEntry{Start: v.Start, End: v.End(), Perms: "rw-", Name: "fb", Resident: 5}, mm.Maps()[0]); diff != "" {
		t.Errorf("Maps() mismatch (-want +got):\n%s", diff)
	}
}

func TestMapVMANoMemory(t *testing.T) {
	mm, _ := newTestMM(t, 3)
	mustAdd(t, mm, VMA{Name: "a", Start: 0x40000000, Length: hostarch.PageSize})
	err := mm.MapVMA("a")
	if !linuxerr.Equals(linuxerr.ENOMEM, err) || errors.Is(err, linuxerr.ErrPartial) {
		t.Errorf("MapVMA = %v, want ENOMEM", err)
	}
}

func TestEvictErrors(t *testing.T) {
	mm, _ := newTestMM(t, 16)
	mustAdd(t, mm, VMA{Name: KernelVMAName, Start: 0, Length: uint32(UserspaceBottom), Kernel: true, PreMap: true})
	if err := mm.MapVMA(KernelVMAName); err != nil {
		t.Errorf("MapVMA(kernel) = %v, want nil", err)
	}
	if err := mm.EvictVMA(KernelVMAName); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("EvictVMA(kernel) = %v, want EINVAL", err)
	}
	if err := mm.EvictVMA("missing"); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("EvictVMA(missing) = %v, want ENOENT", err)
	}
	if err := mm.EvictPage(0x60000000, true); !linuxerr.Equals(linuxerr.ENOENT, err) {
		t.Errorf("EvictPage(unowned) = %v, want ENOENT", err)
	}
}

func TestAddVMAErrors(t *testing.T) {
	mm, _ := newTestMM(t, 16)
	mustAdd(t, mm, VMA{Name: "a", Start: 0x40000000, Length: 2 * hostarch.PageSize})
	for _, tc := range []struct {
		name string
		v    VMA
		want error
	}{
		{"overlap", VMA{Name: "b", Start: 0x40001000, Length: hostarch.PageSize}, linuxerr.EINVAL},
		{"duplicate", VMA{Name: "a", Start: 0x50000000, Length: hostarch.PageSize}, linuxerr.EEXIST},
		{"kernel half", VMA{Name: "c", Start: 0x3ffff000, Length: 2 * hostarch.PageSize}, linuxerr.EINVAL},
		{"unaligned", VMA{Name: "d", Start: 0x50000010, Length: hostarch.PageSize}, linuxerr.EINVAL},
		{"above top", VMA{Name: "e", Start: UserspaceTop, Length: hostarch.PageSize}, linuxerr.EINVAL},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := mm.AddVMA(tc.v); !errors.Is(err, tc.want) {
				t.Errorf("AddVMA(%v) = %v, want %v", &tc.v, err, tc.want)
			}
		})
	}
	// A zero-length VMA may sit where another VMA starts later.
	mustAdd(t, mm, VMA{Name: "empty", Start: 0x40002000})
	mustAdd(t, mm, VMA{Name: "next", Start: 0x40002000, Length: hostarch.PageSize})
	if v, ok := mm.FindByAddr(0x40002000); !ok || v.Name != "next" {
		t.Errorf("FindByAddr(0x40002000) = %v, %t, want next", &v, ok)
	}
	if _, ok := mm.FindByAddr(0x40003000); ok {
		t.Errorf("FindByAddr(0x40003000) found a VMA")
	}
}

func TestExtendVMA(t *testing.T) {
	const page = hostarch.PageSize
	for _, tc := range []struct {
		name      string
		target    string
		dir       Direction
		length    uint32
		wantErr   bool
		wantStart hostarch.Addr
		wantLen   uint32
	}{
		{name: "up to neighbor", target: "a", dir: Up, length: 2 * page, wantStart: 0x40000000, wantLen: 4 * page},
		{name: "up into neighbor", target: "a", dir: Up, length: 3 * page, wantErr: true, wantStart: 0x40000000, wantLen: 2 * page},
		{name: "down to neighbor", target: "b", dir: Down, length: 2 * page, wantStart: 0x40002000, wantLen: 4 * page},
		{name: "down into neighbor", target: "b", dir: Down, length: 3 * page, wantErr: true, wantStart: 0x40004000, wantLen: 2 * page},
		{name: "down below split", target: "a", dir: Down, length: page, wantErr: true, wantStart: 0x40000000, wantLen: 2 * page},
		{name: "up free", target: "b", dir: Up, length: 16 * page, wantStart: 0x40004000, wantLen: 18 * page},
		{name: "unaligned", target: "b", dir: Up, length: 10, wantErr: true, wantStart: 0x40004000, wantLen: 2 * page},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mm, _ := newTestMM(t, 16)
			mustAdd(t, mm, VMA{Name: "a", Start: 0x40000000, Length: 2 * page})
			mustAdd(t, mm, VMA{Name: "b", Start: 0x40004000, Length: 2 * page})
			err := mm.ExtendVMA(tc.target, tc.dir, tc.length)
			if tc.wantErr && !linuxerr.Equals(linuxerr.EINVAL, err) {
				t.Errorf("ExtendVMA = %v, want EINVAL", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("ExtendVMA failed: %v", err)
			}
			v, _ := mm.FindByName(tc.target)
			if v.Start != tc.wantStart || v.Length != tc.wantLen {
				t.Errorf("VMA = [%v, +%#x), want [%v, +%#x)", v.Start, v.Length, tc.wantStart, tc.wantLen)
			}
			if got, ok := mm.FindByAddr(tc.wantStart); !ok || got.Name != tc.target {
				t.Errorf("FindByAddr(%v) = %q, %t, want %q", tc.wantStart, got.Name, ok, tc.target)
			}
		})
	}
}

func TestExtendExactDown(t *testing.T) {
	mm, _ := newTestMM(t, 16)
	mustAdd(t, mm, VMA{Name: "fb", Start: 0x50002000, Length: hostarch.PageSize, Exact: true, Phys: 0xb9000, Perms: Perms{Write: true}})
	if err := mm.ExtendVMA("fb", Down, hostarch.PageSize); err != nil {
		t.Fatalf("ExtendVMA failed: %v", err)
	}
	v, _ := mm.FindByName("fb")
	if v.Start != 0x50001000 || v.Phys != 0xb8000 {
		t.Errorf("VMA = %v, want start 0x50001000 phys 0xb8000", &v)
	}
	if err := mm.MapVMA("fb"); err != nil {
		t.Fatalf("MapVMA failed: %v", err)
	}
	checkBacking(t, mm, v)
}

func TestHandleFault(t *testing.T) {
	mm, mf := newTestMM(t, 16)
	mustAdd(t, mm, VMA{Name: "rw", Start: 0x40000000, Length: 4 * hostarch.PageSize, Perms: Perms{Write: true}})
	mustAdd(t, mm, VMA{Name: "ro", Start: 0x40010000, Length: hostarch.PageSize})

	user := FaultCode(arch.FaultUser)
	for _, tc := range []struct {
		name string
		addr hostarch.Addr
		code FaultCode
		want error
	}{
		{"read", 0x40001234, user, nil},
		{"write", 0x40002000, user | arch.FaultWrite, nil},
		{"unowned", 0x40020000, user, linuxerr.EFAULT},
		{"write read-only", 0x40010000, user | arch.FaultWrite, linuxerr.EFAULT},
		{"fetch non-exec", 0x40010000, user | arch.FaultFetch, linuxerr.EFAULT},
		{"protection read", 0x40010000, user | arch.FaultProtection, linuxerr.EFAULT},
		{"user kernel", 0x1000, user, linuxerr.EFAULT},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := mm.HandleFault(tc.addr, tc.code)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("HandleFault failed: %v", err)
				}
				if _, _, ok := mm.AddressSpace().Lookup(tc.addr); !ok {
					t.Errorf("%v not mapped after fault", tc.addr)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("HandleFault = %v, want %v", err, tc.want)
			}
		})
	}
	if got := mf.UsedPages(); got != 3+1+2 {
		t.Errorf("UsedPages() = %d, want %d", got, 3+1+2)
	}
}

func TestKernelFault(t *testing.T) {
	mm, _ := newTestMM(t, 16)
	k := mm.Kernel()
	if err := k.AddVMA(VMA{Name: "kheap", Start: 0x1000000, Length: 4 * hostarch.PageSize, Perms: Perms{Write: true}}); err != nil {
		t.Fatalf("AddVMA failed: %v", err)
	}
	if _, _, ok := mm.AddressSpace().Lookup(0x1000000); ok {
		t.Fatalf("lazy kernel VMA mapped before a fault")
	}
	if err := mm.HandleFault(0x1001000, arch.FaultWrite); err != nil {
		t.Fatalf("kernel HandleFault failed: %v", err)
	}
	// The mapping is visible through every address space.
	if _, opts, ok := k.AddressSpace().Lookup(0x1001000); !ok || opts.User {
		t.Errorf("kernel Lookup = %v, %t, want a kernel-only mapping", opts, ok)
	}
	if err := mm.HandleFault(0x2000000, 0); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("fault outside kernel VMAs = %v, want EFAULT", err)
	}

	if as := k.AddressSpace(); as != k.AddressSpace() {
		t.Errorf("kernel AddressSpace is not stable across calls")
	}

	// The fixed VMAs are identity mapped from the start.
	if pa, _, ok := k.AddressSpace().Lookup(0x100123); !ok || pa != 0x100123 {
		t.Errorf("kernel image Lookup = %v, %t, want identity", pa, ok)
	}
	var names []string
	for _, v := range k.VMAs() {
		names = append(names, v.Name)
	}
	if diff := cmp.Diff([]string{Low1MBVMAName, KernelImageVMAName, "kheap"}, names); diff != "" {
		t.Errorf("kernel VMAs (-want +got):\n%s", diff)
	}
}

func TestSbrk(t *testing.T) {
	mm, mf := newTestMM(t, 32)
	const heapStart = 0x40003000
	mustAdd(t, mm, VMA{Name: HeapVMAName, Start: heapStart, Perms: Perms{Write: true}})
	mustAdd(t, mm, VMA{Name: "wall", Start: 0x40008000, Length: hostarch.PageSize})
	if err := mm.BrkSetup(); err != nil {
		t.Fatalf("BrkSetup failed: %v", err)
	}
	base := mf.UsedPages()

	for _, tc := range []struct {
		delta   int32
		wantOld hostarch.Addr
		wantErr error
		wantBrk hostarch.Addr
		wantLen uint32
	}{
		{delta: 0, wantOld: heapStart, wantBrk: heapStart},
		{delta: 10, wantOld: heapStart, wantBrk: heapStart + 10, wantLen: hostarch.PageSize},
		{delta: 0x2000, wantOld: heapStart + 10, wantBrk: heapStart + 0x200a, wantLen: 3 * hostarch.PageSize},
		{delta: 0x3000, wantOld: heapStart + 0x200a, wantErr: linuxerr.ENOMEM, wantBrk: heapStart + 0x200a, wantLen: 3 * hostarch.PageSize},
		{delta: -0x2000, wantOld: heapStart + 0x200a, wantBrk: heapStart + 10, wantLen: hostarch.PageSize},
		{delta: -11, wantOld: heapStart + 10, wantErr: linuxerr.EINVAL, wantBrk: heapStart + 10, wantLen: hostarch.PageSize},
		{delta: -10, wantOld: heapStart + 10, wantBrk: heapStart},
	} {
		old, err := mm.Sbrk(tc.delta)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("Sbrk(%d) error = %v, want %v", tc.delta, err, tc.wantErr)
		}
		if old != tc.wantOld {
			t.Errorf("Sbrk(%d) = %v, want %v", tc.delta, old, tc.wantOld)
		}
		if mm.Brk() != tc.wantBrk {
			t.Errorf("after Sbrk(%d): Brk() = %v, want %v", tc.delta, mm.Brk(), tc.wantBrk)
		}
		heap, _ := mm.FindByName(HeapVMAName)
		if heap.Length != tc.wantLen {
			t.Errorf("after Sbrk(%d): heap length = %#x, want %#x", tc.delta, heap.Length, tc.wantLen)
		}
		// Touch the whole heap so shrinking has pages to evict.
		if heap.Length > 0 {
			if _, err := mm.CopyOut(heap.Start, make([]byte, heap.Length)); err != nil {
				t.Fatalf("CopyOut to heap failed: %v", err)
			}
		}
	}
	// Only the page table for the heap may remain.
	if got := mf.UsedPages(); got > base+1 {
		t.Errorf("UsedPages() = %d after the heap shrank to zero, want at most %d", got, base+1)
	}
}

func TestCopy(t *testing.T) {
	mm, _ := newTestMM(t, 16)
	mustAdd(t, mm, VMA{Name: "rw", Start: 0x40000000, Length: 2 * hostarch.PageSize, Perms: Perms{Write: true}})
	mustAdd(t, mm, VMA{Name: "ro", Start: 0x40010000, Length: hostarch.PageSize})

	// Cross a page boundary.
	addr := hostarch.Addr(0x40000ffc)
	want := []byte("hello\x00world")
	if n, err := mm.CopyOut(addr, want); err != nil || n != len(want) {
		t.Fatalf("CopyOut = %d, %v, want %d, nil", n, err, len(want))
	}
	got := make([]byte, len(want))
	if n, err := mm.CopyIn(addr, got); err != nil || n != len(got) {
		t.Fatalf("CopyIn = %d, %v", n, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CopyIn mismatch (-want +got):\n%s", diff)
	}
	if s, err := mm.CopyInString(addr, 64); err != nil || s != "hello" {
		t.Errorf("CopyInString = %q, %v, want %q", s, err, "hello")
	}
	if _, err := mm.CopyInString(addr+6, 3); !linuxerr.Equals(linuxerr.ENAMETOOLONG, err) {
		t.Errorf("CopyInString without NUL = %v, want ENAMETOOLONG", err)
	}

	if _, err := mm.CopyOut(0x40010000, []byte{1}); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("CopyOut to read-only = %v, want EFAULT", err)
	}
	if n, err := mm.CopyOut(0x40001ffe, []byte{1, 2, 3, 4}); !linuxerr.Equals(linuxerr.EFAULT, err) || n != 2 {
		t.Errorf("CopyOut past the VMA = %d, %v, want 2, EFAULT", n, err)
	}
	if _, err := mm.CopyIn(0x1000, got); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("CopyIn from kernel = %v, want EFAULT", err)
	}
}

func TestRelease(t *testing.T) {
	mm, mf := newTestMM(t, 32)
	mustAdd(t, mm, VMA{Name: "a", Start: 0x40000000, Length: 3 * hostarch.PageSize, Perms: Perms{Write: true}, PreMap: true})
	mustAdd(t, mm, VMA{Name: "b", Start: 0x80000000, Length: 2 * hostarch.PageSize, Perms: Perms{Write: true}})
	mustAdd(t, mm, VMA{Name: "fb", Start: 0x90000000, Length: hostarch.PageSize, Exact: true, Phys: 0xb8000})
	for _, name := range []string{"a", "b", "fb"} {
		if err := mm.MapVMA(name); err != nil {
			t.Fatalf("MapVMA(%s) failed: %v", name, err)
		}
	}
	mm.Release()
	// Only the kernel's directory and table remain.
	if got := mf.UsedPages(); got != 2 {
		t.Errorf("UsedPages() after Release = %d, want 2", got)
	}
	mm.Release()
}

func TestMaps(t *testing.T) {
	mm, _ := newTestMM(t, 16)
	mustAdd(t, mm, VMA{Name: "[text]", Start: 0x40000000, Length: 2 * hostarch.PageSize, Perms: Perms{Execute: true}})
	mustAdd(t, mm, VMA{Name: HeapVMAName, Start: 0x40002000, Perms: Perms{Write: true}})
	if err := mm.HandleFault(0x40000000, arch.FaultUser); err != nil {
		t.Fatalf("HandleFault failed: %v", err)
	}
	want := []MapsEntry{
		{Start: 0x40000000, End: 0x40002000, Perms: "r-x", Name: "[text]", Resident: 1},
		{Start: 0x40002000, End: 0x40002000, Perms: "rw-", Name: HeapVMAName},
	}
	if diff := cmp.Diff(want, mm.Maps()); diff != "" {
		t.Errorf("Maps() mismatch (-want +got):\n%s", diff)
	}
	if got, want := mm.MapsString(), "40000000-40002000 r-x         1 [text]\n40002000-40002000 rw-         0 [heap]\n"; got != want {
		t.Errorf("MapsString() = %q, want %q", got, want)
	}
}
