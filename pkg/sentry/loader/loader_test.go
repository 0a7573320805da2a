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

package loader

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/loader/elfimage"
	"gvisor.dev/procore/pkg/sentry/mm"
	"gvisor.dev/procore/pkg/sentry/pgalloc"
	"gvisor.dev/procore/pkg/sentry/platform/ring0/pagetables"
)

const testStackSize = 16 * hostarch.PageSize

func newMM(t *testing.T, pages uint32) (*mm.MemoryManager, *pgalloc.MemoryFile) {
	t.Helper()
	mf, err := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{PoolBase: 0x4000000, PoolSize: pages * hostarch.PageSize})
	if err != nil {
		t.Fatalf("NewMemoryFile failed: %v", err)
	}
	k, err := mm.NewKernelMM(mf, mm.DefaultKernelOpts())
	if err != nil {
		t.Fatalf("NewKernelMM failed: %v", err)
	}
	m, err := mm.NewMemoryManager(k)
	if err != nil {
		t.Fatalf("NewMemoryManager failed: %v", err)
	}
	return m, mf
}

func readWord(t *testing.T, m *mm.MemoryManager, addr hostarch.Addr) uint32 {
	t.Helper()
	var b [4]byte
	if _, err := m.CopyIn(addr, b[:]); err != nil {
		t.Fatalf("CopyIn(%v) failed: %v", addr, err)
	}
	return binary.LittleEndian.Uint32(b[:])
}

func TestLoadTwoSegment(t *testing.T) {
	m, _ := newMM(t, 256)
	text := []byte{0x90, 0x90, 0xc3}
	img := elfimage.TwoSegment(0x40000000, text, []byte("hello"), 0x2000)

	var activated *pagetables.AddressSpace
	info, err := Load(LoadArgs{
		MemoryManager: m,
		Image:         img.Build(),
		CommandLine:   "/bin/init  -v x",
		StackSize:     testStackSize,
		Activate:      func(as *pagetables.AddressSpace) { activated = as },
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if activated != m.AddressSpace() {
		t.Errorf("Activate was not called with the new address space")
	}

	var names []string
	for _, v := range m.VMAs() {
		names = append(names, v.Name)
	}
	if diff := cmp.Diff([]string{mm.KernelVMAName, "[text]", "[data]", mm.HeapVMAName, mm.StackVMAName}, names); diff != "" {
		t.Errorf("VMAs mismatch (-want +got):\n%s", diff)
	}
	heap, _ := m.FindByName(mm.HeapVMAName)
	if heap.Start != 0x40004000 || heap.Length != 0 || info.HeapStart != 0x40004000 {
		t.Errorf("heap = %v, HeapStart = %v, want an empty heap at 0x40004000", &heap, info.HeapStart)
	}
	if m.Brk() != heap.Start {
		t.Errorf("Brk() = %v, want %v", m.Brk(), heap.Start)
	}
	stack, _ := m.FindByName(mm.StackVMAName)
	if stack.Start != mm.StackTop-testStackSize || stack.Length != testStackSize {
		t.Errorf("stack = %v", &stack)
	}

	// Contents and final permissions.
	got := make([]byte, 3)
	m.CopyIn(0x40000000, got)
	if diff := cmp.Diff(text, got); diff != "" {
		t.Errorf("text mismatch (-want +got):\n%s", diff)
	}
	got = make([]byte, 8)
	m.CopyIn(0x40001000, got)
	if diff := cmp.Diff([]byte("hello\x00\x00\x00"), got); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if _, opts, ok := m.AddressSpace().Lookup(0x40000000); !ok || opts.AccessType.Write || !opts.User {
		t.Errorf("text mapping = %v, %t, want read-only user", opts, ok)
	}
	if _, opts, ok := m.AddressSpace().Lookup(0x40002000); !ok || !opts.AccessType.Write {
		t.Errorf("bss mapping = %v, %t, want writable", opts, ok)
	}
	if _, err := m.CopyOut(0x40000000, []byte{0}); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Errorf("write to text = %v, want EFAULT", err)
	}

	// Initial context and argument block.
	ctx := info.Context
	if ctx.IP() != 0x40000000 || ctx.PrivilegeLevel() != 3 {
		t.Errorf("context = %v, want ring 3 at the entry", ctx)
	}
	sp := ctx.Stack()
	if readWord(t, m, sp) != 0 {
		t.Errorf("fake return address is not zero")
	}
	if argc := readWord(t, m, sp+4); argc != 3 {
		t.Errorf("argc = %d, want 3", argc)
	}
	argvAddr := hostarch.Addr(readWord(t, m, sp+8))
	if argvAddr != info.ArgvAddr {
		t.Errorf("argv = %v, want %v", argvAddr, info.ArgvAddr)
	}
	var args []string
	for i := 0; ; i++ {
		p := readWord(t, m, argvAddr+hostarch.Addr(4*i))
		if p == 0 {
			break
		}
		s, err := m.CopyInString(hostarch.Addr(p), 64)
		if err != nil {
			t.Fatalf("CopyInString failed: %v", err)
		}
		args = append(args, s)
	}
	if diff := cmp.Diff([]string{"/bin/init", "-v", "x"}, args); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
	envp := hostarch.Addr(readWord(t, m, sp+12))
	if readWord(t, m, envp) != 0 {
		t.Errorf("envp is not empty")
	}
}

func TestSegmentNames(t *testing.T) {
	img := elfimage.Image{
		Entry: 0x40000000,
		Segments: []elfimage.Segment{
			{Vaddr: 0x40000000, Data: []byte{1}, Flags: elf.PF_R | elf.PF_X},
			{Vaddr: 0x40001000, Data: []byte{2}, Flags: elf.PF_R},
			{Vaddr: 0x40002000, Data: []byte{3}, Flags: elf.PF_R | elf.PF_W},
			{Vaddr: 0x40003000, Data: []byte{4}, Flags: elf.PF_R | elf.PF_W},
		},
	}
	m, _ := newMM(t, 256)
	if _, err := Load(LoadArgs{MemoryManager: m, Image: img.Build(), StackSize: testStackSize}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	var names []string
	for _, v := range m.VMAs() {
		names = append(names, v.Name)
	}
	want := []string{mm.KernelVMAName, "[text]", "segment-1", "[data]", "segment-3", mm.HeapVMAName, mm.StackVMAName}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("VMAs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	good := elfimage.TwoSegment(0x40000000, []byte{0xc3}, []byte("d"), 0).Build()
	patch := func(off int, b ...byte) []byte {
		img := append([]byte(nil), good...)
		copy(img[off:], b)
		return img
	}
	le := binary.LittleEndian
	phdrField := func(field int, v uint32) []byte {
		img := append([]byte(nil), good...)
		le.PutUint32(img[elfimage.EhdrSize+field:], v)
		return img
	}
	for _, tc := range []struct {
		name  string
		image []byte
	}{
		{"short", good[:20]},
		{"magic", patch(0, 0x7f, 'E', 'L', 'G')},
		{"class", patch(elf.EI_CLASS, byte(elf.ELFCLASS64))},
		{"endianness", patch(elf.EI_DATA, byte(elf.ELFDATA2MSB))},
		{"type", patch(16, byte(elf.ET_DYN))},
		{"machine", patch(18, byte(elf.EM_X86_64))},
		{"version", patch(20, 2)},
		{"ehsize", patch(40, 64)},
		{"phentsize", patch(42, 56)},
		{"shentsize", patch(46, 64)},
		{"file range", phdrField(16, 1<<20)},
		{"below user space", phdrField(8, 0x1000)},
		{"in stack", phdrField(8, uint32(mm.StackTop)-hostarch.PageSize)},
		{"overlapping segments", func() []byte {
			img := elfimage.Image{Entry: 0x40000000, Segments: []elfimage.Segment{
				{Vaddr: 0x40000000, Data: []byte{1}, Flags: elf.PF_R | elf.PF_X},
				{Vaddr: 0x40000800, Data: []byte{2}, Flags: elf.PF_R | elf.PF_W},
			}}
			return img.Build()
		}()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, mf := newMM(t, 256)
			used := mf.UsedPages()
			_, err := Load(LoadArgs{MemoryManager: m, Image: tc.image, StackSize: testStackSize})
			if !linuxerr.Equals(linuxerr.ENOEXEC, err) {
				t.Errorf("Load = %v, want ENOEXEC", err)
			}
			for _, v := range m.VMAs() {
				if !v.Kernel {
					t.Errorf("VMA %v left after failed load", &v)
				}
			}
			if got := mf.UsedPages(); got != used {
				t.Errorf("UsedPages() = %d after failed load, want %d", got, used)
			}
		})
	}
}

func TestLoadUnwindsOnNoMemory(t *testing.T) {
	// Enough for the kernel tables, the directory and the segments, but
	// not the stack.
	m, mf := newMM(t, 12)
	used := mf.UsedPages()
	img := elfimage.TwoSegment(0x40000000, []byte{0xc3}, []byte("d"), 0)
	_, err := Load(LoadArgs{MemoryManager: m, Image: img.Build(), StackSize: testStackSize})
	if !errors.Is(err, linuxerr.ErrPartial) && !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Fatalf("Load = %v, want a mapping failure", err)
	}
	if n := len(m.VMAs()); n != 1 {
		t.Errorf("%d VMAs left after failed load, want only the kernel VMA", n)
	}
	if got := mf.UsedPages(); got != used {
		t.Errorf("UsedPages() = %d after failed load, want %d", got, used)
	}
}
