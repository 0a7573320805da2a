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

// Package loader loads an executable image into a new address space.
package loader

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"strings"

	"gvisor.dev/procore/pkg/cleanup"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/mm"
	"gvisor.dev/procore/pkg/sentry/platform/ring0/pagetables"
)

// DefaultStackSize is the size of the user stack VMA.
const DefaultStackSize = 8 << 20

// LoadArgs holds specifications for an executable to be loaded.
type LoadArgs struct {
	// MemoryManager is the empty address space the image is loaded into.
	MemoryManager *mm.MemoryManager

	// Image is the complete executable file.
	Image []byte

	// CommandLine is split on spaces to form argv.
	CommandLine string

	// StackSize is the size of the stack VMA. It must be page aligned;
	// zero means DefaultStackSize.
	StackSize uint32

	// Activate loads the page-directory base register with the new address
	// space before the image is copied in.
	Activate func(*pagetables.AddressSpace)
}

// ImageInfo describes a loaded image.
type ImageInfo struct {
	// Entry is the program entry point.
	Entry hostarch.Addr

	// Context is the initial user context: Entry with the stack pointer
	// at the fake return address below argc.
	Context *arch.Context

	// Argv are the arguments written to the stack.
	Argv []string

	// ArgvAddr is the address of the argv pointer array.
	ArgvAddr hostarch.Addr

	// HeapStart is where the heap VMA begins.
	HeapStart hostarch.Addr

	// StackBottom is the lowest address of the stack VMA.
	StackBottom hostarch.Addr
}

// segmentName names the VMA of the i-th loadable segment. The first
// executable segment is [text] and the first writable one is [data].
func segmentName(p elf.ProgHeader, i int, taken map[string]bool) string {
	var name string
	switch {
	case p.Flags&elf.PF_X != 0:
		name = "[text]"
	case p.Flags&elf.PF_W != 0:
		name = "[data]"
	}
	if name == "" || taken[name] {
		name = fmt.Sprintf("segment-%d", i)
	}
	taken[name] = true
	return name
}

type segment struct {
	name  string
	phdr  elf.ProgHeader
	perms mm.Perms
}

// Load loads args.Image into args.MemoryManager. It builds, in order, the
// kernel VMA, one VMA per loadable segment, the heap and the stack; maps the
// pre-mapped ones; copies the segments in and then applies their final
// permissions; and writes argv to the stack.
//
// On failure every VMA added by Load is evicted again.
func Load(args LoadArgs) (ImageInfo, error) {
	stackSize := args.StackSize
	if stackSize == 0 {
		stackSize = DefaultStackSize
	}
	if stackSize%hostarch.PageSize != 0 || hostarch.Addr(stackSize) > mm.StackTop-mm.UserspaceBottom {
		return ImageInfo{}, fmt.Errorf("stack size %#x: %w", stackSize, linuxerr.EINVAL)
	}
	stackBottom := mm.StackTop - hostarch.Addr(stackSize)

	info, err := parseHeader(args.Image, mm.UserspaceBottom, stackBottom)
	if err != nil {
		return ImageInfo{}, err
	}

	m := args.MemoryManager
	cu := cleanup.Make(func() {})
	defer cu.Clean()
	add := func(v mm.VMA) error {
		if err := m.AddVMA(v); err != nil {
			return err
		}
		if !v.Kernel {
			cu.Add(func() {
				if err := m.EvictVMA(v.Name); err != nil {
					log.Warningf("Unwinding %s failed: %v", v.Name, err)
				}
			})
		}
		if v.PreMap {
			return m.MapVMA(v.Name)
		}
		return nil
	}

	if err := add(mm.VMA{
		Name:   mm.KernelVMAName,
		Start:  0,
		Length: uint32(mm.UserspaceBottom),
		Kernel: true,
		PreMap: true,
	}); err != nil {
		return ImageInfo{}, err
	}

	var (
		segs     []segment
		taken    = make(map[string]bool)
		imageEnd hostarch.Addr
	)
	for i, p := range info.phdrs {
		start := hostarch.Addr(p.Vaddr).RoundDown()
		end := hostarch.Addr(p.Vaddr + p.Memsz).MustRoundUp()
		s := segment{
			name: segmentName(p, i, taken),
			phdr: p,
			perms: mm.Perms{
				Write:   p.Flags&elf.PF_W != 0,
				Execute: p.Flags&elf.PF_X != 0,
			},
		}
		// Writable until the contents are copied in.
		if err := add(mm.VMA{
			Name:   s.name,
			Start:  start,
			Length: uint32(end - start),
			Perms:  mm.Perms{Write: true, Execute: s.perms.Execute},
			PreMap: true,
		}); err != nil {
			if linuxerr.Equals(linuxerr.EINVAL, err) || linuxerr.Equals(linuxerr.EEXIST, err) {
				return ImageInfo{}, fmt.Errorf("segment %d: %v: %w", i, err, linuxerr.ENOEXEC)
			}
			return ImageInfo{}, err
		}
		segs = append(segs, s)
		imageEnd = max(imageEnd, end)
	}

	if err := add(mm.VMA{
		Name:  mm.HeapVMAName,
		Start: imageEnd,
		Perms: mm.Perms{Write: true},
	}); err != nil {
		return ImageInfo{}, err
	}
	if err := add(mm.VMA{
		Name:   mm.StackVMAName,
		Start:  stackBottom,
		Length: stackSize,
		Perms:  mm.Perms{Write: true},
		PreMap: true,
	}); err != nil {
		return ImageInfo{}, err
	}
	if err := m.BrkSetup(); err != nil {
		return ImageInfo{}, err
	}

	if args.Activate != nil {
		args.Activate(m.AddressSpace())
	}
	for _, s := range segs {
		off := s.phdr.Off
		data := args.Image[off : off+s.phdr.Filesz]
		if _, err := m.CopyOut(hostarch.Addr(s.phdr.Vaddr), data); err != nil {
			return ImageInfo{}, fmt.Errorf("copying %s: %w", s.name, err)
		}
	}
	for _, s := range segs {
		if err := m.RemapVMA(s.name, s.perms); err != nil {
			return ImageInfo{}, err
		}
	}

	argv := strings.Fields(args.CommandLine)
	sp, argvAddr, err := pushArgs(m, mm.StackTop, argv)
	if err != nil {
		return ImageInfo{}, err
	}

	cu.Release()
	log.Debugf("Loaded image: entry %v, %d segments, heap %v, sp %v", info.entry, len(segs), imageEnd, sp)
	return ImageInfo{
		Entry:       info.entry,
		Context:     arch.NewUserContext(info.entry, sp),
		Argv:        argv,
		ArgvAddr:    argvAddr,
		HeapStart:   imageEnd,
		StackBottom: stackBottom,
	}, nil
}

// pushArgs writes the argument strings and vectors below top and returns the
// resulting stack pointer and the address of the argv array.
//
// From the stack pointer up:
//
//	[0]     fake return address (0)
//	[4]     argc
//	[8]     argv
//	[12]    envp
//	...     argv[0..argc-1], NULL
//	...     envp: NULL
//	...     argument strings
func pushArgs(m *mm.MemoryManager, top hostarch.Addr, argv []string) (hostarch.Addr, hostarch.Addr, error) {
	sp := top
	ptrs := make([]uint32, len(argv)+1)
	for i := len(argv) - 1; i >= 0; i-- {
		b := append([]byte(argv[i]), 0)
		sp -= hostarch.Addr(len(b))
		if _, err := m.CopyOut(sp, b); err != nil {
			return 0, 0, err
		}
		ptrs[i] = uint32(sp)
	}
	sp &^= 3

	push := func(words ...uint32) error {
		buf := make([]byte, 4*len(words))
		for i, w := range words {
			binary.LittleEndian.PutUint32(buf[4*i:], w)
		}
		sp -= hostarch.Addr(len(buf))
		_, err := m.CopyOut(sp, buf)
		return err
	}
	if err := push(0); err != nil {
		return 0, 0, err
	}
	envp := sp
	if err := push(ptrs...); err != nil {
		return 0, 0, err
	}
	argvAddr := sp
	if err := push(0, uint32(len(argv)), uint32(argvAddr), uint32(envp)); err != nil {
		return 0, 0, err
	}
	return sp, argvAddr, nil
}
