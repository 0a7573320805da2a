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
	"fmt"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/pgalloc"
	"gvisor.dev/procore/pkg/sentry/platform/ring0/pagetables"
)

// Names of the VMAs every kernel starts with.
const (
	Low1MBVMAName      = "Low1MB"
	KernelImageVMAName = "KernelImage"
)

// KernelOpts describe the kernel's own address space.
type KernelOpts struct {
	// ImageStart and ImageEnd bound the kernel image. They are identity
	// mapped.
	ImageStart hostarch.Addr
	ImageEnd   hostarch.Addr
}

// DefaultKernelOpts returns the usual layout: the image at [1MiB, 4MiB).
func DefaultKernelOpts() KernelOpts {
	return KernelOpts{
		ImageStart: 0x100000,
		ImageEnd:   0x400000,
	}
}

// KernelMM holds the mappings below the split, shared by every task. Its
// VMAs are kernel-only; exact ones are identity mapped at boot and the rest
// are faulted in on first kernel access.
type KernelMM struct {
	mf    *pgalloc.MemoryFile
	space *pagetables.KernelSpace
	as    *pagetables.AddressSpace
	vmas  vmaSet
}

// NewKernelMM builds the shared kernel space and maps its fixed VMAs.
func NewKernelMM(mf *pgalloc.MemoryFile, opts KernelOpts) (*KernelMM, error) {
	if !opts.ImageStart.IsPageAligned() || !opts.ImageEnd.IsPageAligned() || opts.ImageStart < 0x100000 || opts.ImageEnd <= opts.ImageStart || opts.ImageEnd > UserspaceBottom {
		return nil, fmt.Errorf("kernel image [%v, %v): %w", opts.ImageStart, opts.ImageEnd, linuxerr.EINVAL)
	}
	space, err := pagetables.NewKernelSpace(mf, UserspaceBottom)
	if err != nil {
		return nil, err
	}
	k := &KernelMM{
		mf:    mf,
		space: space,
		as:    pagetables.NewAddressSpace(space, nil),
	}
	k.vmas.init()
	for _, v := range []VMA{
		{
			Name:   Low1MBVMAName,
			Start:  0,
			Length: 0x100000,
			Perms:  Perms{Write: true, Execute: true},
			Exact:  true,
			Phys:   0,
			PreMap: true,
		},
		{
			Name:   KernelImageVMAName,
			Start:  opts.ImageStart,
			Length: uint32(opts.ImageEnd - opts.ImageStart),
			Perms:  Perms{Write: true, Execute: true},
			Exact:  true,
			Phys:   hostarch.PhysAddr(opts.ImageStart),
			PreMap: true,
		},
	} {
		if err := k.AddVMA(v); err != nil {
			space.Release()
			return nil, err
		}
	}
	return k, nil
}

// Space returns the shared kernel page tables.
func (k *KernelMM) Space() *pagetables.KernelSpace {
	return k.space
}

// MemoryFile returns physical memory.
func (k *KernelMM) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// AddressSpace returns an address space mapping only the kernel, used by
// kernel tasks and the idle loop.
func (k *KernelMM) AddressSpace() *pagetables.AddressSpace {
	return k.as
}

// AddVMA adds a kernel VMA and maps it if it is pre-mapped.
func (k *KernelMM) AddVMA(v VMA) error {
	if v.End() > k.space.Split() || v.End() < v.Start {
		return fmt.Errorf("kernel VMA %v crosses the split: %w", &v, linuxerr.EINVAL)
	}
	nv := v
	nv.Kernel = true
	if err := k.vmas.insert(&nv); err != nil {
		return err
	}
	if nv.PreMap {
		if err := mapRange(k.mf, k.space.PageTables, &nv, nv.Range()); err != nil {
			return err
		}
	}
	log.Debugf("Added kernel VMA %v", &nv)
	return nil
}

// FindByAddr returns a copy of the kernel VMA containing addr.
func (k *KernelMM) FindByAddr(addr hostarch.Addr) (VMA, bool) {
	if v := k.vmas.findAddr(addr); v != nil {
		return *v, true
	}
	return VMA{}, false
}

// VMAs returns copies of the kernel VMAs, in insertion order.
func (k *KernelMM) VMAs() []VMA {
	return k.vmas.all()
}

// HandleFault services a kernel-mode fault below the split. It returns
// EFAULT if no kernel VMA covers addr or the access is not allowed.
func (k *KernelMM) HandleFault(addr hostarch.Addr, code FaultCode) error {
	if !k.space.Contains(addr) {
		panic(fmt.Sprintf("kernel fault at user address %v", addr))
	}
	if code.User() {
		return fmt.Errorf("user access to kernel address %v (%v): %w", addr, code, linuxerr.EFAULT)
	}
	v := k.vmas.findAddr(addr)
	if v == nil {
		return fmt.Errorf("kernel fault at %v (%v): %w", addr, code, linuxerr.EFAULT)
	}
	if err := checkAccess(v, code); err != nil {
		return err
	}
	page := addr.RoundDown()
	return mapRange(k.mf, k.space.PageTables, v, hostarch.AddrRange{Start: page, End: page + hostarch.PageSize})
}
