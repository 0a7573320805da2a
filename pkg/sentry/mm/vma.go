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
	"math"

	"github.com/google/btree"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/platform/ring0/pagetables"
)

// Perms are the permission bits of a VMA.
type Perms struct {
	Write        bool
	WriteThrough bool
	CacheDisable bool
	Execute      bool
}

// String implements fmt.Stringer.
func (p Perms) String() string {
	b := []byte("r--")
	if p.Write {
		b[1] = 'w'
	}
	if p.Execute {
		b[2] = 'x'
	}
	if p.CacheDisable {
		b = append(b, " uc"...)
	} else if p.WriteThrough {
		b = append(b, " wt"...)
	}
	return string(b)
}

// VMA is a named range of virtual addresses with uniform permissions.
type VMA struct {
	// Name identifies the VMA within its owner, e.g. "[heap]".
	Name string

	// Start is the first address of the VMA. It is page aligned.
	Start hostarch.Addr

	// Length is the size of the VMA in bytes. It is a multiple of the
	// page size and may be zero.
	Length uint32

	Perms Perms

	// Exact VMAs map to the fixed physical range starting at Phys instead
	// of allocated pages. Their pages are never returned to the pool.
	Exact bool
	Phys  hostarch.PhysAddr

	// PreMap VMAs are mapped when created instead of on first fault.
	PreMap bool

	// Kernel is set for VMAs below the user/kernel split. A task's kernel
	// VMA mirrors the shared kernel space and is never evicted.
	Kernel bool

	// seq orders VMAs in insertion order.
	seq uint64
}

// Range returns the addresses covered by v.
func (v *VMA) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: v.Start, End: v.Start + hostarch.Addr(v.Length)}
}

// End returns the first address after v.
func (v *VMA) End() hostarch.Addr {
	return v.Start + hostarch.Addr(v.Length)
}

// Contains returns true if addr is in v.
func (v *VMA) Contains(addr hostarch.Addr) bool {
	return v.Range().Contains(addr)
}

// physFor returns the fixed physical address backing va.
//
// Preconditions: v.Exact and v.Contains(va).
func (v *VMA) physFor(va hostarch.Addr) hostarch.PhysAddr {
	return v.Phys + hostarch.PhysAddr(va.RoundDown()-v.Start)
}

// mapOpts returns the page-table options for pages of v.
func (v *VMA) mapOpts() pagetables.MapOpts {
	opts := pagetables.MapOpts{
		AccessType: hostarch.AccessType{Read: true, Write: v.Perms.Write, Execute: v.Perms.Execute},
		User:       !v.Kernel,
		MemoryType: hostarch.MemoryTypeWriteBack,
	}
	switch {
	case v.Perms.CacheDisable:
		opts.MemoryType = hostarch.MemoryTypeUncached
	case v.Perms.WriteThrough:
		opts.MemoryType = hostarch.MemoryTypeWriteThrough
	}
	return opts
}

// String implements fmt.Stringer.
func (v *VMA) String() string {
	s := fmt.Sprintf("%s %v %v", v.Name, v.Range(), v.Perms)
	if v.Exact {
		s += fmt.Sprintf(" phys=%v", v.Phys)
	}
	return s
}

// Direction is the direction a VMA is extended in.
type Direction int

const (
	// Up extends the end of a VMA.
	Up Direction = iota

	// Down extends the start of a VMA.
	Down
)

func (d Direction) String() string {
	if d == Down {
		return "down"
	}
	return "up"
}

// vmaSet is a set of non-overlapping VMAs. It remembers insertion order and
// keeps an address index for lookups.
type vmaSet struct {
	ordered []*VMA
	index   *btree.BTreeG[*VMA]
	nextSeq uint64
}

func vmaLess(a, b *VMA) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.seq < b.seq
}

func (s *vmaSet) init() {
	s.index = btree.NewG(8, vmaLess)
}

// Len returns the number of VMAs.
func (s *vmaSet) Len() int {
	return len(s.ordered)
}

// findName returns the VMA called name.
func (s *vmaSet) findName(name string) *VMA {
	for _, v := range s.ordered {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// findAddr returns the VMA containing addr.
func (s *vmaSet) findAddr(addr hostarch.Addr) *VMA {
	var found *VMA
	s.index.DescendLessOrEqual(&VMA{Start: addr, seq: math.MaxUint64}, func(v *VMA) bool {
		if v.Length == 0 {
			return true
		}
		if v.Contains(addr) {
			found = v
		}
		// VMAs don't overlap, so only the closest non-empty VMA below
		// addr can contain it.
		return false
	})
	return found
}

// overlapping returns a VMA other than skip that overlaps ar, or nil.
func (s *vmaSet) overlapping(ar hostarch.AddrRange, skip *VMA) *VMA {
	if ar.Length() == 0 {
		return nil
	}
	var found *VMA
	s.index.DescendLessOrEqual(&VMA{Start: ar.End - 1, seq: math.MaxUint64}, func(v *VMA) bool {
		if v == skip || v.Length == 0 {
			return true
		}
		if v.Range().Overlaps(ar) {
			found = v
		}
		return false
	})
	return found
}

// insert adds v. It returns EEXIST if the name is taken and EINVAL if v is
// malformed or overlaps another VMA.
func (s *vmaSet) insert(v *VMA) error {
	if !v.Start.IsPageAligned() || v.Length%hostarch.PageSize != 0 {
		return fmt.Errorf("%v is not page aligned: %w", v, linuxerr.EINVAL)
	}
	if _, ok := v.Start.AddLength(v.Length); !ok {
		return fmt.Errorf("%v wraps: %w", v, linuxerr.EINVAL)
	}
	if s.findName(v.Name) != nil {
		return fmt.Errorf("VMA %q: %w", v.Name, linuxerr.EEXIST)
	}
	if o := s.overlapping(v.Range(), nil); o != nil {
		return fmt.Errorf("%v overlaps %v: %w", v, o, linuxerr.EINVAL)
	}
	v.seq = s.nextSeq
	s.nextSeq++
	s.ordered = append(s.ordered, v)
	s.index.ReplaceOrInsert(v)
	return nil
}

// remove drops v from the set.
func (s *vmaSet) remove(v *VMA) {
	for i, o := range s.ordered {
		if o == v {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	s.index.Delete(v)
}

// move changes the start of v, keeping the index consistent.
func (s *vmaSet) move(v *VMA, start hostarch.Addr) {
	s.index.Delete(v)
	v.Start = start
	s.index.ReplaceOrInsert(v)
}

// all returns copies of every VMA in insertion order.
func (s *vmaSet) all() []VMA {
	vmas := make([]VMA, 0, len(s.ordered))
	for _, v := range s.ordered {
		vmas = append(vmas, *v)
	}
	return vmas
}
