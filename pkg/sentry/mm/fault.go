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
	"strings"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/arch"
)

// FaultCode is the error code pushed by a page fault.
type FaultCode uint32

// Protection returns true if the fault hit a present page.
func (c FaultCode) Protection() bool { return c&arch.FaultProtection != 0 }

// Write returns true if the faulting access was a write.
func (c FaultCode) Write() bool { return c&arch.FaultWrite != 0 }

// User returns true if the fault was taken in user mode.
func (c FaultCode) User() bool { return c&arch.FaultUser != 0 }

// Fetch returns true if the faulting access was an instruction fetch.
func (c FaultCode) Fetch() bool { return c&arch.FaultFetch != 0 }

// AccessType returns the access that faulted.
func (c FaultCode) AccessType() hostarch.AccessType {
	switch {
	case c.Write():
		return hostarch.Write
	case c.Fetch():
		return hostarch.Execute
	default:
		return hostarch.Read
	}
}

// String implements fmt.Stringer.
func (c FaultCode) String() string {
	var parts []string
	if c.Protection() {
		parts = append(parts, "protection")
	} else {
		parts = append(parts, "not-present")
	}
	if c.Write() {
		parts = append(parts, "write")
	} else if c.Fetch() {
		parts = append(parts, "fetch")
	} else {
		parts = append(parts, "read")
	}
	if c.User() {
		parts = append(parts, "user")
	} else {
		parts = append(parts, "kernel")
	}
	return strings.Join(parts, "|")
}

// checkAccess returns EFAULT if the access described by code may never
// succeed in v.
func checkAccess(v *VMA, code FaultCode) error {
	switch {
	case code.Write() && !v.Perms.Write:
		return fmt.Errorf("write to read-only %v: %w", v, linuxerr.EFAULT)
	case code.Fetch() && !v.Perms.Execute:
		return fmt.Errorf("fetch from non-executable %v: %w", v, linuxerr.EFAULT)
	case code.Protection():
		// Present pages only fault when the access itself is refused.
		// A protection fault that the VMA allows means the page tables
		// disagree with the VMA, which cannot be fixed by mapping.
		return fmt.Errorf("protection fault (%v) in %v: %w", code, v, linuxerr.EFAULT)
	}
	return nil
}

// HandleFault services a page fault at addr. Faults below the split go to
// the kernel VMA table. Above the split the faulting page of the covering
// VMA is mapped in. It returns EFAULT when the fault cannot be serviced;
// the caller turns that into a fatal signal.
func (mm *MemoryManager) HandleFault(addr hostarch.Addr, code FaultCode) error {
	if mm.kernel.space.Contains(addr) {
		return mm.kernel.HandleFault(addr, code)
	}
	v := mm.vmas.findAddr(addr)
	if v == nil {
		return fmt.Errorf("no VMA at %v (%v): %w", addr, code, linuxerr.EFAULT)
	}
	if err := checkAccess(v, code); err != nil {
		return err
	}
	page := addr.RoundDown()
	if err := mapRange(mm.mf, mm.pt, v, hostarch.AddrRange{Start: page, End: page + hostarch.PageSize}); err != nil {
		return err
	}
	return nil
}
