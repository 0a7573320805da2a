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

// Package arch describes the saved register state of an i386 execution
// context and the conventions built on it: system-call arguments and signal
// frames.
package arch

import (
	"fmt"

	"gvisor.dev/procore/pkg/hostarch"
)

// PrivilegeLevel is the ring a context executes in.
type PrivilegeLevel uint8

const (
	// PL0 is the kernel ring.
	PL0 PrivilegeLevel = 0

	// PL3 is the user ring.
	PL3 PrivilegeLevel = 3
)

// Segment selectors installed by the boot code.
const (
	KernelCS = 0x08
	KernelDS = 0x10
	UserCS   = 0x18 | 3
	UserDS   = 0x20 | 3
)

// EFLAGS bits.
const (
	// EflagsReserved is always set by the hardware.
	EflagsReserved = 1 << 1

	// EflagsIF enables maskable interrupts.
	EflagsIF = 1 << 9
)

// Page-fault error code bits pushed by the hardware.
const (
	// FaultProtection is set when the page was present; clear for a
	// not-present fault.
	FaultProtection = 1 << 0

	// FaultWrite is set for a write access.
	FaultWrite = 1 << 1

	// FaultUser is set when the access came from ring 3.
	FaultUser = 1 << 2

	// FaultFetch is set for an instruction fetch.
	FaultFetch = 1 << 4
)

// Registers is the general purpose and segment register file.
type Registers struct {
	Eax    uint32
	Ebx    uint32
	Ecx    uint32
	Edx    uint32
	Esi    uint32
	Edi    uint32
	Ebp    uint32
	Esp    uint32
	Eip    uint32
	Eflags uint32
	Cs     uint32
	Ds     uint32
	Es     uint32
	Fs     uint32
	Gs     uint32
	Ss     uint32
}

// Context is a saved execution context: the register file plus the trap
// frame fields the hardware pushes on entry.
type Context struct {
	Regs Registers

	// Vector is the trap vector that suspended this context.
	Vector uint32

	// ErrorCode is the hardware error code of the trap, if any.
	ErrorCode uint32

	// FaultAddr is the faulting linear address (CR2) for page faults.
	FaultAddr hostarch.Addr

	// Esp0 is the ring 0 stack pointer loaded from the TSS when this
	// context traps from ring 3.
	Esp0 hostarch.Addr
}

// NewUserContext returns a context that starts executing at entry in ring 3
// with the given stack pointer.
func NewUserContext(entry, sp hostarch.Addr) *Context {
	return &Context{
		Regs: Registers{
			Eip:    uint32(entry),
			Esp:    uint32(sp),
			Eflags: EflagsReserved | EflagsIF,
			Cs:     UserCS,
			Ds:     UserDS,
			Es:     UserDS,
			Fs:     UserDS,
			Gs:     UserDS,
			Ss:     UserDS,
		},
	}
}

// NewKernelContext returns a ring 0 context with the given stack pointer.
func NewKernelContext(sp hostarch.Addr) *Context {
	return &Context{
		Regs: Registers{
			Esp:    uint32(sp),
			Eflags: EflagsReserved | EflagsIF,
			Cs:     KernelCS,
			Ds:     KernelDS,
			Es:     KernelDS,
			Fs:     KernelDS,
			Gs:     KernelDS,
			Ss:     KernelDS,
		},
	}
}

// Fork returns a copy of c.
func (c *Context) Fork() *Context {
	n := *c
	return &n
}

// TrapStack returns the stack pointer the CPU uses when c traps: Esp0 from
// ring 3, the current stack from ring 0.
func (c *Context) TrapStack() hostarch.Addr {
	if c.PrivilegeLevel() == PL3 {
		return c.Esp0
	}
	return hostarch.Addr(c.Regs.Esp)
}

// PrivilegeLevel returns the ring c executes in, from its code selector.
func (c *Context) PrivilegeLevel() PrivilegeLevel {
	return PrivilegeLevel(c.Regs.Cs & 3)
}

// IP returns the current instruction pointer.
func (c *Context) IP() hostarch.Addr {
	return hostarch.Addr(c.Regs.Eip)
}

// SetIP sets the current instruction pointer.
func (c *Context) SetIP(value hostarch.Addr) {
	c.Regs.Eip = uint32(value)
}

// Stack returns the current stack pointer.
func (c *Context) Stack() hostarch.Addr {
	return hostarch.Addr(c.Regs.Esp)
}

// SetStack sets the current stack pointer.
func (c *Context) SetStack(value hostarch.Addr) {
	c.Regs.Esp = uint32(value)
}

// String implements fmt.Stringer.String.
func (c *Context) String() string {
	return fmt.Sprintf("eip=%#08x esp=%#08x eax=%#x cs=%#x vector=%#x", c.Regs.Eip, c.Regs.Esp, c.Regs.Eax, c.Regs.Cs, c.Vector)
}
