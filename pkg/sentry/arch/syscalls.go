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

package arch

import (
	"gvisor.dev/procore/pkg/hostarch"
)

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the ***C type name*** and
// they convert to the closest Go type available. For example, Int() refers to a
// 32-bit signed integer argument represented in Go as an int32.
//
// Using the accessor methods guarantees that the conversion between types is
// correct, taking into account size and signedness (i.e., zero-extension vs
// signed-extension).
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uintptr
}

// SyscallArguments represents the set of arguments passed to a syscall.
type SyscallArguments [5]SyscallArgument

// Pointer returns the hostarch.Addr representation of a pointer argument.
func (a SyscallArgument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Int returns the int32 representation of a 32-bit signed integer argument.
func (a SyscallArgument) Int() int32 {
	return int32(a.Value)
}

// Uint returns the uint32 representation of a 32-bit unsigned integer argument.
func (a SyscallArgument) Uint() uint32 {
	return uint32(a.Value)
}

// SizeT returns the uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint {
	return uint(uint32(a.Value))
}

// SyscallNo returns the system call number: EAX.
func (c *Context) SyscallNo() uintptr {
	return uintptr(c.Regs.Eax)
}

// SyscallArgs provides syscall arguments: EBX, ECX, EDX, ESI, EDI.
func (c *Context) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		SyscallArgument{Value: uintptr(c.Regs.Ebx)},
		SyscallArgument{Value: uintptr(c.Regs.Ecx)},
		SyscallArgument{Value: uintptr(c.Regs.Edx)},
		SyscallArgument{Value: uintptr(c.Regs.Esi)},
		SyscallArgument{Value: uintptr(c.Regs.Edi)},
	}
}

// SetSyscall loads a system call number and arguments into the registers,
// as the user runtime does before trapping.
func (c *Context) SetSyscall(sysno uintptr, args ...uintptr) {
	c.Regs.Eax = uint32(sysno)
	regs := [...]*uint32{&c.Regs.Ebx, &c.Regs.Ecx, &c.Regs.Edx, &c.Regs.Esi, &c.Regs.Edi}
	for i := range regs {
		*regs[i] = 0
		if i < len(args) {
			*regs[i] = uint32(args[i])
		}
	}
}

// Return returns the return value for a system call.
func (c *Context) Return() uintptr {
	return uintptr(c.Regs.Eax)
}

// SetReturn sets the return value for a system call.
func (c *Context) SetReturn(value uintptr) {
	c.Regs.Eax = uint32(value)
}
