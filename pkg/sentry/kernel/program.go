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

package kernel

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/platform"
)

// Program is the application code of a user task. The core does not
// interpret machine code: a Program stands in for the instructions of the
// loaded image and reaches the kernel only through its AppContext.
type Program interface {
	// Main runs the program from its entry point. The result is passed to
	// exit.
	Main(ac *AppContext) int32

	// Handler returns the signal handler whose code is at entry.
	Handler(entry hostarch.Addr) (func(ac *AppContext, sig linux.Signal), bool)
}

// Funcs is a Program built from Go functions.
type Funcs struct {
	// MainFn is the program body.
	MainFn func(ac *AppContext) int32

	// Handlers maps handler entry addresses to handlers.
	Handlers map[hostarch.Addr]func(ac *AppContext, sig linux.Signal)
}

// Main implements Program.Main.
func (f *Funcs) Main(ac *AppContext) int32 {
	return f.MainFn(ac)
}

// Handler implements Program.Handler.
func (f *Funcs) Handler(entry hostarch.Addr) (func(ac *AppContext, sig linux.Signal), bool) {
	h, ok := f.Handlers[entry]
	return h, ok
}

// AppContext is the user-mode view of a task: the registers, the address
// space through the active page tables, and the trap instructions.
//
// Methods may only be called from the task's own Program.
type AppContext struct {
	t *Task
}

// Syscall loads sysno and args into the registers, traps into the kernel
// and returns EAX. Failures are negated errnos.
func (ac *AppContext) Syscall(sysno uintptr, args ...uintptr) int32 {
	ctx := ac.t.cpu
	ctx.SetSyscall(sysno, args...)
	ac.t.trap(platform.VectorSyscall)
	ret := int32(ctx.Return())
	ac.runPendingHandler()
	return ret
}

// Yield executes the scheduler trap.
func (ac *AppContext) Yield() {
	ac.t.trap(platform.VectorYield)
	ac.runPendingHandler()
}

// Registers returns the current register context.
func (ac *AppContext) Registers() *arch.Context {
	return ac.t.cpu
}

// Load reads len(dst) bytes of user memory at addr, faulting pages in as
// the CPU would.
func (ac *AppContext) Load(addr hostarch.Addr, dst []byte) {
	ac.access(addr, len(dst), hostarch.Read, func(pa hostarch.PhysAddr, off, n int) {
		ac.t.k.mf.ReadAt(dst[off:off+n], pa)
	})
}

// Store writes src to user memory at addr, faulting pages in as the CPU
// would.
func (ac *AppContext) Store(addr hostarch.Addr, src []byte) {
	ac.access(addr, len(src), hostarch.Write, func(pa hostarch.PhysAddr, off, n int) {
		ac.t.k.mf.WriteAt(src[off:off+n], pa)
	})
}

// LoadUint32 reads a little-endian word.
func (ac *AppContext) LoadUint32(addr hostarch.Addr) uint32 {
	var b [4]byte
	ac.Load(addr, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// StoreUint32 writes a little-endian word.
func (ac *AppContext) StoreUint32(addr hostarch.Addr, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	ac.Store(addr, b[:])
}

// access translates [addr, addr+length) page by page and calls fn for each
// piece.
func (ac *AppContext) access(addr hostarch.Addr, length int, at hostarch.AccessType, fn func(pa hostarch.PhysAddr, off, n int)) {
	for off := 0; off < length; {
		va := addr + hostarch.Addr(off)
		n := min(length-off, int(hostarch.PageSize-va.PageOffset()))
		fn(ac.translate(va, at), off, n)
		off += n
	}
}

// translate walks the active page tables for a user access, raising page
// faults until the access succeeds. A fatal fault ends the task inside the
// trap.
func (ac *AppContext) translate(va hostarch.Addr, at hostarch.AccessType) hostarch.PhysAddr {
	t := ac.t
	for {
		pa, present, ok := t.k.machine.PageDirectory().Translate(va, at, true)
		if ok {
			return pa
		}
		code := uint32(arch.FaultUser)
		if present {
			code |= arch.FaultProtection
		}
		if at.Write {
			code |= arch.FaultWrite
		}
		if at.Execute {
			code |= arch.FaultFetch
		}
		t.cpu.FaultAddr = va
		t.cpu.ErrorCode = code
		t.trap(platform.VectorPageFault)
	}
}

// jump transfers control to addr in user mode. The only code the core can
// run there is the sigreturn trampoline; any other target is fetched and,
// since it cannot be executed, raises a general protection fault.
func (ac *AppContext) jump(addr hostarch.Addr) {
	t := ac.t
	t.cpu.SetIP(addr)
	if addr == t.k.trampoline {
		ac.Syscall(linux.SYS_SIGRETURN)
		return
	}
	ac.translate(addr, hostarch.Execute)
	ac.generalProtection(addr)
}

// generalProtection raises a fatal general protection fault.
func (ac *AppContext) generalProtection(addr hostarch.Addr) {
	t := ac.t
	t.cpu.FaultAddr = addr
	t.trap(platform.VectorGPFault)
	panic(fmt.Sprintf("%v survived a general protection fault at %v", t, addr))
}

// runPendingHandler runs the signal handler set up at the last trap exit,
// if it has not started yet. When the handler function returns, its ret
// instruction pops the frame's return address and jumps there.
func (ac *AppContext) runPendingHandler() {
	t := ac.t
	h, ok := t.sigState.(*signalInHandler)
	if !ok || h.entered {
		return
	}
	h.entered = true
	entry := t.cpu.IP()
	ac.translate(entry, hostarch.Execute)
	fn, ok := t.program.Handler(entry)
	if !ok {
		ac.generalProtection(entry)
	}
	fn(ac, h.sig)

	sp := t.cpu.Stack()
	ret := hostarch.Addr(ac.LoadUint32(sp))
	t.cpu.SetStack(sp + 4)
	ac.jump(ret)
}
