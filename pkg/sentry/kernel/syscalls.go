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
	"fmt"

	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/arch"
)

// SyscallControl is returned by syscalls to control the behavior of
// the dispatcher after the call.
type SyscallControl struct {
	// ignoreReturn is set when the syscall replaced the task's context, so
	// its return value must not be written.
	ignoreReturn bool
}

// ctrlSigreturn is returned by SignalReturn.
var ctrlSigreturn = &SyscallControl{ignoreReturn: true}

// SyscallFn is a syscall implementation.
type SyscallFn func(t *Task, args arch.SyscallArguments) (uintptr, *SyscallControl, error)

// Syscall is a named syscall implementation.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation.
	Fn SyscallFn
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Table is the collection of functions, keyed by number.
	Table map[uintptr]Syscall

	// Missing is called for numbers not in Table. If nil, they fail with
	// ENOSYS.
	Missing SyscallFn

	// lookup is a fixed-size array that holds the syscalls (indexed by
	// their numbers). It is used for fast look ups.
	lookup [linux.MaxSyscallNum + 1]SyscallFn
}

// Init initializes the lookup table. It fails if a number is out of range.
func (s *SyscallTable) Init() error {
	for num, sc := range s.Table {
		if num > linux.MaxSyscallNum {
			return fmt.Errorf("syscall %q has number %d above %d", sc.Name, num, linux.MaxSyscallNum)
		}
		s.lookup[num] = sc.Fn
	}
	return nil
}

// Lookup returns the syscall implementation, if one exists.
func (s *SyscallTable) Lookup(sysno uintptr) SyscallFn {
	if sysno <= linux.MaxSyscallNum {
		return s.lookup[sysno]
	}
	return nil
}

// LookupName looks up a syscall name.
func (s *SyscallTable) LookupName(sysno uintptr) string {
	if sc, ok := s.Table[sysno]; ok {
		return sc.Name
	}
	return fmt.Sprintf("sys_%d", sysno)
}

// executeSyscall runs the handler for sysno.
func (t *Task) executeSyscall(sysno uintptr, args arch.SyscallArguments) (uintptr, *SyscallControl, error) {
	s := t.k.syscalls
	fn := s.Lookup(sysno)
	if fn == nil {
		fn = s.Missing
	}
	if fn == nil {
		t.k.unimplemented.Warningf("%v: unsupported syscall %d", t, sysno)
		return 0, nil, linuxerr.ENOSYS
	}
	return fn(t, args)
}

// handleSyscall is the system-call trap. The number and arguments are in
// the registers of ctx; the result, or a negated errno, goes back in EAX.
func (k *Kernel) handleSyscall(ctx *arch.Context) *arch.Context {
	t := k.current
	if t == nil {
		panic("syscall trap with no current task")
	}
	sysno := ctx.SyscallNo()
	args := ctx.SyscallArgs()
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: %s(%#x, %#x, %#x)", t, k.syscalls.LookupName(sysno), args[0].Value, args[1].Value, args[2].Value)
	}
	rval, ctrl, err := t.executeSyscall(sysno, args)
	if ctrl == nil || !ctrl.ignoreReturn {
		if err != nil {
			rval = uintptr(-int(linuxerr.ToErrno(err)))
			log.Debugf("%v: %s failed: %v", t, k.syscalls.LookupName(sysno), err)
		}
		ctx.SetReturn(rval)
	}
	return t.cpu
}
