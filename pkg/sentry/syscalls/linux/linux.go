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

// Package linux provides the system-call table of user programs.
package linux

import (
	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/sentry/kernel"
	"gvisor.dev/procore/pkg/sentry/syscalls"
)

// I386 is the table of system calls reachable through int $0x87. The
// number is in EAX and arguments are in EBX, ECX, EDX, ESI and EDI.
var I386 = &kernel.SyscallTable{
	Table: map[uintptr]kernel.Syscall{
		linux.SYS_OPEN:        syscalls.Supported("open", Open),
		linux.SYS_CLOSE:       syscalls.Supported("close", Close),
		linux.SYS_EXIT:        syscalls.Supported("exit", Exit),
		linux.SYS_READ:        syscalls.Supported("read", Read),
		linux.SYS_WRITE:       syscalls.Supported("write", Write),
		linux.SYS_SLEEP:       syscalls.Supported("sleep", Sleep),
		linux.SYS_SIGNAL:      syscalls.Supported("signal", Signal),
		linux.SYS_KILL:        syscalls.Supported("kill", Kill),
		linux.SYS_GETPID:      syscalls.Supported("getpid", Getpid),
		linux.SYS_SBRK:        syscalls.Supported("sbrk", Sbrk),
		linux.SYS_GETCWD:      syscalls.Supported("getcwd", Getcwd),
		linux.SYS_CHDIR:       syscalls.Supported("chdir", Chdir),
		linux.SYS_SCHED_YIELD: syscalls.Supported("sched_yield", SchedYield),
		linux.SYS_WAITTASK:    syscalls.Supported("waittask", Waittask),
		linux.SYS_SIGRETURN:   syscalls.Supported("sigreturn", Sigreturn),
	},
}
