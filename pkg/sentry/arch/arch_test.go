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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/procore/pkg/hostarch"
)

func TestSyscallRegisters(t *testing.T) {
	c := NewUserContext(0x40001000, 0x9ffff000)
	c.SetSyscall(7, 3, 9)
	if got := c.SyscallNo(); got != 7 {
		t.Errorf("SyscallNo() = %d, want 7", got)
	}
	args := c.SyscallArgs()
	if args[0].Int() != 3 || args[1].Int() != 9 || args[2].Uint() != 0 {
		t.Errorf("SyscallArgs() = %+v", args)
	}
	c.SetReturn(^uintptr(0))
	if got := int32(c.Return()); got != -1 {
		t.Errorf("Return() = %d, want -1", got)
	}
	if c.PrivilegeLevel() != PL3 {
		t.Errorf("user context runs in ring %d", c.PrivilegeLevel())
	}
	if NewKernelContext(0).PrivilegeLevel() != PL0 {
		t.Errorf("kernel context is not ring 0")
	}
}

func TestSignalFrame(t *testing.T) {
	sp := hostarch.Addr(0x9fffff00)
	addr := SignalFrameAddr(sp)
	if addr+SignalFrameSize > sp-SignalRedZone {
		t.Errorf("frame at %v intrudes into the red zone below %v", addr, sp)
	}
	if (addr+SignalFrameSize)%16 != 0 {
		t.Errorf("frame at %v is not 16-byte aligned above the return address", addr)
	}
	f := SignalFrame{ReturnAddr: 0xff000, Signo: 10}
	var got SignalFrame
	got.UnmarshalBytes(f.MarshalBytes())
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("frame round trip (-want +got):\n%s", diff)
	}

	interrupted := NewUserContext(0x40000000, sp)
	interrupted.Regs.Eax = 42
	sc := NewSignalContext(interrupted, 0x40002000, addr)
	if sc.IP() != 0x40002000 || sc.Stack() != addr {
		t.Errorf("signal context = %v", sc)
	}
	if interrupted.Regs.Eax != 42 || interrupted.IP() != 0x40000000 {
		t.Errorf("interrupted context was modified: %v", interrupted)
	}
}
