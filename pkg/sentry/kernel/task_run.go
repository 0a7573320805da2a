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
)

// run is the task goroutine. It waits for the scheduler to pick t, then
// runs t's code. It never returns normally: the exit path ends the
// goroutine in park.
func (t *Task) run() {
	<-t.permit
	defer t.passCPU()

	// A new task resumes as if returning from a trap, so signals sent
	// before it first ran are handled now.
	t.interruptDepth++
	t.trapReturn()
	t.interruptDepth--

	if t.kernelFn != nil {
		t.kernelFn(t)
		t.Exit(0)
	}
	ac := &AppContext{t: t}
	ac.runPendingHandler()
	code := t.program.Main(ac)
	ac.Syscall(linux.SYS_EXIT, uintptr(code))
	// Reached only if the syscall table has no exit.
	t.Exit(code)
}

// trap enters the kernel through vector, as the CPU does for software
// interrupts and faults. Posted interrupts are delivered first. trap
// returns once t owns the CPU again; if the trap was the outermost one,
// stops and pending signals have been handled by then.
func (t *Task) trap(vector uint8) {
	k := t.k
	t.interruptDepth++
	k.machine.DeliverInterrupts(t.cpu)
	resume := k.machine.Trap(vector, t.cpu)
	if k.current != t {
		t.park()
	} else if resume != t.cpu {
		panic(fmt.Sprintf("%v: trap %#x resumed context %v, want the task's own", t, vector, resume))
	}
	if t.interruptDepth == 1 {
		t.trapReturn()
	}
	t.interruptDepth--
}
