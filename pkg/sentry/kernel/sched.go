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

// Cooperative scheduling.
//
// Exactly one goroutine owns the logical CPU: the goroutine of k.current,
// or the idle loop when k.current is nil. The CPU changes hands only in the
// yield trap (Task.park) and in the idle loop, by sending on the permit
// channel of the next owner. Scheduling is two-phase: MarkReady only makes
// a task eligible; the switch happens the next time a task yields or the
// idle loop runs.

import (
	"context"
	"runtime"

	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/platform"
)

// MarkReady makes a blocked task runnable. It never switches tasks, so it
// may be called from interrupt handlers. Waking a stopped task takes effect
// when it is continued.
func (k *Kernel) MarkReady(t *Task) {
	switch t.state {
	case TaskInterruptible:
		t.transition(TaskRunning)
		t.wakeups++
	case TaskUninterruptible:
		if t.nonStopState == TaskInterruptible {
			t.nonStopState = TaskRunning
			t.wakeups++
		}
	}
}

// pickNext returns the first runnable task after prev in run-queue order,
// wrapping around and considering prev last. With a nil prev it starts at
// the front. It returns nil if no task can run.
func (k *Kernel) pickNext(prev *Task) *Task {
	rq := &k.tasks.runQueue
	t := rq.Front()
	if prev != nil {
		if t = prev.Next(); t == nil {
			t = rq.Front()
		}
	}
	for n := rq.Len(); n > 0; n-- {
		if t.state == TaskRunning {
			return t
		}
		if t = t.Next(); t == nil {
			t = rq.Front()
		}
	}
	return nil
}

// switchTo makes next the current task and loads its page directory. A nil
// next idles the CPU in the kernel address space.
func (k *Kernel) switchTo(next *Task) {
	k.current = next
	if next == nil {
		k.machine.SetPageDirectory(k.kernelMM.AddressSpace())
		return
	}
	k.machine.SetPageDirectory(next.addressSpace())
	k.switches++
}

// handleYield is the scheduler trap. It returns the context of the task
// that runs next; the idle context if none can.
func (k *Kernel) handleYield(ctx *arch.Context) *arch.Context {
	prev := k.current
	if prev == nil {
		panic("yield trap with no current task")
	}
	if prev.state == TaskExiting && !prev.exitNotified {
		prev.exitNotify()
	}
	next := k.pickNext(prev)
	k.reap()
	if next == prev {
		return ctx
	}
	k.switchTo(next)
	if next == nil {
		return k.idleCtx
	}
	return next.cpu
}

// yield traps into the scheduler.
func (t *Task) yield() {
	t.trap(platform.VectorYield)
}

// Yield gives up the CPU. t keeps running later if it is still runnable.
func (t *Task) Yield() {
	t.yield()
}

// park passes the CPU to the new current task or the idle loop, then waits
// to be scheduled again. An exiting task's goroutine ends here; its
// deferred calls run before run hands the CPU on.
func (t *Task) park() {
	if t.state == TaskExiting {
		runtime.Goexit()
	}
	t.passCPU()
	<-t.permit
}

// passCPU wakes the goroutine of the new CPU owner. t must not touch kernel
// state afterwards until it is scheduled again.
func (t *Task) passCPU() {
	k := t.k
	if next := k.current; next != nil {
		next.permit <- struct{}{}
	} else {
		k.idlePermit <- struct{}{}
	}
}

// reap reclaims exited tasks that nothing waits on.
func (k *Kernel) reap() {
	for t := k.tasks.runQueue.Front(); t != nil; {
		next := t.Next()
		if t.state == TaskExiting && t.exitNotified && t != k.current && t.termQueue.IsEmpty() {
			k.reclaim(t)
		}
		t = next
	}
}

// RunUntilIdle runs tasks until none is runnable, delivering posted
// interrupts between them. The calling goroutine owns the CPU while
// RunUntilIdle is not running; kernel state may only be inspected or
// modified from it then.
func (k *Kernel) RunUntilIdle() {
	for {
		k.machine.DeliverInterrupts(k.idleCtx)
		k.reap()
		next := k.pickNext(nil)
		if next == nil {
			return
		}
		k.switchTo(next)
		next.permit <- struct{}{}
		<-k.idlePermit
	}
}

// Tick delivers n timer interrupts, running tasks to idle after each.
func (k *Kernel) Tick(n int) {
	for i := 0; i < n; i++ {
		k.machine.PostInterrupt(platform.VectorTimer)
		k.RunUntilIdle()
	}
}

// Run runs tasks and waits for posted interrupts until no task is left or
// ctx is done.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		k.RunUntilIdle()
		if k.tasks.Len() == 0 {
			log.Infof("No tasks left")
			return nil
		}
		select {
		case <-k.machine.InterruptNotify():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
