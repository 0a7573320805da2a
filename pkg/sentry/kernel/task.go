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
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/ilist"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/mm"
	"gvisor.dev/procore/pkg/sentry/platform/ring0/pagetables"
	"gvisor.dev/procore/pkg/waiter"
)

// TaskState is the scheduling state of a task.
type TaskState int

const (
	// TaskZombie is the state of a task that has not been started or has
	// been reaped. It also marks an unset nonStopState.
	TaskZombie TaskState = iota

	// TaskRunning is the state of a task that is executing or ready to.
	TaskRunning

	// TaskInterruptible is the state of a task blocked until woken or
	// signaled.
	TaskInterruptible

	// TaskUninterruptible is the state of a stopped task. It runs again
	// only after a continue-class signal.
	TaskUninterruptible

	// TaskExiting is the state of a task that will not run again.
	TaskExiting
)

var taskStateNames = [...]string{
	TaskZombie:          "zombie",
	TaskRunning:         "running",
	TaskInterruptible:   "interruptible",
	TaskUninterruptible: "uninterruptible",
	TaskExiting:         "exiting",
}

// String implements fmt.Stringer.String.
func (s TaskState) String() string {
	if s >= 0 && int(s) < len(taskStateNames) {
		return taskStateNames[s]
	}
	return fmt.Sprintf("TaskState(%d)", int(s))
}

// validTransitions lists the states each state may move to.
var validTransitions = map[TaskState][]TaskState{
	TaskZombie:          {TaskRunning},
	TaskRunning:         {TaskInterruptible, TaskUninterruptible, TaskExiting},
	TaskInterruptible:   {TaskRunning, TaskUninterruptible, TaskExiting},
	TaskUninterruptible: {TaskRunning, TaskInterruptible, TaskExiting},
	TaskExiting:         {TaskZombie},
}

// Task represents a unit of execution: an address space, two CPU contexts,
// a signal table and a file descriptor table.
//
// Task fields are only accessed by the goroutine that owns the CPU.
type Task struct {
	taskNode

	k *Kernel

	// id is the task's ID in the TaskSet.
	id ThreadID

	// name is used in logs and listings.
	name string

	// state is changed only by transition.
	state TaskState

	// nonStopState is the state to restore when a stopped task is
	// continued. It is TaskZombie while the task is not stopped.
	nonStopState TaskState

	// interruptDepth is the trap nesting level.
	interruptDepth int

	// cpu is the context the task resumes with: the normal context, or the
	// signaled context while a user handler runs.
	cpu *arch.Context

	// sigState records whether a user signal handler is running.
	sigState signalState

	// stacks are the privileged stacks of the normal and signaled
	// contexts. Each context's Esp0 is the top of its own stack.
	stacks [2]privilegedStack

	// signals is the signal table.
	signals map[linux.Signal]*SignalEntry

	// fdTable holds open files.
	fdTable *FDTable

	// mm is the task's address space. It is nil for kernel tasks, which
	// run in the kernel address space.
	mm *mm.MemoryManager

	// program is the application code of a user task.
	program Program

	// kernelFn is the body of a kernel task.
	kernelFn func(*Task)

	// exitCode is reported to waiters.
	exitCode int32

	// exitNotified is set once termination waiters have been woken.
	exitNotified bool

	// termQueue is notified with EventExit when the task exits.
	termQueue waiter.Queue

	// cwd is the working directory.
	cwd string

	// started is set once the task is on the run queue.
	started bool

	// permit passes the CPU to the task goroutine.
	permit chan struct{}

	// wakeups counts transitions to TaskRunning made by MarkReady.
	wakeups uint64
}

type taskNode struct {
	ilist.Entry[*Task]
}

// Kernel returns the kernel containing t.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// ThreadID returns t's ID.
func (t *Task) ThreadID() ThreadID {
	return t.id
}

// Name returns t's name.
func (t *Task) Name() string {
	return t.name
}

// State returns t's scheduling state.
func (t *Task) State() TaskState {
	return t.state
}

// NonStopState returns the state t resumes when continued, or TaskZombie if
// t is not stopped.
func (t *Task) NonStopState() TaskState {
	return t.nonStopState
}

// ExitCode returns the exit code set when t exited.
func (t *Task) ExitCode() int32 {
	return t.exitCode
}

// MemoryManager returns t's address space, or nil for a kernel task.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// IsKernelTask returns true if t runs in ring 0.
func (t *Task) IsKernelTask() bool {
	return t.mm == nil
}

// Arch returns the context t resumes with.
func (t *Task) Arch() *arch.Context {
	return t.cpu
}

// FDTable returns t's file descriptor table.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// WorkingDirectory returns t's working directory.
func (t *Task) WorkingDirectory() string {
	return t.cwd
}

// SetWorkingDirectory sets t's working directory. The caller must have
// validated path.
func (t *Task) SetWorkingDirectory(path string) {
	t.cwd = path
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("task %d (%s)", t.id, t.name)
}

// addressSpace returns the page tables to activate when t runs.
func (t *Task) addressSpace() *pagetables.AddressSpace {
	if t.mm == nil {
		return t.k.kernelMM.AddressSpace()
	}
	return t.mm.AddressSpace()
}

// transition is the only place t.state changes. An invalid transition is a
// kernel bug.
func (t *Task) transition(to TaskState) {
	from := t.state
	if from == to {
		return
	}
	valid := false
	for _, s := range validTransitions[from] {
		if s == to {
			valid = true
			break
		}
	}
	if !valid {
		panic(fmt.Sprintf("%v: invalid state transition %v -> %v", t, from, to))
	}
	t.state = to
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: %v -> %v", t, from, to)
	}
}

// prepareBlock marks t as waiting for a wakeup. A stopped task keeps its
// state and blocks once continued.
func (t *Task) prepareBlock() {
	if t.state == TaskUninterruptible {
		t.nonStopState = TaskInterruptible
		return
	}
	t.transition(TaskInterruptible)
}

// stop moves t to TaskUninterruptible, saving its state for continue.
func (t *Task) stop() {
	if t.state != TaskRunning && t.state != TaskInterruptible {
		return
	}
	t.nonStopState = t.state
	t.transition(TaskUninterruptible)
}

// cont restores the state saved by stop.
func (t *Task) cont() {
	if t.state != TaskUninterruptible {
		return
	}
	t.transition(t.nonStopState)
	t.nonStopState = TaskZombie
}

// privilegedStack is a ring-0 stack backed by frames from the page pool.
type privilegedStack struct {
	frames []hostarch.PhysAddr
}

// top returns the initial stack pointer.
func (s *privilegedStack) top() hostarch.Addr {
	if len(s.frames) == 0 {
		return 0
	}
	return hostarch.Addr(s.frames[len(s.frames)-1]) + hostarch.PageSize
}

// Indices into Task.stacks.
const (
	normalStack = iota
	signalStack
)
