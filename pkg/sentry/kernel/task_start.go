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

	"gvisor.dev/procore/pkg/cleanup"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/mm"
)

// TaskConfig defines the configuration of a new Task.
type TaskConfig struct {
	// Name is used in logs and listings.
	Name string

	// MemoryManager is the address space of a user task. It is nil for a
	// kernel task. If newTask succeeds, the task owns it.
	MemoryManager *mm.MemoryManager

	// Context is the initial user context. It is ignored for kernel tasks.
	Context *arch.Context

	// Program is the application code of a user task.
	Program Program

	// KernelFn is the body of a kernel task.
	KernelFn func(*Task)

	// FDTable is the initial file descriptor table. If nil, the task starts
	// with an empty table.
	FDTable *FDTable

	// WorkingDirectory defaults to "/".
	WorkingDirectory string
}

// newTask creates a task that is registered in the TaskSet but not yet
// runnable. On failure nothing in cfg is consumed.
func (ts *TaskSet) newTask(cfg *TaskConfig) (*Task, error) {
	k := ts.k
	if (cfg.MemoryManager == nil) == (cfg.KernelFn == nil) {
		panic("task must have exactly one of MemoryManager and KernelFn")
	}
	tid, err := ts.allocateTID()
	if err != nil {
		return nil, err
	}
	t := &Task{
		k:        k,
		id:       tid,
		name:     cfg.Name,
		sigState: signalNormal{},
		mm:       cfg.MemoryManager,
		program:  cfg.Program,
		kernelFn: cfg.KernelFn,
		fdTable:  cfg.FDTable,
		cwd:      cfg.WorkingDirectory,
		permit:   make(chan struct{}, 1),
	}
	if t.cwd == "" {
		t.cwd = "/"
	}
	if t.fdTable == nil {
		t.fdTable = k.NewFDTable()
	}
	cu := cleanup.Make(func() { t.freeStacks() })
	defer cu.Clean()
	for i := range t.stacks {
		if err := k.allocateStack(&t.stacks[i]); err != nil {
			return nil, fmt.Errorf("allocating privileged stack: %w", err)
		}
	}
	if t.mm == nil {
		t.cpu = arch.NewKernelContext(t.stacks[normalStack].top())
	} else {
		t.cpu = cfg.Context
	}
	t.cpu.Esp0 = t.stacks[normalStack].top()
	t.initSignals()
	cu.Release()

	ts.tasks[tid] = t
	log.Infof("Created %v", t)
	return t, nil
}

// Start makes t schedulable. It runs the next time the scheduler picks it.
func (t *Task) Start() {
	if t.started {
		panic(fmt.Sprintf("%v started twice", t))
	}
	t.started = true
	t.k.tasks.runQueue.PushBack(t)
	t.transition(TaskRunning)
	go t.run()
}

// allocateStack backs s with privileged-stack-size bytes of frames.
func (k *Kernel) allocateStack(s *privilegedStack) error {
	n := k.privilegedStackSize / hostarch.PageSize
	for i := uint32(0); i < n; i++ {
		pa, err := k.mf.Allocate()
		if err != nil {
			return err
		}
		s.frames = append(s.frames, pa)
	}
	return nil
}

// freeStacks returns t's privileged stacks to the pool.
func (t *Task) freeStacks() {
	for i := range t.stacks {
		for _, pa := range t.stacks[i].frames {
			t.k.mf.Free(pa)
		}
		t.stacks[i].frames = nil
	}
}
