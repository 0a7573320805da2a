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
	"gvisor.dev/procore/pkg/waiter"
)

// WorkQueue runs deferred work in a dedicated kernel task. Interrupt
// handlers and other tasks call Notify; the worker wakes, calls the work
// function and blocks again. Notifications made while the work function
// runs are coalesced into one more call.
//
// Methods must be called by the CPU owner.
type WorkQueue struct {
	name string
	work func()
	task *Task

	queue waiter.Queue

	// pending is set by Notify and cleared when the worker picks it up.
	pending bool

	// terminating is set by Terminate. The worker exits at its next wakeup.
	terminating bool
}

// NewWorkQueue creates and starts a worker task named "wq:<name>" that calls
// work each time it is notified.
func (k *Kernel) NewWorkQueue(name string, work func()) (*WorkQueue, error) {
	wq := &WorkQueue{name: name, work: work}
	t, err := k.NewKernelTask("wq:"+name, wq.run)
	if err != nil {
		return nil, fmt.Errorf("creating work queue %q: %w", name, err)
	}
	wq.task = t
	t.Start()
	log.Debugf("Work queue %q running as %v", name, t)
	return wq, nil
}

// Task returns the worker task.
func (wq *WorkQueue) Task() *Task {
	return wq.task
}

// run is the worker's body.
func (wq *WorkQueue) run(t *Task) {
	for {
		// A signal that interrupts the wait has been handled by the time
		// BlockOn returns; the worker just waits again.
		_ = t.BlockOn(&wq.queue, waiter.EventIn, func() bool {
			return wq.pending || wq.terminating
		})
		if wq.terminating {
			break
		}
		if !wq.pending {
			continue
		}
		wq.pending = false
		wq.work()
	}
	log.Debugf("Work queue %q terminating", wq.name)
	if err := t.SendSignal(linux.SIGQUIT); err != nil {
		panic(fmt.Sprintf("%v: sending SIGQUIT to self: %v", t, err))
	}
	t.Yield()
	panic(fmt.Sprintf("%v survived SIGQUIT", t))
}

// Notify schedules one call of the work function. It never switches tasks,
// so interrupt handlers may call it. It returns EBUSY once the queue is
// terminating.
func (wq *WorkQueue) Notify() error {
	if wq.terminating {
		return fmt.Errorf("work queue %q is terminating: %w", wq.name, linuxerr.EBUSY)
	}
	wq.pending = true
	wq.queue.Notify(waiter.EventIn)
	return nil
}

// Terminate asks the worker to exit. Pending work that has not started is
// dropped. The worker dies of SIGQUIT. It returns EBUSY if the queue is
// already terminating.
func (wq *WorkQueue) Terminate() error {
	if wq.terminating {
		return fmt.Errorf("work queue %q is terminating: %w", wq.name, linuxerr.EBUSY)
	}
	wq.terminating = true
	wq.queue.Notify(waiter.EventIn)
	return nil
}
