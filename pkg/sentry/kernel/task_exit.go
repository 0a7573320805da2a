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

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/waiter"
)

// Exit terminates t with the given exit code. It must be called from t's
// goroutine and does not return.
func (t *Task) Exit(code int32) {
	t.exitCode = code
	t.transition(TaskExiting)
	t.yield()
	panic(fmt.Sprintf("%v resumed after exit", t))
}

// exitNotify runs once, as an exiting task leaves the CPU for the last
// time. It closes t's files and wakes everything waiting for t.
func (t *Task) exitNotify() {
	t.exitNotified = true
	t.fdTable.RemoveAll()
	if t.k.globalInit == t {
		t.k.initExitCode = t.exitCode
		t.k.initExited = true
	}
	log.Infof("%v exited with code %d", t, t.exitCode)
	t.termQueue.Notify(waiter.EventExit)
}

// reclaim frees everything t owns: its page directory, then its VMAs, then
// its stacks. t must have exited and have no waiters.
func (k *Kernel) reclaim(t *Task) {
	if t.state != TaskExiting || t == k.current {
		panic(fmt.Sprintf("reclaiming %v in state %v", t, t.state))
	}
	if t.mm != nil {
		t.mm.Release()
	}
	t.freeStacks()
	k.tasks.remove(t)
	t.transition(TaskZombie)
	log.Debugf("Reaped %v", t)
}

// WaitTask blocks until the task with ID tid exits and returns its exit
// code. It returns ESRCH if there is no such task, EINVAL if tid is t, and
// EINTR if t is signaled first.
func (t *Task) WaitTask(tid ThreadID) (int32, error) {
	target := t.k.tasks.TaskWithID(tid)
	if target == nil {
		return 0, fmt.Errorf("task %v: %w", tid, linuxerr.ESRCH)
	}
	if target == t {
		return 0, fmt.Errorf("%v waiting for itself: %w", t, linuxerr.EINVAL)
	}
	err := t.BlockOn(&target.termQueue, waiter.EventExit, func() bool {
		return target.exitNotified
	})
	if err != nil {
		return 0, err
	}
	return target.exitCode, nil
}
