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
	"sort"
	"strconv"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/ilist"
)

// ThreadID is a task ID. IDs are allocated monotonically from 1 and never
// reused.
type ThreadID int32

// String returns a decimal representation of the ThreadID.
func (tid ThreadID) String() string {
	return strconv.Itoa(int(tid))
}

// InitTID is the TID of the first task created.
const InitTID ThreadID = 1

// A TaskSet is the arena of all live tasks in a Kernel, indexed by ThreadID.
//
// TaskSet is only accessed by the goroutine that owns the CPU.
type TaskSet struct {
	k *Kernel

	// tasks maps each live task's ID to the task.
	tasks map[ThreadID]*Task

	// runQueue holds started tasks in round-robin order.
	runQueue ilist.List[*Task]

	// last is the most recently allocated ID.
	last ThreadID

	// limit is the maximum number of live tasks.
	limit int
}

func newTaskSet(k *Kernel, limit int) *TaskSet {
	return &TaskSet{
		k:     k,
		tasks: make(map[ThreadID]*Task),
		limit: limit,
	}
}

// allocateTID reserves the next ID. It returns EAGAIN if the task limit is
// reached.
func (ts *TaskSet) allocateTID() (ThreadID, error) {
	if len(ts.tasks) >= ts.limit {
		return 0, fmt.Errorf("%d tasks live: %w", len(ts.tasks), linuxerr.EAGAIN)
	}
	ts.last++
	return ts.last, nil
}

// TaskWithID returns the task with the given ID, or nil if there is none.
func (ts *TaskSet) TaskWithID(tid ThreadID) *Task {
	return ts.tasks[tid]
}

// Tasks returns all live tasks in ID order.
func (ts *TaskSet) Tasks() []*Task {
	tasks := make([]*Task, 0, len(ts.tasks))
	for _, t := range ts.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].id < tasks[j].id })
	return tasks
}

// Len returns the number of live tasks.
func (ts *TaskSet) Len() int {
	return len(ts.tasks)
}

// remove drops t from the arena and the run queue.
func (ts *TaskSet) remove(t *Task) {
	if t.started {
		ts.runQueue.Remove(t)
	}
	delete(ts.tasks, t.id)
}
