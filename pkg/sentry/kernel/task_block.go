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
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/sentry/ktime"
	"gvisor.dev/procore/pkg/waiter"
)

// BlockOn blocks t on q until cond returns true. cond is checked before
// blocking and after every wakeup by an event in mask. It returns EINTR if
// t is signaled first; a signaled task never observes cond.
func (t *Task) BlockOn(q *waiter.Queue, mask waiter.EventMask, cond func() bool) error {
	if cond() {
		return nil
	}
	e := waiter.NewFunctionEntry(mask, func(waiter.EventMask) {
		t.k.MarkReady(t)
	})
	q.EventRegister(&e)
	defer q.EventUnregister(&e)
	for !t.signalPending() {
		t.prepareBlock()
		t.yield()
		if t.signalPending() {
			break
		}
		if cond() {
			return nil
		}
	}
	return linuxerr.EINTR
}

// Sleep blocks t for ms milliseconds, rounded up to whole ticks. It returns
// EINTR if t is signaled first. The timer never outlives the call, even if
// t is killed while asleep.
func (t *Task) Sleep(ms uint32) error {
	k := t.k
	d := ktime.FromMilliseconds(ms, k.clock.Hz())
	if d == 0 {
		t.yield()
		return nil
	}
	timer := ktime.NewTimer(ktime.ListenerFunc(func(ktime.Tick) {
		k.MarkReady(t)
	}))
	if err := k.clock.RegisterAfter(timer, d); err != nil {
		return err
	}
	defer func() {
		if timer.State() == ktime.TimerScheduled {
			k.clock.Cancel(timer)
		}
	}()
	for timer.State() == ktime.TimerScheduled {
		if t.signalPending() {
			return linuxerr.EINTR
		}
		t.prepareBlock()
		t.yield()
	}
	return nil
}
