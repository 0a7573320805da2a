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

package ktime

import (
	"fmt"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/heap"
)

// TimerState is the lifecycle state of a Timer.
type TimerState int

const (
	// TimerIdle timers are not attached to a Clock.
	TimerIdle TimerState = iota

	// TimerScheduled timers are waiting for their expiry tick.
	TimerScheduled
)

func (s TimerState) String() string {
	switch s {
	case TimerIdle:
		return "Idle"
	case TimerScheduled:
		return "Scheduled"
	default:
		return fmt.Sprintf("TimerState(%d)", int(s))
	}
}

// Listener receives timer expirations.
type Listener interface {
	// NotifyTimer is called when the timer expires. now is the tick at
	// which the expiration was observed.
	//
	// NotifyTimer runs in interrupt context: it must not block, and it
	// must not switch tasks. The timer is already idle when NotifyTimer
	// is called, so it may register the timer again.
	NotifyTimer(now Tick)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(now Tick)

// NotifyTimer implements Listener.NotifyTimer.
func (f ListenerFunc) NotifyTimer(now Tick) {
	f(now)
}

// Timer is a one-shot timer.
type Timer struct {
	listener Listener

	// The fields below are protected by the owning Clock.
	state  TimerState
	expiry Tick
	seq    uint64
	node   *heap.Node[*Timer]
}

// NewTimer returns an idle timer that notifies l.
func NewTimer(l Listener) *Timer {
	t := &Timer{listener: l}
	t.node = heap.NewNode(t)
	return t
}

// State returns the timer's lifecycle state.
func (t *Timer) State() TimerState {
	return t.state
}

// Expiry returns the tick at which a scheduled timer fires.
func (t *Timer) Expiry() Tick {
	return t.expiry
}

// Clock is the kernel tick counter and its pending timers.
//
// Clock is not thread-safe; it is only touched by the goroutine owning the
// CPU.
type Clock struct {
	hz     uint32
	now    Tick
	seq    uint64
	timers *heap.Heap[*Timer]
}

// NewClock returns a Clock at tick zero running at hz.
func NewClock(hz uint32) *Clock {
	if hz == 0 {
		hz = DefaultHz
	}
	return &Clock{
		hz: hz,
		timers: heap.New(func(a, b *Timer) bool {
			if a.expiry != b.expiry {
				return a.expiry < b.expiry
			}
			// Timers expiring together fire in registration order.
			return a.seq < b.seq
		}),
	}
}

// Hz returns the timer frequency.
func (c *Clock) Hz() uint32 {
	return c.hz
}

// Now returns the current tick.
func (c *Clock) Now() Tick {
	return c.now
}

// Pending returns the number of scheduled timers.
func (c *Clock) Pending() int {
	return c.timers.Len()
}

// NextExpiry returns the expiry of the earliest scheduled timer.
func (c *Clock) NextExpiry() (Tick, bool) {
	n := c.timers.Root()
	if n == nil {
		return 0, false
	}
	return n.Value.expiry, true
}

// Register schedules t to fire at tick expiry. It returns EBUSY if t is
// already scheduled.
func (c *Clock) Register(t *Timer, expiry Tick) error {
	if t.state != TimerIdle {
		return linuxerr.EBUSY
	}
	t.expiry = expiry
	t.seq = c.seq
	c.seq++
	t.state = TimerScheduled
	c.timers.Attach(t.node)
	return nil
}

// RegisterAfter schedules t to fire d ticks from now.
func (c *Clock) RegisterAfter(t *Timer, d Tick) error {
	return c.Register(t, c.now+d)
}

// Cancel detaches a scheduled timer and resets it to idle.
//
// Preconditions: t is scheduled on c.
func (c *Clock) Cancel(t *Timer) {
	if t.state != TimerScheduled {
		panic(fmt.Sprintf("cancelling %v timer", t.state))
	}
	c.timers.Delete(t.node)
	t.state = TimerIdle
}

// Advance moves the clock forward by n ticks and fires every timer that has
// expired. It returns the number of timers fired.
func (c *Clock) Advance(n Tick) int {
	c.now += n
	return c.Drain()
}

// Drain fires, in expiry order, every scheduled timer whose expiry is at or
// before the current tick. It returns the number of timers fired.
func (c *Clock) Drain() int {
	fired := 0
	for {
		root := c.timers.Root()
		if root == nil || root.Value.expiry > c.now {
			return fired
		}
		t := c.timers.Detach().Value
		t.state = TimerIdle
		t.listener.NotifyTimer(c.now)
		fired++
	}
}
