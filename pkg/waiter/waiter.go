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

// Package waiter provides the implementation of a wait queue, where waiters
// can be enqueued to be notified when an event of interest happens.
//
// Tasks block on a queue with a pattern similar to this:
//
//	var e waiter.Entry
//	e.Init(t, waiter.EventExit)
//	q.EventRegister(&e)
//	defer q.EventUnregister(&e)
//
//	for !cond() {
//		// Block until notified or signaled.
//		[...]
//	}
//
// Notifiers run on the CPU, usually in interrupt or exit paths, and only
// make waiters ready:
//
//	q.Notify(waiter.EventExit)
package waiter

import (
	"sync"

	"gvisor.dev/procore/pkg/ilist"
)

// EventMask represents io events as used in the poll() syscall.
type EventMask uint16

// Events that waiters can wait on.
const (
	// EventIn is raised when a file becomes readable.
	EventIn EventMask = 0x01

	// EventExit is raised on a task's termination queue when it exits.
	EventExit EventMask = 0x100

	// EventTimer is raised when a sleep timer expires.
	EventTimer EventMask = 0x200

	allEvents EventMask = 0xffff
)

// AllEvents returns a mask matching every event.
func AllEvents() EventMask {
	return allEvents
}

// EntryCallback provides a notify callback.
type EntryCallback interface {
	// NotifyEvent is the function to be called when the waiter entry is
	// notified. It is responsible for doing whatever is needed to wake up
	// the waiter.
	//
	// The callback is supposed to perform minimal work, and cannot call
	// any method on the queue itself because it will be locked while the
	// callback is running. It must not block.
	NotifyEvent(mask EventMask)
}

// Entry represents a waiter that can be added to a wait queue. It can only
// be in one queue at a time.
type Entry struct {
	waiterEntry

	// queued is set while the entry is on a queue.
	queued bool
	mask   EventMask
	cb     EntryCallback
}

type waiterEntry struct {
	ilist.Entry[*Entry]
}

// Init initializes the Entry.
//
// This must only be called when unregistered.
func (e *Entry) Init(cb EntryCallback, mask EventMask) {
	e.cb = cb
	e.mask = mask
}

// Mask returns the entry mask.
func (e *Entry) Mask() EventMask {
	return e.mask
}

// Queued returns true if the entry is on a queue.
func (e *Entry) Queued() bool {
	return e.queued
}

// NotifyEvent notifies the event listener.
//
// Mask should be the full set of active events.
func (e *Entry) NotifyEvent(mask EventMask) {
	if m := mask & e.mask; m != 0 {
		e.cb.NotifyEvent(m)
	}
}

// ChannelNotifier is a simple channel-based notification.
type ChannelNotifier chan struct{}

// NotifyEvent implements EntryCallback.NotifyEvent.
func (c ChannelNotifier) NotifyEvent(EventMask) {
	select {
	case chan struct{}(c) <- struct{}{}:
	default:
	}
}

// NewChannelEntry initializes a new Entry that does a non-blocking write to a
// struct{} channel when the callback is called. It returns the new Entry
// instance and the channel being used.
func NewChannelEntry(mask EventMask) (e Entry, ch chan struct{}) {
	ch = make(chan struct{}, 1)
	e.Init(ChannelNotifier(ch), mask)
	return e, ch
}

// NewFunctionEntry initializes a new Entry that calls the given function.
func NewFunctionEntry(mask EventMask, fn func(EventMask)) (e Entry) {
	e.Init(FunctionNotifier(fn), mask)
	return e
}

// FunctionNotifier allows the use of a function as a notifier.
type FunctionNotifier func(EventMask)

// NotifyEvent implements EntryCallback.NotifyEvent.
func (f FunctionNotifier) NotifyEvent(mask EventMask) {
	f(mask)
}

// Queue represents the wait queue where waiters can be added and
// notifiers can notify them when events happen.
//
// The zero value for waiter.Queue is an empty queue ready for use.
type Queue struct {
	list ilist.List[*Entry]
	mu   sync.RWMutex
}

// EventRegister adds a waiter to the wait queue. Registering an entry that
// is already queued is a no-op.
func (q *Queue) EventRegister(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.queued {
		return
	}
	e.queued = true
	q.list.PushBack(e)
}

// EventUnregister removes the given waiter entry from the wait queue.
// Unregistering an entry that is not queued is a no-op.
func (q *Queue) EventUnregister(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !e.queued {
		return
	}
	q.list.Remove(e)
	e.queued = false
}

// Notify notifies all waiters in the queue whose masks have at least one bit
// in common with the notification mask, in the order they were registered.
// Waiters stay queued.
func (q *Queue) Notify(mask EventMask) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for e := q.list.Front(); e != nil; e = e.Next() {
		e.NotifyEvent(mask)
	}
}

// Events returns the set of events being waited on. It is the union of the
// masks of all registered entries.
func (q *Queue) Events() EventMask {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ret := EventMask(0)
	for e := q.list.Front(); e != nil; e = e.Next() {
		ret |= e.mask
	}
	return ret
}

// Len returns the number of registered entries.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.list.Len()
}

// IsEmpty returns if the wait queue is empty or not.
func (q *Queue) IsEmpty() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.list.Empty()
}
