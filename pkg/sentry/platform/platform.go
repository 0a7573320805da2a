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

// Package platform models the hardware the kernel runs on: one logical CPU
// with an interrupt vector table, a page-directory base register and a line
// for asynchronously raised interrupts.
package platform

import (
	"fmt"
	"sync"
	"time"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/platform/ring0/pagetables"
)

// Trap vectors.
const (
	// VectorGPFault is the general protection fault.
	VectorGPFault = 13

	// VectorPageFault is the page fault.
	VectorPageFault = 14

	// VectorTimer is the remapped timer interrupt line.
	VectorTimer = 0x20

	// VectorSyscall is the system-call software interrupt.
	VectorSyscall = 0x87

	// VectorYield is the software interrupt that enters the scheduler.
	VectorYield = 0x88

	// NumVectors is the size of the vector table.
	NumVectors = 256
)

// TrapHandler handles a trap taken while executing ctx. It returns the
// context to resume, which may belong to a different task.
type TrapHandler func(ctx *arch.Context) *arch.Context

type trapEntry struct {
	name    string
	handler TrapHandler
}

// Machine is the logical CPU.
//
// Apart from PostInterrupt and InterruptNotify, methods may only be called
// by the goroutine that currently owns the CPU.
type Machine struct {
	vectors [NumVectors]trapEntry

	// pdbr is the active address space.
	pdbr *pagetables.AddressSpace

	// trapStack is the stack pointer of the last trap taken.
	trapStack hostarch.Addr

	// pendingMu protects pending.
	pendingMu sync.Mutex

	// pending are interrupts raised but not yet delivered, in order.
	pending []uint8

	// notify receives a value when pending becomes non-empty.
	notify chan struct{}

	unexpected log.Logger
}

// New returns a Machine with an empty vector table.
func New() *Machine {
	return &Machine{
		notify:     make(chan struct{}, 1),
		unexpected: log.BasicRateLimitedLogger(time.Second),
	}
}

// RegisterInterruptHandler installs handler for vector. It returns EBUSY if
// the vector already has a handler.
func (m *Machine) RegisterInterruptHandler(vector uint8, name string, handler TrapHandler) error {
	if m.vectors[vector].handler != nil {
		return fmt.Errorf("vector %#x already handled by %q: %w", vector, m.vectors[vector].name, linuxerr.EBUSY)
	}
	m.vectors[vector] = trapEntry{name: name, handler: handler}
	log.Debugf("Registered interrupt handler %q for vector %#x", name, vector)
	return nil
}

// HandlerName returns the name registered for vector, if any.
func (m *Machine) HandlerName(vector uint8) string {
	return m.vectors[vector].name
}

// Trap enters the handler for vector with the saved context ctx and returns
// the context to resume. A trap without a handler resumes ctx unchanged.
func (m *Machine) Trap(vector uint8, ctx *arch.Context) *arch.Context {
	ctx.Vector = uint32(vector)
	m.trapStack = ctx.TrapStack()
	e := &m.vectors[vector]
	if e.handler == nil {
		m.unexpected.Warningf("Unexpected trap %#x at %v", vector, ctx)
		return ctx
	}
	next := e.handler(ctx)
	if next == nil {
		panic(fmt.Sprintf("handler %q for vector %#x returned no context", e.name, vector))
	}
	return next
}

// TrapStack returns the stack the last trap was taken on.
func (m *Machine) TrapStack() hostarch.Addr {
	return m.trapStack
}

// SetPageDirectory loads the page-directory base register.
func (m *Machine) SetPageDirectory(as *pagetables.AddressSpace) {
	m.pdbr = as
}

// PageDirectory returns the active address space.
func (m *Machine) PageDirectory() *pagetables.AddressSpace {
	return m.pdbr
}

// PostInterrupt raises vector. It is delivered by the next call to
// DeliverInterrupts. PostInterrupt may be called from any goroutine.
func (m *Machine) PostInterrupt(vector uint8) {
	m.pendingMu.Lock()
	m.pending = append(m.pending, vector)
	m.pendingMu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// InterruptNotify returns a channel that receives a value after an
// interrupt is posted.
func (m *Machine) InterruptNotify() <-chan struct{} {
	return m.notify
}

// DeliverInterrupts runs the handler of every posted interrupt, in order,
// with ctx as the interrupted context. It returns the number delivered.
// Interrupt handlers may not switch tasks; the context they return is
// ignored.
func (m *Machine) DeliverInterrupts(ctx *arch.Context) int {
	m.pendingMu.Lock()
	pending := m.pending
	m.pending = nil
	m.pendingMu.Unlock()
	for _, v := range pending {
		if next := m.Trap(v, ctx); next != ctx {
			panic(fmt.Sprintf("interrupt handler %q switched contexts", m.vectors[v].name))
		}
	}
	return len(pending)
}
