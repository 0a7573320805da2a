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
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/arch"
)

// SignalAction is what happens when a signal is delivered.
type SignalAction int

const (
	// ActionExit terminates the task.
	ActionExit SignalAction = iota

	// ActionIgnore discards the signal.
	ActionIgnore

	// ActionStop stops the task. It is applied when the signal is sent.
	ActionStop

	// ActionContinue resumes a stopped task. It is applied when the signal
	// is sent.
	ActionContinue

	// ActionUserHandler runs a handler in user mode.
	ActionUserHandler
)

var signalActionNames = [...]string{
	ActionExit:        "exit",
	ActionIgnore:      "ignore",
	ActionStop:        "stop",
	ActionContinue:    "continue",
	ActionUserHandler: "handler",
}

// String implements fmt.Stringer.String.
func (a SignalAction) String() string {
	if a >= 0 && int(a) < len(signalActionNames) {
		return signalActionNames[a]
	}
	return fmt.Sprintf("SignalAction(%d)", int(a))
}

// Disposition is the action taken for a signal. Handler is only meaningful
// for ActionUserHandler.
type Disposition struct {
	Action  SignalAction
	Handler hostarch.Addr
}

// String implements fmt.Stringer.String.
func (d Disposition) String() string {
	if d.Action == ActionUserHandler {
		return fmt.Sprintf("handler@%v", d.Handler)
	}
	return d.Action.String()
}

// SignalEntry is a task's state for one signal.
type SignalEntry struct {
	// Default is the disposition restored by SIG_DFL.
	Default Disposition

	// Disposition is the current disposition.
	Disposition Disposition

	// Overridable is set if the program may change Disposition.
	Overridable bool

	// Pending is set between delivery and handling.
	Pending bool
}

// SignalDefault describes the initial entry of one signal.
type SignalDefault struct {
	Signal      linux.Signal
	Action      SignalAction
	Overridable bool
}

// defaultSignalTable lists every valid signal. Signals not listed are
// invalid: sending them fails.
var defaultSignalTable = [...]SignalDefault{
	{linux.SIGHUP, ActionExit, false},
	{linux.SIGINT, ActionExit, true},
	{linux.SIGQUIT, ActionExit, false},
	{linux.SIGILL, ActionExit, false},
	{linux.SIGFPE, ActionExit, false},
	{linux.SIGKILL, ActionExit, false},
	{linux.SIGUSR1, ActionIgnore, true},
	{linux.SIGSEGV, ActionExit, false},
	{linux.SIGUSR2, ActionIgnore, true},
	{linux.SIGPIPE, ActionExit, true},
	{linux.SIGALRM, ActionIgnore, true},
	{linux.SIGTERM, ActionExit, false},
	{linux.SIGCONT, ActionContinue, false},
	{linux.SIGSTOP, ActionStop, false},
	{linux.SIGTSTP, ActionStop, false},
	{linux.SIGTTIN, ActionStop, false},
	{linux.SIGTTOU, ActionStop, false},
	{linux.SIGSYS, ActionExit, false},
}

// DefaultSignalTable returns the initial signal table of every task, in
// signal order.
func DefaultSignalTable() []SignalDefault {
	return append([]SignalDefault(nil), defaultSignalTable[:]...)
}

// initSignals installs the default signal table.
func (t *Task) initSignals() {
	t.signals = make(map[linux.Signal]*SignalEntry, len(defaultSignalTable))
	for _, d := range defaultSignalTable {
		disp := Disposition{Action: d.Action}
		t.signals[d.Signal] = &SignalEntry{
			Default:     disp,
			Disposition: disp,
			Overridable: d.Overridable,
		}
	}
}

// exitCodeForSignal is the exit code of a task killed by sig.
func exitCodeForSignal(sig linux.Signal) int32 {
	return 128 + int32(sig)
}

// signalState is either signalNormal or *signalInHandler.
type signalState interface {
	isSignalState()
}

// signalNormal is the state of a task running its normal context.
type signalNormal struct{}

func (signalNormal) isSignalState() {}

// signalInHandler is the state of a task running a user signal handler.
type signalInHandler struct {
	// saved is the interrupted normal context.
	saved *arch.Context

	// sig is the signal being handled.
	sig linux.Signal

	// entered is set once the handler has started running.
	entered bool
}

func (*signalInHandler) isSignalState() {}

// InSignalHandler returns true while t runs a user signal handler.
func (t *Task) InSignalHandler() bool {
	_, ok := t.sigState.(*signalInHandler)
	return ok
}

// SignalEntry returns a copy of t's entry for sig.
func (t *Task) SignalEntry(sig linux.Signal) (SignalEntry, bool) {
	e, ok := t.signals[sig]
	if !ok {
		return SignalEntry{}, false
	}
	return *e, true
}

// SendSignal delivers sig to t. Stop and continue signals change t's state
// immediately; other signals are marked pending and wake t if it is
// blocked. A task stopped while blocked is woken when it is continued. It
// returns EINVAL for an invalid signal and ESRCH if t is
// exiting or gone.
func (t *Task) SendSignal(sig linux.Signal) error {
	e, ok := t.signals[sig]
	if !ok {
		return fmt.Errorf("signal %d: %w", int(sig), linuxerr.EINVAL)
	}
	if t.state == TaskExiting || t.exitNotified {
		return fmt.Errorf("%v is exiting: %w", t, linuxerr.ESRCH)
	}
	log.Debugf("%v: sending %v (%v)", t, sig, e.Disposition)
	switch e.Disposition.Action {
	case ActionStop:
		t.stop()
		return nil
	case ActionContinue:
		t.cont()
		return nil
	}
	e.Pending = true
	t.k.MarkReady(t)
	return nil
}

// forceSignal delivers a fault signal. A fault taken while a handler runs
// cannot be deferred, so it terminates t at once.
func (t *Task) forceSignal(sig linux.Signal) {
	if t.InSignalHandler() {
		log.Infof("%v: %v in signal handler", t, sig)
		t.exitCode = exitCodeForSignal(sig)
		t.transition(TaskExiting)
		return
	}
	if err := t.SendSignal(sig); err != nil && !linuxerr.Equals(linuxerr.ESRCH, err) {
		panic(fmt.Sprintf("%v: sending %v: %v", t, sig, err))
	}
}

// SetSignalHandler changes the disposition of sig. handler is SIG_DFL,
// SIG_IGN or the entry address of a user handler. It returns the previous
// handler in the same encoding. Only overridable signals may be changed, and
// kernel tasks cannot install handlers.
func (t *Task) SetSignalHandler(sig linux.Signal, handler hostarch.Addr) (hostarch.Addr, error) {
	e, ok := t.signals[sig]
	if !ok {
		return 0, fmt.Errorf("signal %d: %w", int(sig), linuxerr.EINVAL)
	}
	if !e.Overridable {
		return 0, fmt.Errorf("%v is not overridable: %w", sig, linuxerr.EINVAL)
	}
	var next Disposition
	switch handler {
	case linux.SIG_DFL:
		next = e.Default
	case linux.SIG_IGN:
		next = Disposition{Action: ActionIgnore}
	default:
		if t.IsKernelTask() {
			return 0, fmt.Errorf("kernel task handler for %v: %w", sig, linuxerr.EPERM)
		}
		next = Disposition{Action: ActionUserHandler, Handler: handler}
	}

	var prev hostarch.Addr
	switch {
	case e.Disposition == e.Default:
		prev = linux.SIG_DFL
	case e.Disposition.Action == ActionIgnore:
		prev = linux.SIG_IGN
	default:
		prev = e.Disposition.Handler
	}
	e.Disposition = next
	log.Debugf("%v: %v disposition %v", t, sig, next)
	return prev, nil
}

// signalPending returns true if t has a signal it can handle now. Signals
// arriving while a handler runs wait for it to return.
func (t *Task) signalPending() bool {
	if t.InSignalHandler() {
		return false
	}
	for _, e := range t.signals {
		if e.Pending {
			return true
		}
	}
	return false
}

// nextPending returns the lowest-numbered pending signal.
func (t *Task) nextPending() (linux.Signal, *SignalEntry) {
	for sig := linux.Signal(linux.FirstSignal); sig <= linux.LastSignal; sig++ {
		if e, ok := t.signals[sig]; ok && e.Pending {
			return sig, e
		}
	}
	return 0, nil
}

// PendingSignals returns t's pending signals in delivery order.
func (t *Task) PendingSignals() []linux.Signal {
	var sigs []linux.Signal
	for sig := linux.Signal(linux.FirstSignal); sig <= linux.LastSignal; sig++ {
		if e, ok := t.signals[sig]; ok && e.Pending {
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

// trapReturn runs as t leaves its outermost trap. It parks a stopped task
// until it is continued, and handles pending signals until one needs a user
// handler or none is left.
func (t *Task) trapReturn() {
	for {
		switch t.state {
		case TaskExiting:
			t.yield()
			panic(fmt.Sprintf("%v resumed after exit", t))
		case TaskUninterruptible:
			t.yield()
			continue
		}
		if !t.deliverSignal() {
			return
		}
	}
}

// deliverSignal handles the lowest-numbered pending signal. It returns true
// if trapReturn should look again.
func (t *Task) deliverSignal() bool {
	if t.InSignalHandler() {
		return false
	}
	sig, e := t.nextPending()
	if e == nil {
		return false
	}
	e.Pending = false
	switch e.Disposition.Action {
	case ActionIgnore:
		log.Debugf("%v: ignored %v", t, sig)
		return true
	case ActionExit:
		log.Infof("%v: killed by %v", t, sig)
		t.exitCode = exitCodeForSignal(sig)
		t.transition(TaskExiting)
		return true
	case ActionUserHandler:
		return !t.setupHandler(sig, e.Disposition.Handler)
	default:
		panic(fmt.Sprintf("%v: %v pending with disposition %v", t, sig, e.Disposition))
	}
}

// setupHandler switches t to a signaled context that runs the handler at
// entry. The handler's frame returns to the sigreturn trampoline. It
// returns false if the frame could not be written, in which case t exits.
func (t *Task) setupHandler(sig linux.Signal, entry hostarch.Addr) bool {
	frameAddr := arch.SignalFrameAddr(t.cpu.Stack())
	frame := arch.SignalFrame{
		ReturnAddr: t.k.trampoline,
		Signo:      uint32(sig),
	}
	if _, err := t.mm.CopyOut(frameAddr, frame.MarshalBytes()); err != nil {
		log.Warningf("%v: writing frame for %v at %v: %v", t, sig, frameAddr, err)
		t.exitCode = exitCodeForSignal(linux.SIGSEGV)
		t.transition(TaskExiting)
		return false
	}
	t.sigState = &signalInHandler{
		saved: t.cpu,
		sig:   sig,
	}
	t.cpu = arch.NewSignalContext(t.cpu, entry, frameAddr)
	t.cpu.Esp0 = t.stacks[signalStack].top()
	log.Debugf("%v: running handler for %v at %v, frame %v", t, sig, entry, frameAddr)
	return true
}

// SignalReturn restores the context interrupted by the running signal
// handler. Outside a handler it is a fault.
func (t *Task) SignalReturn() (*SyscallControl, error) {
	h, ok := t.sigState.(*signalInHandler)
	if !ok {
		t.k.faultLog.Warningf("%v: sigreturn outside a signal handler", t)
		t.forceSignal(linux.SIGSEGV)
		return nil, linuxerr.EFAULT
	}
	t.cpu = h.saved
	t.sigState = signalNormal{}
	log.Debugf("%v: returned from handler for %v", t, h.sig)
	return ctrlSigreturn, nil
}
