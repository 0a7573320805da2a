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

// Package kernel provides the process-execution core: tasks, their signal
// state and scheduling, and the trap handlers that connect them to the
// machine.
//
// The kernel runs on one logical CPU. Each task has a goroutine, but only
// the goroutine that owns the CPU runs; see sched.go. Unless documented
// otherwise, methods of Kernel, TaskSet and Task may only be called by the
// CPU owner: a task's own code, an interrupt handler, or the goroutine that
// drives the kernel while it is idle.
package kernel

import (
	"fmt"
	"sync"
	"time"

	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/cleanup"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/fsbridge"
	"gvisor.dev/procore/pkg/sentry/ktime"
	"gvisor.dev/procore/pkg/sentry/loader"
	"gvisor.dev/procore/pkg/sentry/mm"
	"gvisor.dev/procore/pkg/sentry/pgalloc"
	"gvisor.dev/procore/pkg/sentry/platform"
)

// Defaults for InitKernelArgs fields left zero.
const (
	DefaultMemoryBase          = 0x4000000
	DefaultMemorySize          = 0x4000000
	DefaultPrivilegedStackSize = 64 << 10
	DefaultUserStackSize       = loader.DefaultStackSize
	DefaultMaxTasks            = 1024
	DefaultMaxFDs              = 256
)

// VectorExternalSignal is the software interrupt that delivers signals
// queued by SendExternalSignal.
const VectorExternalSignal = 0x21

// sigreturnTrampoline is the address of the trampoline code in the Low1MB
// kernel VMA.
const sigreturnTrampoline hostarch.Addr = 0x1000

// trampolineCode is "mov $SYS_SIGRETURN, %eax; int $0x87".
var trampolineCode = []byte{0xb8, linux.SYS_SIGRETURN, 0, 0, 0, 0xcd, platform.VectorSyscall}

// InitKernelArgs holds arguments to Init.
type InitKernelArgs struct {
	// MemoryBase and MemorySize bound the physical page pool.
	MemoryBase hostarch.PhysAddr
	MemorySize uint32

	// KernelImageEnd is the end of the identity-mapped kernel image, which
	// starts at 1MiB.
	KernelImageEnd hostarch.Addr

	// Hz is the timer interrupt frequency.
	Hz uint32

	// PrivilegedStackSize is the size of each ring-0 stack of a task.
	PrivilegedStackSize uint32

	// UserStackSize is the size of the stack VMA of a user task.
	UserStackSize uint32

	// MaxTasks limits the number of live tasks.
	MaxTasks int

	// MaxFDs limits the descriptors of each task.
	MaxFDs int

	// Filesystem is the file layer used to load images and open files.
	Filesystem fsbridge.Filesystem

	// SyscallTable is the system call table. If nil, every system call
	// fails with ENOSYS.
	SyscallTable *SyscallTable
}

// Kernel is the process-execution core.
type Kernel struct {
	machine  *platform.Machine
	mf       *pgalloc.MemoryFile
	kernelMM *mm.KernelMM
	clock    *ktime.Clock
	tasks    *TaskSet
	fs       fsbridge.Filesystem
	syscalls *SyscallTable

	privilegedStackSize uint32
	userStackSize       uint32
	maxFDs              int

	// trampoline is the return address of signal frames.
	trampoline hostarch.Addr

	// current is the task that owns the CPU, or nil when idle.
	current *Task

	// idleCtx is the context of the idle loop.
	idleCtx *arch.Context

	// idlePermit passes the CPU back to the idle loop.
	idlePermit chan struct{}

	// switches counts task switches.
	switches uint64

	// globalInit is the first user task created. Its exit code is kept
	// after it is reaped.
	globalInit   *Task
	initExited   bool
	initExitCode int32

	// extMu protects extSignals.
	extMu sync.Mutex

	// extSignals are queued by SendExternalSignal.
	extSignals []externalSignal

	// faultLog and unimplemented rate limit noisy warnings.
	faultLog      log.Logger
	unimplemented log.Logger
}

type externalSignal struct {
	tid ThreadID
	sig linux.Signal
}

// Init initializes the Kernel with no tasks.
func (k *Kernel) Init(args InitKernelArgs) error {
	if args.MemoryBase == 0 && args.MemorySize == 0 {
		args.MemoryBase, args.MemorySize = DefaultMemoryBase, DefaultMemorySize
	}
	if args.KernelImageEnd == 0 {
		args.KernelImageEnd = mm.DefaultKernelOpts().ImageEnd
	}
	if args.Hz == 0 {
		args.Hz = ktime.DefaultHz
	}
	if args.PrivilegedStackSize == 0 {
		args.PrivilegedStackSize = DefaultPrivilegedStackSize
	}
	if args.UserStackSize == 0 {
		args.UserStackSize = DefaultUserStackSize
	}
	if args.MaxTasks == 0 {
		args.MaxTasks = DefaultMaxTasks
	}
	if args.MaxFDs == 0 {
		args.MaxFDs = DefaultMaxFDs
	}
	if args.PrivilegedStackSize%hostarch.PageSize != 0 {
		return fmt.Errorf("privileged stack size %#x is not page aligned", args.PrivilegedStackSize)
	}
	if args.UserStackSize%hostarch.PageSize != 0 {
		return fmt.Errorf("user stack size %#x is not page aligned", args.UserStackSize)
	}
	if args.Filesystem == nil {
		return fmt.Errorf("Filesystem is nil")
	}

	mf, err := pgalloc.NewMemoryFile(pgalloc.MemoryFileOpts{
		PoolBase: args.MemoryBase,
		PoolSize: args.MemorySize,
	})
	if err != nil {
		return fmt.Errorf("creating memory file: %w", err)
	}
	kopts := mm.DefaultKernelOpts()
	kopts.ImageEnd = args.KernelImageEnd
	kernelMM, err := mm.NewKernelMM(mf, kopts)
	if err != nil {
		return fmt.Errorf("creating kernel address space: %w", err)
	}
	syscalls := args.SyscallTable
	if syscalls == nil {
		syscalls = &SyscallTable{}
	}
	if err := syscalls.Init(); err != nil {
		return err
	}

	k.machine = platform.New()
	k.mf = mf
	k.kernelMM = kernelMM
	k.clock = ktime.NewClock(args.Hz)
	k.tasks = newTaskSet(k, args.MaxTasks)
	k.fs = args.Filesystem
	k.syscalls = syscalls
	k.privilegedStackSize = args.PrivilegedStackSize
	k.userStackSize = args.UserStackSize
	k.maxFDs = args.MaxFDs
	k.trampoline = sigreturnTrampoline
	k.idleCtx = arch.NewKernelContext(0)
	k.idlePermit = make(chan struct{}, 1)
	k.faultLog = log.BasicRateLimitedLogger(time.Second)
	k.unimplemented = log.BasicRateLimitedLogger(time.Second)

	// The trampoline lives in identity-mapped low memory.
	mf.WriteAt(trampolineCode, hostarch.PhysAddr(k.trampoline))

	for _, h := range []struct {
		vector  uint8
		name    string
		handler platform.TrapHandler
	}{
		{platform.VectorGPFault, "General Protection Fault", k.handleGPFault},
		{platform.VectorPageFault, "Page Fault", k.handlePageFault},
		{platform.VectorTimer, "Timer", k.handleTimer},
		{VectorExternalSignal, "External Signal", k.handleExternalSignals},
		{platform.VectorSyscall, "System Call", k.handleSyscall},
		{platform.VectorYield, "CPU Yield Trap", k.handleYield},
	} {
		if err := k.machine.RegisterInterruptHandler(h.vector, h.name, h.handler); err != nil {
			return err
		}
	}
	k.machine.SetPageDirectory(kernelMM.AddressSpace())
	log.Infof("Kernel initialized: memory [%v, +%#x), %d Hz", args.MemoryBase, args.MemorySize, args.Hz)
	return nil
}

// Machine returns the CPU the kernel runs on.
func (k *Kernel) Machine() *platform.Machine {
	return k.machine
}

// MemoryFile returns the physical memory.
func (k *Kernel) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// KernelMM returns the kernel address space shared by all tasks.
func (k *Kernel) KernelMM() *mm.KernelMM {
	return k.kernelMM
}

// Clock returns the tick clock.
func (k *Kernel) Clock() *ktime.Clock {
	return k.clock
}

// TaskSet returns the TaskSet.
func (k *Kernel) TaskSet() *TaskSet {
	return k.tasks
}

// Filesystem returns the file layer.
func (k *Kernel) Filesystem() fsbridge.Filesystem {
	return k.fs
}

// SyscallTable returns the system call table.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// Current returns the task that owns the CPU, or nil when idle.
func (k *Kernel) Current() *Task {
	return k.current
}

// Switches returns the number of task switches so far.
func (k *Kernel) Switches() uint64 {
	return k.switches
}

// GlobalInit returns the first user task, or nil if it has not been created
// or has been reaped.
func (k *Kernel) GlobalInit() *Task {
	if k.globalInit == nil || k.tasks.TaskWithID(k.globalInit.id) != k.globalInit {
		return nil
	}
	return k.globalInit
}

// InitExitCode returns the exit code of the first user task, if it exited.
func (k *Kernel) InitExitCode() (int32, bool) {
	return k.initExitCode, k.initExited
}

// CreateProcessArgs holds arguments to kernel.CreateProcess.
type CreateProcessArgs struct {
	// Filename is the path of the ELF image in the file layer.
	Filename string

	// CommandLine is written to the new stack as argv. If empty, Filename
	// is used.
	CommandLine string

	// Program is the code the task runs.
	Program Program

	// Name defaults to Filename.
	Name string

	// WorkingDirectory is the initial working directory.
	//
	// This defaults to the root if empty.
	WorkingDirectory string

	// FDTable is the initial set of file descriptors. If CreateProcess
	// succeeds, the task owns it.
	FDTable *FDTable
}

// CreateProcess loads an image into a new address space and creates a task
// for it. The task is not started; the caller must call Task.Start. On
// failure everything built for the task is released.
func (k *Kernel) CreateProcess(args CreateProcessArgs) (*Task, error) {
	if args.Program == nil {
		return nil, fmt.Errorf("no program for %q", args.Filename)
	}
	image, err := fsbridge.ReadFile(k.fs, args.Filename)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", args.Filename, err)
	}
	m, err := mm.NewMemoryManager(k.kernelMM)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(m.Release)
	defer cu.Clean()

	cmdline := args.CommandLine
	if cmdline == "" {
		cmdline = args.Filename
	}
	prev := k.machine.PageDirectory()
	info, err := loader.Load(loader.LoadArgs{
		MemoryManager: m,
		Image:         image,
		CommandLine:   cmdline,
		StackSize:     k.userStackSize,
		Activate:      k.machine.SetPageDirectory,
	})
	k.machine.SetPageDirectory(prev)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", args.Filename, err)
	}

	name := args.Name
	if name == "" {
		name = args.Filename
	}
	t, err := k.tasks.newTask(&TaskConfig{
		Name:             name,
		MemoryManager:    m,
		Context:          info.Context,
		Program:          args.Program,
		FDTable:          args.FDTable,
		WorkingDirectory: args.WorkingDirectory,
	})
	if err != nil {
		return nil, err
	}
	cu.Release()
	if k.globalInit == nil {
		k.globalInit = t
	}
	return t, nil
}

// NewKernelTask creates a task that runs fn in ring 0 in the kernel address
// space. The task exits when fn returns. It is not started.
func (k *Kernel) NewKernelTask(name string, fn func(*Task)) (*Task, error) {
	return k.tasks.newTask(&TaskConfig{
		Name:     name,
		KernelFn: fn,
	})
}

// SendExternalSignal queues sig for the task with ID tid and raises an
// interrupt to deliver it. It may be called from any goroutine.
func (k *Kernel) SendExternalSignal(tid ThreadID, sig linux.Signal) {
	k.extMu.Lock()
	k.extSignals = append(k.extSignals, externalSignal{tid: tid, sig: sig})
	k.extMu.Unlock()
	k.machine.PostInterrupt(VectorExternalSignal)
}

func (k *Kernel) handleExternalSignals(ctx *arch.Context) *arch.Context {
	k.extMu.Lock()
	sigs := k.extSignals
	k.extSignals = nil
	k.extMu.Unlock()
	for _, s := range sigs {
		t := k.tasks.TaskWithID(s.tid)
		if t == nil {
			log.Infof("Dropping external %v for missing task %v", s.sig, s.tid)
			continue
		}
		if err := t.SendSignal(s.sig); err != nil {
			log.Warningf("Sending external %v to %v: %v", s.sig, t, err)
		}
	}
	return ctx
}

// handleTimer advances the clock one tick, firing expired timers.
func (k *Kernel) handleTimer(ctx *arch.Context) *arch.Context {
	k.clock.Advance(1)
	return ctx
}

// handlePageFault services a page fault of the current task. A fault that
// cannot be serviced becomes SIGSEGV.
func (k *Kernel) handlePageFault(ctx *arch.Context) *arch.Context {
	code := mm.FaultCode(ctx.ErrorCode)
	addr := ctx.FaultAddr
	t := k.current
	if t == nil {
		if err := k.kernelMM.HandleFault(addr, code); err != nil {
			panic(fmt.Sprintf("idle page fault at %v (%v): %v", addr, code, err))
		}
		return ctx
	}
	var err error
	if t.mm == nil {
		err = k.kernelMM.HandleFault(addr, code)
	} else {
		err = t.mm.HandleFault(addr, code)
	}
	if err != nil {
		k.faultLog.Warningf("%v: fatal page fault at %v (%v), eip %#x: %v", t, addr, code, ctx.Regs.Eip, err)
		t.forceSignal(linux.SIGSEGV)
	}
	return ctx
}

// handleGPFault turns a general protection fault into SIGSEGV.
func (k *Kernel) handleGPFault(ctx *arch.Context) *arch.Context {
	t := k.current
	if t == nil {
		panic(fmt.Sprintf("idle general protection fault: %v", ctx))
	}
	k.faultLog.Warningf("%v: general protection fault at %v", t, ctx.FaultAddr)
	t.forceSignal(linux.SIGSEGV)
	return ctx
}
