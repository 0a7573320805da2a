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

package linux

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/fsbridge"
	"gvisor.dev/procore/pkg/sentry/kernel"
	"gvisor.dev/procore/pkg/sentry/loader/elfimage"
)

const (
	textBase = 0x40000000

	// scratch is a page of the data segment the programs use for strings
	// and buffers.
	scratch = hostarch.Addr(textBase + 0x1000)

	// heapStart follows the data page.
	heapStart = hostarch.Addr(textBase + 0x2000)

	handlerEntry = hostarch.Addr(textBase + 0x10)
)

func errno(err error) int32 {
	return -int32(linuxerr.ToErrno(err))
}

func newKernel(t *testing.T) (*kernel.Kernel, *fsbridge.MemFS) {
	t.Helper()
	fs := fsbridge.NewMemFS()
	fs.AddFile("/bin/app", elfimage.TwoSegment(textBase, make([]byte, 0x40), make([]byte, 0x10), 0x800).Build())
	fs.AddFile("/etc/motd", []byte("hello world"))
	fs.Mkdir("/usr/bin")
	fs.Mkdir("/tmp")
	k := &kernel.Kernel{}
	if err := k.Init(kernel.InitKernelArgs{
		MemoryBase:    0x4000000,
		MemorySize:    4 << 20,
		UserStackSize: 16 * hostarch.PageSize,
		Filesystem:    fs,
		SyscallTable:  I386,
	}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return k, fs
}

func run(t *testing.T, k *kernel.Kernel, prog *kernel.Funcs) *kernel.Task {
	t.Helper()
	task, err := k.CreateProcess(kernel.CreateProcessArgs{
		Filename: "/bin/app",
		Program:  prog,
	})
	if err != nil {
		t.Fatalf("CreateProcess failed: %v", err)
	}
	task.Start()
	return task
}

// putString stores s and a terminating NUL at addr.
func putString(ac *kernel.AppContext, addr hostarch.Addr, s string) uintptr {
	ac.Store(addr, append([]byte(s), 0))
	return uintptr(addr)
}

func TestTable(t *testing.T) {
	if err := I386.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	want := []string{"open", "close", "exit", "read", "write", "sleep", "signal", "kill", "getpid", "sbrk", "getcwd", "chdir", "sched_yield", "waittask", "sigreturn"}
	var got []string
	for sysno := uintptr(0); sysno <= linux.SYS_SIGRETURN; sysno++ {
		if I386.Lookup(sysno) == nil {
			t.Errorf("no handler for %d", sysno)
		}
		got = append(got, I386.LookupName(sysno))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("syscall names mismatch (-want +got):\n%s", diff)
	}
}

func TestFiles(t *testing.T) {
	k, fs := newKernel(t)
	var rets []int32
	var read string
	run(t, k, &kernel.Funcs{MainFn: func(ac *kernel.AppContext) int32 {
		sys := func(sysno uintptr, args ...uintptr) int32 {
			ret := ac.Syscall(sysno, args...)
			rets = append(rets, ret)
			return ret
		}
		buf := scratch + 0x100
		fd := sys(linux.SYS_OPEN, putString(ac, scratch, "/etc/motd"), linux.O_RDONLY)
		n := sys(linux.SYS_READ, uintptr(fd), uintptr(buf), 64)
		if n > 0 {
			b := make([]byte, n)
			ac.Load(buf, b)
			read = string(b)
		}
		sys(linux.SYS_READ, uintptr(fd), uintptr(buf), 64)
		sys(linux.SYS_WRITE, uintptr(fd), uintptr(buf), 4)

		out := sys(linux.SYS_OPEN, putString(ac, scratch, "/tmp/out"), linux.O_WRONLY|linux.O_CREAT)
		ac.Store(buf, []byte("hi"))
		sys(linux.SYS_WRITE, uintptr(out), uintptr(buf), 2)
		sys(linux.SYS_READ, uintptr(out), uintptr(buf), 2)
		sys(linux.SYS_CLOSE, uintptr(out))
		sys(linux.SYS_CLOSE, uintptr(out))

		sys(linux.SYS_OPEN, putString(ac, scratch, "/missing"), linux.O_RDONLY)
		sys(linux.SYS_OPEN, putString(ac, scratch, "/usr"), linux.O_RDWR)
		sys(linux.SYS_READ, 7, uintptr(buf), 1)
		sys(linux.SYS_READ, uintptr(fd), uintptr(buf), ^uintptr(0))
		sys(linux.SYS_OPEN, 0x50000000, linux.O_RDONLY)
		return 0
	}})
	k.RunUntilIdle()

	want := []int32{
		0, 11, 0, errno(linuxerr.EBADF),
		1, 2, errno(linuxerr.EBADF), 0, errno(linuxerr.EBADF),
		errno(linuxerr.ENOENT), errno(linuxerr.EISDIR), errno(linuxerr.EBADF), errno(linuxerr.EINVAL),
		errno(linuxerr.EFAULT),
	}
	if diff := cmp.Diff(want, rets); diff != "" {
		t.Errorf("return values mismatch (-want +got):\n%s", diff)
	}
	if read != "hello world" {
		t.Errorf("read: got %q, want %q", read, "hello world")
	}
	if data, err := fsbridge.ReadFile(fs, "/tmp/out"); err != nil || string(data) != "hi" {
		t.Errorf("/tmp/out: got (%q, %v), want (\"hi\", nil)", data, err)
	}
}

func TestWorkingDirectory(t *testing.T) {
	k, _ := newKernel(t)
	var (
		rets []int32
		cwds []string
	)
	run(t, k, &kernel.Funcs{MainFn: func(ac *kernel.AppContext) int32 {
		buf := scratch + 0x100
		getcwd := func() {
			n := ac.Syscall(linux.SYS_GETCWD, uintptr(buf), 64)
			rets = append(rets, n)
			if n > 0 {
				b := make([]byte, n-1)
				ac.Load(buf, b)
				cwds = append(cwds, string(b))
			}
		}
		chdir := func(p string) {
			rets = append(rets, ac.Syscall(linux.SYS_CHDIR, putString(ac, scratch, p)))
		}
		getcwd()
		rets = append(rets, ac.Syscall(linux.SYS_GETCWD, uintptr(buf), 1))
		chdir("/usr")
		chdir("bin")
		getcwd()
		chdir("..//./")
		getcwd()
		chdir("/etc/motd")
		chdir("/nope")
		chdir("")
		getcwd()
		return 0
	}})
	k.RunUntilIdle()

	wantRets := []int32{2, errno(linuxerr.ERANGE), 0, 0, 9, 0, 5, errno(linuxerr.ENOTDIR), errno(linuxerr.ENOENT), errno(linuxerr.ENOENT), 5}
	if diff := cmp.Diff(wantRets, rets); diff != "" {
		t.Errorf("return values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/", "/usr/bin", "/usr", "/usr"}, cwds); diff != "" {
		t.Errorf("working directories mismatch (-want +got):\n%s", diff)
	}
}

func TestSbrk(t *testing.T) {
	k, _ := newKernel(t)
	var rets []int32
	var stored uint32
	task := run(t, k, &kernel.Funcs{MainFn: func(ac *kernel.AppContext) int32 {
		sbrk := func(delta int32) int32 {
			ret := ac.Syscall(linux.SYS_SBRK, uintptr(uint32(delta)))
			rets = append(rets, ret)
			return ret
		}
		base := hostarch.Addr(sbrk(0))
		sbrk(8192)
		ac.StoreUint32(base+8000, 0x1234)
		stored = ac.LoadUint32(base + 8000)
		sbrk(0)
		sbrk(-8192)
		sbrk(-4)
		sbrk(0)
		return 0
	}})
	k.RunUntilIdle()

	h := int32(heapStart)
	want := []int32{h, h, h + 8192, h + 8192, errno(linuxerr.EINVAL), h}
	if diff := cmp.Diff(want, rets); diff != "" {
		t.Errorf("return values mismatch (-want +got):\n%s", diff)
	}
	if stored != 0x1234 {
		t.Errorf("heap word: got %#x, want 0x1234", stored)
	}
	if got := task.ExitCode(); got != 0 {
		t.Errorf("ExitCode: got %d, want 0", got)
	}
}

func TestKillAndWait(t *testing.T) {
	k, _ := newKernel(t)
	var rets []int32
	var victim *kernel.Task
	run(t, k, &kernel.Funcs{MainFn: func(ac *kernel.AppContext) int32 {
		tid := uintptr(victim.ThreadID())
		rets = append(rets,
			ac.Syscall(linux.SYS_KILL, 99, uintptr(linux.SIGTERM)),
			ac.Syscall(linux.SYS_KILL, tid, 99),
			ac.Syscall(linux.SYS_KILL, tid, uintptr(linux.SIGTERM)),
			ac.Syscall(linux.SYS_WAITTASK, tid),
		)
		// The victim is reaped once nothing waits on it.
		ac.Syscall(linux.SYS_SCHED_YIELD)
		rets = append(rets, ac.Syscall(linux.SYS_WAITTASK, tid))
		return 0
	}})
	victim = run(t, k, &kernel.Funcs{MainFn: func(ac *kernel.AppContext) int32 {
		for {
			ac.Syscall(linux.SYS_SLEEP, 1000)
		}
	}})
	k.RunUntilIdle()

	want := []int32{errno(linuxerr.ESRCH), errno(linuxerr.EINVAL), 0, 128 + int32(linux.SIGTERM), errno(linuxerr.ESRCH)}
	if diff := cmp.Diff(want, rets); diff != "" {
		t.Errorf("return values mismatch (-want +got):\n%s", diff)
	}
	if got := k.TaskSet().Len(); got != 0 {
		t.Errorf("tasks left: got %d, want 0", got)
	}
}

func TestSignalHandler(t *testing.T) {
	k, _ := newKernel(t)
	var (
		rets    []int32
		handled []linux.Signal
	)
	task := run(t, k, &kernel.Funcs{
		MainFn: func(ac *kernel.AppContext) int32 {
			pid := uintptr(ac.Syscall(linux.SYS_GETPID))
			rets = append(rets,
				ac.Syscall(linux.SYS_SIGNAL, uintptr(linux.SIGUSR1), uintptr(handlerEntry)),
				ac.Syscall(linux.SYS_KILL, pid, uintptr(linux.SIGUSR1)),
				ac.Syscall(linux.SYS_SIGNAL, uintptr(linux.SIGUSR1), linux.SIG_IGN),
				ac.Syscall(linux.SYS_KILL, pid, uintptr(linux.SIGUSR1)),
				ac.Syscall(linux.SYS_SIGNAL, uintptr(linux.SIGKILL), linux.SIG_IGN),
			)
			ac.Syscall(linux.SYS_SIGRETURN)
			rets = append(rets, -1)
			return 0
		},
		Handlers: map[hostarch.Addr]func(*kernel.AppContext, linux.Signal){
			handlerEntry: func(ac *kernel.AppContext, sig linux.Signal) {
				handled = append(handled, sig)
			},
		},
	})
	k.RunUntilIdle()

	want := []int32{linux.SIG_DFL, 0, int32(handlerEntry), 0, errno(linuxerr.EINVAL)}
	if diff := cmp.Diff(want, rets); diff != "" {
		t.Errorf("return values mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]linux.Signal{linux.SIGUSR1}, handled); diff != "" {
		t.Errorf("handled signals mismatch (-want +got):\n%s", diff)
	}
	if got, want := task.ExitCode(), 128+int32(linux.SIGSEGV); got != want {
		t.Errorf("ExitCode: got %d, want %d", got, want)
	}
}

func TestExitAndYield(t *testing.T) {
	k, _ := newKernel(t)
	var order []string
	a := run(t, k, &kernel.Funcs{MainFn: func(ac *kernel.AppContext) int32 {
		for i := 0; i < 2; i++ {
			order = append(order, "a")
			ac.Syscall(linux.SYS_SCHED_YIELD)
		}
		ac.Syscall(linux.SYS_EXIT, uintptr(uint32(0xffffffff)))
		order = append(order, "after exit")
		return 0
	}})
	b := run(t, k, &kernel.Funcs{MainFn: func(ac *kernel.AppContext) int32 {
		for i := 0; i < 2; i++ {
			order = append(order, "b")
			ac.Yield()
		}
		return 4
	}})
	k.RunUntilIdle()

	if diff := cmp.Diff([]string{"a", "b", "a", "b"}, order); diff != "" {
		t.Errorf("run order mismatch (-want +got):\n%s", diff)
	}
	if got := a.ExitCode(); got != -1 {
		t.Errorf("a ExitCode: got %d, want -1", got)
	}
	if got := b.ExitCode(); got != 4 {
		t.Errorf("b ExitCode: got %d, want 4", got)
	}
	if code, ok := k.InitExitCode(); !ok || code != -1 {
		t.Errorf("InitExitCode: got (%d, %t), want (-1, true)", code, ok)
	}
}
