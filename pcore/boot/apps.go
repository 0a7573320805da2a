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

package boot

import (
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/sys/unix"
	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/kernel"
)

// App is a builtin application: the code run by a task whose image has no
// code the core can execute itself.
type App struct {
	// Name selects the app with --app.
	Name string

	// Synopsis is a one line description.
	Synopsis string

	// New returns a fresh program for one task.
	New func() kernel.Program
}

var apps = map[string]App{}

func register(app App) {
	if _, ok := apps[app.Name]; ok {
		panic(fmt.Sprintf("app %q registered twice", app.Name))
	}
	apps[app.Name] = app
}

func init() {
	register(App{Name: "hello", Synopsis: "print a greeting and the task ID", New: funcs(hello)})
	register(App{Name: "cat", Synopsis: "copy files, or stdin, to stdout", New: funcs(cat)})
	register(App{Name: "pwd", Synopsis: "change to the directory argument, if any, and print the working directory", New: funcs(pwd)})
	register(App{Name: "sleep", Synopsis: "sleep for the given milliseconds, reporting SIGINT", New: func() kernel.Program { return &sleeper{} }})
	register(App{Name: "fault", Synopsis: "store to the text segment", New: funcs(fault)})
}

func funcs(fn func(*kernel.AppContext) int32) func() kernel.Program {
	return func() kernel.Program {
		return &kernel.Funcs{MainFn: fn}
	}
}

// Apps returns all builtin applications sorted by name.
func Apps() []App {
	all := make([]App, 0, len(apps))
	for _, app := range apps {
		all = append(all, app)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// LookupApp returns a new program for the named app.
func LookupApp(name string) (kernel.Program, error) {
	app, ok := apps[name]
	if !ok {
		return nil, fmt.Errorf("unknown app %q", name)
	}
	return app.New(), nil
}

// Standard descriptors installed for init.
const (
	stdin  = 0
	stdout = 1
	stderr = 2
)

func hello(ac *kernel.AppContext) int32 {
	args := appArgs(ac)
	s, errno := newScratch(ac)
	if errno != 0 {
		return 1
	}
	tid := ac.Syscall(linux.SYS_GETPID)
	if s.printf(stdout, "hello from %s, task %d\n", args[0], tid) < 0 {
		return 1
	}
	return 0
}

func cat(ac *kernel.AppContext) int32 {
	args := appArgs(ac)
	s, errno := newScratch(ac)
	if errno != 0 {
		return 1
	}
	if len(args) < 2 {
		if s.copy(stdin) < 0 {
			return 1
		}
		return 0
	}
	var code int32
	for _, path := range args[1:] {
		fd := s.open(path, linux.O_RDONLY)
		if fd < 0 {
			s.printf(stderr, "cat: %s: %v\n", path, unix.Errno(-fd))
			code = 1
			continue
		}
		if ret := s.copy(fd); ret < 0 {
			s.printf(stderr, "cat: %s: %v\n", path, unix.Errno(-ret))
			code = 1
		}
		ac.Syscall(linux.SYS_CLOSE, uintptr(fd))
	}
	return code
}

func pwd(ac *kernel.AppContext) int32 {
	args := appArgs(ac)
	s, errno := newScratch(ac)
	if errno != 0 {
		return 1
	}
	if len(args) > 1 {
		if ret := s.syscallPath(linux.SYS_CHDIR, args[1]); ret < 0 {
			s.printf(stderr, "pwd: %s: %v\n", args[1], unix.Errno(-ret))
			return 1
		}
	}
	n := ac.Syscall(linux.SYS_GETCWD, uintptr(s.addr), scratchSize)
	if n < 0 {
		return 1
	}
	// n counts the terminating NUL; replace it with a newline.
	ac.Store(s.addr+hostarch.Addr(n-1), []byte{'\n'})
	if s.write(stdout, n) < 0 {
		return 1
	}
	return 0
}

// sleeper runs the sleep app. Its SIGINT handler is at HandlerOffset from
// the image entry point.
type sleeper struct {
	handler     hostarch.Addr
	interrupted bool
}

// Main implements kernel.Program.Main.
func (p *sleeper) Main(ac *kernel.AppContext) int32 {
	p.handler = ac.Registers().IP() + HandlerOffset
	args := appArgs(ac)
	s, errno := newScratch(ac)
	if errno != 0 {
		return 1
	}
	ms := 1000
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			s.printf(stderr, "sleep: invalid duration %q\n", args[1])
			return 2
		}
		ms = v
	}
	if ret := ac.Syscall(linux.SYS_SIGNAL, uintptr(linux.SIGINT), uintptr(p.handler)); ret < 0 {
		return 1
	}
	ret := ac.Syscall(linux.SYS_SLEEP, uintptr(ms))
	if p.interrupted {
		s.printf(stdout, "sleep: interrupted\n")
		return 128 + int32(linux.SIGINT)
	}
	if ret < 0 {
		return 1
	}
	s.printf(stdout, "slept %d ms\n", ms)
	return 0
}

// Handler implements kernel.Program.Handler.
func (p *sleeper) Handler(entry hostarch.Addr) (func(*kernel.AppContext, linux.Signal), bool) {
	if p.handler == 0 || entry != p.handler {
		return nil, false
	}
	return func(*kernel.AppContext, linux.Signal) {
		p.interrupted = true
	}, true
}

func fault(ac *kernel.AppContext) int32 {
	ac.Store(ac.Registers().IP(), []byte{0x90})
	return 0
}
