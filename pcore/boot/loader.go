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

// Package boot loads the kernel and runs init for the boot command.
package boot

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/fsbridge"
	"gvisor.dev/procore/pkg/sentry/kernel"
	"gvisor.dev/procore/pkg/sentry/ktime"
	"gvisor.dev/procore/pkg/sentry/platform"
	slinux "gvisor.dev/procore/pkg/sentry/syscalls/linux"
)

// Args are the arguments for New.
type Args struct {
	// Kernel configures the kernel. Its Filesystem and SyscallTable are
	// replaced.
	Kernel kernel.InitKernelArgs

	// Filesystem is the file layer seen by tasks.
	Filesystem fsbridge.Filesystem

	// Image is the path of init's executable in Filesystem.
	Image string

	// Argv is init's command line. If empty, Image is used.
	Argv []string

	// App names the builtin application init runs.
	App string

	// Stdin, Stdout and Stderr back init's descriptors 0 to 2. A nil
	// reader reads end of file and a nil writer fails with EBADF.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Signals carries host signals to forward to init. May be nil.
	Signals <-chan os.Signal
}

// Loader keeps state needed to run the kernel and its init task.
type Loader struct {
	k       *kernel.Kernel
	init    *kernel.Task
	hz      uint32
	signals <-chan os.Signal
}

// New initializes a kernel and creates init. Init is started by Run.
func New(args Args) (*Loader, error) {
	prog, err := LookupApp(args.App)
	if err != nil {
		return nil, err
	}

	kargs := args.Kernel
	kargs.Filesystem = args.Filesystem
	kargs.SyscallTable = slinux.I386
	if kargs.Hz == 0 {
		kargs.Hz = ktime.DefaultHz
	}
	k := &kernel.Kernel{}
	if err := k.Init(kargs); err != nil {
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}

	fdTable := k.NewFDTable()
	stdio := []struct {
		file  fsbridge.File
		flags kernel.FDFlags
	}{
		{fsbridge.NewConsole(args.Stdin, nil), kernel.FDFlags{Read: true}},
		{fsbridge.NewConsole(nil, args.Stdout), kernel.FDFlags{Write: true}},
		{fsbridge.NewConsole(nil, args.Stderr), kernel.FDFlags{Write: true}},
	}
	for fd, s := range stdio {
		if err := fdTable.NewFDAt(int32(fd), s.file, s.flags); err != nil {
			return nil, fmt.Errorf("installing fd %d: %w", fd, err)
		}
	}

	argv := args.Argv
	if len(argv) == 0 {
		argv = []string{args.Image}
	}
	initTask, err := k.CreateProcess(kernel.CreateProcessArgs{
		Filename:    args.Image,
		CommandLine: strings.Join(argv, " "),
		Program:     prog,
		Name:        args.App,
		FDTable:     fdTable,
	})
	if err != nil {
		fdTable.RemoveAll()
		return nil, fmt.Errorf("creating init: %w", err)
	}
	log.Infof("Init %v created from %q running app %q", initTask.ThreadID(), args.Image, args.App)
	return &Loader{
		k:       k,
		init:    initTask,
		hz:      kargs.Hz,
		signals: args.Signals,
	}, nil
}

// Kernel returns the loader's kernel.
func (l *Loader) Kernel() *kernel.Kernel {
	return l.k
}

// Init returns the init task.
func (l *Loader) Init() *kernel.Task {
	return l.init
}

// Run starts init and runs the kernel until no task is left, driving the
// timer interrupt at the kernel's frequency and forwarding host signals.
// It returns init's exit code.
func (l *Loader) Run(ctx context.Context) (int32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.init.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The tick source and the forwarder stop once the CPU is done.
		defer cancel()
		return l.k.Run(gctx)
	})
	g.Go(func() error {
		ktime.RunTicker(gctx, l.hz, func() {
			l.k.Machine().PostInterrupt(platform.VectorTimer)
		})
		return nil
	})
	if l.signals != nil {
		g.Go(func() error {
			l.forwardSignals(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	code, ok := l.k.InitExitCode()
	if !ok {
		return 0, fmt.Errorf("kernel stopped before init exited")
	}
	log.Infof("Init exited with code %d", code)
	return code, nil
}

// forwardSignals sends host signals to init until ctx is done.
func (l *Loader) forwardSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-l.signals:
			sig, ok := s.(unix.Signal)
			if !ok {
				log.Warningf("Ignoring host signal %v", s)
				continue
			}
			log.Infof("Forwarding host signal %v to init", sig)
			l.k.SendExternalSignal(l.init.ThreadID(), linux.Signal(sig))
		}
	}
}
