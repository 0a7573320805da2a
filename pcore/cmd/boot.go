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

// Package cmd holds implementations of the pcore commands.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/procore/pcore/boot"
	"gvisor.dev/procore/pcore/cmd/util"
	"gvisor.dev/procore/pcore/config"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/fsbridge"
)

// Boot implements subcommands.Command for the "boot" command which boots
// the kernel and runs an image as init.
type Boot struct {
	// app is the builtin application init runs.
	app string

	// root is the host directory backing the file layer.
	root string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and run an image as init"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	var b strings.Builder
	b.WriteString(`boot [flags] <image> [args...] - boot the kernel with the image as init.

The image path is resolved in the file layer, rooted at --root. The code of
init is the builtin application selected with --app:

`)
	for _, app := range boot.Apps() {
		fmt.Fprintf(&b, "  %-8s %s\n", app.Name, app.Synopsis)
	}
	b.WriteString("\nSIGINT and SIGTERM are forwarded to init. pcore exits with init's exit code.\n\n")
	return b.String()
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.app, "app", "hello", "builtin application run by init.")
	f.StringVar(&b.root, "root", "/", "host directory that backs the file layer.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	waitStatus := args[1].(*unix.WaitStatus)

	image := path.Clean("/" + f.Arg(0))
	argv := append([]string{image}, f.Args()[1:]...)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)

	l, err := boot.New(boot.Args{
		Kernel:     conf.KernelOptions(),
		Filesystem: fsbridge.NewHostFS(b.root),
		Image:      image,
		Argv:       argv,
		App:        b.app,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Signals:    sigs,
	})
	if err != nil {
		util.Fatalf("booting: %v", err)
	}
	code, err := l.Run(ctx)
	if err != nil {
		util.Fatalf("running kernel: %v", err)
	}
	log.Infof("Kernel stopped after %d task switches", l.Kernel().Switches())

	*waitStatus = unix.WaitStatus(uint32(code&0xff) << 8)
	return subcommands.ExitSuccess
}
