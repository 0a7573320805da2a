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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/procore/pcore/boot"
	"gvisor.dev/procore/pcore/cmd/util"
)

// MkImage implements subcommands.Command for the "mkimage" command.
type MkImage struct{}

// Name implements subcommands.Command.Name.
func (*MkImage) Name() string {
	return "mkimage"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*MkImage) Synopsis() string {
	return "write an executable for builtin applications"
}

// Usage implements subcommands.Command.Usage.
func (*MkImage) Usage() string {
	return `mkimage <path> - write an ELF executable that boot can load as init.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*MkImage) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*MkImage) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if err := os.WriteFile(f.Arg(0), boot.Image(), 0755); err != nil {
		util.Fatalf("writing image: %v", err)
	}
	return subcommands.ExitSuccess
}
