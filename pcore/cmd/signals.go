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
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/procore/pcore/cmd/util"
	"gvisor.dev/procore/pkg/sentry/kernel"
)

// Signals implements subcommands.Command for the "signals" command.
type Signals struct{}

// Name implements subcommands.Command.Name.
func (*Signals) Name() string {
	return "signals"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Signals) Synopsis() string {
	return "print the default signal table"
}

// Usage implements subcommands.Command.Usage.
func (*Signals) Usage() string {
	return `signals - print the signals tasks accept, their default action and whether a program may change it.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Signals) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Signals) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	if err := writeSignalTable(os.Stdout); err != nil {
		util.Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeSignalTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "NUM\tNAME\tACTION\tOVERRIDABLE\n")
	for _, s := range kernel.DefaultSignalTable() {
		fmt.Fprintf(tw, "%d\t%v\t%v\t%t\n", int(s.Signal), s.Signal, s.Action, s.Overridable)
	}
	return tw.Flush()
}
