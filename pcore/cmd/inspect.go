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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"gvisor.dev/procore/pcore/cmd/util"
	"gvisor.dev/procore/pcore/config"
	"gvisor.dev/procore/pkg/sentry/fsbridge"
	"gvisor.dev/procore/pkg/sentry/kernel"
)

// Inspect implements subcommands.Command for the "inspect" command.
type Inspect struct {
	format string
	root   string
}

// ImageReport describes the address space and initial registers of a
// loaded image.
type ImageReport struct {
	Image     string            `json:"image" yaml:"image"`
	Registers map[string]string `json:"registers" yaml:"registers"`
	VMAs      []VMAReport       `json:"vmas" yaml:"vmas"`
}

// VMAReport describes one VMA.
type VMAReport struct {
	Name     string `json:"name" yaml:"name"`
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Perms    string `json:"perms" yaml:"perms"`
	Resident int    `json:"resident" yaml:"resident"`
}

type reportFunc func(io.Writer, *ImageReport) error

var reportFormats = map[string]reportFunc{
	"text": reportText,
	"json": reportJSON,
	"yaml": reportYAML,
}

// Name implements subcommands.Command.Name.
func (*Inspect) Name() string {
	return "inspect"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inspect) Synopsis() string {
	return "load an image and print its VMAs and initial registers"
}

// Usage implements subcommands.Command.Usage.
func (*Inspect) Usage() string {
	return `inspect [flags] <image> [args...] - load an image into a scratch kernel and print its layout.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inspect) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.format, "format", "text", "output format: text, json or yaml.")
	f.StringVar(&i.root, "root", "/", "host directory that backs the file layer.")
}

// Execute implements subcommands.Command.Execute.
func (i *Inspect) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	out, ok := reportFormats[i.format]
	if !ok {
		util.Fatalf("unsupported output format %q", i.format)
	}
	conf := args[0].(*config.Config)

	image := path.Clean("/" + f.Arg(0))
	argv := append([]string{image}, f.Args()[1:]...)
	r, err := inspectImage(conf, fsbridge.NewHostFS(i.root), image, argv)
	if err != nil {
		util.Fatalf("%v", err)
	}
	if err := out(os.Stdout, r); err != nil {
		util.Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// inspectImage loads image into a fresh kernel without running it.
func inspectImage(conf *config.Config, fs fsbridge.Filesystem, image string, argv []string) (*ImageReport, error) {
	kargs := conf.KernelOptions()
	kargs.Filesystem = fs
	k := &kernel.Kernel{}
	if err := k.Init(kargs); err != nil {
		return nil, fmt.Errorf("initializing kernel: %w", err)
	}
	t, err := k.CreateProcess(kernel.CreateProcessArgs{
		Filename:    image,
		CommandLine: strings.Join(argv, " "),
		Program:     &kernel.Funcs{},
	})
	if err != nil {
		return nil, err
	}

	regs := t.Arch().Regs
	r := &ImageReport{
		Image: image,
		Registers: map[string]string{
			"eip":    fmt.Sprintf("0x%08x", regs.Eip),
			"esp":    fmt.Sprintf("0x%08x", regs.Esp),
			"eflags": fmt.Sprintf("0x%08x", regs.Eflags),
			"cs":     fmt.Sprintf("0x%02x", regs.Cs),
			"ds":     fmt.Sprintf("0x%02x", regs.Ds),
			"ss":     fmt.Sprintf("0x%02x", regs.Ss),
		},
	}
	for _, e := range t.MemoryManager().Maps() {
		r.VMAs = append(r.VMAs, VMAReport{
			Name:     e.Name,
			Start:    fmt.Sprintf("0x%08x", uint32(e.Start)),
			End:      fmt.Sprintf("0x%08x", uint32(e.End)),
			Perms:    e.Perms,
			Resident: e.Resident,
		})
	}
	return r, nil
}

func reportText(w io.Writer, r *ImageReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "IMAGE\t%s\n", r.Image)
	for _, reg := range []string{"eip", "esp", "eflags", "cs", "ds", "ss"} {
		fmt.Fprintf(tw, "%s\t%s\n", reg, r.Registers[reg])
	}
	fmt.Fprint(tw, "\nNAME\tSTART\tEND\tPERMS\tRESIDENT\n")
	for _, v := range r.VMAs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", v.Name, v.Start, v.End, v.Perms, v.Resident)
	}
	return tw.Flush()
}

func reportJSON(w io.Writer, r *ImageReport) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(r)
}

func reportYAML(w io.Writer, r *ImageReport) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(r); err != nil {
		return err
	}
	return e.Close()
}
