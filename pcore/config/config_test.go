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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/kernel"
)

func newFlagSet() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pcore.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	want := kernel.InitKernelArgs{
		MemoryBase:          kernel.DefaultMemoryBase,
		MemorySize:          kernel.DefaultMemorySize,
		KernelImageEnd:      0x400000,
		Hz:                  100,
		PrivilegedStackSize: kernel.DefaultPrivilegedStackSize,
		UserStackSize:       kernel.DefaultUserStackSize,
		MaxTasks:            kernel.DefaultMaxTasks,
		MaxFDs:              kernel.DefaultMaxFDs,
	}
	if diff := cmp.Diff(want, c.KernelOptions()); diff != "" {
		t.Errorf("KernelOptions() mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	for name, val := range map[string]string{
		"debug":       "true",
		"log-format":  "json",
		"memory-size": "0x1000000",
		"max-tasks":   "16",
	} {
		if err := testFlags.Set(name, val); err != nil {
			t.Fatalf("Flag set %s=%s: %v", name, val, err)
		}
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug got %v, want %v", c.Debug, want)
	}
	if want := "json"; c.LogFormat != want {
		t.Errorf("LogFormat got %v, want %v", c.LogFormat, want)
	}
	if want := uint64(0x1000000); c.MemorySize != want {
		t.Errorf("MemorySize got %#x, want %#x", c.MemorySize, want)
	}
	if want := 16; c.MaxTasks != want {
		t.Errorf("MaxTasks got %v, want %v", c.MaxTasks, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	testFlags.Set("debug", "true")
	testFlags.Set("hz", "100") // Matches default value.
	testFlags.Set("max-fds", "32")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"--debug=true", "--max-fds=32"}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}

	// The flags must round trip.
	again := newFlagSet()
	if err := again.Parse(c.ToFlags()); err != nil {
		t.Fatal(err)
	}
	c2, err := NewFromFlags(again)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, c2); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
debug = true
memory-base = 0x8000000
memory-size = 0x800000
hz = 250
max-fds = 8
`)
	testFlags := newFlagSet()
	testFlags.Set("config", path)
	// Explicit flags take precedence over the file.
	testFlags.Set("max-fds", "64")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		ConfigFile:          path,
		Debug:               true,
		LogFormat:           "text",
		MemoryBase:          0x8000000,
		MemorySize:          0x800000,
		Hz:                  250,
		PrivilegedStackSize: kernel.DefaultPrivilegedStackSize,
		UserStackSize:       kernel.DefaultUserStackSize,
		MaxTasks:            kernel.DefaultMaxTasks,
		KernelImageEnd:      0x400000,
		MaxFDs:              64,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags() mismatch (-want +got):\n%s", diff)
	}
	if got, want := c.KernelOptions().MemoryBase, hostarch.PhysAddr(0x8000000); got != want {
		t.Errorf("KernelOptions().MemoryBase got %#x, want %#x", got, want)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		want     string
	}{
		{
			name:     "unknown key",
			contents: "memory = 1\n",
			want:     "unknown settings",
		},
		{
			name:     "bad type",
			contents: "hz = \"fast\"\n",
			want:     "reading config file",
		},
		{
			name:     "syntax",
			contents: "debug = \n",
			want:     "reading config file",
		},
		{
			name:     "invalid value",
			contents: "memory-size = 0x1001\n",
			want:     "page aligned",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlagSet()
			testFlags.Set("config", writeConfigFile(t, tc.contents))
			_, err := NewFromFlags(testFlags)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags() got error %v, want error containing %q", err, tc.want)
			}
		})
	}

	testFlags := newFlagSet()
	testFlags.Set("config", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := NewFromFlags(testFlags); err == nil {
		t.Errorf("NewFromFlags() with a missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags map[string]string
		want  string
	}{
		{
			name:  "log format",
			flags: map[string]string{"log-format": "xml"},
			want:  "invalid log format",
		},
		{
			name:  "unaligned stack",
			flags: map[string]string{"user-stack-size": "100"},
			want:  "user-stack-size must be page aligned",
		},
		{
			name:  "empty pool",
			flags: map[string]string{"memory-size": "0"},
			want:  "memory-size must be positive",
		},
		{
			name:  "pool too high",
			flags: map[string]string{"memory-base": "0xfff00000", "memory-size": "0x200000"},
			want:  "exceeds",
		},
		{
			name:  "kernel image overlaps pool",
			flags: map[string]string{"kernel-image-end": "0x5000000"},
			want:  "overlaps",
		},
		{
			name:  "zero hz",
			flags: map[string]string{"hz": "0"},
			want:  "hz must be positive",
		},
		{
			name:  "zero stack",
			flags: map[string]string{"privileged-stack-size": "0"},
			want:  "stack sizes must be positive",
		},
		{
			name:  "no tasks",
			flags: map[string]string{"max-tasks": "0"},
			want:  "max-tasks",
		},
		{
			name:  "no fds",
			flags: map[string]string{"max-fds": "-1"},
			want:  "max-fds",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlagSet()
			for name, val := range tc.flags {
				if err := testFlags.Set(name, val); err != nil {
					t.Fatalf("Flag set %s=%s: %v", name, val, err)
				}
			}
			_, err := NewFromFlags(testFlags)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("NewFromFlags() got error %v, want error containing %q", err, tc.want)
			}
		})
	}
}
