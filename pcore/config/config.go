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

// Package config provides basic infrastructure to set configuration settings
// for pcore. Each setting that can be changed from the command line must be
// registered with RegisterFlags and have a matching field in Config.
package config

import (
	"fmt"
	"reflect"

	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/kernel"
)

// Config holds configuration that is not part of the command line
// arguments of a single subcommand. Fields tagged with "flag" are filled
// from the flag of that name, and from the key of that name in the
// configuration file.
type Config struct {
	// ConfigFile is the TOML file read before flags are applied.
	ConfigFile string `flag:"config" toml:"-"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// LogFilename is the file to log to. It may contain %PID% and %START%.
	// Logs go to stderr if it is empty.
	LogFilename string `flag:"log-filename" toml:"log-filename"`

	// MemoryBase is the physical address of the page pool.
	MemoryBase uint64 `flag:"memory-base" toml:"memory-base"`

	// MemorySize is the size of the page pool in bytes.
	MemorySize uint64 `flag:"memory-size" toml:"memory-size"`

	// Hz is the timer interrupt frequency.
	Hz uint `flag:"hz" toml:"hz"`

	// PrivilegedStackSize is the size of each ring-0 stack.
	PrivilegedStackSize uint64 `flag:"privileged-stack-size" toml:"privileged-stack-size"`

	// UserStackSize is the size of the stack VMA of user tasks.
	UserStackSize uint64 `flag:"user-stack-size" toml:"user-stack-size"`

	// MaxTasks limits the number of live tasks.
	MaxTasks int `flag:"max-tasks" toml:"max-tasks"`

	// KernelImageEnd is the end of the identity-mapped kernel image.
	KernelImageEnd uint64 `flag:"kernel-image-end" toml:"kernel-image-end"`

	// MaxFDs limits the open file descriptors of each task.
	MaxFDs int `flag:"max-fds" toml:"max-fds"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be text or json", c.LogFormat)
	}
	for _, p := range []struct {
		name string
		val  uint64
	}{
		{"memory-base", c.MemoryBase},
		{"memory-size", c.MemorySize},
		{"privileged-stack-size", c.PrivilegedStackSize},
		{"user-stack-size", c.UserStackSize},
		{"kernel-image-end", c.KernelImageEnd},
	} {
		if p.val%hostarch.PageSize != 0 {
			return fmt.Errorf("%s must be page aligned, got %#x", p.name, p.val)
		}
	}
	if c.MemorySize == 0 {
		return fmt.Errorf("memory-size must be positive")
	}
	if c.MemoryBase+c.MemorySize > 1<<32 {
		return fmt.Errorf("memory pool [%#x, %#x) exceeds the 32-bit physical address space", c.MemoryBase, c.MemoryBase+c.MemorySize)
	}
	if c.KernelImageEnd > c.MemoryBase {
		return fmt.Errorf("kernel-image-end %#x overlaps the memory pool at %#x", c.KernelImageEnd, c.MemoryBase)
	}
	if c.Hz == 0 {
		return fmt.Errorf("hz must be positive")
	}
	if c.PrivilegedStackSize == 0 || c.UserStackSize == 0 {
		return fmt.Errorf("stack sizes must be positive")
	}
	if c.MaxTasks <= 0 {
		return fmt.Errorf("max-tasks must be positive, got %d", c.MaxTasks)
	}
	if c.MaxFDs <= 0 {
		return fmt.Errorf("max-fds must be positive, got %d", c.MaxFDs)
	}
	return nil
}

// KernelOptions returns the kernel arguments described by c. The caller
// supplies the file layer and the system call table.
func (c *Config) KernelOptions() kernel.InitKernelArgs {
	return kernel.InitKernelArgs{
		MemoryBase:          hostarch.PhysAddr(c.MemoryBase),
		MemorySize:          uint32(c.MemorySize),
		KernelImageEnd:      hostarch.Addr(c.KernelImageEnd),
		Hz:                  uint32(c.Hz),
		PrivilegedStackSize: uint32(c.PrivilegedStackSize),
		UserStackSize:       uint32(c.UserStackSize),
		MaxTasks:            c.MaxTasks,
		MaxFDs:              c.MaxFDs,
	}
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		log.Infof("\t%s: %s", name, getVal(obj.Field(i)))
	}
}
