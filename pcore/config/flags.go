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
	"fmt"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"gvisor.dev/procore/pkg/sentry/kernel"
	"gvisor.dev/procore/pkg/sentry/mm"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "TOML file with configuration settings. Flags set on the command line take precedence.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.String("log-filename", "", "file path where logs are written, default is stderr. %PID% and %START% are expanded.")

	// Flags that control the machine.
	flagSet.Uint64("memory-base", kernel.DefaultMemoryBase, "physical address of the page pool.")
	flagSet.Uint64("memory-size", kernel.DefaultMemorySize, "size in bytes of the page pool.")
	flagSet.Uint64("kernel-image-end", uint64(mm.DefaultKernelOpts().ImageEnd), "end of the identity-mapped kernel image.")
	flagSet.Uint("hz", 100, "timer interrupt frequency.")

	// Flags that control tasks.
	flagSet.Uint64("privileged-stack-size", kernel.DefaultPrivilegedStackSize, "size in bytes of each ring-0 stack.")
	flagSet.Uint64("user-stack-size", kernel.DefaultUserStackSize, "size in bytes of the user stack.")
	flagSet.Int("max-tasks", kernel.DefaultMaxTasks, "maximum number of live tasks.")
	flagSet.Int("max-fds", kernel.DefaultMaxFDs, "maximum number of open file descriptors per task.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags. If --config names a file, its settings replace the flag defaults
// and flags set explicitly replace the file's settings.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	flagSet.VisitAll(func(fl *flag.Flag) {
		conf.set(fl)
	})

	if conf.ConfigFile != "" {
		md, err := toml.DecodeFile(conf.ConfigFile, conf)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", conf.ConfigFile, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %q: unknown settings %v", conf.ConfigFile, undecoded)
		}
		flagSet.Visit(func(fl *flag.Flag) {
			conf.set(fl)
		})
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// set copies the value of fl to the field tagged with its name, if any.
func (c *Config) set(fl *flag.Flag) {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok && name == fl.Name {
			obj.Field(i).Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))
			return
		}
	}
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Settings equal to the flag default are omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
