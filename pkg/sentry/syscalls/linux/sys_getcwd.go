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
	"fmt"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/kernel"
)

// Getcwd implements getcwd(buf, size). It returns the length of the path
// including the terminating NUL.
func Getcwd(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	size := args[1].SizeT()

	cwd := t.WorkingDirectory()
	buf := append([]byte(cwd), 0)
	if uint(len(buf)) > size {
		return 0, nil, linuxerr.ERANGE
	}
	m, err := memoryManager(t)
	if err != nil {
		return 0, nil, err
	}
	if _, err := m.CopyOut(addr, buf); err != nil {
		return 0, nil, err
	}
	return uintptr(len(buf)), nil, nil
}

// Chdir implements chdir(path).
func Chdir(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()

	p, err := copyInPath(t, addr)
	if err != nil {
		return 0, nil, err
	}
	stat, err := t.Kernel().Filesystem().Stat(p)
	if err != nil {
		return 0, nil, err
	}
	if !stat.IsDir() {
		return 0, nil, fmt.Errorf("chdir %q: %w", p, linuxerr.ENOTDIR)
	}
	t.SetWorkingDirectory(p)
	return 0, nil, nil
}
