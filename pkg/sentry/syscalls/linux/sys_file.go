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
	"io"
	"path"

	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/kernel"
	"gvisor.dev/procore/pkg/sentry/mm"
)

// maxIOSize bounds a single read or write. Larger requests transfer a
// prefix, as a short read or write.
const maxIOSize = 1 << 20

// memoryManager returns t's address space, or EFAULT for a kernel task,
// which has no user memory to copy to or from.
func memoryManager(t *kernel.Task) (*mm.MemoryManager, error) {
	m := t.MemoryManager()
	if m == nil {
		return nil, linuxerr.EFAULT
	}
	return m, nil
}

// copyInPath copies a path argument and resolves it against t's working
// directory.
func copyInPath(t *kernel.Task, addr hostarch.Addr) (string, error) {
	m, err := memoryManager(t)
	if err != nil {
		return "", err
	}
	p, err := m.CopyInString(addr, linux.PATH_MAX)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", linuxerr.ENOENT
	}
	if !path.IsAbs(p) {
		p = path.Join(t.WorkingDirectory(), p)
	}
	return path.Clean(p), nil
}

// Open implements open(path, flags). It returns the lowest free descriptor.
func Open(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	flags := int(args[1].Int())

	p, err := copyInPath(t, addr)
	if err != nil {
		return 0, nil, err
	}
	file, err := t.Kernel().Filesystem().Open(p, flags)
	if err != nil {
		return 0, nil, err
	}
	fd, err := t.FDTable().NewFD(0, file, kernel.FDFlagsFromOpen(flags))
	if err != nil {
		file.Close()
		return 0, nil, err
	}
	return uintptr(fd), nil, nil
}

// Close implements close(fd).
func Close(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()

	file := t.FDTable().Remove(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}
	return 0, nil, file.Close()
}

// Read implements read(fd, buf, count).
func Read(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].Int()

	file, flags := t.FDTable().Get(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the file is readable.
	if !flags.Read {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the size is legitimate.
	if size < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	m, err := memoryManager(t)
	if err != nil {
		return 0, nil, err
	}

	buf := make([]byte, min(int(size), maxIOSize))
	n, err := file.Read(buf)
	if n > 0 {
		if _, cerr := m.CopyOut(addr, buf[:n]); cerr != nil {
			return 0, nil, cerr
		}
	}
	return uintptr(n), nil, handleIOError(n != 0, err)
}

// Write implements write(fd, buf, count).
func Write(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	fd := args[0].Int()
	addr := args[1].Pointer()
	size := args[2].Int()

	file, flags := t.FDTable().Get(fd)
	if file == nil {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the file is writable.
	if !flags.Write {
		return 0, nil, linuxerr.EBADF
	}

	// Check that the size is legitimate.
	if size < 0 {
		return 0, nil, linuxerr.EINVAL
	}
	m, err := memoryManager(t)
	if err != nil {
		return 0, nil, err
	}

	buf := make([]byte, min(int(size), maxIOSize))
	if _, err := m.CopyIn(addr, buf); err != nil {
		return 0, nil, err
	}
	n, err := file.Write(buf)
	return uintptr(n), nil, handleIOError(n != 0, err)
}

// handleIOError handles special error cases for partial results. For some
// errors, we may consume the error and return only the partial read/write.
func handleIOError(partialResult bool, err error) error {
	switch {
	case err == nil:
		// Typical successful syscall.
		return nil
	case err == io.EOF:
		// EOF is always consumed. If this is a partial read/write
		// (result != 0), the application will see that, otherwise
		// they will see 0.
		return nil
	case partialResult:
		// The application sees the partial result; the error is lost,
		// as it would be on Linux.
		return nil
	}
	// Typical syscall error.
	return err
}
