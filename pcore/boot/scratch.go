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

package boot

import (
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/kernel"
)

// scratchSize is the size of the heap buffer apps pass to system calls.
const scratchSize = hostarch.PageSize

// appArgs returns the task's argv, read from the initial user stack. It must be
// called before the program moves its stack pointer.
func appArgs(ac *kernel.AppContext) []string {
	sp := ac.Registers().Stack()
	argc := ac.LoadUint32(sp + 4)
	argv := hostarch.Addr(ac.LoadUint32(sp + 8))
	args := make([]string, 0, argc)
	for i := hostarch.Addr(0); i < hostarch.Addr(argc); i++ {
		args = append(args, loadString(ac, hostarch.Addr(ac.LoadUint32(argv+4*i))))
	}
	return args
}

// loadString reads a NUL-terminated string from user memory.
func loadString(ac *kernel.AppContext, addr hostarch.Addr) string {
	var (
		b []byte
		c [1]byte
	)
	for {
		ac.Load(addr+hostarch.Addr(len(b)), c[:])
		if c[0] == 0 {
			return string(b)
		}
		b = append(b, c[0])
	}
}

// scratch is a page of the task's heap, obtained with sbrk.
type scratch struct {
	ac   *kernel.AppContext
	addr hostarch.Addr
}

// newScratch grows the heap by a page. On failure it returns the errno.
func newScratch(ac *kernel.AppContext) (*scratch, int32) {
	ret := ac.Syscall(linux.SYS_SBRK, scratchSize)
	if ret < 0 {
		return nil, -ret
	}
	return &scratch{ac: ac, addr: hostarch.Addr(uint32(ret))}, 0
}

// putString copies str and a NUL into the buffer.
func (s *scratch) putString(str string) int32 {
	if len(str)+1 > scratchSize {
		return -int32(unix.ENAMETOOLONG)
	}
	s.ac.Store(s.addr, append([]byte(str), 0))
	return 0
}

// syscallPath invokes a system call whose only argument is a path.
func (s *scratch) syscallPath(sysno uintptr, path string, args ...uintptr) int32 {
	if ret := s.putString(path); ret < 0 {
		return ret
	}
	return s.ac.Syscall(sysno, append([]uintptr{uintptr(s.addr)}, args...)...)
}

// open returns a new descriptor for path or a negative errno.
func (s *scratch) open(path string, flags int) int32 {
	return s.syscallPath(linux.SYS_OPEN, path, uintptr(flags))
}

// write writes the first n bytes of the buffer to fd, retrying short
// writes.
func (s *scratch) write(fd, n int32) int32 {
	for off := int32(0); off < n; {
		ret := s.ac.Syscall(linux.SYS_WRITE, uintptr(fd), uintptr(s.addr+hostarch.Addr(off)), uintptr(n-off))
		if ret < 0 {
			return ret
		}
		if ret == 0 {
			return -int32(unix.EIO)
		}
		off += ret
	}
	return n
}

// printf formats into the buffer and writes it to fd. Output longer than
// the buffer is truncated.
func (s *scratch) printf(fd int32, format string, args ...any) int32 {
	b := []byte(fmt.Sprintf(format, args...))
	if len(b) > scratchSize {
		b = b[:scratchSize]
	}
	s.ac.Store(s.addr, b)
	return s.write(fd, int32(len(b)))
}

// copy copies fd to stdout until end of file. It returns the number of
// bytes copied or a negative errno.
func (s *scratch) copy(fd int32) int32 {
	var total int32
	for {
		n := s.ac.Syscall(linux.SYS_READ, uintptr(fd), uintptr(s.addr), scratchSize)
		if n <= 0 {
			if n < 0 {
				return n
			}
			return total
		}
		if ret := s.write(stdout, n); ret < 0 {
			return ret
		}
		total += n
	}
}
