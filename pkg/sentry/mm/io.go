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

package mm

import (
	"bytes"
	"fmt"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/sentry/arch"
)

// translate returns the physical address of addr for a kernel access on
// behalf of the task, faulting the page in if needed.
func (mm *MemoryManager) translate(addr hostarch.Addr, write bool) (hostarch.PhysAddr, error) {
	if addr < mm.kernel.space.Split() {
		// Kernel pages are never reachable through user pointers.
		return 0, fmt.Errorf("kernel address %v: %w", addr, linuxerr.EFAULT)
	}
	v := mm.vmas.findAddr(addr)
	if v == nil {
		return 0, fmt.Errorf("no VMA at %v: %w", addr, linuxerr.EFAULT)
	}
	if write && !v.Perms.Write {
		return 0, fmt.Errorf("write to read-only %v: %w", v, linuxerr.EFAULT)
	}
	if pa, _, ok := mm.pt.Lookup(addr); ok {
		return pa, nil
	}
	var code FaultCode
	if write {
		code |= arch.FaultWrite
	}
	if err := mm.HandleFault(addr, code); err != nil {
		return 0, err
	}
	pa, _, ok := mm.pt.Lookup(addr)
	if !ok {
		panic(fmt.Sprintf("page at %v not present after fault", addr))
	}
	return pa, nil
}

// CopyOut copies src to user memory at addr. It returns the number of bytes
// copied and EFAULT if the range is not writable user memory.
func (mm *MemoryManager) CopyOut(addr hostarch.Addr, src []byte) (int, error) {
	done := 0
	for done < len(src) {
		va := addr + hostarch.Addr(done)
		if va < addr {
			return done, linuxerr.EFAULT
		}
		pa, err := mm.translate(va, true)
		if err != nil {
			return done, err
		}
		n := min(len(src)-done, int(hostarch.PageSize-va.PageOffset()))
		mm.mf.WriteAt(src[done:done+n], pa)
		done += n
	}
	return done, nil
}

// CopyIn copies len(dst) bytes of user memory at addr into dst.
func (mm *MemoryManager) CopyIn(addr hostarch.Addr, dst []byte) (int, error) {
	done := 0
	for done < len(dst) {
		va := addr + hostarch.Addr(done)
		if va < addr {
			return done, linuxerr.EFAULT
		}
		pa, err := mm.translate(va, false)
		if err != nil {
			return done, err
		}
		n := min(len(dst)-done, int(hostarch.PageSize-va.PageOffset()))
		mm.mf.ReadAt(dst[done:done+n], pa)
		done += n
	}
	return done, nil
}

// CopyInString copies a NUL-terminated string of at most maxlen bytes from
// addr. It returns ENAMETOOLONG if no NUL is found.
func (mm *MemoryManager) CopyInString(addr hostarch.Addr, maxlen int) (string, error) {
	var buf bytes.Buffer
	var page [hostarch.PageSize]byte
	for buf.Len() < maxlen {
		va := addr + hostarch.Addr(buf.Len())
		n := min(maxlen-buf.Len(), int(hostarch.PageSize-va.PageOffset()))
		if _, err := mm.CopyIn(va, page[:n]); err != nil {
			return "", err
		}
		if i := bytes.IndexByte(page[:n], 0); i >= 0 {
			buf.Write(page[:i])
			return buf.String(), nil
		}
		buf.Write(page[:n])
	}
	return "", linuxerr.ENAMETOOLONG
}
