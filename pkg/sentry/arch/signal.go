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

package arch

import (
	"encoding/binary"

	"gvisor.dev/procore/pkg/hostarch"
)

const (
	// SignalFrameSize is the size of the frame pushed on the user stack
	// when a handler is invoked: the return address followed by the
	// signal number, as a cdecl call would leave them.
	SignalFrameSize = 8

	// SignalRedZone is left untouched below the interrupted stack
	// pointer.
	SignalRedZone = 128
)

// SignalFrame is the synthetic call frame a user signal handler starts on.
type SignalFrame struct {
	// ReturnAddr is where the handler's ret instruction goes.
	ReturnAddr hostarch.Addr

	// Signo is the handler's only argument.
	Signo uint32
}

// SignalFrameAddr returns where the frame for a handler interrupting a
// context with stack pointer sp is placed.
func SignalFrameAddr(sp hostarch.Addr) hostarch.Addr {
	return ((sp - SignalRedZone) &^ 15) - SignalFrameSize
}

// MarshalBytes serializes f in its in-memory layout.
func (f *SignalFrame) MarshalBytes() []byte {
	b := make([]byte, SignalFrameSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(f.ReturnAddr))
	binary.LittleEndian.PutUint32(b[4:], f.Signo)
	return b
}

// UnmarshalBytes deserializes f from its in-memory layout.
func (f *SignalFrame) UnmarshalBytes(b []byte) {
	f.ReturnAddr = hostarch.Addr(binary.LittleEndian.Uint32(b[0:]))
	f.Signo = binary.LittleEndian.Uint32(b[4:])
}

// NewSignalContext returns the context a handler at entry runs in, for a
// frame already written at frameAddr. Segment registers are taken from the
// interrupted context.
func NewSignalContext(interrupted *Context, entry, frameAddr hostarch.Addr) *Context {
	c := &Context{Regs: interrupted.Regs}
	c.Regs.Eip = uint32(entry)
	c.Regs.Esp = uint32(frameAddr)
	c.Regs.Eflags = EflagsReserved | EflagsIF
	return c
}
