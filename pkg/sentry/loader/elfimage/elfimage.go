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

// Package elfimage builds minimal 32-bit i386 executables, for tests and for
// images whose code is supplied by a builtin program.
package elfimage

import (
	"debug/elf"
	"encoding/binary"
)

// Header sizes of a 32-bit ELF file.
const (
	EhdrSize = 52
	PhdrSize = 32
	ShdrSize = 40

	segmentAlign = 0x1000
)

// Segment is a PT_LOAD segment.
type Segment struct {
	// Vaddr is where the segment is loaded.
	Vaddr uint32

	// Data is the file contents of the segment.
	Data []byte

	// MemSize is the size in memory. Bytes past Data are zero. If smaller
	// than len(Data), len(Data) is used.
	MemSize uint32

	// Flags are the segment permissions.
	Flags elf.ProgFlag
}

// Image describes an executable.
type Image struct {
	Entry    uint32
	Segments []Segment
}

// Build serializes img. Each segment's file offset is congruent to its
// virtual address modulo the page size.
func (img Image) Build() []byte {
	le := binary.LittleEndian
	phoff := uint32(EhdrSize)
	end := phoff + uint32(len(img.Segments))*PhdrSize

	offsets := make([]uint32, len(img.Segments))
	for i, s := range img.Segments {
		off := (end + segmentAlign - 1) &^ (segmentAlign - 1)
		off += s.Vaddr % segmentAlign
		offsets[i] = off
		end = off + uint32(len(s.Data))
	}

	b := make([]byte, end)
	copy(b, elf.ELFMAG)
	b[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	b[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	b[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(b[16:], uint16(elf.ET_EXEC))
	le.PutUint16(b[18:], uint16(elf.EM_386))
	le.PutUint32(b[20:], uint32(elf.EV_CURRENT))
	le.PutUint32(b[24:], img.Entry)
	le.PutUint32(b[28:], phoff)
	le.PutUint32(b[32:], 0)
	le.PutUint16(b[40:], EhdrSize)
	le.PutUint16(b[42:], PhdrSize)
	le.PutUint16(b[44:], uint16(len(img.Segments)))
	le.PutUint16(b[46:], ShdrSize)

	for i, s := range img.Segments {
		memsz := max(s.MemSize, uint32(len(s.Data)))
		ph := b[phoff+uint32(i)*PhdrSize:]
		le.PutUint32(ph[0:], uint32(elf.PT_LOAD))
		le.PutUint32(ph[4:], offsets[i])
		le.PutUint32(ph[8:], s.Vaddr)
		le.PutUint32(ph[12:], s.Vaddr)
		le.PutUint32(ph[16:], uint32(len(s.Data)))
		le.PutUint32(ph[20:], memsz)
		le.PutUint32(ph[24:], uint32(s.Flags))
		le.PutUint32(ph[28:], segmentAlign)
		copy(b[offsets[i]:], s.Data)
	}
	return b
}

// TwoSegment returns a typical image: a read/execute text segment at base
// holding text, and a read/write data segment on the following page holding
// data plus bss zero bytes.
func TwoSegment(base uint32, text, data []byte, bss uint32) Image {
	textEnd := (base + uint32(len(text)) + segmentAlign - 1) &^ (segmentAlign - 1)
	if textEnd == base {
		textEnd += segmentAlign
	}
	return Image{
		Entry: base,
		Segments: []Segment{
			{Vaddr: base, Data: text, Flags: elf.PF_R | elf.PF_X},
			{Vaddr: textEnd, Data: data, MemSize: uint32(len(data)) + bss, Flags: elf.PF_R | elf.PF_W},
		},
	}
}
