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

package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/loader/elfimage"
)

// elfInfo contains the metadata needed to load an ELF binary.
type elfInfo struct {
	// entry is the program entry point.
	entry hostarch.Addr

	// phdrs are the PT_LOAD program headers, in file order.
	phdrs []elf.ProgHeader
}

// parseHeader parses and validates the ELF header and program headers of
// image. Every loadable segment must be backed by the image and must lie in
// [bottom, top).
func parseHeader(image []byte, bottom, top hostarch.Addr) (elfInfo, error) {
	if len(image) < elfimage.EhdrSize {
		log.Infof("Image of %d bytes is too short for an ELF header", len(image))
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if !bytes.Equal(image[:len(elf.ELFMAG)], []byte(elf.ELFMAG)) {
		log.Infof("Image has bad magic %x", image[:len(elf.ELFMAG)])
		return elfInfo{}, linuxerr.ENOEXEC
	}

	// debug/elf does not expose the header sizes; read them directly.
	le := binary.LittleEndian
	if image[elf.EI_CLASS] != byte(elf.ELFCLASS32) || image[elf.EI_DATA] != byte(elf.ELFDATA2LSB) {
		log.Infof("Unsupported ELF class %d / data %d", image[elf.EI_CLASS], image[elf.EI_DATA])
		return elfInfo{}, linuxerr.ENOEXEC
	}
	ehsize, phentsize, shentsize := le.Uint16(image[40:]), le.Uint16(image[42:]), le.Uint16(image[46:])
	if ehsize != elfimage.EhdrSize || phentsize != elfimage.PhdrSize || shentsize != elfimage.ShdrSize {
		log.Infof("Bad ELF header sizes: ehsize %d phentsize %d shentsize %d", ehsize, phentsize, shentsize)
		return elfInfo{}, linuxerr.ENOEXEC
	}

	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		log.Infof("Error parsing ELF file: %v", err)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if f.Type != elf.ET_EXEC {
		log.Infof("Unsupported ELF type %v", f.Type)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if f.Machine != elf.EM_386 {
		log.Infof("Unsupported ELF machine %v", f.Machine)
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if f.Version != elf.EV_CURRENT {
		log.Infof("Unsupported ELF version %v", f.Version)
		return elfInfo{}, linuxerr.ENOEXEC
	}

	info := elfInfo{entry: hostarch.Addr(f.Entry)}
	for i, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if p.Filesz > p.Memsz {
			log.Infof("PT_LOAD %d has file size %#x > memory size %#x", i, p.Filesz, p.Memsz)
			return elfInfo{}, linuxerr.ENOEXEC
		}
		if end := p.Off + p.Filesz; end < p.Off || end > uint64(len(image)) {
			log.Infof("PT_LOAD %d file range [%#x, +%#x) exceeds image of %d bytes", i, p.Off, p.Filesz, len(image))
			return elfInfo{}, linuxerr.ENOEXEC
		}
		if p.Vaddr < uint64(bottom) || p.Vaddr+p.Memsz > uint64(top) {
			log.Infof("PT_LOAD %d [%#x, +%#x) outside [%v, %v)", i, p.Vaddr, p.Memsz, bottom, top)
			return elfInfo{}, linuxerr.ENOEXEC
		}
		info.phdrs = append(info.phdrs, p.ProgHeader)
	}
	if len(info.phdrs) == 0 {
		log.Infof("ELF has no loadable segments")
		return elfInfo{}, linuxerr.ENOEXEC
	}
	if info.entry < bottom || info.entry >= top {
		log.Infof("ELF entry %v outside [%v, %v)", info.entry, bottom, top)
		return elfInfo{}, fmt.Errorf("entry %v: %w", info.entry, linuxerr.ENOEXEC)
	}
	return info, nil
}
