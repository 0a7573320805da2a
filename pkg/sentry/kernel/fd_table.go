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

package kernel

import (
	"bytes"
	"fmt"
	"sort"

	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/log"
	"gvisor.dev/procore/pkg/sentry/fsbridge"
)

// FDFlags define flags for an individual descriptor.
type FDFlags struct {
	// Read and Write are the access modes the file was opened with.
	Read  bool
	Write bool
}

// FDFlagsFromOpen returns the flags of a descriptor opened with the given
// open(2) flags.
func FDFlagsFromOpen(flags int) FDFlags {
	return FDFlags{
		Read:  flags&linux.O_ACCMODE != linux.O_WRONLY,
		Write: flags&linux.O_ACCMODE != linux.O_RDONLY,
	}
}

// descriptor holds the details about a file descriptor, namely the file
// itself and the descriptor flags.
type descriptor struct {
	file  fsbridge.File
	flags FDFlags
}

// FDTable maps file descriptors to files.
type FDTable struct {
	k *Kernel

	// limit is one more than the highest descriptor the table may hold.
	limit int32

	descriptors map[int32]descriptor
}

// NewFDTable allocates a new FDTable that may be used by tasks in k.
func (k *Kernel) NewFDTable() *FDTable {
	return &FDTable{
		k:           k,
		limit:       int32(k.maxFDs),
		descriptors: make(map[int32]descriptor),
	}
}

// Size returns the number of open descriptors.
func (f *FDTable) Size() int {
	return len(f.descriptors)
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	var b bytes.Buffer
	for _, fd := range f.GetFDs() {
		d := f.descriptors[fd]
		b.WriteString(fmt.Sprintf("\tfd:%d => %T %+v\n", fd, d.file, d.flags))
	}
	return b.String()
}

// NewFD installs file at the lowest free descriptor that is at least fd.
// It returns EMFILE if the table is full.
func (f *FDTable) NewFD(fd int32, file fsbridge.File, flags FDFlags) (int32, error) {
	if fd < 0 {
		// Don't accept negative FDs.
		return 0, linuxerr.EINVAL
	}
	for i := fd; i < f.limit; i++ {
		if _, ok := f.descriptors[i]; !ok {
			f.descriptors[i] = descriptor{file: file, flags: flags}
			return i, nil
		}
	}
	return 0, linuxerr.EMFILE
}

// NewFDAt installs file at fd. A file already at fd is closed.
func (f *FDTable) NewFDAt(fd int32, file fsbridge.File, flags FDFlags) error {
	if fd < 0 {
		// Don't accept negative FDs.
		return linuxerr.EBADF
	}
	if fd >= f.limit {
		return linuxerr.EMFILE
	}
	if old, ok := f.descriptors[fd]; ok {
		f.drop(fd, old.file)
	}
	f.descriptors[fd] = descriptor{file: file, flags: flags}
	return nil
}

// Get returns the file and the flags for the FD or nil if no file is
// defined for the given fd.
func (f *FDTable) Get(fd int32) (fsbridge.File, FDFlags) {
	d, ok := f.descriptors[fd]
	if !ok {
		return nil, FDFlags{}
	}
	return d.file, d.flags
}

// GetFDs returns a sorted list of valid fds.
func (f *FDTable) GetFDs() []int32 {
	fds := make([]int32, 0, len(f.descriptors))
	for fd := range f.descriptors {
		fds = append(fds, fd)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })
	return fds
}

// Remove removes an FD and returns its file, or nil if fd was not open. The
// caller is responsible for closing the file.
func (f *FDTable) Remove(fd int32) fsbridge.File {
	d, ok := f.descriptors[fd]
	if !ok {
		return nil
	}
	delete(f.descriptors, fd)
	return d.file
}

// RemoveAll closes every descriptor.
func (f *FDTable) RemoveAll() {
	for _, fd := range f.GetFDs() {
		f.drop(fd, f.Remove(fd))
	}
}

// drop closes a file that left the table.
func (f *FDTable) drop(fd int32, file fsbridge.File) {
	if err := file.Close(); err != nil {
		log.Warningf("Closing fd %d: %v", fd, err)
	}
}
