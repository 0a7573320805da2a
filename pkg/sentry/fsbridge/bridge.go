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

// Package fsbridge provides the interfaces the kernel uses to reach the file
// layer, plus host-backed and in-memory implementations of them.
package fsbridge

import (
	"fmt"
	"io"
	"os"

	"gvisor.dev/procore/pkg/errors/linuxerr"
)

// Stat describes a file.
type Stat struct {
	// Size is the file size in bytes.
	Size int64

	// Mode holds the type and permission bits.
	Mode os.FileMode
}

// IsDir returns true for directories.
func (s Stat) IsDir() bool {
	return s.Mode.IsDir()
}

// File is an open file.
type File interface {
	// Read reads from the current offset.
	Read(dst []byte) (int, error)

	// Write writes at the current offset.
	Write(src []byte) (int, error)

	// Stat describes the file.
	Stat() (Stat, error)

	// Close releases the file.
	Close() error
}

// Filesystem resolves absolute paths to files.
type Filesystem interface {
	// Open opens path with the given linux.O_* flags.
	Open(path string, flags int) (File, error)

	// Stat describes path without opening it.
	Stat(path string) (Stat, error)
}

// ReadFull reads the entire contents of f.
func ReadFull(f File) ([]byte, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, linuxerr.EISDIR
	}
	if st.Size < 0 || st.Size > 1<<30 {
		return nil, fmt.Errorf("file size %d: %w", st.Size, linuxerr.EFBIG)
	}
	buf := make([]byte, st.Size)
	n, err := io.ReadFull(readerFunc(f.Read), buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}

// ReadFile opens path on fs and reads all of it.
func ReadFile(fs Filesystem, path string) ([]byte, error) {
	f, err := fs.Open(path, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadFull(f)
}

type readerFunc func([]byte) (int, error)

func (r readerFunc) Read(p []byte) (int, error) {
	return r(p)
}
