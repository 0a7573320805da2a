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

package fsbridge

import (
	goerrors "errors"
	"io"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sys/unix"
	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/errors/linuxerr"
)

// HostFS serves paths from a directory of the host filesystem.
type HostFS struct {
	root string
}

// NewHostFS returns a Filesystem rooted at the host directory root.
func NewHostFS(root string) *HostFS {
	return &HostFS{root: root}
}

// hostPath maps an absolute kernel path below h.root. ".." cannot escape the
// root because the path is cleaned as an absolute path first.
func (h *HostFS) hostPath(p string) (string, error) {
	if !path.IsAbs(p) {
		return "", linuxerr.ENOENT
	}
	return filepath.Join(h.root, filepath.FromSlash(path.Clean(p))), nil
}

// Open implements Filesystem.Open.
func (h *HostFS) Open(p string, flags int) (File, error) {
	hp, err := h.hostPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(hp, hostFlags(flags), 0644)
	if err != nil {
		return nil, translateHostError(err)
	}
	return &HostFile{f: f}, nil
}

// Stat implements Filesystem.Stat.
func (h *HostFS) Stat(p string) (Stat, error) {
	hp, err := h.hostPath(p)
	if err != nil {
		return Stat{}, err
	}
	fi, err := os.Stat(hp)
	if err != nil {
		return Stat{}, translateHostError(err)
	}
	return Stat{Size: fi.Size(), Mode: fi.Mode()}, nil
}

func hostFlags(flags int) int {
	var hf int
	switch flags & linux.O_ACCMODE {
	case linux.O_WRONLY:
		hf = os.O_WRONLY
	case linux.O_RDWR:
		hf = os.O_RDWR
	default:
		hf = os.O_RDONLY
	}
	if flags&linux.O_APPEND != 0 {
		hf |= os.O_APPEND
	}
	if flags&linux.O_CREAT != 0 {
		hf |= os.O_CREATE
	}
	if flags&linux.O_TRUNC != 0 {
		hf |= os.O_TRUNC
	}
	return hf
}

// translateHostError converts host errno values to their linuxerr
// equivalents. io.EOF and errors without an errno pass through.
func translateHostError(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		return linuxerr.ErrorFromUnix(errno)
	}
	return err
}

// HostFile is a File backed by a host file.
type HostFile struct {
	f *os.File
}

// NewHostFile wraps an open host file.
func NewHostFile(f *os.File) *HostFile {
	return &HostFile{f: f}
}

// Read implements File.Read.
func (h *HostFile) Read(dst []byte) (int, error) {
	n, err := h.f.Read(dst)
	return n, translateHostError(err)
}

// Write implements File.Write.
func (h *HostFile) Write(src []byte) (int, error) {
	n, err := h.f.Write(src)
	return n, translateHostError(err)
}

// Stat implements File.Stat.
func (h *HostFile) Stat() (Stat, error) {
	fi, err := h.f.Stat()
	if err != nil {
		return Stat{}, translateHostError(err)
	}
	return Stat{Size: fi.Size(), Mode: fi.Mode()}, nil
}

// Close implements File.Close.
func (h *HostFile) Close() error {
	return translateHostError(h.f.Close())
}

// Console is a character device over a host reader and writer, used for the
// standard descriptors.
type Console struct {
	in  io.Reader
	out io.Writer
}

// NewConsole returns a console reading from in and writing to out. Either
// may be nil.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

// Read implements File.Read.
func (c *Console) Read(dst []byte) (int, error) {
	if c.in == nil {
		return 0, io.EOF
	}
	return c.in.Read(dst)
}

// Write implements File.Write.
func (c *Console) Write(src []byte) (int, error) {
	if c.out == nil {
		return 0, linuxerr.EBADF
	}
	return c.out.Write(src)
}

// Stat implements File.Stat.
func (c *Console) Stat() (Stat, error) {
	return Stat{Mode: os.ModeDevice | os.ModeCharDevice | 0620}, nil
}

// Close implements File.Close. The host streams stay open.
func (c *Console) Close() error {
	return nil
}
