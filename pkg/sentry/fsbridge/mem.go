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
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/errors/linuxerr"
)

type memInode struct {
	dir  bool
	data []byte
}

// MemFS is an in-memory Filesystem.
type MemFS struct {
	mu sync.Mutex

	// inodes maps cleaned absolute paths to files and directories.
	inodes map[string]*memInode
}

// NewMemFS returns a MemFS holding only "/".
func NewMemFS() *MemFS {
	return &MemFS{inodes: map[string]*memInode{"/": {dir: true}}}
}

// Mkdir creates p and any missing parents.
func (m *MemFS) Mkdir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirLocked(path.Clean("/" + p))
}

// Preconditions: m.mu must be locked.
func (m *MemFS) mkdirLocked(p string) {
	for d := p; ; d = path.Dir(d) {
		if _, ok := m.inodes[d]; !ok {
			m.inodes[d] = &memInode{dir: true}
		}
		if d == "/" {
			return
		}
	}
}

// AddFile creates or replaces the file p, creating parents as needed.
func (m *MemFS) AddFile(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean("/" + p)
	m.mkdirLocked(path.Dir(p))
	m.inodes[p] = &memInode{data: append([]byte(nil), data...)}
}

// Paths returns every path in the filesystem, sorted.
func (m *MemFS) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ps []string
	for p := range m.inodes {
		ps = append(ps, p)
	}
	sort.Strings(ps)
	return ps
}

func (m *MemFS) lookupLocked(p string) (*memInode, string, error) {
	if !path.IsAbs(p) {
		return nil, "", linuxerr.ENOENT
	}
	p = path.Clean(p)
	in, ok := m.inodes[p]
	if !ok {
		if parent, ok := m.inodes[path.Dir(p)]; ok && !parent.dir {
			return nil, p, linuxerr.ENOTDIR
		}
		return nil, p, linuxerr.ENOENT
	}
	return in, p, nil
}

// Open implements Filesystem.Open.
func (m *MemFS) Open(p string, flags int) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, clean, err := m.lookupLocked(p)
	switch {
	case err == linuxerr.ENOENT && clean != "" && flags&linux.O_CREAT != 0:
		parent, ok := m.inodes[path.Dir(clean)]
		if !ok {
			return nil, linuxerr.ENOENT
		}
		if !parent.dir {
			return nil, linuxerr.ENOTDIR
		}
		in = &memInode{}
		m.inodes[clean] = in
	case err != nil:
		return nil, err
	}
	writable := flags&linux.O_ACCMODE != linux.O_RDONLY
	if in.dir && writable {
		return nil, linuxerr.EISDIR
	}
	if writable && flags&linux.O_TRUNC != 0 {
		in.data = nil
	}
	return &memFile{fs: m, inode: in, flags: flags}, nil
}

// Stat implements Filesystem.Stat.
func (m *MemFS) Stat(p string) (Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, _, err := m.lookupLocked(p)
	if err != nil {
		return Stat{}, err
	}
	return in.statLocked(), nil
}

// Preconditions: fs.mu must be locked.
func (in *memInode) statLocked() Stat {
	if in.dir {
		return Stat{Mode: os.ModeDir | 0755}
	}
	return Stat{Size: int64(len(in.data)), Mode: 0644}
}

type memFile struct {
	fs     *MemFS
	inode  *memInode
	flags  int
	offset int64
}

// Read implements File.Read.
func (f *memFile) Read(dst []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.flags&linux.O_ACCMODE == linux.O_WRONLY {
		return 0, linuxerr.EBADF
	}
	if f.inode.dir {
		return 0, linuxerr.EISDIR
	}
	if f.offset >= int64(len(f.inode.data)) {
		return 0, io.EOF
	}
	n := copy(dst, f.inode.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

// Write implements File.Write.
func (f *memFile) Write(src []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.flags&linux.O_ACCMODE == linux.O_RDONLY {
		return 0, linuxerr.EBADF
	}
	if f.flags&linux.O_APPEND != 0 {
		f.offset = int64(len(f.inode.data))
	}
	end := f.offset + int64(len(src))
	if end > int64(len(f.inode.data)) {
		grown := make([]byte, end)
		copy(grown, f.inode.data)
		f.inode.data = grown
	}
	copy(f.inode.data[f.offset:], src)
	f.offset = end
	return len(src), nil
}

// Stat implements File.Stat.
func (f *memFile) Stat() (Stat, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	return f.inode.statLocked(), nil
}

// Close implements File.Close.
func (f *memFile) Close() error {
	return nil
}
