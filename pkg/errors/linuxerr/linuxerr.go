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

// Package linuxerr contains syscall error codes exported as error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/procore/pkg/errors"
)

// The following errors are semantically identical to the unix.Errno of the
// same name. The Errno method returns the number such that the error can be
// compared to unix.Errno (e.g. EPERM.Errno() == unix.EPERM is true).
var (
	noError      *errors.Error = nil
	EPERM                      = errors.New(unix.EPERM, "operation not permitted")
	ENOENT                     = errors.New(unix.ENOENT, "no such file or directory")
	ESRCH                      = errors.New(unix.ESRCH, "no such process")
	EINTR                      = errors.New(unix.EINTR, "interrupted system call")
	EIO                        = errors.New(unix.EIO, "I/O error")
	ENOEXEC                    = errors.New(unix.ENOEXEC, "exec format error")
	EBADF                      = errors.New(unix.EBADF, "bad file number")
	EAGAIN                     = errors.New(unix.EAGAIN, "try again")
	ENOMEM                     = errors.New(unix.ENOMEM, "out of memory")
	EACCES                     = errors.New(unix.EACCES, "permission denied")
	EFAULT                     = errors.New(unix.EFAULT, "bad address")
	EBUSY                      = errors.New(unix.EBUSY, "device or resource busy")
	EEXIST                     = errors.New(unix.EEXIST, "file exists")
	ENOTDIR                    = errors.New(unix.ENOTDIR, "not a directory")
	EISDIR                     = errors.New(unix.EISDIR, "is a directory")
	EINVAL                     = errors.New(unix.EINVAL, "invalid argument")
	EMFILE                     = errors.New(unix.EMFILE, "too many open files")
	EFBIG                      = errors.New(unix.EFBIG, "file too large")
	ERANGE                     = errors.New(unix.ERANGE, "math result not representable")
	ENAMETOOLONG               = errors.New(unix.ENAMETOOLONG, "file name too long")
	ENOSYS                     = errors.New(unix.ENOSYS, "invalid system call number")
	EOVERFLOW                  = errors.New(unix.EOVERFLOW, "value too large for defined data type")
)

// ErrPartial is returned by multi-page operations that stopped after
// completing part of their work. The completed part is left in place.
var ErrPartial = errors.New(unix.EAGAIN, "operation partially completed")

var byErrno = map[unix.Errno]*errors.Error{
	unix.EPERM:        EPERM,
	unix.ENOENT:       ENOENT,
	unix.ESRCH:        ESRCH,
	unix.EINTR:        EINTR,
	unix.EIO:          EIO,
	unix.ENOEXEC:      ENOEXEC,
	unix.EBADF:        EBADF,
	unix.EAGAIN:       EAGAIN,
	unix.ENOMEM:       ENOMEM,
	unix.EACCES:       EACCES,
	unix.EFAULT:       EFAULT,
	unix.EBUSY:        EBUSY,
	unix.EEXIST:       EEXIST,
	unix.ENOTDIR:      ENOTDIR,
	unix.EISDIR:       EISDIR,
	unix.EINVAL:       EINVAL,
	unix.EMFILE:       EMFILE,
	unix.EFBIG:        EFBIG,
	unix.ERANGE:       ERANGE,
	unix.ENAMETOOLONG: ENAMETOOLONG,
	unix.ENOSYS:       ENOSYS,
	unix.EOVERFLOW:    EOVERFLOW,
}

// ErrorFromUnix returns a linuxerr from a unix.Errno. Numbers without a
// sentinel here map to EIO.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if e, ok := byErrno[err]; ok {
		return e
	}
	return EIO
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// ToErrno extracts the errno carried by err, looking through wrapping. Errors
// that carry none report EIO.
func ToErrno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno()
	}
	var ue unix.Errno
	if goerrors.As(err, &ue) {
		return ue
	}
	return unix.EIO
}

// Equals compares a linuxerr to a given error, looking through wrapping.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == noError
	}
	if e == noError {
		return false
	}
	if goerrors.Is(err, e) {
		return true
	}
	var ue unix.Errno
	return goerrors.As(err, &ue) && ue == e.Errno()
}
