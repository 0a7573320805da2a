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

package linux

import (
	"gvisor.dev/procore/pkg/abi/linux"
	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/kernel"
)

// Signal implements signal(sig, handler). handler is SIG_DFL, SIG_IGN or a
// handler entry point; the previous one is returned.
func Signal(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	sig := linux.Signal(args[0].Int())
	handler := args[1].Pointer()

	prev, err := t.SetSignalHandler(sig, handler)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(prev), nil, nil
}

// Kill implements kill(tid, sig).
func Kill(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	tid := kernel.ThreadID(args[0].Int())
	sig := linux.Signal(args[1].Int())

	target := t.Kernel().TaskSet().TaskWithID(tid)
	if target == nil {
		return 0, nil, linuxerr.ESRCH
	}
	return 0, nil, target.SendSignal(sig)
}

// Sigreturn implements sigreturn(). The trampoline a handler returns to
// issues it.
func Sigreturn(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	ctrl, err := t.SignalReturn()
	return 0, ctrl, err
}
