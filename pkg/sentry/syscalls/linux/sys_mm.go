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
	"gvisor.dev/procore/pkg/sentry/arch"
	"gvisor.dev/procore/pkg/sentry/kernel"
)

// Sbrk implements sbrk(delta). It returns the previous program break.
func Sbrk(t *kernel.Task, args arch.SyscallArguments) (uintptr, *kernel.SyscallControl, error) {
	delta := args[0].Int()

	m, err := memoryManager(t)
	if err != nil {
		return 0, nil, err
	}
	prev, err := m.Sbrk(delta)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(prev), nil, nil
}
