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

// System call numbers. The first three are fixed by the user runtime; the
// rest follow in order.
const (
	SYS_OPEN        = 0
	SYS_CLOSE       = 1
	SYS_EXIT        = 2
	SYS_READ        = 3
	SYS_WRITE       = 4
	SYS_SLEEP       = 5
	SYS_SIGNAL      = 6
	SYS_KILL        = 7
	SYS_GETPID      = 8
	SYS_SBRK        = 9
	SYS_GETCWD      = 10
	SYS_CHDIR       = 11
	SYS_SCHED_YIELD = 12
	SYS_WAITTASK    = 13
	SYS_SIGRETURN   = 14

	// MaxSyscallNum is the highest number a table may hold.
	MaxSyscallNum = 255
)
