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

import "testing"

func TestSignalNames(t *testing.T) {
	for _, tc := range []struct {
		name string
		want Signal
		ok   bool
	}{
		{"SIGKILL", SIGKILL, true},
		{"TERM", SIGTERM, true},
		{"SIGRTMIN", 0, false},
	} {
		got, ok := SignalByName(tc.name)
		if got != tc.want || ok != tc.ok {
			t.Errorf("SignalByName(%q) = %v, %v, want %v, %v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
	if got := SIGSEGV.String(); got != "SIGSEGV" {
		t.Errorf("SIGSEGV.String() = %q", got)
	}
	if got := Signal(40).String(); got != "signal 40" {
		t.Errorf("Signal(40).String() = %q", got)
	}
	if Signal(0).IsValid() || Signal(32).IsValid() || !SIGSYS.IsValid() {
		t.Errorf("IsValid bounds are wrong")
	}
}
