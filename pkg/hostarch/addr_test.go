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

package hostarch

import "testing"

func TestRounding(t *testing.T) {
	for _, tc := range []struct {
		in       Addr
		down, up Addr
		ok       bool
	}{
		{0, 0, 0, true},
		{1, 0, PageSize, true},
		{0x40000fff, 0x40000000, 0x40001000, true},
		{0x40001000, 0x40001000, 0x40001000, true},
		{0xfffff001, 0xfffff000, 0, false},
	} {
		if got := tc.in.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown() = %v, want %v", tc.in, got, tc.down)
		}
		up, ok := tc.in.RoundUp()
		if ok != tc.ok || (ok && up != tc.up) {
			t.Errorf("%v.RoundUp() = %v, %v, want %v, %v", tc.in, up, ok, tc.up, tc.ok)
		}
	}
}

func TestIndexes(t *testing.T) {
	v := Addr(0xA0123456)
	if got, want := v.DirectoryIndex(), 0x280; got != want {
		t.Errorf("DirectoryIndex() = %#x, want %#x", got, want)
	}
	if got, want := v.TableIndex(), 0x123; got != want {
		t.Errorf("TableIndex() = %#x, want %#x", got, want)
	}
	if got, want := v.PageOffset(), uint32(0x456); got != want {
		t.Errorf("PageOffset() = %#x, want %#x", got, want)
	}
}

func TestAddrRange(t *testing.T) {
	a := AddrRange{0x1000, 0x3000}
	b := AddrRange{0x3000, 0x4000}
	if a.Overlaps(b) {
		t.Errorf("%v overlaps %v", a, b)
	}
	if !a.Overlaps(AddrRange{0x2fff, 0x3001}) {
		t.Errorf("%v does not overlap [0x2fff, 0x3001)", a)
	}
	if !a.Contains(0x2fff) || a.Contains(0x3000) {
		t.Errorf("Contains is not half-open for %v", a)
	}
	if n, ok := PageRoundUp(1); !ok || n != PageSize {
		t.Errorf("PageRoundUp(1) = %d, %v", n, ok)
	}
	if _, ok := PageRoundUp(0xffffffff); ok {
		t.Errorf("PageRoundUp(0xffffffff) did not report overflow")
	}
}

func TestAccessTypeString(t *testing.T) {
	if got := ReadExec.String(); got != "r-x" {
		t.Errorf("ReadExec.String() = %q", got)
	}
	if !AnyAccess.SupersetOf(ReadWrite) || Read.SupersetOf(Write) {
		t.Errorf("SupersetOf mismatch")
	}
}
