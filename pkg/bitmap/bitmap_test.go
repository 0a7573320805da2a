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

package bitmap

import (
	"testing"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	for _, i := range []uint32{0, 63, 64, 129} {
		b.Add(i)
		b.Add(i)
	}
	if got := b.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
	if !b.Contains(64) || b.Contains(65) {
		t.Errorf("Contains mismatch: 64=%v 65=%v", b.Contains(64), b.Contains(65))
	}
	b.Remove(63)
	b.Remove(63)
	if got := b.Count(); got != 3 {
		t.Errorf("Count() after Remove = %d, want 3", got)
	}
}

func TestFirstZero(t *testing.T) {
	b := New(70)
	for i := uint32(0); i < 66; i++ {
		b.Add(i)
	}
	for _, tc := range []struct {
		start uint32
		want  uint32
	}{
		{0, 66},
		{10, 66},
		{67, 67},
	} {
		got, err := b.FirstZero(tc.start)
		if err != nil {
			t.Errorf("FirstZero(%d) failed: %v", tc.start, err)
			continue
		}
		if got != tc.want {
			t.Errorf("FirstZero(%d) = %d, want %d", tc.start, got, tc.want)
		}
	}
	for i := uint32(66); i < 70; i++ {
		b.Add(i)
	}
	if !b.IsFull() {
		t.Errorf("IsFull() = false after setting every bit")
	}
	if _, err := b.FirstZero(0); err == nil {
		t.Errorf("FirstZero on a full bitmap succeeded")
	}
}

func TestFirstOne(t *testing.T) {
	b := New(200)
	if _, err := b.FirstOne(0); err == nil {
		t.Errorf("FirstOne on an empty bitmap succeeded")
	}
	b.Add(5)
	b.Add(150)
	if got, err := b.FirstOne(6); err != nil || got != 150 {
		t.Errorf("FirstOne(6) = %d, %v, want 150, nil", got, err)
	}
	if got, err := b.FirstOne(0); err != nil || got != 5 {
		t.Errorf("FirstOne(0) = %d, %v, want 5, nil", got, err)
	}
}
