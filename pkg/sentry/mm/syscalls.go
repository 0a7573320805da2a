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

package mm

import (
	"fmt"

	"gvisor.dev/procore/pkg/errors/linuxerr"
	"gvisor.dev/procore/pkg/hostarch"
)

// BrkSetup sets the program break to the start of the heap VMA.
func (mm *MemoryManager) BrkSetup() error {
	heap, err := mm.lookupVMA(HeapVMAName)
	if err != nil {
		return err
	}
	mm.brk = heap.End()
	return nil
}

// Brk returns the current program break.
func (mm *MemoryManager) Brk() hostarch.Addr {
	return mm.brk
}

// Sbrk moves the program break by delta bytes and returns the previous
// break. Growing extends the heap VMA upward; the new pages are faulted in
// on use. Shrinking evicts the pages above the new break.
//
// Sbrk returns EINVAL if the break would drop below the start of the heap
// and ENOMEM if the heap cannot grow.
func (mm *MemoryManager) Sbrk(delta int32) (hostarch.Addr, error) {
	heap, err := mm.lookupVMA(HeapVMAName)
	if err != nil {
		return 0, fmt.Errorf("sbrk without a heap: %w", linuxerr.ENOMEM)
	}
	old := mm.brk
	if delta == 0 {
		return old, nil
	}

	newBrk := old + hostarch.Addr(delta)
	switch {
	case delta < 0 && (newBrk > old || newBrk < heap.Start):
		return old, fmt.Errorf("break %v below heap start %v: %w", newBrk, heap.Start, linuxerr.EINVAL)
	case delta > 0 && newBrk < old:
		return old, fmt.Errorf("break overflows: %w", linuxerr.ENOMEM)
	}

	newEnd, ok := newBrk.RoundUp()
	if !ok {
		return old, fmt.Errorf("break %v: %w", newBrk, linuxerr.ENOMEM)
	}
	switch {
	case newEnd > heap.End():
		if err := mm.ExtendVMA(HeapVMAName, Up, uint32(newEnd-heap.End())); err != nil {
			return old, fmt.Errorf("growing heap to %v: %v: %w", newEnd, err, linuxerr.ENOMEM)
		}
	case newEnd < heap.End():
		mm.shrinkVMA(heap, uint32(heap.End()-newEnd))
	}
	mm.brk = newBrk
	return old, nil
}
