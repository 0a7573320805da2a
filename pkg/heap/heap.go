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

// Package heap provides a binary min-heap whose elements can be removed by
// handle.
//
// The heap is a complete binary tree stored in a slice. A node is swapped with
// its parent while it is strictly smaller, and with whichever child is
// strictly smaller while it is larger than one of them. Extraction moves the
// last leaf into the root and sifts it down.
package heap

import "fmt"

// Node is an element of a Heap. A Node belongs to at most one Heap at a time.
type Node[T any] struct {
	// Value is the payload ordered by the heap's comparator.
	Value T

	// index is the node's position in the heap's slice, or -1 when
	// detached.
	index int
}

// NewNode returns a detached node holding v.
func NewNode[T any](v T) *Node[T] {
	return &Node[T]{Value: v, index: -1}
}

// Attached returns true if n is currently in a heap.
func (n *Node[T]) Attached() bool {
	return n.index >= 0
}

// Heap is a binary min-heap ordered by Less.
//
// Heap is not thread-safe.
type Heap[T any] struct {
	less  func(a, b T) bool
	nodes []*Node[T]
}

// New returns an empty heap ordered by less.
func New[T any](less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{less: less}
}

// Len returns the number of nodes in the heap.
func (h *Heap[T]) Len() int {
	return len(h.nodes)
}

// Root returns the minimum node without removing it, or nil if the heap is
// empty.
func (h *Heap[T]) Root() *Node[T] {
	if len(h.nodes) == 0 {
		return nil
	}
	return h.nodes[0]
}

// Attach inserts n.
//
// Preconditions: n is detached.
func (h *Heap[T]) Attach(n *Node[T]) {
	if n.index >= 0 {
		panic(fmt.Sprintf("heap node already attached at %d", n.index))
	}
	n.index = len(h.nodes)
	h.nodes = append(h.nodes, n)
	h.up(n.index)
}

// Detach removes and returns the minimum node, or nil if the heap is empty.
func (h *Heap[T]) Detach() *Node[T] {
	if len(h.nodes) == 0 {
		return nil
	}
	return h.removeAt(0)
}

// Delete removes n from the heap.
//
// Preconditions: n is attached to h.
func (h *Heap[T]) Delete(n *Node[T]) {
	if n.index < 0 || n.index >= len(h.nodes) || h.nodes[n.index] != n {
		panic("deleting a heap node that is not attached to this heap")
	}
	h.removeAt(n.index)
}

func (h *Heap[T]) removeAt(i int) *Node[T] {
	n := h.nodes[i]
	last := len(h.nodes) - 1
	if i != last {
		h.swap(i, last)
	}
	h.nodes[last] = nil
	h.nodes = h.nodes[:last]
	n.index = -1
	if i < len(h.nodes) {
		// The moved leaf may belong above or below its new position.
		if !h.up(i) {
			h.down(i)
		}
	}
	return n
}

func (h *Heap[T]) swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.nodes[i].index = i
	h.nodes[j].index = j
}

// up sifts the node at i toward the root. It returns true if the node moved.
func (h *Heap[T]) up(i int) bool {
	moved := false
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(h.nodes[i].Value, h.nodes[parent].Value) {
			break
		}
		h.swap(i, parent)
		i = parent
		moved = true
	}
	return moved
}

func (h *Heap[T]) down(i int) {
	for {
		smallest := i
		if left := 2*i + 1; left < len(h.nodes) && h.less(h.nodes[left].Value, h.nodes[smallest].Value) {
			smallest = left
		}
		if right := 2*i + 2; right < len(h.nodes) && h.less(h.nodes[right].Value, h.nodes[smallest].Value) {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}
