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

// Package ktime provides the kernel's notion of time: a tick counter driven
// by the timer interrupt, and timers ordered by expiry tick.
package ktime

import (
	"fmt"
	"time"
)

// DefaultHz is the default timer interrupt frequency.
const DefaultHz = 100

// Tick counts timer interrupts since boot.
type Tick uint64

// FromDuration returns the number of ticks at frequency hz covering d,
// rounded up. Negative durations are zero ticks.
func FromDuration(d time.Duration, hz uint32) Tick {
	if d <= 0 {
		return 0
	}
	if hz == 0 {
		panic("zero timer frequency")
	}
	period := time.Second / time.Duration(hz)
	return Tick((d + period - 1) / period)
}

// FromMilliseconds returns the number of ticks at frequency hz covering ms
// milliseconds, rounded up.
func FromMilliseconds(ms uint32, hz uint32) Tick {
	return FromDuration(time.Duration(ms)*time.Millisecond, hz)
}

// Duration returns the wall time covered by t ticks at frequency hz.
func (t Tick) Duration(hz uint32) time.Duration {
	if hz == 0 {
		panic("zero timer frequency")
	}
	return time.Duration(t) * (time.Second / time.Duration(hz))
}

// String implements fmt.Stringer.
func (t Tick) String() string {
	return fmt.Sprintf("tick %d", uint64(t))
}
