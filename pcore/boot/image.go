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

package boot

import (
	"bytes"

	"gvisor.dev/procore/pkg/sentry/loader/elfimage"
)

const (
	// ImageBase is where Image places its text segment.
	ImageBase = 0x40000000

	// HandlerOffset is the distance from the entry point to the signal
	// handler entry used by builtin apps.
	HandlerOffset = 0x10

	imageTextSize = 0x100
	imageBSSSize  = 0x1000
)

// Image returns an executable for builtin apps: a text segment of int3
// instructions at ImageBase, covering the entry point and the handler
// entry, and a small data segment.
func Image() []byte {
	text := bytes.Repeat([]byte{0xcc}, imageTextSize)
	return elfimage.TwoSegment(ImageBase, text, []byte("pcore\x00"), imageBSSSize).Build()
}
