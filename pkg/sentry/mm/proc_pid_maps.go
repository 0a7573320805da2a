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
	"bytes"
	"fmt"

	"gvisor.dev/procore/pkg/hostarch"
)

// MapsEntry describes one VMA the way /proc/[pid]/maps does, plus the
// number of pages currently mapped.
type MapsEntry struct {
	Start    hostarch.Addr `json:"start" yaml:"start"`
	End      hostarch.Addr `json:"end" yaml:"end"`
	Perms    string        `json:"perms" yaml:"perms"`
	Name     string        `json:"name" yaml:"name"`
	Resident int           `json:"resident" yaml:"resident"`
}

// Maps returns an entry per VMA, in insertion order.
func (mm *MemoryManager) Maps() []MapsEntry {
	var entries []MapsEntry
	for _, v := range mm.vmas.ordered {
		entries = append(entries, mm.mapsEntry(v))
	}
	return entries
}

func (mm *MemoryManager) mapsEntry(v *VMA) MapsEntry {
	e := MapsEntry{
		Start: v.Start,
		End:   v.End(),
		Perms: v.Perms.String(),
		Name:  v.Name,
	}
	pt := mm.pt
	if v.Kernel {
		pt = mm.kernel.space.PageTables
	}
	if pt != nil {
		e.Resident = len(pt.MappedPages(v.Start, v.End()))
	}
	return e
}

// String formats e like a line of /proc/[pid]/maps.
func (e MapsEntry) String() string {
	return fmt.Sprintf("%08x-%08x %-6s %6d %s", uint32(e.Start), uint32(e.End), e.Perms, e.Resident, e.Name)
}

// MapsString returns the full maps listing, one line per VMA.
func (mm *MemoryManager) MapsString() string {
	var b bytes.Buffer
	for _, e := range mm.Maps() {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
