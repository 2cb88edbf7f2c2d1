// Copyright The NRI Plugins Authors. All Rights Reserved.
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

// Package sg describes the physical memory backing a buffer as a list of
// contiguous segments suitable for device DMA.
package sg

import (
	"fmt"
	"strings"
)

var (
	ErrInvalidPage = fmt.Errorf("sg: invalid page")
	ErrNoMem       = fmt.Errorf("sg: failed to allocate table")
)

// Segment is a physically contiguous piece of a buffer.
type Segment struct {
	// Phys is the physical address of the segment.
	Phys uint64
	// Length is the size of the segment in bytes.
	Length int64
	// DMAAddr is the address the device uses for the segment once mapped.
	DMAAddr uint64
	// DMALength is the length of the device mapping of the segment.
	DMALength int64
}

// Table is an ordered list of segments.
type Table struct {
	Segments []Segment
}

// FromPages builds a table from pages, given as their physical addresses,
// merging physically adjacent pages into a single segment.
func FromPages(phys []uint64, pageSize int64) (*Table, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: page size %d", ErrInvalidPage, pageSize)
	}
	if len(phys) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrNoMem)
	}

	t := &Table{}
	for i, p := range phys {
		if p%uint64(pageSize) != 0 {
			return nil, fmt.Errorf("%w: page #%d at unaligned address 0x%x", ErrInvalidPage, i, p)
		}
		if n := len(t.Segments); n > 0 {
			last := &t.Segments[n-1]
			if last.Phys+uint64(last.Length) == p {
				last.Length += pageSize
				continue
			}
		}
		t.Segments = append(t.Segments, Segment{Phys: p, Length: pageSize})
	}

	return t, nil
}

// FromRegion builds a single segment table for a contiguous region.
func FromRegion(phys uint64, size int64) (*Table, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: region size %d", ErrNoMem, size)
	}
	return &Table{Segments: []Segment{{Phys: phys, Length: size}}}, nil
}

// Len returns the number of segments in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Segments)
}

// Size returns the total size of all segments.
func (t *Table) Size() int64 {
	size := int64(0)
	for _, s := range t.Segments {
		size += s.Length
	}
	return size
}

// SetIdentityDMA sets the device address of each segment to its physical
// address, for devices which access memory without translation.
func (t *Table) SetIdentityDMA() {
	for i := range t.Segments {
		s := &t.Segments[i]
		s.DMAAddr = s.Phys
		s.DMALength = s.Length
	}
}

// ForeachPage calls fn with the physical address of every page in the table
// until fn returns false.
func (t *Table) ForeachPage(pageSize int64, fn func(phys uint64) bool) {
	for _, s := range t.Segments {
		for off := int64(0); off < s.Length; off += pageSize {
			if !fn(s.Phys + uint64(off)) {
				return
			}
		}
	}
}

// String returns a string representation of the table.
func (t *Table) String() string {
	if t == nil {
		return "<no sg table>"
	}
	str := strings.Builder{}
	str.WriteString("sg{")
	for i, s := range t.Segments {
		if i > 0 {
			str.WriteString(",")
		}
		fmt.Fprintf(&str, "0x%x+%d", s.Phys, s.Length)
	}
	str.WriteString("}")
	return str.String()
}
