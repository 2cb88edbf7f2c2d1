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

package vaspace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fit is a placement policy for allocations.
type Fit int

const (
	// FirstFit places an allocation in the lowest suitable free range.
	FirstFit Fit = iota
	// BestFit places an allocation in the smallest suitable free range.
	BestFit
)

var (
	fitToString = map[Fit]string{
		FirstFit: "first-fit",
		BestFit:  "best-fit",
	}
)

// ParseFit parses the given string into a placement policy.
func ParseFit(str string) (Fit, error) {
	for f, s := range fitToString {
		if strings.EqualFold(s, strings.TrimSpace(str)) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFit, str)
}

// String returns the name of the placement policy.
func (f Fit) String() string {
	if s, ok := fitToString[f]; ok {
		return s
	}
	return fmt.Sprintf("%%!(vaspace:Bad-Fit %d)", f)
}

// MarshalJSON is the json.Marshaller for Fit.
func (f Fit) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON is the json.Unmarshaller for Fit.
func (f *Fit) UnmarshalJSON(data []byte) error {
	str := ""
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFit, err)
	}
	parsed, err := ParseFit(str)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Range is a contiguous range of addresses.
type Range struct {
	Start uint64
	Size  uint64
}

// End returns the first address past the range.
func (r Range) End() uint64 {
	return r.Start + r.Size
}

// String returns a string representation of the range.
func (r Range) String() string {
	return fmt.Sprintf("[0x%x-0x%x)", r.Start, r.End())
}

// Node is an allocated range of the address space.
type Node struct {
	Range
	owner interface{}
	a     *Allocator
}

// Owner returns the owner the node was allocated for.
func (n *Node) Owner() interface{} {
	return n.owner
}

// String returns a string representation of the node.
func (n *Node) String() string {
	return fmt.Sprintf("node %s (%d bytes)", n.Range, n.Size)
}

// Allocator manages the free and used ranges of an address space.
type Allocator struct {
	name  string
	space Range
	align uint64
	fit   Fit
	free  []Range
	used  map[uint64]*Node
	inUse uint64
}

// Option is an opaque option for an Allocator.
type Option func(*Allocator) error

// WithName sets the name used in log messages for the allocator.
func WithName(name string) Option {
	return func(a *Allocator) error {
		a.name = name
		return nil
	}
}

// WithAlignment sets the allocation granularity. Allocation sizes are rounded
// up to it and all nodes start at a multiple of it relative to address 0.
func WithAlignment(align uint64) Option {
	return func(a *Allocator) error {
		if align == 0 || align&(align-1) != 0 {
			return fmt.Errorf("alignment %d is not a power of 2", align)
		}
		a.align = align
		return nil
	}
}

// WithFit sets the placement policy for allocations.
func WithFit(fit Fit) Option {
	return func(a *Allocator) error {
		if _, ok := fitToString[fit]; !ok {
			return fmt.Errorf("%w: %d", ErrInvalidFit, fit)
		}
		a.fit = fit
		return nil
	}
}

// New creates an allocator for the address range [base, base+size).
func New(base, size uint64, options ...Option) (*Allocator, error) {
	a := &Allocator{
		name:  "vaspace",
		space: Range{Start: base, Size: size},
		align: 1,
		fit:   FirstFit,
		used:  make(map[uint64]*Node),
	}

	for _, o := range options {
		if err := o(a); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedOption, err)
		}
	}

	if size == 0 || base+size < base {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, a.space)
	}
	if base%a.align != 0 || size%a.align != 0 {
		return nil, fmt.Errorf("%w: %s not aligned to 0x%x", ErrInvalidRange, a.space, a.align)
	}

	a.free = []Range{a.space}

	log.Debug("%s: created allocator for %s (%s, alignment 0x%x)", a.name, a.space, a.fit, a.align)

	return a, nil
}

// Name returns the name of the allocator.
func (a *Allocator) Name() string {
	return a.name
}

// Space returns the full address range managed by the allocator.
func (a *Allocator) Space() Range {
	return a.space
}

// Alignment returns the allocation granularity.
func (a *Allocator) Alignment() uint64 {
	return a.align
}

// Capacity returns the total size of the managed address space.
func (a *Allocator) Capacity() uint64 {
	return a.space.Size
}

// Used returns the total size of allocated nodes.
func (a *Allocator) Used() uint64 {
	return a.inUse
}

// Available returns the total size of free space.
func (a *Allocator) Available() uint64 {
	return a.space.Size - a.inUse
}

// Largest returns the size of the largest free range.
func (a *Allocator) Largest() uint64 {
	largest := uint64(0)
	for _, r := range a.free {
		if r.Size > largest {
			largest = r.Size
		}
	}
	return largest
}

// FreeRanges returns a copy of the free ranges sorted by start address.
func (a *Allocator) FreeRanges() []Range {
	return append([]Range(nil), a.free...)
}

// NodeCount returns the number of allocated nodes.
func (a *Allocator) NodeCount() int {
	return len(a.used)
}

// ForeachNode calls the given function for each allocated node in address
// order until the function returns false.
func (a *Allocator) ForeachNode(fn func(*Node) bool) {
	nodes := make([]*Node, 0, len(a.used))
	for _, n := range a.used {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Start < nodes[j].Start })

	for _, n := range nodes {
		if !fn(n) {
			return
		}
	}
}

// Lookup returns the node starting at the given address.
func (a *Allocator) Lookup(start uint64) (*Node, bool) {
	n, ok := a.used[start]
	return n, ok
}

// Allocate allocates a node of at least the given size for owner.
func (a *Allocator) Allocate(size uint64, owner interface{}) (*Node, error) {
	if size == 0 {
		return nil, fmt.Errorf("%w: 0", ErrInvalidSize)
	}

	aligned := (size + a.align - 1) &^ (a.align - 1)
	if aligned < size {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	idx := a.findFree(aligned)
	if idx < 0 {
		log.Debug("%s: no space for %d bytes (available %d, largest %d)", a.name,
			aligned, a.Available(), a.Largest())
		return nil, fmt.Errorf("%w: %s: no free range for %d bytes", ErrNoSpace, a.name, aligned)
	}

	r := &a.free[idx]
	n := &Node{
		Range: Range{Start: r.Start, Size: aligned},
		owner: owner,
		a:     a,
	}

	if r.Size == aligned {
		a.free = append(a.free[:idx], a.free[idx+1:]...)
	} else {
		r.Start += aligned
		r.Size -= aligned
	}

	a.used[n.Start] = n
	a.inUse += aligned

	log.Debug("%s: allocated %s", a.name, n)

	return n, nil
}

// Free returns the range of the given node to the free list, coalescing it
// with any adjacent free ranges.
func (a *Allocator) Free(n *Node) error {
	if n == nil || n.a != a {
		return fmt.Errorf("%w: not allocated by %s", ErrUnknownNode, a.name)
	}
	if cur, ok := a.used[n.Start]; !ok || cur != n {
		return fmt.Errorf("%w: %s not in use in %s", ErrUnknownNode, n, a.name)
	}

	idx := sort.Search(len(a.free), func(i int) bool {
		return a.free[i].Start >= n.End()
	})

	if idx > 0 && a.free[idx-1].End() > n.Start {
		return fmt.Errorf("%w: %s overlaps free range %s", ErrInternal, n, a.free[idx-1])
	}

	var (
		mergePrev = idx > 0 && a.free[idx-1].End() == n.Start
		mergeNext = idx < len(a.free) && a.free[idx].Start == n.End()
	)

	switch {
	case mergePrev && mergeNext:
		a.free[idx-1].Size += n.Size + a.free[idx].Size
		a.free = append(a.free[:idx], a.free[idx+1:]...)
	case mergePrev:
		a.free[idx-1].Size += n.Size
	case mergeNext:
		a.free[idx].Start = n.Start
		a.free[idx].Size += n.Size
	default:
		a.free = append(a.free, Range{})
		copy(a.free[idx+1:], a.free[idx:])
		a.free[idx] = n.Range
	}

	delete(a.used, n.Start)
	a.inUse -= n.Size
	n.a = nil

	log.Debug("%s: freed %s", a.name, n)

	return nil
}

// findFree returns the index of the free range to allocate size bytes from,
// or -1 if no free range is large enough.
func (a *Allocator) findFree(size uint64) int {
	best := -1
	for i, r := range a.free {
		if r.Size < size {
			continue
		}
		if a.fit == FirstFit {
			return i
		}
		if best < 0 || r.Size < a.free[best].Size {
			best = i
		}
	}
	return best
}

// Validate checks the internal consistency of the allocator.
func (a *Allocator) Validate() error {
	var (
		free = uint64(0)
		prev *Range
	)

	for i := range a.free {
		r := &a.free[i]
		if r.Size == 0 {
			return fmt.Errorf("%w: empty free range at 0x%x", ErrInternal, r.Start)
		}
		if r.Start < a.space.Start || r.End() > a.space.End() {
			return fmt.Errorf("%w: free range %s outside %s", ErrInternal, r, a.space)
		}
		if prev != nil && prev.End() >= r.Start {
			return fmt.Errorf("%w: free ranges %s and %s overlap or touch", ErrInternal, prev, r)
		}
		free += r.Size
		prev = r
	}

	used := uint64(0)
	for start, n := range a.used {
		if start != n.Start || n.a != a {
			return fmt.Errorf("%w: corrupt node %s", ErrInternal, n)
		}
		used += n.Size
	}

	if used != a.inUse {
		return fmt.Errorf("%w: used size %d, accounted %d", ErrInternal, used, a.inUse)
	}
	if free+used != a.space.Size {
		return fmt.Errorf("%w: free %d + used %d != capacity %d", ErrInternal,
			free, used, a.space.Size)
	}

	return nil
}
