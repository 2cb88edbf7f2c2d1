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

package gem

import (
	"fmt"
	"strings"
)

// Flags are the creation flags of a buffer object.
type Flags uint32

const (
	// FlagCmdStream marks a buffer holding GPU command streams.
	FlagCmdStream Flags = 0x00000001
	// FlagScanout marks a buffer used for display scanout.
	FlagScanout Flags = 0x00000002
	// FlagCached selects a cached CPU mapping.
	FlagCached Flags = 0x00010000
	// FlagWC selects a write-combined CPU mapping.
	FlagWC Flags = 0x00020000
	// FlagUncached selects an uncached CPU mapping.
	FlagUncached Flags = 0x00040000

	// CacheMask covers the cache policy flags.
	CacheMask Flags = 0x000f0000
	// PurposeMask covers the purpose flags.
	PurposeMask = FlagCmdStream | FlagScanout

	validFlags = PurposeMask | FlagCached | FlagWC | FlagUncached
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagCmdStream, "cmdstream"},
	{FlagScanout, "scanout"},
	{FlagCached, "cached"},
	{FlagWC, "wc"},
	{FlagUncached, "uncached"},
}

// CachePolicy returns the cache policy flags.
func (f Flags) CachePolicy() Flags {
	return f & CacheMask
}

// IsCached returns true if the flags select a cached CPU mapping.
func (f Flags) IsCached() bool {
	return f.CachePolicy() == FlagCached
}

// String returns the names of the set flags separated by '|'.
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}

	names := []string{}
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
			f &^= fn.flag
		}
	}
	if f != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(f)))
	}

	return strings.Join(names, "|")
}

// ParseFlags parses flags from a '|' or ',' separated list of names.
func ParseFlags(str string) (Flags, error) {
	var flags Flags

	for _, name := range strings.FieldsFunc(str, func(r rune) bool { return r == '|' || r == ',' }) {
		name = strings.ToLower(strings.TrimSpace(name))
		found := false
		for _, fn := range flagNames {
			if fn.name == name {
				flags |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown flag %q", ErrInvalidArgument, name)
		}
	}

	return flags, nil
}

// Kind is the kind of backing store of a buffer object.
type Kind int

const (
	// KindPaged is demand-paged shared memory.
	KindPaged Kind = iota
	// KindContiguous is a physically contiguous DMA region.
	KindContiguous
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPaged:
		return "paged"
	case KindContiguous:
		return "contiguous"
	}
	return fmt.Sprintf("%%!(gem:Bad-Kind %d)", k)
}

// KindForFlags validates creation flags and returns the kind of backing
// store they select. Purpose flags select contiguous memory and exclude a
// cache policy. Otherwise exactly one cache policy is required.
func KindForFlags(flags Flags) (Kind, error) {
	if flags&^validFlags != 0 {
		return 0, fmt.Errorf("%w: unknown flags 0x%x", ErrInvalidArgument, uint32(flags&^validFlags))
	}

	if flags&PurposeMask != 0 {
		if flags.CachePolicy() != 0 {
			return 0, fmt.Errorf("%w: flags %s: cache policy with purpose flags",
				ErrInvalidArgument, flags)
		}
		return KindContiguous, nil
	}

	switch flags.CachePolicy() {
	case FlagCached, FlagWC, FlagUncached:
		return KindPaged, nil
	}

	return 0, fmt.Errorf("%w: flags %s: need exactly one cache policy", ErrInvalidArgument, flags)
}

// PrepOp is a CPU access operation.
type PrepOp uint32

const (
	// PrepRead prepares for CPU reads.
	PrepRead PrepOp = 0x01
	// PrepWrite prepares for CPU writes.
	PrepWrite PrepOp = 0x02
	// PrepNoSync skips waiting for the GPU.
	PrepNoSync PrepOp = 0x04

	validPrepOps = PrepRead | PrepWrite | PrepNoSync
)

// String returns the names of the operations separated by '|'.
func (op PrepOp) String() string {
	names := []string{}
	if op&PrepRead != 0 {
		names = append(names, "read")
	}
	if op&PrepWrite != 0 {
		names = append(names, "write")
	}
	if op&PrepNoSync != 0 {
		names = append(names, "nosync")
	}
	if rest := op &^ validPrepOps; rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
