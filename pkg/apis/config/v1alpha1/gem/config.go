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
	"strconv"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Config provides configuration for a buffer object manager.
// +k8s:deepcopy-gen=true
type Config struct {
	// Name of the manager, used as a prefix for object names.
	// +optional
	// +kubebuilder:default="gem"
	Name string `json:"name,omitempty"`
	// AddressSpace is the device virtual address space objects are mapped into.
	// +optional
	AddressSpace AddressSpace `json:"addressSpace,omitempty"`
	// MmapOffsets is the range of fake offsets handed out for user mappings.
	// +optional
	MmapOffsets Range `json:"mmapOffsets,omitempty"`
	// FaultLog limits the rate of logged page fault failures.
	// +optional
	FaultLog FaultLog `json:"faultLog,omitempty"`
}

// AddressSpace describes a device virtual address space.
// +k8s:deepcopy-gen=true
type AddressSpace struct {
	Range `json:",inline"`
	// Fit is the placement policy for device mappings.
	// +optional
	// +kubebuilder:validation:Enum=first-fit;best-fit
	// +kubebuilder:default="first-fit"
	Fit string `json:"fit,omitempty"`
}

// Range is an address range.
// +k8s:deepcopy-gen=true
type Range struct {
	// Base is the first address of the range.
	// +optional
	// +kubebuilder:example="0x10000000"
	Base Address `json:"base,omitempty"`
	// Size is the size of the range.
	// +optional
	// +kubebuilder:example="2Gi"
	Size *resource.Quantity `json:"size,omitempty"`
}

// FaultLog limits the rate of logged fault failures.
type FaultLog struct {
	// Rate is the number of failures logged per second.
	// +optional
	Rate float64 `json:"rate,omitempty"`
	// Burst is the number of failures logged in a burst.
	// +optional
	Burst int `json:"burst,omitempty"`
}

// Address is a device address, given in any base strconv understands.
type Address string

// Parse parses the address.
func (a Address) Parse() (uint64, error) {
	v, err := strconv.ParseUint(string(a), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", a, err)
	}
	return v, nil
}

// IsSet returns true if the address is set.
func (a Address) IsSet() bool {
	return a != ""
}

// Get returns the base and size of the range, or the given defaults for
// unset values.
func (r *Range) Get(base, size uint64) (uint64, uint64, error) {
	if r.Base.IsSet() {
		v, err := r.Base.Parse()
		if err != nil {
			return 0, 0, err
		}
		base = v
	}

	if r.Size != nil {
		v, ok := r.Size.AsInt64()
		if !ok || v <= 0 {
			return 0, 0, fmt.Errorf("invalid range size %s", r.Size.String())
		}
		size = uint64(v)
	}

	return base, size, nil
}
