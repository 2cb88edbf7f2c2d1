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

// Package device defines the contracts of the hardware facing collaborators
// of the buffer manager: coherent DMA memory and cache maintenance, and the
// device address space (IOMMU) page tables.
package device

import (
	"fmt"

	"github.com/etna-drm/bomgr/pkg/gem/sg"
)

var (
	ErrNoMem    = fmt.Errorf("device: out of memory")
	ErrMapped   = fmt.Errorf("device: address already mapped")
	ErrNotFound = fmt.Errorf("device: address not mapped")
	ErrInvalid  = fmt.Errorf("device: invalid argument")
)

// Direction is the direction of a DMA transfer, for cache maintenance.
type Direction int

const (
	Bidirectional Direction = iota
	ToDevice
	FromDevice
)

// String returns the name of the direction.
func (d Direction) String() string {
	switch d {
	case Bidirectional:
		return "bidirectional"
	case ToDevice:
		return "to-device"
	case FromDevice:
		return "from-device"
	}
	return fmt.Sprintf("%%!(device:Bad-Direction %d)", d)
}

// Prot is a set of access permissions for a device mapping.
type Prot int

const (
	ProtRead Prot = 1 << iota
	ProtWrite

	ProtReadWrite = ProtRead | ProtWrite
)

// Region is a physically contiguous, coherent DMA memory region.
type Region struct {
	// Phys is the device visible physical address of the region.
	Phys uint64
	// Size is the size of the region.
	Size int64
	// CPU is the coherent CPU mapping of the region.
	CPU []byte
}

// DMA provides coherent memory and cache maintenance for DMA.
type DMA interface {
	// AllocCoherent allocates a contiguous coherent region, or fails with
	// ErrNoMem.
	AllocCoherent(size int64) (*Region, error)
	// FreeCoherent frees a region allocated by AllocCoherent.
	FreeCoherent(r *Region)
	// MapSG maps the table for DMA, filling in the device addresses and
	// performing cache maintenance.
	MapSG(t *sg.Table, dir Direction) error
	// UnmapSG unmaps a table mapped by MapSG.
	UnmapSG(t *sg.Table, dir Direction)
}

// IOMMU manages the page tables of a device address space.
type IOMMU interface {
	// Map maps size bytes of the table at the device address iova.
	Map(iova uint64, t *sg.Table, size int64, prot Prot) error
	// Unmap removes a mapping established by Map.
	Unmap(iova uint64, t *sg.Table, size int64)
}
