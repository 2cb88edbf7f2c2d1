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

package sim

import (
	"fmt"
	"sync"

	"github.com/etna-drm/bomgr/pkg/gem/device"
	"github.com/etna-drm/bomgr/pkg/gem/sg"
)

// IOMMU simulates single level device page tables.
type IOMMU struct {
	sync.Mutex
	pageSize int64
	ptes     map[uint64]pte
	failMap  int
	maps     int
	unmaps   int
}

type pte struct {
	phys uint64
	prot device.Prot
}

var _ device.IOMMU = &IOMMU{}

// NewIOMMU creates a simulated IOMMU with the given page size.
func NewIOMMU(pageSize int64) *IOMMU {
	return &IOMMU{
		pageSize: pageSize,
		ptes:     make(map[uint64]pte),
	}
}

// FailMaps makes the next count Map calls fail.
func (m *IOMMU) FailMaps(count int) {
	m.Lock()
	defer m.Unlock()
	m.failMap = count
}

// Map implements device.IOMMU.
func (m *IOMMU) Map(iova uint64, t *sg.Table, size int64, prot device.Prot) error {
	m.Lock()
	defer m.Unlock()

	if m.failMap > 0 {
		m.failMap--
		return fmt.Errorf("%w: injected map failure", device.ErrNoMem)
	}

	if iova%uint64(m.pageSize) != 0 || size%m.pageSize != 0 || t.Size() < size {
		return fmt.Errorf("%w: map 0x%x+%d of %s", device.ErrInvalid, iova, size, t)
	}

	for va := iova; va < iova+uint64(size); va += uint64(m.pageSize) {
		if _, ok := m.ptes[va]; ok {
			return fmt.Errorf("%w: 0x%x", device.ErrMapped, va)
		}
	}

	va := iova
	t.ForeachPage(m.pageSize, func(phys uint64) bool {
		if va >= iova+uint64(size) {
			return false
		}
		m.ptes[va] = pte{phys: phys, prot: prot}
		va += uint64(m.pageSize)
		return true
	})
	m.maps++

	log.Debug("mapped %s at 0x%x+%d", t, iova, size)

	return nil
}

// Unmap implements device.IOMMU.
func (m *IOMMU) Unmap(iova uint64, t *sg.Table, size int64) {
	m.Lock()
	defer m.Unlock()

	for va := iova; va < iova+uint64(size); va += uint64(m.pageSize) {
		if _, ok := m.ptes[va]; !ok {
			log.Error("unmapping unmapped device address 0x%x", va)
			continue
		}
		delete(m.ptes, va)
	}
	m.unmaps++

	log.Debug("unmapped 0x%x+%d", iova, size)
}

// Translate returns the physical address a device address maps to.
func (m *IOMMU) Translate(iova uint64) (uint64, device.Prot, error) {
	m.Lock()
	defer m.Unlock()

	offset := iova % uint64(m.pageSize)
	e, ok := m.ptes[iova-offset]
	if !ok {
		return 0, 0, fmt.Errorf("%w: 0x%x", device.ErrNotFound, iova)
	}
	return e.phys + offset, e.prot, nil
}

// MappedPages returns the number of mapped pages.
func (m *IOMMU) MappedPages() int {
	m.Lock()
	defer m.Unlock()
	return len(m.ptes)
}

// Stats returns the number of Map and Unmap calls.
func (m *IOMMU) Stats() (maps, unmaps int) {
	m.Lock()
	defer m.Unlock()
	return m.maps, m.unmaps
}
