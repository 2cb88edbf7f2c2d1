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

	"github.com/etna-drm/bomgr/pkg/gem/device"
	"github.com/etna-drm/bomgr/pkg/gem/sg"
)

// dmaBackend backs an object with a contiguous coherent DMA region.
type dmaBackend struct {
	pageSize int64
	dma      device.DMA
	region   *device.Region
	sgt      *sg.Table
}

func newDMABackend(size, pageSize int64, dma device.DMA) (*dmaBackend, error) {
	region, err := dma.AllocCoherent(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoMem, err)
	}

	return &dmaBackend{
		pageSize: pageSize,
		dma:      dma,
		region:   region,
	}, nil
}

func (b *dmaBackend) getPages() error {
	return nil
}

func (b *dmaBackend) hasPages() bool {
	return b.region != nil
}

func (b *dmaBackend) getSGT() error {
	if b.sgt != nil {
		return nil
	}

	sgt, err := sg.FromRegion(b.region.Phys, b.region.Size)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoMem, err)
	}
	sgt.SetIdentityDMA()
	b.sgt = sgt

	return nil
}

func (b *dmaBackend) sgTable() *sg.Table {
	return b.sgt
}

func (b *dmaBackend) mmap(mp *Mapping) error {
	mp.attr = AttrCoherent
	for pgoff := range mp.pages {
		data, err := b.page(mp, pgoff)
		if err != nil {
			return err
		}
		mp.install(pgoff, data)
	}
	return nil
}

func (b *dmaBackend) page(_ *Mapping, pgoff int) ([]byte, error) {
	start := int64(pgoff) * b.pageSize
	if pgoff < 0 || start >= b.region.Size {
		return nil, fmt.Errorf("%w: page %d of region 0x%x", ErrAccessFault, pgoff, b.region.Phys)
	}
	return b.region.CPU[start : start+b.pageSize : start+b.pageSize], nil
}

func (b *dmaBackend) munmap(*Mapping) error {
	return nil
}

func (b *dmaBackend) vmap() ([]byte, error) {
	return b.region.CPU, nil
}

func (b *dmaBackend) paddr() (uint64, bool) {
	return b.region.Phys, true
}

func (b *dmaBackend) release() error {
	b.sgt = nil
	if b.region != nil {
		b.dma.FreeCoherent(b.region)
		b.region = nil
	}
	return nil
}
