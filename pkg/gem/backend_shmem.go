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

	"github.com/hashicorp/go-multierror"

	"github.com/etna-drm/bomgr/pkg/gem/device"
	"github.com/etna-drm/bomgr/pkg/gem/sg"
	"github.com/etna-drm/bomgr/pkg/gem/shmem"
)

// shmemBackend backs an object with demand-paged shared memory.
type shmemBackend struct {
	flags    Flags
	pageSize int64
	dma      device.DMA
	file     *shmem.File
	pages    [][]byte
	sgt      *sg.Table
	vmapping *shmem.Mapping
}

func newShmemBackend(name string, size int64, flags Flags, dma device.DMA) (*shmemBackend, error) {
	file, err := shmem.New(name, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoMem, err)
	}

	return &shmemBackend{
		flags:    flags,
		pageSize: shmem.PageSize(),
		dma:      dma,
		file:     file,
	}, nil
}

func (b *shmemBackend) getPages() error {
	if b.pages != nil {
		return nil
	}

	pages, err := b.file.GetPages()
	if err != nil {
		log.Error("could not get pages of %s: %v", b.file.Name(), err)
		return fmt.Errorf("%w: %w", ErrNoMem, err)
	}
	b.pages = pages

	return nil
}

func (b *shmemBackend) hasPages() bool {
	return b.pages != nil
}

func (b *shmemBackend) getSGT() error {
	if b.sgt != nil {
		return nil
	}
	if b.pages == nil {
		contractViolation("building sg table of %s without pages", b.file.Name())
	}

	phys := make([]uint64, len(b.pages))
	for i, p := range b.pages {
		phys[i] = shmem.Addr(p)
	}

	sgt, err := sg.FromPages(phys, b.pageSize)
	if err != nil {
		log.Error("failed to allocate sg table for %s: %v", b.file.Name(), err)
		return fmt.Errorf("%w: %w", ErrNoMem, err)
	}

	if b.flags.IsCached() {
		sgt.SetIdentityDMA()
	} else {
		if err := b.flush(sgt); err != nil {
			return fmt.Errorf("%w: %w", ErrNoMem, err)
		}
	}
	b.sgt = sgt

	return nil
}

// flush pushes dirty cache lines of non-cached memory out to the device.
func (b *shmemBackend) flush(sgt *sg.Table) error {
	if err := b.dma.MapSG(sgt, device.Bidirectional); err != nil {
		return fmt.Errorf("failed to flush %s: %w", b.file.Name(), err)
	}
	b.dma.UnmapSG(sgt, device.Bidirectional)
	return nil
}

func (b *shmemBackend) sgTable() *sg.Table {
	return b.sgt
}

func (b *shmemBackend) mmap(mp *Mapping) error {
	mp.attr = cacheAttr(b.flags)
	if mp.attr != AttrCached {
		return nil
	}

	// cached mappings go through the file so that they share its pages
	view, err := b.file.Map()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoMem, err)
	}
	mp.view = view

	return nil
}

func (b *shmemBackend) page(mp *Mapping, pgoff int) ([]byte, error) {
	if pgoff < 0 || pgoff >= len(b.pages) {
		return nil, fmt.Errorf("%w: page %d of %s", ErrAccessFault, pgoff, b.file.Name())
	}

	if mp.view != nil {
		start := int64(pgoff) * b.pageSize
		return mp.view.Bytes()[start : start+b.pageSize : start+b.pageSize], nil
	}

	return b.pages[pgoff], nil
}

func (b *shmemBackend) munmap(mp *Mapping) error {
	if mp.view == nil {
		return nil
	}
	err := mp.view.Unmap()
	mp.view = nil
	return err
}

func (b *shmemBackend) vmap() ([]byte, error) {
	if b.vmapping == nil {
		m, err := b.file.Map()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoMem, err)
		}
		b.vmapping = m
	}
	return b.vmapping.Bytes(), nil
}

func (b *shmemBackend) paddr() (uint64, bool) {
	return 0, false
}

func (b *shmemBackend) release() error {
	var errs *multierror.Error

	if b.vmapping != nil {
		if err := b.vmapping.Unmap(); err != nil {
			errs = multierror.Append(errs, err)
		}
		b.vmapping = nil
	}

	if b.sgt != nil {
		if !b.flags.IsCached() {
			if err := b.flush(b.sgt); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		b.sgt = nil
	}

	if b.pages != nil {
		if err := b.file.PutPages(); err != nil {
			errs = multierror.Append(errs, err)
		}
		b.pages = nil
	}

	if err := b.file.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}
