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

	"golang.org/x/sys/unix"

	"github.com/etna-drm/bomgr/pkg/gem/device"
	"github.com/etna-drm/bomgr/pkg/gem/sg"
	"github.com/etna-drm/bomgr/pkg/gem/vaspace"
)

// DMA simulates a device with a physically contiguous DMA carveout. Coherent
// regions are allocated from the carveout address range and backed by
// anonymous host memory.
type DMA struct {
	sync.Mutex
	carveout  *vaspace.Allocator
	regions   map[uint64]*regionInfo
	mapped    int
	syncs     int
	failAlloc int
	failMap   int
}

type regionInfo struct {
	node *vaspace.Node
	mem  []byte
}

var _ device.DMA = &DMA{}

// NewDMA creates a simulated DMA device with a carveout of the given size
// starting at physical address base.
func NewDMA(base, size uint64) (*DMA, error) {
	carveout, err := vaspace.New(base, size,
		vaspace.WithName("dma-carveout"),
		vaspace.WithAlignment(uint64(unix.Getpagesize())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DMA carveout: %w", err)
	}

	return &DMA{
		carveout: carveout,
		regions:  make(map[uint64]*regionInfo),
	}, nil
}

// FailAllocs makes the next count coherent allocations fail.
func (d *DMA) FailAllocs(count int) {
	d.Lock()
	defer d.Unlock()
	d.failAlloc = count
}

// FailMaps makes the next count MapSG calls fail.
func (d *DMA) FailMaps(count int) {
	d.Lock()
	defer d.Unlock()
	d.failMap = count
}

// AllocCoherent implements device.DMA.
func (d *DMA) AllocCoherent(size int64) (*device.Region, error) {
	d.Lock()
	defer d.Unlock()

	if size <= 0 {
		return nil, fmt.Errorf("%w: coherent region size %d", device.ErrInvalid, size)
	}

	if d.failAlloc > 0 {
		d.failAlloc--
		return nil, fmt.Errorf("%w: injected allocation failure", device.ErrNoMem)
	}

	node, err := d.carveout.Allocate(uint64(size), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrNoMem, err)
	}

	mem, err := unix.Mmap(-1, 0, int(node.Size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		if ferr := d.carveout.Free(node); ferr != nil {
			log.Error("failed to release carveout %s: %v", node, ferr)
		}
		return nil, fmt.Errorf("%w: %w", device.ErrNoMem, err)
	}

	d.regions[node.Start] = &regionInfo{node: node, mem: mem}

	log.Debug("allocated coherent region %s", node)

	return &device.Region{
		Phys: node.Start,
		Size: size,
		CPU:  mem[:size:size],
	}, nil
}

// FreeCoherent implements device.DMA.
func (d *DMA) FreeCoherent(r *device.Region) {
	d.Lock()
	defer d.Unlock()

	info, ok := d.regions[r.Phys]
	if !ok {
		log.Error("freeing unknown coherent region at 0x%x", r.Phys)
		return
	}

	if err := unix.Munmap(info.mem); err != nil {
		log.Error("failed to unmap coherent region at 0x%x: %v", r.Phys, err)
	}
	if err := d.carveout.Free(info.node); err != nil {
		log.Error("failed to release carveout %s: %v", info.node, err)
	}
	delete(d.regions, r.Phys)

	r.CPU = nil
}

// MapSG implements device.DMA. The simulated device is cache coherent with
// an identity mapping, so mapping only records the cache maintenance.
func (d *DMA) MapSG(t *sg.Table, dir device.Direction) error {
	d.Lock()
	defer d.Unlock()

	if t.Len() == 0 {
		return fmt.Errorf("%w: empty sg table", device.ErrInvalid)
	}

	if d.failMap > 0 {
		d.failMap--
		return fmt.Errorf("%w: injected map failure", device.ErrNoMem)
	}

	t.SetIdentityDMA()
	d.mapped++
	d.syncs++

	return nil
}

// UnmapSG implements device.DMA.
func (d *DMA) UnmapSG(t *sg.Table, dir device.Direction) {
	d.Lock()
	defer d.Unlock()

	if d.mapped == 0 {
		log.Error("unbalanced UnmapSG of %s (%s)", t, dir)
		return
	}
	d.mapped--
	d.syncs++
}

// Regions returns the number of allocated coherent regions.
func (d *DMA) Regions() int {
	d.Lock()
	defer d.Unlock()
	return len(d.regions)
}

// Mapped returns the number of currently mapped sg tables.
func (d *DMA) Mapped() int {
	d.Lock()
	defer d.Unlock()
	return d.mapped
}

// Syncs returns the number of cache maintenance operations performed.
func (d *DMA) Syncs() int {
	d.Lock()
	defer d.Unlock()
	return d.syncs
}

// CarveoutAvailable returns the amount of free carveout memory.
func (d *DMA) CarveoutAvailable() uint64 {
	d.Lock()
	defer d.Unlock()
	return d.carveout.Available()
}
