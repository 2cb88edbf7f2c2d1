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
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/etna-drm/bomgr/pkg/gem/device"
	"github.com/etna-drm/bomgr/pkg/gem/resv"
	"github.com/etna-drm/bomgr/pkg/gem/vaspace"
	"github.com/etna-drm/bomgr/pkg/instrumentation/tracing"
)

// Handle identifies a buffer object of a Manager.
type Handle uint64

func makeHandle(idx int, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(idx+1))
}

func (h Handle) split() (int, uint32) {
	return int(uint32(h)) - 1, uint32(h >> 32)
}

// String returns a string representation of the handle.
func (h Handle) String() string {
	idx, gen := h.split()
	return fmt.Sprintf("#%d.%d", idx, gen)
}

type membership int

const (
	inactive membership = iota
	active
)

// Object is a buffer object.
type Object struct {
	m       *Manager
	idx     int
	gen     uint32
	name    string
	size    int64
	flags   Flags
	kind    Kind
	be      backend
	private bool
	handled bool
	freed   bool

	refs  int
	pins  int
	maps  int
	vram  atomic.Pointer[vaspace.Node]
	mmap  *vaspace.Node
	vaddr []byte

	state      membership
	owner      Owner
	readFence  uint32
	writeFence uint32
	resv       *resv.Object
}

// Handle returns the handle of the object, or 0 for private objects.
func (o *Object) Handle() Handle {
	if o.private {
		return 0
	}
	return makeHandle(o.idx, o.gen)
}

// Name returns the name of the object.
func (o *Object) Name() string {
	return o.name
}

// Size returns the page aligned size of the object.
func (o *Object) Size() int64 {
	return o.size
}

// Flags returns the creation flags of the object.
func (o *Object) Flags() Flags {
	return o.flags
}

// Kind returns the kind of backing store of the object.
func (o *Object) Kind() Kind {
	return o.kind
}

// Resv returns the reservation object of the object.
func (o *Object) Resv() *resv.Object {
	return o.resv
}

// String returns a string representation of the object.
func (o *Object) String() string {
	return fmt.Sprintf("%s<%s,%s>", o.name, o.kind, o.flags)
}

// Get takes a reference to the object.
func (o *Object) Get(ctx context.Context) error {
	if err := o.m.lock(ctx); err != nil {
		return err
	}
	defer o.m.unlock()

	o.getLocked()
	return nil
}

// Put drops a reference to the object. Dropping the last reference frees
// the object, which must be inactive and unpinned by then.
func (o *Object) Put(ctx context.Context) error {
	if err := o.m.lock(ctx); err != nil {
		return err
	}
	defer o.m.unlock()

	return o.putLocked()
}

func (o *Object) getLocked() {
	if o.freed {
		contractViolation("reference to freed object %s", o)
	}
	o.refs++
}

func (o *Object) putLocked() error {
	if o.refs <= 0 || o.freed {
		contractViolation("unbalanced put of %s", o)
	}

	o.refs--
	if o.refs > 0 {
		return nil
	}

	return o.free()
}

// GetIOVA returns the device virtual address of the object, mapping it into
// the device address space on first use. Contiguous objects are addressed
// by their physical address.
func (o *Object) GetIOVA(ctx context.Context) (uint64, error) {
	if iova, ok := o.fastIOVA(); ok {
		return iova, nil
	}

	ctx, span := tracing.StartSpan(ctx, "gem.GetIOVA",
		tracing.WithAttributes(tracing.Attribute("object", o.name)))

	if err := o.m.lock(ctx); err != nil {
		span.End(err)
		return 0, err
	}
	iova, err := o.getIOVALocked()
	o.m.unlock()

	span.End(err)
	return iova, err
}

func (o *Object) fastIOVA() (uint64, bool) {
	if paddr, ok := o.paddr(); ok {
		return paddr, true
	}
	if node := o.vram.Load(); node != nil {
		return node.Start, true
	}
	return 0, false
}

func (o *Object) paddr() (uint64, bool) {
	if o.kind != KindContiguous {
		return 0, false
	}
	return o.be.paddr()
}

func (o *Object) getIOVALocked() (uint64, error) {
	if iova, ok := o.fastIOVA(); ok {
		return iova, nil
	}

	if err := o.getPagesLocked(); err != nil {
		return 0, err
	}

	m := o.m
	node, err := m.iovas.Allocate(uint64(o.size), o)
	if err != nil {
		return 0, allocError(err)
	}

	if err := m.mmu.Map(node.Start, o.be.sgTable(), o.size, device.ProtReadWrite); err != nil {
		if ferr := m.iovas.Free(node); ferr != nil {
			log.Error("failed to release device address range %s: %v", node, ferr)
		}
		return 0, fmt.Errorf("%w: failed to map %s at 0x%x: %w", ErrNoMem, o, node.Start, err)
	}

	m.stats.DeviceMaps++
	o.vram.Store(node)

	log.Debug("%s: mapped at device address 0x%x", o, node.Start)

	return node.Start, nil
}

// Pin returns the device virtual address of the object and pins the
// mapping. A pinned object can't be freed.
func (o *Object) Pin(ctx context.Context) (uint64, error) {
	if err := o.m.lock(ctx); err != nil {
		return 0, err
	}
	defer o.m.unlock()

	iova, err := o.getIOVALocked()
	if err != nil {
		return 0, err
	}
	o.pins++

	return iova, nil
}

// Unpin drops a pin taken by Pin.
func (o *Object) Unpin(ctx context.Context) error {
	if err := o.m.lock(ctx); err != nil {
		return err
	}
	defer o.m.unlock()

	if o.pins == 0 {
		contractViolation("unbalanced unpin of %s", o)
	}
	o.pins--

	return nil
}

// PAddr returns the physical address of a contiguous object.
func (o *Object) PAddr() (uint64, error) {
	paddr, ok := o.paddr()
	if !ok {
		return 0, fmt.Errorf("%w: %s has no physical address", ErrInvalidArgument, o)
	}
	return paddr, nil
}

// VAddr returns a linear CPU mapping of the object, creating it on first use.
func (o *Object) VAddr(ctx context.Context) ([]byte, error) {
	if err := o.m.lock(ctx); err != nil {
		return nil, err
	}
	defer o.m.unlock()

	return o.vaddrLocked()
}

func (o *Object) vaddrLocked() ([]byte, error) {
	if o.vaddr != nil {
		return o.vaddr, nil
	}

	if err := o.getPagesLocked(); err != nil {
		return nil, err
	}

	vaddr, err := o.be.vmap()
	if err != nil {
		return nil, err
	}
	o.vaddr = vaddr
	o.m.stats.KernelMaps++

	return vaddr, nil
}

// MmapOffset returns the fake offset for mapping the object with
// Manager.Mmap, allocating one on first use.
func (o *Object) MmapOffset(ctx context.Context) (uint64, error) {
	if err := o.m.lock(ctx); err != nil {
		return 0, err
	}
	defer o.m.unlock()

	return o.mmapOffsetLocked()
}

func (o *Object) mmapOffsetLocked() (uint64, error) {
	if o.mmap == nil {
		node, err := o.m.offsets.Allocate(uint64(o.size), o)
		if err != nil {
			log.Error("could not allocate mmap offset for %s: %v", o, err)
			return 0, allocError(err)
		}
		o.mmap = node
	}
	return o.mmap.Start, nil
}

// getPagesLocked makes the backing memory resident and builds its
// scatter-gather table.
func (o *Object) getPagesLocked() error {
	if !o.be.hasPages() {
		if err := o.be.getPages(); err != nil {
			return err
		}
		o.m.stats.PagesAcquired++
	}

	if o.be.sgTable() == nil {
		if err := o.be.getSGT(); err != nil {
			return err
		}
		o.m.stats.SGTables++
	}

	return nil
}

// free tears down the object: device mapping, CPU mappings, scatter-gather
// table, backing memory, mmap offset and reservation, in this order.
func (o *Object) free() error {
	switch {
	case o.state == active:
		contractViolation("freeing active object %s", o)
	case o.pins > 0:
		contractViolation("freeing object %s with %d pins", o, o.pins)
	case o.maps > 0:
		contractViolation("freeing object %s with %d user mappings", o, o.maps)
	}

	var (
		m    = o.m
		errs *multierror.Error
	)

	if node := o.vram.Load(); node != nil {
		m.mmu.Unmap(node.Start, o.be.sgTable(), o.size)
		if err := m.iovas.Free(node); err != nil {
			errs = multierror.Append(errs, err)
		}
		o.vram.Store(nil)
		m.stats.DeviceUnmaps++
	}

	o.vaddr = nil
	if err := o.be.release(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if o.mmap != nil {
		if err := m.offsets.Free(o.mmap); err != nil {
			errs = multierror.Append(errs, err)
		}
		o.mmap = nil
	}

	if err := o.resv.Fini(); err != nil {
		errs = multierror.Append(errs, err)
	}

	m.releaseSlot(o)
	o.freed = true
	m.stats.Freed++

	if err := errs.ErrorOrNil(); err != nil {
		log.Error("failed to free %s: %v", o, err)
		return fmt.Errorf("gem: failed to free %s: %w", o, err)
	}

	log.Debug("freed %s", o)

	return nil
}
