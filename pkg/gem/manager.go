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
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/etna-drm/bomgr/pkg/gem/device"
	"github.com/etna-drm/bomgr/pkg/gem/resv"
	"github.com/etna-drm/bomgr/pkg/gem/shmem"
	"github.com/etna-drm/bomgr/pkg/gem/vaspace"
	"github.com/etna-drm/bomgr/pkg/instrumentation/tracing"
)

const (
	// DefaultAddressSpaceBase is the default start of the device address space.
	DefaultAddressSpaceBase = 0x10000000
	// DefaultAddressSpaceSize is the default size of the device address space.
	DefaultAddressSpaceSize = 0x80000000
	// DefaultMmapOffsetBase is the default start of the fake mmap offsets.
	DefaultMmapOffsetBase = 0x100000000
	// DefaultMmapOffsetSize is the default size of the fake mmap offset range.
	DefaultMmapOffsetSize = 0x1000000000
	// DefaultFaultLogRate is the default rate of logged fault failures.
	DefaultFaultLogRate = rate.Limit(10)
	// DefaultFaultLogBurst is the default burst of logged fault failures.
	DefaultFaultLogBurst = 10
)

// Manager manages buffer objects.
type Manager struct {
	sem      *semaphore.Weighted
	name     string
	pageSize int64
	dma      device.DMA
	mmu      device.IOMMU

	iovaRange    vaspace.Range
	iovaFit      vaspace.Fit
	mmapRange    vaspace.Range
	faultRate    rate.Limit
	faultBurst   int
	iovas        *vaspace.Allocator
	offsets      *vaspace.Allocator
	faultLimiter *rate.Limiter

	slots  []*slot
	free   []int
	stats  Stats
	closed bool
}

type slot struct {
	gen uint32
	obj *Object
}

// Stats are cumulative statistics of a Manager.
type Stats struct {
	Created       uint64
	Freed         uint64
	PagesAcquired uint64
	SGTables      uint64
	DeviceMaps    uint64
	DeviceUnmaps  uint64
	KernelMaps    uint64
	Faults        uint64
	BusyFaults    uint64
	FailedFaults  uint64
}

// Option is an option for a Manager.
type Option func(*Manager) error

// WithName sets the name of the manager, used for naming objects.
func WithName(name string) Option {
	return func(m *Manager) error {
		m.name = name
		return nil
	}
}

// WithAddressSpace sets the device address space and allocation policy.
func WithAddressSpace(base, size uint64, fit vaspace.Fit) Option {
	return func(m *Manager) error {
		m.iovaRange = vaspace.Range{Start: base, Size: size}
		m.iovaFit = fit
		return nil
	}
}

// WithMmapOffsets sets the range of fake mmap offsets.
func WithMmapOffsets(base, size uint64) Option {
	return func(m *Manager) error {
		m.mmapRange = vaspace.Range{Start: base, Size: size}
		return nil
	}
}

// WithFaultLogLimit limits the rate of logged fault failures.
func WithFaultLogLimit(limit rate.Limit, burst int) Option {
	return func(m *Manager) error {
		if limit < 0 || burst < 0 {
			return fmt.Errorf("%w: fault log limit %v, burst %d", ErrInvalidArgument, limit, burst)
		}
		m.faultRate = limit
		m.faultBurst = burst
		return nil
	}
}

// New creates a manager for objects used by a device with the given DMA
// and IOMMU interfaces.
func New(dma device.DMA, mmu device.IOMMU, options ...Option) (*Manager, error) {
	if dma == nil || mmu == nil {
		return nil, fmt.Errorf("%w: manager needs both DMA and IOMMU", ErrInvalidArgument)
	}

	m := &Manager{
		sem:        semaphore.NewWeighted(1),
		name:       "gem",
		pageSize:   shmem.PageSize(),
		dma:        dma,
		mmu:        mmu,
		iovaRange:  vaspace.Range{Start: DefaultAddressSpaceBase, Size: DefaultAddressSpaceSize},
		iovaFit:    vaspace.FirstFit,
		mmapRange:  vaspace.Range{Start: DefaultMmapOffsetBase, Size: DefaultMmapOffsetSize},
		faultRate:  DefaultFaultLogRate,
		faultBurst: DefaultFaultLogBurst,
	}

	for _, o := range options {
		if err := o(m); err != nil {
			return nil, failedOptionError(err)
		}
	}

	iovas, err := vaspace.New(m.iovaRange.Start, m.iovaRange.Size,
		vaspace.WithName(m.name+"-iova"),
		vaspace.WithAlignment(uint64(m.pageSize)),
		vaspace.WithFit(m.iovaFit),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: device address space: %w", ErrInvalidArgument, err)
	}

	offsets, err := vaspace.New(m.mmapRange.Start, m.mmapRange.Size,
		vaspace.WithName(m.name+"-mmap"),
		vaspace.WithAlignment(uint64(m.pageSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap offsets: %w", ErrInvalidArgument, err)
	}

	m.iovas = iovas
	m.offsets = offsets
	m.faultLimiter = rate.NewLimiter(m.faultRate, m.faultBurst)

	log.Info("created manager %s, device address space %s (%s), page size %d",
		m.name, m.iovaRange, m.iovaFit, m.pageSize)

	return m, nil
}

func (m *Manager) lock(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return nil
}

func (m *Manager) mustLock() {
	if err := m.sem.Acquire(context.Background(), 1); err != nil {
		panic(fmt.Errorf("gem: failed to lock manager: %w", err))
	}
}

func (m *Manager) unlock() {
	m.sem.Release(1)
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// PageSize returns the page size used by the manager.
func (m *Manager) PageSize() int64 {
	return m.pageSize
}

// Create creates an object of the given size and flags, returning a handle
// to it. The handle holds the only reference to the object.
func (m *Manager) Create(ctx context.Context, size int64, flags Flags) (h Handle, retErr error) {
	ctx, span := tracing.StartSpan(ctx, "gem.Create",
		tracing.WithAttributes(
			tracing.Attribute("size", size),
			tracing.Attribute("flags", flags),
		))
	defer func() { span.End(retErr) }()

	o, err := m.newObject(ctx, size, flags, false)
	if err != nil {
		return 0, err
	}

	return o.Handle(), nil
}

// NewPrivate creates an object without a handle. The caller owns the only
// reference to the object and frees it with Object.Put.
func (m *Manager) NewPrivate(ctx context.Context, size int64, flags Flags) (*Object, error) {
	return m.newObject(ctx, size, flags, true)
}

func (m *Manager) newObject(ctx context.Context, size int64, flags Flags, private bool) (*Object, error) {
	kind, err := KindForFlags(flags)
	if err != nil {
		log.Error("invalid flags %s: %v", flags, err)
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: object size %d", ErrInvalidArgument, size)
	}
	size = (size + m.pageSize - 1) / m.pageSize * m.pageSize

	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	if m.closed {
		return nil, ErrClosed
	}

	idx, gen := m.allocSlot()
	o := &Object{
		m:       m,
		idx:     idx,
		gen:     gen,
		name:    fmt.Sprintf("%s-bo%d", m.name, idx),
		size:    size,
		flags:   flags,
		kind:    kind,
		private: private,
		handled: !private,
		refs:    1,
		resv:    resv.New(),
	}

	switch kind {
	case KindContiguous:
		o.be, err = newDMABackend(size, m.pageSize, m.dma)
	default:
		o.be, err = newShmemBackend(o.name, size, flags, m.dma)
	}
	if err != nil {
		m.free = append(m.free, idx)
		log.Error("failed to create %s object of %d bytes: %v", kind, size, err)
		return nil, err
	}

	m.slots[idx].obj = o
	m.stats.Created++

	log.Debug("created %s (%d bytes)", o, size)

	return o, nil
}

func (m *Manager) allocSlot() (int, uint32) {
	if n := len(m.free); n > 0 {
		idx := m.free[n-1]
		m.free = m.free[:n-1]
		return idx, m.slots[idx].gen
	}

	m.slots = append(m.slots, &slot{gen: 1})
	return len(m.slots) - 1, 1
}

func (m *Manager) releaseSlot(o *Object) {
	s := m.slots[o.idx]
	s.obj = nil
	s.gen++
	if s.gen == 0 {
		s.gen++
	}
	m.free = append(m.free, o.idx)
}

func (m *Manager) lookupLocked(h Handle) (*Object, error) {
	idx, gen := h.split()
	if idx < 0 || idx >= len(m.slots) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}

	s := m.slots[idx]
	if s.gen != gen || s.obj == nil || !s.obj.handled {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHandle, h)
	}

	return s.obj, nil
}

// Lookup returns the object of a handle with a reference taken. The caller
// must drop the reference with Object.Put.
func (m *Manager) Lookup(ctx context.Context, h Handle) (*Object, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	o, err := m.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	o.getLocked()

	return o, nil
}

// Destroy deletes a handle and drops its reference. The object is freed
// once no other references remain.
func (m *Manager) Destroy(ctx context.Context, h Handle) (retErr error) {
	ctx, span := tracing.StartSpan(ctx, "gem.Destroy",
		tracing.WithAttributes(tracing.Attribute("handle", h)))
	defer func() { span.End(retErr) }()

	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	o, err := m.lookupLocked(h)
	if err != nil {
		return err
	}
	o.handled = false

	return o.putLocked()
}

func (m *Manager) withObject(ctx context.Context, h Handle, fn func(*Object) error) (retErr error) {
	o, err := m.Lookup(ctx, h)
	if err != nil {
		return err
	}

	defer func() {
		m.mustLock()
		defer m.unlock()
		if err := o.putLocked(); err != nil {
			retErr = multierror.Append(retErr, err)
		}
	}()

	return fn(o)
}

// GetIOVA returns the device virtual address of the object of a handle.
func (m *Manager) GetIOVA(ctx context.Context, h Handle) (uint64, error) {
	var iova uint64
	err := m.withObject(ctx, h, func(o *Object) error {
		var err error
		iova, err = o.GetIOVA(ctx)
		return err
	})
	return iova, err
}

// VAddr returns a linear CPU mapping of the object of a handle.
func (m *Manager) VAddr(ctx context.Context, h Handle) ([]byte, error) {
	var vaddr []byte
	err := m.withObject(ctx, h, func(o *Object) error {
		var err error
		vaddr, err = o.VAddr(ctx)
		return err
	})
	return vaddr, err
}

// MmapOffset returns the fake mmap offset of the object of a handle.
func (m *Manager) MmapOffset(ctx context.Context, h Handle) (uint64, error) {
	var offset uint64
	err := m.withObject(ctx, h, func(o *Object) error {
		var err error
		offset, err = o.MmapOffset(ctx)
		return err
	})
	return offset, err
}

// CPUPrepare prepares the object of a handle for CPU access.
func (m *Manager) CPUPrepare(ctx context.Context, h Handle, op PrepOp, timeout time.Duration) error {
	return m.withObject(ctx, h, func(o *Object) error {
		return o.CPUPrepare(ctx, op, timeout)
	})
}

// CPUFini ends CPU access to the object of a handle.
func (m *Manager) CPUFini(ctx context.Context, h Handle, op PrepOp) error {
	return m.withObject(ctx, h, func(o *Object) error {
		return o.CPUFini(op)
	})
}

// MoveToActive marks the object of a handle active. See Object.MoveToActive.
func (m *Manager) MoveToActive(ctx context.Context, h Handle, owner Owner, write bool, seq uint32) error {
	return m.withObject(ctx, h, func(o *Object) error {
		return o.MoveToActive(ctx, owner, write, seq)
	})
}

// MoveToInactive marks the object of a handle inactive.
func (m *Manager) MoveToInactive(ctx context.Context, h Handle) error {
	return m.withObject(ctx, h, func(o *Object) error {
		return o.MoveToInactive(ctx)
	})
}

// Mmap creates a user mapping of the object with the given mmap offset.
func (m *Manager) Mmap(ctx context.Context, offset uint64) (*Mapping, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	node, ok := m.offsets.Lookup(offset)
	if !ok {
		return nil, fmt.Errorf("%w: no object at mmap offset 0x%x", ErrInvalidArgument, offset)
	}

	o := node.Owner().(*Object)
	o.getLocked()

	mp := newMapping(o, offset)
	if err := o.be.mmap(mp); err != nil {
		if perr := o.putLocked(); perr != nil {
			log.Error("%v", perr)
		}
		return nil, err
	}
	o.maps++

	details.Debug("%s: mapped at offset 0x%x (%s)", o, offset, mp.attr)

	return mp, nil
}

// SubmitEntry is an object referenced by a GPU submission.
type SubmitEntry struct {
	Handle Handle
	Write  bool
}

// Submit marks all objects of a GPU submission of owner active with the
// fence of the submission. All handles are checked and all reservations
// locked before any object is marked, so a failed submission marks nothing.
func (m *Manager) Submit(ctx context.Context, owner Owner, seq uint32, entries ...SubmitEntry) (retErr error) {
	ctx, span := tracing.StartSpan(ctx, "gem.Submit",
		tracing.WithAttributes(
			tracing.Attribute("owner", owner.Name()),
			tracing.Attribute("fence", seq),
			tracing.Attribute("objects", len(entries)),
		))
	defer func() { span.End(retErr) }()

	if seq == 0 {
		return fmt.Errorf("%w: submission without a fence", ErrInvalidArgument)
	}

	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	objs := make([]*Object, 0, len(entries))
	for _, e := range entries {
		o, err := m.lookupLocked(e.Handle)
		if err != nil {
			return err
		}
		objs = append(objs, o)
	}

	for _, o := range objs {
		if err := o.checkActivateLocked(owner, seq); err != nil {
			return err
		}
	}

	var (
		locked = make([]*Object, 0, len(objs))
		seen   = make(map[*Object]struct{}, len(objs))
	)
	defer func() {
		for _, o := range locked {
			o.resv.Unlock()
		}
	}()

	for _, o := range objs {
		if _, ok := seen[o]; ok {
			continue
		}
		if err := o.resv.Lock(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		seen[o] = struct{}{}
		locked = append(locked, o)
	}

	for i, o := range objs {
		o.markActiveLocked(owner, entries[i].Write, seq)
	}

	return nil
}

// Retire marks all active objects of owner with reached fences inactive,
// returning the number of retired objects.
func (m *Manager) Retire(ctx context.Context, owner Owner) (int, error) {
	if err := m.lock(ctx); err != nil {
		return 0, err
	}
	defer m.unlock()

	var (
		cnt  int
		errs *multierror.Error
	)

	for _, s := range m.slots {
		o := s.obj
		if o == nil || o.state != active || o.owner != owner || !o.isIdleLocked() {
			continue
		}
		if err := o.moveToInactiveLocked(); err != nil {
			errs = multierror.Append(errs, err)
		}
		cnt++
	}

	if cnt > 0 {
		details.Debug("retired %d objects of %s", cnt, owner.Name())
	}

	return cnt, errs.ErrorOrNil()
}

// Stats returns a snapshot of the statistics of the manager.
func (m *Manager) Stats() Stats {
	m.mustLock()
	defer m.unlock()
	return m.stats
}

// AddressSpace describes the state of the device address space.
type AddressSpace struct {
	vaspace.Range
	Used      uint64
	Available uint64
	Largest   uint64
	Nodes     int
	Free      []vaspace.Range
}

// AddressSpace returns a snapshot of the device address space.
func (m *Manager) AddressSpace() AddressSpace {
	m.mustLock()
	defer m.unlock()

	return AddressSpace{
		Range:     m.iovas.Space(),
		Used:      m.iovas.Used(),
		Available: m.iovas.Available(),
		Largest:   m.iovas.Largest(),
		Nodes:     m.iovas.NodeCount(),
		Free:      m.iovas.FreeRanges(),
	}
}

// Close deletes all handles. Objects which remain referenced, for instance
// by the GPU or by user mappings, are reported as errors.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs *multierror.Error

	for _, s := range m.slots {
		if o := s.obj; o != nil && o.handled {
			o.handled = false
			if err := o.putLocked(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	for _, s := range m.slots {
		if o := s.obj; o != nil {
			errs = multierror.Append(errs,
				fmt.Errorf("gem: %s still has %d references", o, o.refs))
		}
	}

	if m.iovas.NodeCount() != 0 {
		errs = multierror.Append(errs,
			fmt.Errorf("gem: %d device address ranges still in use", m.iovas.NodeCount()))
	}

	log.Info("closed manager %s", m.name)

	return errs.ErrorOrNil()
}
