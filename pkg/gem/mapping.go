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

	"github.com/etna-drm/bomgr/pkg/gem/shmem"
)

// Mapping is a user mapping of a buffer object. Pages of the mapping are
// installed lazily by faults on first access. An open mapping holds a
// reference to its object.
type Mapping struct {
	obj      *Object
	offset   uint64
	size     int64
	pageSize int64
	pages    []atomic.Pointer[page]
	attr     CacheAttr
	view     *shmem.Mapping
	closed   atomic.Bool
}

// CacheAttr is the CPU cache attribute of the pages of a mapping.
type CacheAttr int

const (
	// AttrCached pages are shared with the backing file.
	AttrCached CacheAttr = iota
	// AttrWriteCombine pages are mapped write-combined.
	AttrWriteCombine
	// AttrUncached pages are mapped uncached.
	AttrUncached
	// AttrCoherent pages are a coherent DMA region.
	AttrCoherent
)

// String returns the name of the attribute.
func (a CacheAttr) String() string {
	switch a {
	case AttrCached:
		return "cached"
	case AttrWriteCombine:
		return "wc"
	case AttrUncached:
		return "uncached"
	case AttrCoherent:
		return "coherent"
	}
	return fmt.Sprintf("<unknown cache attribute %d>", int(a))
}

// cacheAttr returns the attribute for the cache policy of flags.
func cacheAttr(flags Flags) CacheAttr {
	switch flags.CachePolicy() {
	case FlagWC:
		return AttrWriteCombine
	case FlagUncached:
		return AttrUncached
	case FlagCached:
		return AttrCached
	}
	return AttrCoherent
}

type page struct {
	data []byte
}

func newMapping(o *Object, offset uint64) *Mapping {
	return &Mapping{
		obj:      o,
		offset:   offset,
		size:     o.size,
		pageSize: o.m.pageSize,
		pages:    make([]atomic.Pointer[page], o.size/o.m.pageSize),
	}
}

// Object returns the object of the mapping.
func (mp *Mapping) Object() *Object {
	return mp.obj
}

// Offset returns the mmap offset the mapping was created for.
func (mp *Mapping) Offset() uint64 {
	return mp.offset
}

// CacheAttr returns the cache attribute of the pages of the mapping.
func (mp *Mapping) CacheAttr() CacheAttr {
	return mp.attr
}

// Size returns the size of the mapping.
func (mp *Mapping) Size() int64 {
	return mp.size
}

// Resident returns the number of installed pages.
func (mp *Mapping) Resident() int {
	cnt := 0
	for i := range mp.pages {
		if mp.pages[i].Load() != nil {
			cnt++
		}
	}
	return cnt
}

// install installs a page, returning false if one is installed already.
func (mp *Mapping) install(pgoff int, data []byte) bool {
	return mp.pages[pgoff].CompareAndSwap(nil, &page{data: data})
}

// Fault installs the page containing offset.
func (mp *Mapping) Fault(ctx context.Context, offset int64) FaultResult {
	return mp.obj.m.fault(ctx, mp, offset)
}

// ReadAt implements io.ReaderAt, faulting in pages as necessary.
func (mp *Mapping) ReadAt(p []byte, off int64) (int, error) {
	return mp.access(context.Background(), p, off, false)
}

// WriteAt implements io.WriterAt, faulting in pages as necessary.
func (mp *Mapping) WriteAt(p []byte, off int64) (int, error) {
	return mp.access(context.Background(), p, off, true)
}

func (mp *Mapping) access(ctx context.Context, p []byte, off int64, write bool) (int, error) {
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos < 0 || pos >= mp.size {
			return n, fmt.Errorf("%w: offset 0x%x of %d bytes mapping", ErrAccessFault, pos, mp.size)
		}

		data, err := mp.touch(ctx, pos)
		if err != nil {
			return n, err
		}

		inpage := pos % mp.pageSize
		if write {
			n += copy(data[inpage:], p[n:])
		} else {
			n += copy(p[n:], data[inpage:])
		}
	}

	return n, nil
}

// touch returns the page containing pos, faulting it in if necessary.
func (mp *Mapping) touch(ctx context.Context, pos int64) ([]byte, error) {
	pgoff := int(pos / mp.pageSize)

	for {
		if pg := mp.pages[pgoff].Load(); pg != nil {
			return pg.data, nil
		}

		switch res := mp.Fault(ctx, pos); res {
		case FaultNoPage:
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInterrupted, err)
			}
		case FaultOOM:
			return nil, fmt.Errorf("%w: fault at offset 0x%x", ErrNoMem, pos)
		default:
			return nil, fmt.Errorf("%w: fault at offset 0x%x", ErrAccessFault, pos)
		}
	}
}

// Close revokes the mapping and drops its reference to the object.
func (mp *Mapping) Close() error {
	if mp.closed.Swap(true) {
		return nil
	}

	m := mp.obj.m
	m.mustLock()
	defer m.unlock()

	var errs *multierror.Error

	for i := range mp.pages {
		mp.pages[i].Store(nil)
	}
	if err := mp.obj.be.munmap(mp); err != nil {
		errs = multierror.Append(errs, err)
	}

	mp.obj.maps--
	if err := mp.obj.putLocked(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}
