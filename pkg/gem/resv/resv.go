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

// Package resv implements reservation objects, which arbitrate access to a
// buffer shared by multiple consumers.
//
// A reservation object tracks the fences of outstanding device work on a
// buffer: at most one exclusive (write) fence and any number of shared
// (read) fences, one per timeline. Updating the fence set requires holding
// the reservation lock.
package resv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/etna-drm/bomgr/pkg/gem/fence"
)

var (
	ErrInterrupted = fmt.Errorf("resv: lock interrupted")
	ErrNotLocked   = fmt.Errorf("resv: object not locked")
)

// Object is a reservation object.
type Object struct {
	lock   *semaphore.Weighted
	mu     sync.Mutex
	locked bool
	excl   fence.Fence
	shared []fence.Fence
}

// New creates a new unlocked reservation object without fences.
func New() *Object {
	return &Object{
		lock: semaphore.NewWeighted(1),
	}
}

// Lock acquires the reservation lock. The wait can be interrupted by ctx.
func (o *Object) Lock(ctx context.Context) error {
	if err := o.lock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	o.mu.Lock()
	o.locked = true
	o.mu.Unlock()
	return nil
}

// Unlock releases the reservation lock.
func (o *Object) Unlock() {
	o.mu.Lock()
	o.locked = false
	o.mu.Unlock()
	o.lock.Release(1)
}

// AddExclusive sets the exclusive fence, replacing all shared fences,
// which are implicitly ordered before it.
func (o *Object) AddExclusive(f fence.Fence) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.locked {
		return ErrNotLocked
	}

	o.excl = f
	o.shared = o.shared[:0]

	return nil
}

// AddShared adds a shared fence. A shared fence replaces an older one from
// the same timeline.
func (o *Object) AddShared(f fence.Fence) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.locked {
		return ErrNotLocked
	}

	for i, s := range o.shared {
		if s.Timeline == f.Timeline {
			o.shared[i].Seq = fence.Later(s.Seq, f.Seq)
			return nil
		}
	}
	o.shared = append(o.shared, f)

	return nil
}

// Exclusive returns the exclusive fence, if any.
func (o *Object) Exclusive() (fence.Fence, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.excl, o.excl.IsValid()
}

// Shared returns a copy of the shared fences.
func (o *Object) Shared() []fence.Fence {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]fence.Fence(nil), o.shared...)
}

// Fini checks that the object is no longer in use and drops all fences.
func (o *Object) Fini() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	if o.locked {
		errs = append(errs, fmt.Errorf("resv: finalizing locked object"))
	}
	o.excl = fence.Fence{}
	o.shared = nil

	return errors.Join(errs...)
}
