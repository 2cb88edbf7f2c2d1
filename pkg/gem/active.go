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

	"github.com/etna-drm/bomgr/pkg/gem/fence"
	"github.com/etna-drm/bomgr/pkg/instrumentation/tracing"
)

// Owner is a GPU pipe executing work which references buffer objects.
// A *fence.Timeline is an Owner.
type Owner interface {
	// Name returns the name of the owner.
	Name() string
	// Fence returns the fence for a sequence number of the owner.
	Fence(seq uint32) fence.Fence
	// Completed returns the last completed sequence number.
	Completed() uint32
	// Wait waits for a sequence number to complete.
	Wait(ctx context.Context, seq uint32, timeout time.Duration) error
}

var _ Owner = &fence.Timeline{}

// later returns the later of two fences, treating 0 as no fence.
func later(cur, seq uint32) uint32 {
	switch {
	case cur == 0:
		return seq
	case seq == 0:
		return cur
	}
	return fence.Later(cur, seq)
}

// MoveToActive marks the object used by a GPU submission of owner which
// completes at fence seq. The read or write fence of the object is
// advanced to seq, never moved backwards.
func (o *Object) MoveToActive(ctx context.Context, owner Owner, write bool, seq uint32) error {
	if err := o.m.lock(ctx); err != nil {
		return err
	}
	defer o.m.unlock()

	if err := o.checkActivateLocked(owner, seq); err != nil {
		return err
	}

	if err := o.resv.Lock(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	defer o.resv.Unlock()

	o.markActiveLocked(owner, write, seq)

	return nil
}

// checkActivateLocked verifies that the object can become active on owner.
func (o *Object) checkActivateLocked(owner Owner, seq uint32) error {
	if owner == nil {
		contractViolation("moving %s to active without an owner", o)
	}
	if o.state == active && o.owner != owner {
		contractViolation("moving %s active on %s to %s", o, o.owner.Name(), owner.Name())
	}
	if seq == 0 {
		return fmt.Errorf("%w: moving %s to active without a fence", ErrInvalidArgument, o)
	}
	return nil
}

// markActiveLocked does the transition. The caller must hold the
// reservation lock and have checked the transition with checkActivateLocked.
func (o *Object) markActiveLocked(owner Owner, write bool, seq uint32) {
	if o.state == inactive {
		o.getLocked()
		o.state = active
	}
	o.owner = owner

	var err error
	if write {
		o.writeFence = later(o.writeFence, seq)
		err = o.resv.AddExclusive(owner.Fence(o.writeFence))
	} else {
		o.readFence = later(o.readFence, seq)
		err = o.resv.AddShared(owner.Fence(o.readFence))
	}
	if err != nil {
		log.Error("%s: failed to record fence %d: %v", o, seq, err)
	}

	details.Debug("%s: active on %s (r=%d,w=%d)", o, owner.Name(), o.readFence, o.writeFence)
}

// MoveToInactive marks the object no longer used by the GPU. This drops the
// reference held by the GPU and can free the object.
func (o *Object) MoveToInactive(ctx context.Context) error {
	if err := o.m.lock(ctx); err != nil {
		return err
	}
	defer o.m.unlock()

	return o.moveToInactiveLocked()
}

func (o *Object) moveToInactiveLocked() error {
	if o.state != active {
		return nil
	}

	details.Debug("%s: inactive (was r=%d,w=%d on %s)", o, o.readFence, o.writeFence,
		o.owner.Name())

	o.owner = nil
	o.readFence = 0
	o.writeFence = 0
	o.state = inactive

	if err := o.resv.Fini(); err != nil {
		log.Error("%s: failed to drop fences: %v", o, err)
	}

	return o.putLocked()
}

// isIdleLocked returns true if the fences of an active object are reached.
func (o *Object) isIdleLocked() bool {
	done := o.owner.Completed()
	return !fence.After(o.readFence, done) && !fence.After(o.writeFence, done)
}

// CPUPrepare prepares the object for CPU access. If the object is active,
// reading waits for the last GPU write and writing waits for the last GPU
// read. PrepNoSync skips waiting. A zero timeout waits without a deadline.
// Cancelling ctx interrupts the wait with ErrInterrupted, an expired timeout
// fails it with ErrTimeout. Both can be retried.
func (o *Object) CPUPrepare(ctx context.Context, op PrepOp, timeout time.Duration) (retErr error) {
	if op&^validPrepOps != 0 || op&(PrepRead|PrepWrite) == 0 {
		return fmt.Errorf("%w: CPU prepare operation %s", ErrInvalidArgument, op)
	}

	ctx, span := tracing.StartSpan(ctx, "gem.CPUPrepare",
		tracing.WithAttributes(
			tracing.Attribute("object", o.name),
			tracing.Attribute("op", op),
		))
	defer func() { span.End(retErr) }()

	if err := o.m.lock(ctx); err != nil {
		return err
	}

	if o.state != active {
		o.m.unlock()
		return nil
	}

	var seq uint32
	if op&PrepRead != 0 {
		seq = o.writeFence
	}
	if op&PrepWrite != 0 {
		seq = later(seq, o.readFence)
	}
	owner := o.owner

	o.m.unlock()

	if op&PrepNoSync != 0 || seq == 0 {
		return nil
	}

	details.Debug("%s: %s waiting for %s#%d", o, op, owner.Name(), seq)

	return waitError(owner.Wait(ctx, seq, timeout))
}

// CPUFini ends CPU access started by CPUPrepare.
func (o *Object) CPUFini(op PrepOp) error {
	if op&^validPrepOps != 0 {
		return fmt.Errorf("%w: CPU fini operation %s", ErrInvalidArgument, op)
	}
	return nil
}
