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

// Package fence implements GPU progress tracking using monotonically
// increasing 32-bit sequence numbers.
//
// A Timeline hands out sequence numbers for submitted work and records the
// latest sequence number the device has reported completed. Reaching N
// implies completion of all work up to N. Sequence numbers are compared
// with wrap-around arithmetic, so a timeline keeps working after its
// counter overflows as long as no two live sequence numbers are more than
// 2^31 apart.
package fence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/etna-drm/bomgr/pkg/log"
)

var (
	ErrTimeout      = fmt.Errorf("fence: wait timed out")
	ErrInterrupted  = fmt.Errorf("fence: wait interrupted")
	ErrInvalidFence = fmt.Errorf("fence: waiting on unemitted fence")
)

var (
	log = logger.Get("fence")
)

// After returns true if sequence number a is later than b.
func After(a, b uint32) bool {
	return int32(a-b) > 0
}

// Later returns the later of the two sequence numbers.
func Later(a, b uint32) uint32 {
	if After(a, b) {
		return a
	}
	return b
}

// Timeline is a sequence of fences signalled in order by a device.
type Timeline struct {
	name      string
	mu        sync.Mutex
	emitted   uint32
	completed uint32
	signal    chan struct{}
}

// NewTimeline creates a new timeline with no emitted fences.
func NewTimeline(name string) *Timeline {
	return &Timeline{
		name:   name,
		signal: make(chan struct{}),
	}
}

// Name returns the name of the timeline.
func (t *Timeline) Name() string {
	return t.name
}

// Fence returns the fence for the given sequence number on the timeline.
func (t *Timeline) Fence(seq uint32) Fence {
	return Fence{Timeline: t, Seq: seq}
}

// Next emits and returns the next sequence number of the timeline.
func (t *Timeline) Next() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.emitted++
	if t.emitted == 0 {
		t.emitted++
	}

	return t.emitted
}

// Emitted returns the last emitted sequence number.
func (t *Timeline) Emitted() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emitted
}

// Completed returns the last completed sequence number.
func (t *Timeline) Completed() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// IsCompleted returns true if the given sequence number has been reached.
func (t *Timeline) IsCompleted(seq uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !After(seq, t.completed)
}

// Signal marks all fences up to seq completed and wakes up waiters.
// Signalling an older sequence number than the current one is a no-op.
func (t *Timeline) Signal(seq uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !After(seq, t.completed) {
		return
	}

	t.completed = seq
	if After(seq, t.emitted) {
		t.emitted = seq
	}

	close(t.signal)
	t.signal = make(chan struct{})

	log.Debug("%s: completed fence %d", t.name, seq)
}

// Wait blocks until seq is reached, the timeout expires or ctx is done.
// A zero timeout waits without a deadline. Cancellation of ctx results in
// ErrInterrupted, an expired timeout or ctx deadline in ErrTimeout. Both
// are recoverable by retrying the wait.
func (t *Timeline) Wait(ctx context.Context, seq uint32, timeout time.Duration) error {
	var expired <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		t.mu.Lock()
		if !After(seq, t.completed) {
			t.mu.Unlock()
			return nil
		}
		if After(seq, t.emitted) {
			emitted := t.emitted
			t.mu.Unlock()
			return fmt.Errorf("%w: %s: fence %d, last emitted %d", ErrInvalidFence,
				t.name, seq, emitted)
		}
		signal := t.signal
		t.mu.Unlock()

		select {
		case <-signal:
		case <-expired:
			return fmt.Errorf("%w: %s: fence %d after %s", ErrTimeout, t.name, seq, timeout)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s: fence %d: %w", ErrTimeout, t.name, seq, ctx.Err())
			}
			return fmt.Errorf("%w: %s: fence %d: %w", ErrInterrupted, t.name, seq, ctx.Err())
		}
	}
}
