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

package fence_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/etna-drm/bomgr/pkg/gem/fence"
)

func TestAfter(t *testing.T) {
	require.True(t, fence.After(5, 3))
	require.False(t, fence.After(3, 5))
	require.False(t, fence.After(5, 5))
	require.True(t, fence.After(2, math.MaxUint32-1), "wrapped sequence number is later")
	require.Equal(t, uint32(5), fence.Later(5, 3))
	require.Equal(t, uint32(5), fence.Later(3, 5))
	require.Equal(t, uint32(1), fence.Later(math.MaxUint32, 1))
}

func TestSignalIsMonotonic(t *testing.T) {
	tl := fence.NewTimeline("gpu0")
	for i := 0; i < 5; i++ {
		tl.Next()
	}

	tl.Signal(4)
	tl.Signal(2)
	require.Equal(t, uint32(4), tl.Completed())
	require.True(t, tl.IsCompleted(3))
	require.False(t, tl.IsCompleted(5))
}

func TestWaitCompleted(t *testing.T) {
	tl := fence.NewTimeline("gpu0")
	seq := tl.Next()
	tl.Signal(seq)

	require.NoError(t, tl.Wait(context.Background(), seq, time.Millisecond))
}

func TestWaitBlocksUntilSignalled(t *testing.T) {
	tl := fence.NewTimeline("gpu0")
	for i := 0; i < 5; i++ {
		tl.Next()
	}

	done := make(chan error, 1)
	go func() {
		done <- tl.Wait(context.Background(), 5, 0)
	}()

	tl.Signal(4)
	select {
	case err := <-done:
		t.Fatalf("wait returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	tl.Signal(5)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return after fence was signalled")
	}
}

func TestWaitTimeout(t *testing.T) {
	tl := fence.NewTimeline("gpu0")
	seq := tl.Next()

	err := tl.Wait(context.Background(), seq, 10*time.Millisecond)
	require.ErrorIs(t, err, fence.ErrTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = tl.Wait(ctx, seq, 0)
	require.ErrorIs(t, err, fence.ErrTimeout)
}

func TestWaitInterrupted(t *testing.T) {
	tl := fence.NewTimeline("gpu0")
	seq := tl.Next()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := tl.Wait(ctx, seq, 0)
	require.ErrorIs(t, err, fence.ErrInterrupted)

	// retrying after the interruption succeeds once the fence is reached
	tl.Signal(seq)
	require.NoError(t, tl.Wait(context.Background(), seq, 0))
}

func TestWaitInvalidFence(t *testing.T) {
	tl := fence.NewTimeline("gpu0")
	tl.Next()

	err := tl.Wait(context.Background(), 10, 0)
	require.ErrorIs(t, err, fence.ErrInvalidFence)
}

func TestConcurrentWaiters(t *testing.T) {
	tl := fence.NewTimeline("gpu0")
	seq := uint32(0)
	for i := 0; i < 3; i++ {
		seq = tl.Next()
	}

	g := errgroup.Group{}
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			if err := tl.Wait(context.Background(), seq, 5*time.Second); err != nil {
				return err
			}
			if !tl.IsCompleted(seq) {
				t.Errorf("waiter woke up before fence %d", seq)
			}
			return nil
		})
	}

	time.Sleep(10 * time.Millisecond)
	tl.Signal(1)
	tl.Signal(seq)

	require.NoError(t, g.Wait())
}
