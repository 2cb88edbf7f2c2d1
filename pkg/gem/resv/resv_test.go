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

package resv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/etna-drm/bomgr/pkg/gem/fence"
	"github.com/etna-drm/bomgr/pkg/gem/resv"
)

func TestUpdatesRequireLock(t *testing.T) {
	o := resv.New()
	tl := fence.NewTimeline("gpu0")
	f := fence.Fence{Timeline: tl, Seq: tl.Next()}

	require.ErrorIs(t, o.AddShared(f), resv.ErrNotLocked)
	require.ErrorIs(t, o.AddExclusive(f), resv.ErrNotLocked)

	require.NoError(t, o.Lock(context.Background()))
	require.NoError(t, o.AddShared(f))
	o.Unlock()

	require.ErrorIs(t, o.AddShared(f), resv.ErrNotLocked, "unlocking ends updates")
	require.Len(t, o.Shared(), 1)
	require.NoError(t, o.Fini())
	require.Empty(t, o.Shared())
}

func TestLockInterrupted(t *testing.T) {
	o := resv.New()
	require.NoError(t, o.Lock(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, o.Lock(ctx), resv.ErrInterrupted)

	tctx, tcancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer tcancel()
	require.ErrorIs(t, o.Lock(tctx), resv.ErrInterrupted)

	require.Error(t, o.Fini(), "finalizing a locked object")
	o.Unlock()

	require.NoError(t, o.Lock(context.Background()), "lock is free after unlock")
	o.Unlock()
	require.NoError(t, o.Fini())
}

func TestSharedFencesPerTimeline(t *testing.T) {
	o := resv.New()
	gpu0, gpu1 := fence.NewTimeline("gpu0"), fence.NewTimeline("gpu1")
	for i := 0; i < 5; i++ {
		gpu0.Next()
		gpu1.Next()
	}

	require.NoError(t, o.Lock(context.Background()))
	require.NoError(t, o.AddShared(fence.Fence{Timeline: gpu0, Seq: 3}))
	require.NoError(t, o.AddShared(fence.Fence{Timeline: gpu0, Seq: 2}))
	require.NoError(t, o.AddShared(fence.Fence{Timeline: gpu1, Seq: 4}))
	o.Unlock()

	shared := o.Shared()
	require.Len(t, shared, 2)
	require.Equal(t, uint32(3), shared[0].Seq, "older shared fence must not replace a newer one")
	require.Equal(t, uint32(4), shared[1].Seq)

	_, ok := o.Exclusive()
	require.False(t, ok)
}

func TestExclusiveReplacesShared(t *testing.T) {
	o := resv.New()
	tl := fence.NewTimeline("gpu0")
	read := fence.Fence{Timeline: tl, Seq: tl.Next()}
	write := fence.Fence{Timeline: tl, Seq: tl.Next()}

	require.NoError(t, o.Lock(context.Background()))
	require.NoError(t, o.AddShared(read))
	require.NoError(t, o.AddExclusive(write))
	o.Unlock()

	require.Empty(t, o.Shared())
	excl, ok := o.Exclusive()
	require.True(t, ok)
	require.Equal(t, write, excl)
	require.Equal(t, "gpu0#2", excl.String())

	require.NoError(t, o.Fini())
	_, ok = o.Exclusive()
	require.False(t, ok)
}
