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

package gem_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	. "github.com/etna-drm/bomgr/pkg/gem"
)

func (s *testSetup) mmap(t *testing.T, h Handle) *Mapping {
	t.Helper()

	ctx := context.Background()
	offset, err := s.m.MmapOffset(ctx, h)
	require.NoError(t, err)

	again, err := s.m.MmapOffset(ctx, h)
	require.NoError(t, err)
	require.Equal(t, offset, again, "mmap offset is stable")

	mp, err := s.m.Mmap(ctx, offset)
	require.NoError(t, err)
	require.Equal(t, offset, mp.Offset())

	return mp
}

func TestConcurrentFirstTouchFaults(t *testing.T) {
	for _, flags := range []Flags{FlagCached, FlagWC, FlagUncached} {
		t.Run(flags.String(), func(t *testing.T) {
			var (
				s       = newTestSetup(t)
				ctx     = context.Background()
				g       = errgroup.Group{}
				results = make([]FaultResult, 8)
			)

			h, err := s.m.Create(ctx, 4*s.page, flags)
			require.NoError(t, err)

			mp := s.mmap(t, h)
			defer mp.Close()

			for i := range results {
				i := i
				g.Go(func() error {
					results[i] = mp.Fault(ctx, 16)
					return nil
				})
			}
			require.NoError(t, g.Wait())

			for i, r := range results {
				require.Equal(t, FaultNoPage, r, "fault #%d", i)
			}

			stats := s.m.Stats()
			require.Equal(t, uint64(1), stats.SGTables, "exactly one sg table")
			require.Equal(t, uint64(1), stats.PagesAcquired)
			require.Equal(t, uint64(len(results)), stats.Faults)
			require.Equal(t, uint64(len(results)-1), stats.BusyFaults)
			require.Equal(t, 1, mp.Resident())
		})
	}
}

func TestMappingAccess(t *testing.T) {
	for _, flags := range []Flags{FlagCached, FlagWC, FlagUncached, FlagScanout} {
		t.Run(flags.String(), func(t *testing.T) {
			var (
				s    = newTestSetup(t)
				ctx  = context.Background()
				data = []byte("crossing a page boundary")
			)

			h, err := s.m.Create(ctx, 2*s.page, flags)
			require.NoError(t, err)

			mp := s.mmap(t, h)
			require.Equal(t, 2*s.page, mp.Size())

			off := s.page - 8
			n, err := mp.WriteAt(data, off)
			require.NoError(t, err)
			require.Equal(t, len(data), n)
			require.Equal(t, 2, mp.Resident())

			buf := make([]byte, len(data))
			n, err = mp.ReadAt(buf, off)
			require.NoError(t, err)
			require.Equal(t, len(data), n)
			require.Equal(t, data, buf)

			vaddr, err := s.m.VAddr(ctx, h)
			require.NoError(t, err)
			require.True(t, bytes.Equal(data, vaddr[off:off+int64(len(data))]),
				"kernel and user mappings share memory")

			_, err = mp.ReadAt(buf, 2*s.page-4)
			require.ErrorIs(t, err, ErrAccessFault)

			require.NoError(t, mp.Close())
			require.NoError(t, mp.Close(), "closing twice is harmless")
			require.NoError(t, s.m.Destroy(ctx, h))
			require.Equal(t, 0, s.dma.Regions())
		})
	}
}

func TestMappingCacheAttr(t *testing.T) {
	type testCase struct {
		flags Flags
		attr  CacheAttr
		name  string
	}

	for _, tc := range []*testCase{
		{flags: FlagCached, attr: AttrCached, name: "cached"},
		{flags: FlagWC, attr: AttrWriteCombine, name: "wc"},
		{flags: FlagUncached, attr: AttrUncached, name: "uncached"},
		{flags: FlagScanout, attr: AttrCoherent, name: "coherent"},
		{flags: FlagCmdStream, attr: AttrCoherent, name: "coherent"},
	} {
		t.Run(tc.flags.String(), func(t *testing.T) {
			var (
				s   = newTestSetup(t)
				ctx = context.Background()
			)

			h, err := s.m.Create(ctx, s.page, tc.flags)
			require.NoError(t, err)

			mp := s.mmap(t, h)
			require.Equal(t, tc.attr, mp.CacheAttr())
			require.Equal(t, tc.name, mp.CacheAttr().String())

			require.NoError(t, mp.Close())
			require.NoError(t, s.m.Destroy(ctx, h))
		})
	}
}

func TestContiguousMappingIsPopulated(t *testing.T) {
	var (
		s   = newTestSetup(t)
		ctx = context.Background()
	)

	h, err := s.m.Create(ctx, 3*s.page, FlagCmdStream)
	require.NoError(t, err)

	mp := s.mmap(t, h)
	defer mp.Close()

	require.Equal(t, 3, mp.Resident())
	require.Equal(t, FaultNoPage, mp.Fault(ctx, 0))
	require.Equal(t, uint64(1), s.m.Stats().BusyFaults)
}

func TestFaultResults(t *testing.T) {
	var (
		s   = newTestSetup(t)
		ctx = context.Background()
	)

	h, err := s.m.Create(ctx, s.page, FlagWC)
	require.NoError(t, err)

	mp := s.mmap(t, h)

	require.Equal(t, FaultSIGBUS, mp.Fault(ctx, s.page))
	require.Equal(t, FaultSIGBUS, mp.Fault(ctx, -1))

	s.dma.FailMaps(1)
	require.Equal(t, FaultOOM, mp.Fault(ctx, 0), "failed cache flush")
	require.Equal(t, 0, mp.Resident())

	_, err = mp.WriteAt([]byte{1}, 0)
	require.NoError(t, err, "retried access succeeds")
	require.Equal(t, uint64(1), s.m.Stats().FailedFaults)

	require.NoError(t, mp.Close())
	require.Equal(t, FaultSIGBUS, mp.Fault(ctx, 0), "fault on closed mapping")
	require.Equal(t, 0, mp.Resident())

	_, err = s.m.Mmap(ctx, 0x1234)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMappingHoldsReference(t *testing.T) {
	var (
		s   = newTestSetup(t)
		ctx = context.Background()
	)

	h, err := s.m.Create(ctx, s.page, FlagCached)
	require.NoError(t, err)

	mp := s.mmap(t, h)
	_, err = mp.WriteAt([]byte("still here"), 0)
	require.NoError(t, err)

	require.NoError(t, s.m.Destroy(ctx, h))
	require.Equal(t, uint64(0), s.m.Stats().Freed)

	buf := make([]byte, 10)
	_, err = mp.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "still here", string(buf))

	require.NoError(t, mp.Close())
	require.Equal(t, uint64(1), s.m.Stats().Freed)
	require.Equal(t, 0, s.m.AddressSpace().Nodes)
}
