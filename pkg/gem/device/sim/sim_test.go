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

package sim_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etna-drm/bomgr/pkg/gem/device"
	. "github.com/etna-drm/bomgr/pkg/gem/device/sim"
	"github.com/etna-drm/bomgr/pkg/gem/sg"
	"github.com/etna-drm/bomgr/pkg/gem/shmem"
)

func TestDMACoherent(t *testing.T) {
	page := shmem.PageSize()
	dma, err := NewDMA(0x10000000, uint64(4*page))
	require.NoError(t, err)

	r1, err := dma.AllocCoherent(page)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000000), r1.Phys)
	require.Len(t, r1.CPU, int(page))

	r1.CPU[0] = 0xa5
	require.Equal(t, byte(0xa5), r1.CPU[0])

	r2, err := dma.AllocCoherent(3 * page)
	require.NoError(t, err)
	require.Equal(t, r1.Phys+uint64(page), r2.Phys)
	require.Equal(t, 2, dma.Regions())

	_, err = dma.AllocCoherent(page)
	require.ErrorIs(t, err, device.ErrNoMem)

	dma.FreeCoherent(r1)
	dma.FreeCoherent(r2)
	require.Nil(t, r1.CPU)
	require.Equal(t, 0, dma.Regions())
	require.Equal(t, uint64(4*page), dma.CarveoutAvailable())
}

func TestDMAFailAllocs(t *testing.T) {
	page := shmem.PageSize()
	dma, err := NewDMA(0x10000000, uint64(4*page))
	require.NoError(t, err)

	dma.FailAllocs(1)
	_, err = dma.AllocCoherent(page)
	require.ErrorIs(t, err, device.ErrNoMem)

	r, err := dma.AllocCoherent(page)
	require.NoError(t, err)
	dma.FreeCoherent(r)

	_, err = dma.AllocCoherent(0)
	require.ErrorIs(t, err, device.ErrInvalid)
}

func TestDMAMapSG(t *testing.T) {
	page := shmem.PageSize()
	dma, err := NewDMA(0x10000000, uint64(4*page))
	require.NoError(t, err)

	tbl, err := sg.FromPages([]uint64{uint64(page), uint64(2 * page), uint64(8 * page)}, page)
	require.NoError(t, err)

	require.NoError(t, dma.MapSG(tbl, device.Bidirectional))
	require.Equal(t, 1, dma.Mapped())
	for _, s := range tbl.Segments {
		require.Equal(t, s.Phys, s.DMAAddr)
		require.Equal(t, s.Length, s.DMALength)
	}

	dma.UnmapSG(tbl, device.Bidirectional)
	require.Equal(t, 0, dma.Mapped())
	require.Equal(t, 2, dma.Syncs())

	require.ErrorIs(t, dma.MapSG(&sg.Table{}, device.ToDevice), device.ErrInvalid)
}

func TestIOMMUMap(t *testing.T) {
	page := shmem.PageSize()
	mmu := NewIOMMU(page)

	tbl, err := sg.FromPages([]uint64{uint64(4 * page), uint64(5 * page), uint64(9 * page)}, page)
	require.NoError(t, err)

	iova := uint64(0x100000)
	require.NoError(t, mmu.Map(iova, tbl, 3*page, device.ProtReadWrite))
	require.Equal(t, 3, mmu.MappedPages())

	phys, prot, err := mmu.Translate(iova + uint64(page) + 16)
	require.NoError(t, err)
	require.Equal(t, uint64(5*page)+16, phys)
	require.Equal(t, device.ProtReadWrite, prot)

	phys, _, err = mmu.Translate(iova + uint64(2*page))
	require.NoError(t, err)
	require.Equal(t, uint64(9*page), phys)

	err = mmu.Map(iova+uint64(2*page), tbl, page, device.ProtRead)
	require.ErrorIs(t, err, device.ErrMapped)

	err = mmu.Map(iova+1, tbl, page, device.ProtRead)
	require.ErrorIs(t, err, device.ErrInvalid)

	mmu.Unmap(iova, tbl, 3*page)
	require.Equal(t, 0, mmu.MappedPages())

	_, _, err = mmu.Translate(iova)
	require.ErrorIs(t, err, device.ErrNotFound)

	maps, unmaps := mmu.Stats()
	require.Equal(t, 1, maps)
	require.Equal(t, 1, unmaps)
}

func TestIOMMUFailMaps(t *testing.T) {
	page := shmem.PageSize()
	mmu := NewIOMMU(page)

	tbl, err := sg.FromRegion(uint64(page), page)
	require.NoError(t, err)

	mmu.FailMaps(1)
	require.ErrorIs(t, mmu.Map(0, tbl, page, device.ProtRead), device.ErrNoMem)
	require.Equal(t, 0, mmu.MappedPages())
	require.NoError(t, mmu.Map(0, tbl, page, device.ProtRead))
}

func TestDMAFailMaps(t *testing.T) {
	page := shmem.PageSize()
	dma, err := NewDMA(0x10000000, uint64(page))
	require.NoError(t, err)

	tbl, err := sg.FromRegion(uint64(page), page)
	require.NoError(t, err)

	dma.FailMaps(1)
	require.ErrorIs(t, dma.MapSG(tbl, device.Bidirectional), device.ErrNoMem)
	require.Equal(t, 0, dma.Mapped())
	require.NoError(t, dma.MapSG(tbl, device.Bidirectional))
	dma.UnmapSG(tbl, device.Bidirectional)
}
