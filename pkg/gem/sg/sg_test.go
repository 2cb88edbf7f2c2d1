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

package sg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etna-drm/bomgr/pkg/gem/sg"
)

func TestFromPages(t *testing.T) {
	type testCase struct {
		name     string
		pages    []uint64
		segments []sg.Segment
		invalid  bool
	}
	for _, tc := range []*testCase{
		{
			name:  "single page",
			pages: []uint64{0x1000},
			segments: []sg.Segment{
				{Phys: 0x1000, Length: 4096},
			},
		},
		{
			name:  "adjacent pages merge",
			pages: []uint64{0x1000, 0x2000, 0x3000},
			segments: []sg.Segment{
				{Phys: 0x1000, Length: 3 * 4096},
			},
		},
		{
			name:  "scattered pages",
			pages: []uint64{0x8000, 0x2000, 0x3000, 0x10000},
			segments: []sg.Segment{
				{Phys: 0x8000, Length: 4096},
				{Phys: 0x2000, Length: 2 * 4096},
				{Phys: 0x10000, Length: 4096},
			},
		},
		{
			name:    "no pages",
			invalid: true,
		},
		{
			name:    "unaligned page",
			pages:   []uint64{0x1000, 0x2001},
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tbl, err := sg.FromPages(tc.pages, 4096)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.segments, tbl.Segments)
			require.Equal(t, int64(len(tc.pages))*4096, tbl.Size())

			var pages []uint64
			tbl.ForeachPage(4096, func(p uint64) bool {
				pages = append(pages, p)
				return true
			})
			require.Equal(t, tc.pages, pages)
		})
	}
}

func TestFromRegion(t *testing.T) {
	tbl, err := sg.FromRegion(0x40000000, 8192)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	tbl.SetIdentityDMA()
	require.Equal(t, uint64(0x40000000), tbl.Segments[0].DMAAddr)
	require.Equal(t, int64(8192), tbl.Segments[0].DMALength)

	_, err = sg.FromRegion(0x40000000, 0)
	require.ErrorIs(t, err, sg.ErrNoMem)
}
