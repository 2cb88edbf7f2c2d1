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

package vaspace_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/etna-drm/bomgr/pkg/gem/vaspace"
)

const (
	pageSize = 4096
	base     = 0x10000000
)

func newAllocator(t *testing.T, pages uint64, options ...Option) *Allocator {
	options = append([]Option{WithAlignment(pageSize)}, options...)
	a, err := New(base, pages*pageSize, options...)
	require.NoError(t, err, "unexpected New() error")
	require.NotNil(t, a, "unexpected nil allocator")
	return a
}

func TestNewAllocator(t *testing.T) {
	type testCase struct {
		name    string
		base    uint64
		size    uint64
		options []Option
		invalid bool
	}
	for _, tc := range []*testCase{
		{
			name: "page aligned range",
			base: base,
			size: 16 * pageSize,
			options: []Option{
				WithAlignment(pageSize),
			},
		},
		{
			name:    "empty range",
			base:    base,
			size:    0,
			invalid: true,
		},
		{
			name:    "wrapping range",
			base:    ^uint64(0) - pageSize,
			size:    4 * pageSize,
			invalid: true,
		},
		{
			name: "unaligned base",
			base: base + 1,
			size: 4 * pageSize,
			options: []Option{
				WithAlignment(pageSize),
			},
			invalid: true,
		},
		{
			name: "non power of 2 alignment",
			base: base,
			size: 4 * pageSize,
			options: []Option{
				WithAlignment(3000),
			},
			invalid: true,
		},
		{
			name: "bad fit",
			base: base,
			size: 4 * pageSize,
			options: []Option{
				WithFit(Fit(7)),
			},
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, err := New(tc.base, tc.size, tc.options...)
			if tc.invalid {
				require.Error(t, err)
				require.Nil(t, a)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.size, a.Available())
			require.Equal(t, []Range{{Start: tc.base, Size: tc.size}}, a.FreeRanges())
		})
	}
}

func TestAllocateRoundsUp(t *testing.T) {
	a := newAllocator(t, 8)

	n, err := a.Allocate(100, "bo1")
	require.NoError(t, err)
	require.Equal(t, uint64(base), n.Start)
	require.Equal(t, uint64(pageSize), n.Size)
	require.Equal(t, "bo1", n.Owner())
	require.Equal(t, uint64(7*pageSize), a.Available())

	_, err = a.Allocate(0, "bo2")
	require.ErrorIs(t, err, ErrInvalidSize)

	require.NoError(t, a.Validate())
}

func TestAllocateExhaustion(t *testing.T) {
	a := newAllocator(t, 4)

	n1, err := a.Allocate(2*pageSize, nil)
	require.NoError(t, err)
	_, err = a.Allocate(2*pageSize, nil)
	require.NoError(t, err)

	_, err = a.Allocate(pageSize, nil)
	require.ErrorIs(t, err, ErrNoSpace)

	require.NoError(t, a.Free(n1))
	_, err = a.Allocate(3*pageSize, nil)
	require.ErrorIs(t, err, ErrNoSpace, "fragmented space must not satisfy larger request")

	_, err = a.Allocate(2*pageSize, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), a.Available())
	require.NoError(t, a.Validate())
}

func TestFreeCoalesces(t *testing.T) {
	a := newAllocator(t, 8)

	var nodes []*Node
	for i := 0; i < 4; i++ {
		n, err := a.Allocate(2*pageSize, i)
		require.NoError(t, err)
		nodes = append(nodes, n)
	}
	require.Empty(t, a.FreeRanges())

	// free 0 and 2: two separate holes
	require.NoError(t, a.Free(nodes[0]))
	require.NoError(t, a.Free(nodes[2]))
	require.Equal(t, []Range{
		{Start: base, Size: 2 * pageSize},
		{Start: base + 4*pageSize, Size: 2 * pageSize},
	}, a.FreeRanges())
	require.NoError(t, a.Validate())

	// free 1: bridges both holes
	require.NoError(t, a.Free(nodes[1]))
	require.Equal(t, []Range{
		{Start: base, Size: 6 * pageSize},
	}, a.FreeRanges())

	// free 3: merges with the preceding range
	require.NoError(t, a.Free(nodes[3]))
	require.Equal(t, []Range{
		{Start: base, Size: 8 * pageSize},
	}, a.FreeRanges())
	require.Equal(t, 0, a.NodeCount())
	require.NoError(t, a.Validate())
}

func TestDoubleFree(t *testing.T) {
	a := newAllocator(t, 4)
	n, err := a.Allocate(pageSize, nil)
	require.NoError(t, err)

	require.NoError(t, a.Free(n))
	require.ErrorIs(t, a.Free(n), ErrUnknownNode)
	require.ErrorIs(t, a.Free(nil), ErrUnknownNode)

	other := newAllocator(t, 4)
	m, err := other.Allocate(pageSize, nil)
	require.NoError(t, err)
	require.ErrorIs(t, a.Free(m), ErrUnknownNode)
}

func TestFitPolicies(t *testing.T) {
	// Layout after setup: [hole 3 pages][used 1][hole 1 page][used 1][hole 2 pages]
	setup := func(t *testing.T, fit Fit) *Allocator {
		a := newAllocator(t, 8, WithFit(fit))
		n1, err := a.Allocate(3*pageSize, "h1")
		require.NoError(t, err)
		_, err = a.Allocate(pageSize, "u1")
		require.NoError(t, err)
		n2, err := a.Allocate(pageSize, "h2")
		require.NoError(t, err)
		_, err = a.Allocate(pageSize, "u2")
		require.NoError(t, err)
		require.NoError(t, a.Free(n1))
		require.NoError(t, a.Free(n2))
		return a
	}

	type testCase struct {
		fit   Fit
		size  uint64
		start uint64
	}
	for _, tc := range []*testCase{
		{fit: FirstFit, size: pageSize, start: base},
		{fit: BestFit, size: pageSize, start: base + 4*pageSize},
		{fit: FirstFit, size: 2 * pageSize, start: base},
		{fit: BestFit, size: 2 * pageSize, start: base + 6*pageSize},
		{fit: BestFit, size: 3 * pageSize, start: base},
	} {
		t.Run(tc.fit.String(), func(t *testing.T) {
			a := setup(t, tc.fit)
			n, err := a.Allocate(tc.size, nil)
			require.NoError(t, err)
			require.Equal(t, tc.start, n.Start)
			require.NoError(t, a.Validate())
		})
	}
}

func TestBestFitTieBreak(t *testing.T) {
	a := newAllocator(t, 6, WithFit(BestFit))
	var nodes []*Node
	for i := 0; i < 6; i++ {
		n, err := a.Allocate(pageSize, i)
		require.NoError(t, err)
		nodes = append(nodes, n)
	}
	// two equally sized holes, the lower one must win
	require.NoError(t, a.Free(nodes[4]))
	require.NoError(t, a.Free(nodes[1]))

	n, err := a.Allocate(pageSize, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(base+pageSize), n.Start)
}

func TestLayoutRoundTrip(t *testing.T) {
	a := newAllocator(t, 64)

	keep := []*Node{}
	for i := 0; i < 5; i++ {
		n, err := a.Allocate(uint64(i+1)*pageSize, i)
		require.NoError(t, err)
		if i%2 == 0 {
			keep = append(keep, n)
		} else {
			require.NoError(t, a.Free(n))
		}
	}

	before := a.FreeRanges()
	avail := a.Available()

	n, err := a.Allocate(8192, "scenario")
	require.NoError(t, err)
	require.Equal(t, uint64(8192), n.Size)
	require.NoError(t, a.Free(n))

	require.Equal(t, before, a.FreeRanges())
	require.Equal(t, avail, a.Available())

	for _, n := range keep {
		require.NoError(t, a.Free(n))
	}
	require.Equal(t, []Range{a.Space()}, a.FreeRanges())
	require.NoError(t, a.Validate())
}

func TestLookupAndForeach(t *testing.T) {
	a := newAllocator(t, 8)
	n1, err := a.Allocate(pageSize, "a")
	require.NoError(t, err)
	n2, err := a.Allocate(pageSize, "b")
	require.NoError(t, err)

	got, ok := a.Lookup(n2.Start)
	require.True(t, ok)
	require.Same(t, n2, got)

	owners := []interface{}{}
	a.ForeachNode(func(n *Node) bool {
		owners = append(owners, n.Owner())
		return true
	})
	require.Equal(t, []interface{}{"a", "b"}, owners)

	require.NoError(t, a.Free(n1))
	_, ok = a.Lookup(n1.Start)
	require.False(t, ok)
}

func TestFitJSON(t *testing.T) {
	var f Fit
	require.NoError(t, json.Unmarshal([]byte(`"best-fit"`), &f))
	require.Equal(t, BestFit, f)

	data, err := json.Marshal(FirstFit)
	require.NoError(t, err)
	require.Equal(t, `"first-fit"`, string(data))

	require.Error(t, json.Unmarshal([]byte(`"worst-fit"`), &f))
}
