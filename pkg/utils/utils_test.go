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

package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/etna-drm/bomgr/pkg/utils"
)

func TestParseEnabled(t *testing.T) {
	for _, v := range []string{"on", "True", " yes ", "1", "enabled"} {
		state, err := utils.ParseEnabled(v)
		require.NoError(t, err, v)
		require.True(t, state, v)
	}
	for _, v := range []string{"off", "FALSE", "no", "0", "disable"} {
		state, err := utils.ParseEnabled(v)
		require.NoError(t, err, v)
		require.False(t, state, v)
	}

	_, err := utils.ParseEnabled("maybe")
	require.Error(t, err)
}

func TestPrettySize(t *testing.T) {
	type testCase struct {
		value  int64
		result string
	}
	for _, tc := range []*testCase{
		{value: 0, result: "0"},
		{value: 1023, result: "1023"},
		{value: 4096, result: "4k"},
		{value: 1536, result: "1.50k"},
		{value: 8 << 20, result: "8M"},
		{value: 3 << 30, result: "3G"},
	} {
		require.Equal(t, tc.result, utils.PrettySize(tc.value), "size %d", tc.value)
	}
}
