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

package log

import (
	"testing"

	"github.com/stretchr/testify/require"

	cfgapi "github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/log"
)

func TestSrcmapParse(t *testing.T) {
	type testCase struct {
		name    string
		value   string
		result  srcmap
		invalid bool
	}
	for _, tc := range []*testCase{
		{
			name:   "empty",
			value:  "",
			result: srcmap{},
		},
		{
			name:   "implicitly enabled sources",
			value:  "gem,vaspace",
			result: srcmap{"gem": true, "vaspace": true},
		},
		{
			name:   "state carries over",
			value:  "off:gem,vaspace,on:fence",
			result: srcmap{"gem": false, "vaspace": false, "fence": true},
		},
		{
			name:   "all is an alias for wildcard",
			value:  "on:all,off:metrics",
			result: srcmap{"*": true, "metrics": false},
		},
		{
			name:    "bad state",
			value:   "sometimes:gem",
			invalid: true,
		},
		{
			name:    "bad entry",
			value:   "on:gem:fence",
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := make(srcmap)
			err := m.parse(tc.value)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.result, m)
		})
	}
}

func TestSrcmapString(t *testing.T) {
	m := srcmap{"gem": true, "fence": true, "metrics": false}
	require.Equal(t, "on:fence,gem,off:metrics", m.String())

	parsed := make(srcmap)
	require.NoError(t, parsed.parse(m.String()))
	require.Equal(t, m, parsed)
}

func TestConfigureDebug(t *testing.T) {
	l := Get("config-test")
	require.False(t, l.DebugEnabled())

	cfg := &cfgapi.Config{Debug: []string{"config-test"}}
	require.True(t, cfg.DebugEnabled())
	require.False(t, (&cfgapi.Config{}).DebugEnabled())

	err := Configure(cfg)
	require.NoError(t, err)
	require.True(t, l.DebugEnabled())

	err = Configure(&cfgapi.Config{Debug: []string{"on:all,off:config-test"}})
	require.NoError(t, err)
	require.False(t, l.DebugEnabled())
	require.True(t, Get("other-source").DebugEnabled())

	require.Error(t, Configure(&cfgapi.Config{Debug: []string{"huh:x"}}))
	require.NoError(t, Configure(nil))
	require.False(t, Get("other-source").DebugEnabled())
}
