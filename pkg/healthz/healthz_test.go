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

package healthz_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/etna-drm/bomgr/pkg/healthz"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	rpl, err := http.Get(url)
	require.NoError(t, err)
	defer rpl.Body.Close()

	body, err := io.ReadAll(rpl.Body)
	require.NoError(t, err)

	return rpl.StatusCode, string(body)
}

func TestHealthz(t *testing.T) {
	mux := http.NewServeMux()
	Setup(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	state := Healthy
	require.NoError(t, Register("test", func() (Status, error) {
		if state == Healthy {
			return Healthy, nil
		}
		return state, fmt.Errorf("address space exhausted")
	}))
	defer Unregister("test")

	require.ErrorIs(t, Register("test", nil), ErrConflict)

	code, body := get(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	state = Degraded
	code, body = get(t, srv.URL+"/healthz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "degraded\ntest: address space exhausted\n", body)

	require.NoError(t, Register("other", func() (Status, error) { return NonFunctional, nil }))
	status, details := Check()
	require.Equal(t, NonFunctional, status)
	require.Len(t, details, 2)

	Unregister("other")
	status, _ = Check()
	require.Equal(t, Degraded, status)
}
