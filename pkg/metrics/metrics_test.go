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

package metrics_test

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/etna-drm/bomgr/pkg/metrics"
)

type testPolled struct {
	desc  *prometheus.Desc
	value int
	polls int
}

func newTestPolled(name string) *testPolled {
	return &testPolled{
		desc: prometheus.NewDesc(name, "polled test gauge", nil, nil),
	}
}

func (p *testPolled) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.desc
}

func (p *testPolled) Collect(ch chan<- prometheus.Metric) {
	p.polls++
	ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, float64(p.value))
}

func newTestGauge(t *testing.T, r *metrics.Registry, name string, options ...metrics.Option) prometheus.Gauge {
	t.Helper()

	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name,
		Help: "test gauge " + name,
	})
	require.NoError(t, r.Register(name, g, options...))

	return g
}

func scrape(t *testing.T, g *metrics.Gatherer) map[string]string {
	t.Helper()

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if split := strings.SplitN(line, " ", 2); len(split) == 2 {
			values[split[0]] = split[1]
		}
	}
	require.NoError(t, scanner.Err())

	return values
}

func TestRegister(t *testing.T) {
	r := metrics.NewRegistry()

	newTestGauge(t, r, "objects", metrics.InGroup("gem"))
	newTestGauge(t, r, "objects", metrics.InGroup("other"))
	newTestGauge(t, r, "plain")

	err := r.Register("objects", prometheus.NewGauge(prometheus.GaugeOpts{Name: "x", Help: "x"}),
		metrics.InGroup("gem"))
	require.ErrorIs(t, err, metrics.ErrDuplicate)

	require.Equal(t, []string{"gem/objects", "other/objects", "default/plain"}, r.Collectors())
}

func TestPrefixedCollection(t *testing.T) {
	r := metrics.NewRegistry()

	g1 := newTestGauge(t, r, "objects", metrics.InGroup("gem"))
	g2 := newTestGauge(t, r, "plain", metrics.WithoutPrefix())
	g1.Set(3)
	g2.Set(5)

	g, err := metrics.NewGatherer(r, metrics.WithNamespace("bomgr"))
	require.NoError(t, err)
	defer g.Stop()

	values := scrape(t, g)
	require.Equal(t, "3", values["bomgr_gem_objects"])
	require.Equal(t, "5", values["plain"])

	g1.Set(4)
	require.Equal(t, "4", scrape(t, g)["bomgr_gem_objects"])
}

func TestEnable(t *testing.T) {
	type testCase struct {
		name    string
		globs   []string
		count   int
		invalid bool
	}

	for _, tc := range []*testCase{
		{
			name:  "all by default",
			count: 3,
		},
		{
			name:  "by group",
			globs: []string{"gem"},
			count: 2,
		},
		{
			name:  "by qualified name",
			globs: []string{"gem/faults"},
			count: 1,
		},
		{
			name:  "by glob",
			globs: []string{"*/objects"},
			count: 2,
		},
		{
			name:    "unmatched glob",
			globs:   []string{"gem", "nope"},
			invalid: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := metrics.NewRegistry()
			newTestGauge(t, r, "objects", metrics.InGroup("gem"))
			newTestGauge(t, r, "faults", metrics.InGroup("gem"))
			newTestGauge(t, r, "objects", metrics.InGroup("sim"))

			g, err := metrics.NewGatherer(r, metrics.WithNamespace("test"),
				metrics.WithEnabled(tc.globs...))
			if tc.invalid {
				require.ErrorIs(t, err, metrics.ErrNoMatch)
				return
			}
			require.NoError(t, err)
			defer g.Stop()

			count, err := testutil.GatherAndCount(g)
			require.NoError(t, err)
			require.Equal(t, tc.count, count)
		})
	}
}

func TestPolledCollection(t *testing.T) {
	r := metrics.NewRegistry()
	p := newTestPolled("expensive")
	require.NoError(t, r.Register("expensive", p, metrics.Polled()))

	p.value = 1
	g, err := metrics.NewGatherer(r, metrics.WithPollInterval(0))
	require.NoError(t, err)
	defer g.Stop()

	require.Equal(t, 1, p.polls, "initial poll")

	p.value = 2
	require.Equal(t, "1", scrape(t, g)["default_expensive"], "served from last poll")
	require.Equal(t, 1, p.polls)

	g.Poll()
	require.Equal(t, "2", scrape(t, g)["default_expensive"])
	require.Equal(t, 2, p.polls)
}

func TestStandardCollectors(t *testing.T) {
	r := metrics.NewRegistry()
	require.NoError(t, r.RegisterStandard())
	require.Error(t, r.RegisterStandard())

	g, err := metrics.NewGatherer(r, metrics.WithEnabled("standard/golang"))
	require.NoError(t, err)
	defer g.Stop()

	count, err := testutil.GatherAndCount(g, "go_goroutines")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestPolledByGlob(t *testing.T) {
	r := metrics.NewRegistry()
	p := newTestPolled("expensive")
	require.NoError(t, r.Register("expensive", p, metrics.InGroup("gem")))

	_, err := metrics.NewGatherer(metrics.NewRegistry(), metrics.WithPolled("none"))
	require.ErrorIs(t, err, metrics.ErrNoMatch)

	g, err := metrics.NewGatherer(r, metrics.WithPolled("gem/*"), metrics.WithPollInterval(0))
	require.NoError(t, err)
	defer g.Stop()

	require.Equal(t, 1, p.polls)
	count, err := testutil.GatherAndCount(g)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, 1, p.polls, "gathered from last poll")
}
