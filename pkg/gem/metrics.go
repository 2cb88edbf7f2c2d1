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

package gem

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	descObjects = iota
	descObjectBytes
	descAddressSpace
	descPagesAcquired
	descSGTables
	descDeviceMaps
	descFaults
)

var (
	descriptors = []*prometheus.Desc{
		descObjects: prometheus.NewDesc(
			"objects",
			"Number of buffer objects.",
			[]string{
				"manager",
				"state",
			},
			nil,
		),
		descObjectBytes: prometheus.NewDesc(
			"object_bytes",
			"Total size of buffer objects.",
			[]string{
				"manager",
				"state",
			},
			nil,
		),
		descAddressSpace: prometheus.NewDesc(
			"address_space_bytes",
			"Size of the device address space.",
			[]string{
				"manager",
				"usage",
			},
			nil,
		),
		descPagesAcquired: prometheus.NewDesc(
			"pages_acquired_total",
			"Number of times backing memory was made resident.",
			[]string{
				"manager",
			},
			nil,
		),
		descSGTables: prometheus.NewDesc(
			"sg_tables_total",
			"Number of scatter-gather tables built.",
			[]string{
				"manager",
			},
			nil,
		),
		descDeviceMaps: prometheus.NewDesc(
			"device_maps_total",
			"Number of device address space mappings.",
			[]string{
				"manager",
				"op",
			},
			nil,
		),
		descFaults: prometheus.NewDesc(
			"faults_total",
			"Number of page faults of user mappings.",
			[]string{
				"manager",
				"result",
			},
			nil,
		),
	}
)

type collector struct {
	m *Manager
}

// NewCollector returns a prometheus collector for the manager.
func NewCollector(m *Manager) prometheus.Collector {
	return &collector{m: m}
}

// Describe implements prometheus.Collector.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range descriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, metric := range c.m.collect() {
		ch <- metric
	}
}

func (m *Manager) collect() []prometheus.Metric {
	m.mustLock()
	defer m.unlock()

	var (
		count = map[string]int{"active": 0, "inactive": 0}
		bytes = map[string]int64{"active": 0, "inactive": 0}
		s     = m.stats
	)

	for _, sl := range m.slots {
		if o := sl.obj; o != nil {
			state := "inactive"
			if o.state == active {
				state = "active"
			}
			count[state]++
			bytes[state] += o.size
		}
	}

	metrics := []prometheus.Metric{}
	for _, state := range []string{"active", "inactive"} {
		metrics = append(metrics,
			prometheus.MustNewConstMetric(
				descriptors[descObjects],
				prometheus.GaugeValue,
				float64(count[state]),
				m.name,
				state,
			),
			prometheus.MustNewConstMetric(
				descriptors[descObjectBytes],
				prometheus.GaugeValue,
				float64(bytes[state]),
				m.name,
				state,
			),
		)
	}

	for usage, value := range map[string]uint64{
		"capacity":  m.iovas.Capacity(),
		"used":      m.iovas.Used(),
		"available": m.iovas.Available(),
		"largest":   m.iovas.Largest(),
	} {
		metrics = append(metrics,
			prometheus.MustNewConstMetric(
				descriptors[descAddressSpace],
				prometheus.GaugeValue,
				float64(value),
				m.name,
				usage,
			),
		)
	}

	metrics = append(metrics,
		prometheus.MustNewConstMetric(
			descriptors[descPagesAcquired],
			prometheus.CounterValue,
			float64(s.PagesAcquired),
			m.name,
		),
		prometheus.MustNewConstMetric(
			descriptors[descSGTables],
			prometheus.CounterValue,
			float64(s.SGTables),
			m.name,
		),
		prometheus.MustNewConstMetric(
			descriptors[descDeviceMaps],
			prometheus.CounterValue,
			float64(s.DeviceMaps),
			m.name,
			"map",
		),
		prometheus.MustNewConstMetric(
			descriptors[descDeviceMaps],
			prometheus.CounterValue,
			float64(s.DeviceUnmaps),
			m.name,
			"unmap",
		),
		prometheus.MustNewConstMetric(
			descriptors[descFaults],
			prometheus.CounterValue,
			float64(s.Faults-s.BusyFaults-s.FailedFaults),
			m.name,
			"installed",
		),
		prometheus.MustNewConstMetric(
			descriptors[descFaults],
			prometheus.CounterValue,
			float64(s.BusyFaults),
			m.name,
			"busy",
		),
		prometheus.MustNewConstMetric(
			descriptors[descFaults],
			prometheus.CounterValue,
			float64(s.FailedFaults),
			m.name,
			"failed",
		),
	)

	return metrics
}
