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

// Package metrics organizes prometheus collectors into named groups that
// can be enabled selectively and exported through a single gatherer.
//
// Collectors are registered with a Registry under a name and a group. A
// Gatherer exports the enabled collectors of a registry, prefixing metric
// names with a common namespace and the group of the collector. Collectors
// which are expensive to collect can be marked polled. Polled collectors
// are collected periodically by the gatherer and serve the metrics of the
// last poll when gathered.
//
//	r := metrics.NewRegistry()
//	r.MustRegister("objects", gem.NewCollector(mgr), metrics.InGroup("gem"))
//	g, err := metrics.NewGatherer(r, metrics.WithNamespace("bomgr"))
//	...
//	http.Handle("/metrics", g.Handler())
package metrics
