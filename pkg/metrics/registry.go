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

package metrics

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	logger "github.com/etna-drm/bomgr/pkg/log"
)

var (
	// ErrDuplicate is returned when registering a collector with a taken name.
	ErrDuplicate = fmt.Errorf("metrics: duplicate collector")
	// ErrNoMatch is returned when enabling collectors with unmatched globs.
	ErrNoMatch = fmt.Errorf("metrics: no matching collectors")
)

var (
	log = logger.Get("metrics")
)

const (
	// DefaultGroup is the group of collectors registered without one.
	DefaultGroup = "default"
	// StandardGroup is the group of the standard runtime collectors.
	StandardGroup = "standard"
)

// Collector is a named prometheus.Collector registered in a Registry.
type Collector struct {
	sync.Mutex
	collector prometheus.Collector
	name      string
	group     string
	enabled   bool
	polled    bool
	unprefixed bool
	snapshot  []prometheus.Metric
}

// Option is an option for registering a Collector.
type Option func(*Collector)

// InGroup registers the collector in the given group.
func InGroup(group string) Option {
	return func(c *Collector) {
		if group == "" {
			group = DefaultGroup
		}
		c.group = group
	}
}

// Polled marks the collector polled.
func Polled() Option {
	return func(c *Collector) {
		c.polled = true
	}
}

// WithoutPrefix disables namespace and group prefixing of the collector.
func WithoutPrefix() Option {
	return func(c *Collector) {
		c.unprefixed = true
	}
}

// Name returns the fully qualified name of the collector.
func (c *Collector) Name() string {
	return c.group + "/" + c.name
}

// Enabled returns true if the collector is enabled.
func (c *Collector) Enabled() bool {
	c.Lock()
	defer c.Unlock()
	return c.enabled
}

// IsPolled returns true if the collector is polled.
func (c *Collector) IsPolled() bool {
	c.Lock()
	defer c.Unlock()
	return c.polled
}

func (c *Collector) matches(glob string) bool {
	for _, s := range []string{c.group, c.name, c.Name()} {
		if glob == s {
			return true
		}
		ok, err := path.Match(glob, s)
		if err != nil {
			log.Warn("invalid collector glob %q: %v", glob, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.collector.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.Lock()
	enabled, polled, snapshot := c.enabled, c.polled, c.snapshot
	c.Unlock()

	switch {
	case !enabled:
	case polled:
		for _, m := range snapshot {
			ch <- m
		}
	default:
		c.collector.Collect(ch)
	}
}

func (c *Collector) poll() {
	if !c.IsPolled() || !c.Enabled() {
		return
	}

	ch := make(chan prometheus.Metric, 16)
	go func() {
		c.collector.Collect(ch)
		close(ch)
	}()

	snapshot := []prometheus.Metric{}
	for m := range ch {
		snapshot = append(snapshot, m)
	}

	c.Lock()
	c.snapshot = snapshot
	c.Unlock()

	log.Debug("polled %s: %d metrics", c.Name(), len(snapshot))
}

// Registry is a set of named collectors.
type Registry struct {
	sync.Mutex
	collectors []*Collector
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register registers a collector under the given name.
func (r *Registry) Register(name string, collector prometheus.Collector, options ...Option) error {
	c := &Collector{
		collector: collector,
		name:      name,
		group:     DefaultGroup,
		enabled:   true,
	}
	for _, o := range options {
		o(c)
	}

	r.Lock()
	defer r.Unlock()

	for _, o := range r.collectors {
		if o.Name() == c.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicate, c.Name())
		}
	}

	r.collectors = append(r.collectors, c)
	log.Info("registered collector %s", c.Name())

	return nil
}

// MustRegister registers a collector, panicking on failure.
func (r *Registry) MustRegister(name string, collector prometheus.Collector, options ...Option) {
	if err := r.Register(name, collector, options...); err != nil {
		panic(err)
	}
}

// RegisterStandard registers the go runtime, process and build info collectors.
func (r *Registry) RegisterStandard() error {
	for name, c := range map[string]prometheus.Collector{
		"golang":    collectors.NewGoCollector(),
		"process":   collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		"buildinfo": collectors.NewBuildInfoCollector(),
	} {
		if err := r.Register(name, c, InGroup(StandardGroup), WithoutPrefix()); err != nil {
			return err
		}
	}
	return nil
}

// Enable enables exactly the collectors matching any of the given globs.
// A glob matches the group, the name, or the fully qualified name of a
// collector. An empty glob list enables all collectors.
func (r *Registry) Enable(globs ...string) error {
	r.Lock()
	defer r.Unlock()

	if len(globs) == 0 {
		globs = []string{"*"}
	}

	matched := map[string]bool{}
	for _, c := range r.collectors {
		enable := false
		for _, glob := range globs {
			if c.matches(glob) {
				matched[glob] = true
				enable = true
			}
		}
		c.Lock()
		c.enabled = enable
		c.Unlock()
	}

	unmatched := []string{}
	for _, glob := range globs {
		if !matched[glob] {
			unmatched = append(unmatched, glob)
		}
	}
	if len(unmatched) > 0 {
		return fmt.Errorf("%w: %s", ErrNoMatch, strings.Join(unmatched, ", "))
	}

	log.Info("enabled collectors matching %s", strings.Join(globs, ","))

	return nil
}

// SetPolled marks the collectors matching any of the given globs polled.
func (r *Registry) SetPolled(globs ...string) error {
	unmatched := []string{}
	for _, glob := range globs {
		matched := false
		for _, c := range r.list() {
			if c.matches(glob) {
				c.Lock()
				c.polled = true
				c.Unlock()
				matched = true
			}
		}
		if !matched {
			unmatched = append(unmatched, glob)
		}
	}

	if len(unmatched) > 0 {
		return fmt.Errorf("%w: %s", ErrNoMatch, strings.Join(unmatched, ", "))
	}

	return nil
}

// Poll polls all enabled polled collectors.
func (r *Registry) Poll() {
	wg := sync.WaitGroup{}
	for _, c := range r.list() {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.poll()
		}()
	}
	wg.Wait()
}

// Collectors returns the names of the registered collectors.
func (r *Registry) Collectors() []string {
	names := []string{}
	for _, c := range r.list() {
		names = append(names, c.Name())
	}
	return names
}

func (r *Registry) list() []*Collector {
	r.Lock()
	defer r.Unlock()
	return append([]*Collector{}, r.collectors...)
}

func (r *Registry) hasPolled() bool {
	for _, c := range r.list() {
		if c.IsPolled() && c.Enabled() {
			return true
		}
	}
	return false
}
