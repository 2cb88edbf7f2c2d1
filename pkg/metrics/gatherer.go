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
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	model "github.com/prometheus/client_model/go"
)

const (
	// MinPollInterval is the shortest allowed polling interval.
	MinPollInterval = time.Second
	// DefaultPollInterval is the default polling interval.
	DefaultPollInterval = 30 * time.Second
)

// Gatherer exports the enabled collectors of a Registry.
type Gatherer struct {
	*prometheus.Registry
	r            *Registry
	namespace    string
	enabled      []string
	polled       []string
	pollInterval time.Duration
	lock         sync.Mutex
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// GathererOption is an option for a Gatherer.
type GathererOption func(*Gatherer)

// WithNamespace sets the namespace prefix of exported metrics.
func WithNamespace(namespace string) GathererOption {
	return func(g *Gatherer) {
		g.namespace = namespace
	}
}

// WithEnabled sets the globs of collectors to enable.
func WithEnabled(globs ...string) GathererOption {
	return func(g *Gatherer) {
		g.enabled = globs
	}
}

// WithPolled sets the globs of collectors to poll.
func WithPolled(globs ...string) GathererOption {
	return func(g *Gatherer) {
		g.polled = globs
	}
}

// WithPollInterval sets the polling interval. Zero disables polling.
func WithPollInterval(interval time.Duration) GathererOption {
	return func(g *Gatherer) {
		if interval != 0 && interval < MinPollInterval {
			interval = MinPollInterval
		}
		g.pollInterval = interval
	}
}

// NewGatherer creates a gatherer for the given registry.
func NewGatherer(r *Registry, options ...GathererOption) (*Gatherer, error) {
	g := &Gatherer{
		Registry:     prometheus.NewPedanticRegistry(),
		r:            r,
		pollInterval: DefaultPollInterval,
	}
	for _, o := range options {
		o(g)
	}

	if err := r.Enable(g.enabled...); err != nil {
		return nil, err
	}
	if err := r.SetPolled(g.polled...); err != nil {
		return nil, err
	}

	for _, c := range r.list() {
		if err := g.registerer(c).Register(c); err != nil {
			return nil, err
		}
	}

	g.start()

	return g, nil
}

func (g *Gatherer) registerer(c *Collector) prometheus.Registerer {
	if c.unprefixed {
		return g.Registry
	}

	prefix := c.group + "_"
	if g.namespace != "" {
		prefix = g.namespace + "_" + prefix
	}

	return prometheus.WrapRegistererWithPrefix(prefix, g.Registry)
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.Registry.Gather()
}

// Poll polls all polled collectors of the gatherer.
func (g *Gatherer) Poll() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.r.Poll()
}

// Handler returns an HTTP handler serving the gathered metrics.
func (g *Gatherer) Handler() http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      errorLog{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

type errorLog struct{}

func (errorLog) Println(v ...interface{}) {
	log.Error("%s", fmt.Sprint(v...))
}

func (g *Gatherer) start() {
	if !g.r.hasPolled() {
		return
	}

	g.Poll()

	if g.pollInterval == 0 {
		log.Info("periodic polling disabled")
		return
	}

	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})

	go func() {
		defer close(g.doneCh)
		ticker := time.NewTicker(g.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-g.stopCh:
				return
			case <-ticker.C:
				g.Poll()
			}
		}
	}()

	log.Info("polling collectors every %s", g.pollInterval)
}

// Stop stops periodic polling.
func (g *Gatherer) Stop() {
	if g.stopCh == nil {
		return
	}
	close(g.stopCh)
	<-g.doneCh
	g.stopCh = nil
}
