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

// Package instrumentation runs the tracing and HTTP instrumentation
// services of a process: /metrics for Prometheus and /healthz.
package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	cfgapi "github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/etna-drm/bomgr/pkg/healthz"
	"github.com/etna-drm/bomgr/pkg/instrumentation/tracing"
	logger "github.com/etna-drm/bomgr/pkg/log"
	"github.com/etna-drm/bomgr/pkg/metrics"
)

const (
	shutdownTimeout = 5 * time.Second
)

var (
	log = logger.Get("instrumentation")
)

// Service is the state of our instrumentation services.
type Service struct {
	sync.Mutex
	name     string
	registry *metrics.Registry
	cfg      *cfgapi.Config
	srv      *http.Server
	listener net.Listener
	gatherer *metrics.Gatherer
	done     chan struct{}
}

// New creates instrumentation services for the named service, exporting
// the collectors of the given registry.
func New(name string, registry *metrics.Registry) *Service {
	return &Service{
		name:     name,
		registry: registry,
		cfg:      &cfgapi.Config{},
	}
}

// Start starts instrumentation services with the given configuration.
func (s *Service) Start(cfg *cfgapi.Config) error {
	s.Lock()
	defer s.Unlock()

	if cfg != nil {
		s.cfg = cfg
	}

	log.Info("starting instrumentation services...")

	if err := s.startTracing(); err != nil {
		return fmt.Errorf("failed to start tracing: %w", err)
	}

	if err := s.startHTTP(); err != nil {
		tracing.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop stops instrumentation services.
func (s *Service) Stop() {
	s.Lock()
	defer s.Unlock()

	s.stopHTTP()
	tracing.Stop()
}

// Reconfigure restarts instrumentation services with a new configuration.
func (s *Service) Reconfigure(cfg *cfgapi.Config) error {
	s.Stop()
	return s.Start(cfg)
}

// Address returns the address the HTTP server listens on, if it is running.
func (s *Service) Address() string {
	s.Lock()
	defer s.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Service) startTracing() error {
	options := []tracing.Option{
		tracing.WithServiceName(s.name),
		tracing.WithCollectorEndpoint(s.cfg.TracingCollector),
	}
	if s.cfg.SamplingRatePerMillion > 0 {
		options = append(options,
			tracing.WithSamplingRatio(float64(s.cfg.SamplingRatePerMillion)/1000000))
	}
	return tracing.Start(options...)
}

func (s *Service) startHTTP() error {
	if s.cfg.HTTPEndpoint == "" {
		log.Info("HTTP server disabled, no endpoint set")
		return nil
	}

	mux := http.NewServeMux()
	healthz.Setup(mux)

	if s.cfg.PrometheusExport {
		g, err := metrics.NewGatherer(s.registry,
			metrics.WithNamespace(s.cfg.Metrics.Namespace),
			metrics.WithEnabled(s.cfg.Metrics.Enabled...),
			metrics.WithPolled(s.cfg.Metrics.Polled...),
			metrics.WithPollInterval(s.cfg.ReportPeriod.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to set up metrics: %w", err)
		}
		mux.Handle("/metrics", g.Handler())
		s.gatherer = g
	}

	l, err := net.Listen("tcp", s.cfg.HTTPEndpoint)
	if err != nil {
		if s.gatherer != nil {
			s.gatherer.Stop()
			s.gatherer = nil
		}
		return err
	}

	s.listener = l
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
		}
	}(s.srv, s.done)

	log.Info("HTTP server listening on %s", l.Addr())

	return nil
}

func (s *Service) stopHTTP() {
	if s.srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		log.Error("failed to shut down HTTP server: %v", err)
	}
	<-s.done

	if s.gatherer != nil {
		s.gatherer.Stop()
	}

	s.srv = nil
	s.listener = nil
	s.gatherer = nil
	s.done = nil
}
