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

// bomgr-sim runs a buffer object manager on simulated devices under a
// concurrent GPU workload and reports the resulting object state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	cfgapi "github.com/etna-drm/bomgr/pkg/apis/config/v1alpha1"
	"github.com/etna-drm/bomgr/pkg/config"
	"github.com/etna-drm/bomgr/pkg/gem"
	"github.com/etna-drm/bomgr/pkg/gem/device/sim"
	"github.com/etna-drm/bomgr/pkg/healthz"
	"github.com/etna-drm/bomgr/pkg/instrumentation"
	logger "github.com/etna-drm/bomgr/pkg/log"
	"github.com/etna-drm/bomgr/pkg/metrics"
)

var (
	log *logrus.Logger
)

func main() {
	var (
		configFile string
		iterations int
		workers    int
		duration   time.Duration
		httpAddr   string
		verbose    bool
		cfg        *cfgapi.BufferManager
		err        error
	)

	log = logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{
		PadLevelText: true,
	})

	flag.StringVar(&configFile, "config", "", "configuration file name")
	flag.IntVar(&iterations, "iterations", 100, "number of submissions per worker")
	flag.IntVar(&workers, "workers", 4, "number of concurrent workers")
	flag.DurationVar(&duration, "duration", 0, "stop the workload after this time")
	flag.StringVar(&httpAddr, "metrics-addr", "", "serve /metrics on this address")
	flag.BoolVar(&verbose, "v", false, "verbose output")
	flag.Parse()

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if configFile != "" {
		log.Debugf("read configuration from %q", configFile)
		if cfg, err = config.Load(configFile); err != nil {
			log.Fatalf("error loading configuration file %q: %s", configFile, err)
		}
	} else {
		cfg = config.Default()
	}

	if httpAddr != "" {
		cfg.Spec.Instrumentation.HTTPEndpoint = httpAddr
		cfg.Spec.Instrumentation.PrometheusExport = true
	}

	if err = logger.Configure(&cfg.Spec.Log); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}
	if cfg.Spec.Log.DebugEnabled() {
		log.SetLevel(logrus.DebugLevel)
	}
	logger.SetupDebugToggleSignal(syscall.SIGUSR1)

	dma, mmu, err := config.NewDevices(cfg)
	if err != nil {
		log.Fatalf("failed to create simulated devices: %v", err)
	}

	options, err := config.ManagerOptions(&cfg.Spec.Manager)
	if err != nil {
		log.Fatalf("invalid manager configuration: %v", err)
	}

	mgr, err := gem.New(dma, mmu, options...)
	if err != nil {
		log.Fatalf("failed to create buffer object manager: %v", err)
	}

	svc, err := setupInstrumentation(cfg, mgr, dma)
	if err != nil {
		log.Fatalf("failed to start instrumentation: %v", err)
	}
	defer svc.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	w := &workload{
		mgr:        mgr,
		pipes:      cfg.Spec.Device.Pipes,
		workers:    workers,
		iterations: iterations,
	}

	start := time.Now()
	if err = w.run(ctx); err != nil && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) {
		log.Errorf("workload failed: %v", err)
	}
	log.Infof("workload finished in %s", time.Since(start))

	report(mgr)

	if err = mgr.Close(context.Background()); err != nil {
		log.Errorf("failed to close buffer object manager: %v", err)
		os.Exit(1)
	}
}

func setupInstrumentation(cfg *cfgapi.BufferManager, mgr *gem.Manager, dma *sim.DMA) (*instrumentation.Service, error) {
	r := metrics.NewRegistry()
	if err := r.Register("objects", gem.NewCollector(mgr), metrics.InGroup("gem")); err != nil {
		return nil, err
	}
	if err := r.RegisterStandard(); err != nil {
		return nil, err
	}

	err := healthz.Register(mgr.Name(), func() (healthz.Status, error) {
		as := mgr.AddressSpace()
		switch {
		case as.Available == 0:
			return healthz.Degraded, fmt.Errorf("device address space %s exhausted", as.Range)
		case dma.CarveoutAvailable() == 0:
			return healthz.Degraded, fmt.Errorf("DMA carveout exhausted")
		}
		return healthz.Healthy, nil
	})
	if err != nil {
		return nil, err
	}

	svc := instrumentation.New("bomgr-sim", r)
	if err := svc.Start(&cfg.Spec.Instrumentation); err != nil {
		return nil, err
	}

	return svc, nil
}

func report(mgr *gem.Manager) {
	d, err := mgr.Describe(context.Background())
	if err != nil {
		log.Errorf("failed to describe objects: %v", err)
		return
	}
	if _, err := d.WriteTo(os.Stdout); err != nil {
		log.Errorf("failed to write object description: %v", err)
	}

	s := mgr.Stats()
	as := mgr.AddressSpace()
	log.Infof("objects: %d created, %d freed", s.Created, s.Freed)
	log.Infof("pages: %d acquired, %d sg tables, %d device maps, %d device unmaps",
		s.PagesAcquired, s.SGTables, s.DeviceMaps, s.DeviceUnmaps)
	log.Infof("faults: %d total, %d busy, %d failed", s.Faults, s.BusyFaults, s.FailedFaults)
	log.Infof("address space %s: %d used, %d available, %d nodes",
		as.Range, as.Used, as.Available, as.Nodes)

	mgr.Dump("final: ")
}
