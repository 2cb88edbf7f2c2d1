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

// Package tracing sets up OpenTelemetry tracing and provides a thin span
// wrapper. Without Start spans are no-ops.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	logger "github.com/etna-drm/bomgr/pkg/log"
)

// Option is an option for tracing.
type Option func(*tracing) error

type tracing struct {
	sync.Mutex
	service  string
	endpoint string
	sampling float64
	exporter sdktrace.SpanExporter
	sync     bool
	provider *sdktrace.TracerProvider
}

var (
	log = logger.Get("tracing")
	trc = &tracing{
		service:  filepath.Base(os.Args[0]),
		sampling: 1.0,
	}
)

const (
	shutdownTimeout = 5 * time.Second
)

// WithCollectorEndpoint sets the OTLP/HTTP collector endpoint.
func WithCollectorEndpoint(endpoint string) Option {
	return func(t *tracing) error {
		t.endpoint = endpoint
		return nil
	}
}

// WithSpanExporter exports spans synchronously to the given exporter.
func WithSpanExporter(exporter sdktrace.SpanExporter) Option {
	return func(t *tracing) error {
		t.exporter = exporter
		t.sync = true
		return nil
	}
}

// WithSamplingRatio sets the sampling ratio.
func WithSamplingRatio(ratio float64) Option {
	return func(t *tracing) error {
		if ratio < 0.0 || ratio > 1.0 {
			return fmt.Errorf("invalid sampling ratio %f", ratio)
		}
		t.sampling = ratio
		return nil
	}
}

// WithServiceName sets the service name reported for tracing.
func WithServiceName(name string) Option {
	return func(t *tracing) error {
		t.service = name
		return nil
	}
}

// Start tracing.
func Start(options ...Option) error {
	return trc.start(options...)
}

// Stop tracing, flushing pending spans.
func Stop() {
	trc.shutdown()
}

// Enabled returns true if tracing has been started.
func Enabled() bool {
	trc.Lock()
	defer trc.Unlock()
	return trc.provider != nil
}

func (t *tracing) start(options ...Option) error {
	t.shutdown()

	t.Lock()
	defer t.Unlock()

	for _, opt := range options {
		if err := opt(t); err != nil {
			return fmt.Errorf("failed to set tracing option: %w", err)
		}
	}

	if t.exporter == nil {
		if t.endpoint == "" {
			log.Info("tracing disabled, no endpoint set")
			return nil
		}
		exporter, err := getExporter(t.endpoint)
		if err != nil {
			return fmt.Errorf("failed to start tracing exporter: %w", err)
		}
		t.exporter = exporter
	}

	if t.sampling == 0.0 {
		log.Info("tracing disabled, sampling ratio is 0.0")
		t.exporter = nil
		return nil
	}

	hostname, _ := os.Hostname()
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(t.service),
		semconv.HostName(hostname),
		semconv.ProcessPID(os.Getpid()),
		attribute.String("component", "bomgr"),
	)

	var processor sdktrace.SpanProcessor
	if t.sync {
		processor = sdktrace.NewSimpleSpanProcessor(t.exporter)
	} else {
		processor = sdktrace.NewBatchSpanProcessor(t.exporter)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(t.sampling)),
	)
	otel.SetTracerProvider(t.provider)

	log.Info("tracing started (service %s, sampling %.2f)", t.service, t.sampling)

	return nil
}

func (t *tracing) shutdown() {
	t.Lock()
	defer t.Unlock()

	if t.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := t.provider.ForceFlush(ctx); err != nil {
		log.Error("failed to flush tracer provider: %v", err)
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown tracer provider: %v", err)
	}

	t.provider = nil
	t.exporter = nil
	t.sync = false
}

func getExporter(endpoint string) (sdktrace.SpanExporter, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid tracing endpoint %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "otlp-http", "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if u.Host != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(u.Host))
		}
		return otlptracehttp.New(context.Background(), opts...)
	}

	return nil, fmt.Errorf("unsupported tracing endpoint %q", endpoint)
}
