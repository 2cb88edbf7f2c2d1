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

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/etna-drm/bomgr"
)

// SpanStartOption is applied to a Span in StartSpan.
type SpanStartOption func(*[]trace.SpanStartOption)

// WithAttributes sets initial attributes of a Span.
func WithAttributes(attrs ...attribute.KeyValue) SpanStartOption {
	return func(o *[]trace.SpanStartOption) {
		*o = append(*o, trace.WithAttributes(attrs...))
	}
}

// Span is a wrapped OpenTelemetry Span.
type Span struct {
	otel trace.Span
}

// StartSpan starts a new Span. It must be ended with Span.End().
func StartSpan(ctx context.Context, name string, opts ...SpanStartOption) (context.Context, *Span) {
	if !Enabled() {
		return ctx, &Span{}
	}

	options := []trace.SpanStartOption{}
	for _, o := range opts {
		o(&options)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, name, options...)
	return ctx, &Span{otel: span}
}

// SetAttributes sets attributes of the Span.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	if s.otel == nil {
		return
	}
	s.otel.SetAttributes(attrs...)
}

// End ends the Span, setting its status according to err.
func (s *Span) End(err error) {
	if s.otel == nil {
		return
	}

	if err != nil {
		s.otel.RecordError(err)
		s.otel.SetStatus(codes.Error, err.Error())
	} else {
		s.otel.SetStatus(codes.Ok, "")
	}

	s.otel.End()
}

// Attribute returns an attribute with the given key and value.
func Attribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case nil:
		return attribute.String(key, "<nil>")
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case uint32:
		return attribute.Int64(key, int64(v))
	case uint64:
		return attribute.String(key, fmt.Sprintf("0x%x", v))
	case fmt.Stringer:
		return attribute.String(key, v.String())
	}

	return attribute.String(key, fmt.Sprintf("%v", value))
}
