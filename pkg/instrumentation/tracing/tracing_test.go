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

package tracing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	. "github.com/etna-drm/bomgr/pkg/instrumentation/tracing"
)

type stringer struct{}

func (stringer) String() string { return "stringer" }

func TestDisabledSpans(t *testing.T) {
	require.False(t, Enabled())

	ctx, span := StartSpan(context.Background(), "noop")
	require.NotNil(t, ctx)
	span.SetAttributes(Attribute("key", "value"))
	span.End(nil)
}

func TestRecordedSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, Start(WithSpanExporter(exporter), WithServiceName("test")))
	defer Stop()

	require.True(t, Enabled())

	ctx, parent := StartSpan(context.Background(), "parent", WithAttributes(Attribute("size", int64(4096))))
	_, child := StartSpan(ctx, "child")
	child.End(errors.New("failed"))
	parent.End(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "child", spans[0].Name)
	require.Equal(t, codes.Error, spans[0].Status.Code)
	require.Equal(t, "parent", spans[1].Name)
	require.Equal(t, codes.Ok, spans[1].Status.Code)
	require.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestInvalidOptions(t *testing.T) {
	require.Error(t, Start(WithSamplingRatio(1.5)))
	require.Error(t, Start(WithCollectorEndpoint("ftp://localhost")))
	require.False(t, Enabled())
}

func TestAttribute(t *testing.T) {
	require.Equal(t, "<nil>", Attribute("k", nil).Value.AsString())
	require.Equal(t, "0x1000", Attribute("k", uint64(0x1000)).Value.AsString())
	require.Equal(t, "stringer", Attribute("k", stringer{}).Value.AsString())
	require.Equal(t, int64(5), Attribute("k", uint32(5)).Value.AsInt64())
}
