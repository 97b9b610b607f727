package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
	"github.com/fyrsmithlabs/ctxrouter/internal/pipeline"
)

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetrics_RecordInvocation(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newMetrics(mp.Meter(instrumentationName), zap.NewNop())

	ctx := context.Background()
	m.RecordInvocation(ctx, "route_request", 10*time.Millisecond, nil)
	m.RecordInvocation(ctx, "record_outcome", 5*time.Millisecond, pipeline.ErrUnknownOperation)
	done := m.track(ctx, "compress_content")
	done(nil)
	m.RecordTokensSaved(ctx, 100, 60)
	m.RecordTokensSaved(ctx, 10, 10)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(3), sumOf(t, rm, "ctxrouter.mcp.tool.invocations_total"))
	assert.Equal(t, int64(1), sumOf(t, rm, "ctxrouter.mcp.tool.errors_total"))
	assert.Equal(t, int64(0), sumOf(t, rm, "ctxrouter.mcp.tool.active_requests"))
	assert.Equal(t, int64(40), sumOf(t, rm, "ctxrouter.compression.tokens_saved_total"))
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrapped: %w", pipeline.ErrUnknownOperation), "not_found"},
		{pipeline.ErrUnknownProvider, "validation_error"},
		{learning.ErrInvalidEvent, "validation_error"},
		{errInvalidArgument, "validation_error"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), "%v", tt.err)
	}
}
