// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/techpulse/pkg/errors"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsRecording(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	defer otel.SetMeterProvider(prev)

	m, err := NewMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordRequest(ctx, "entry", OutcomeAttributes(3, 1, false), 120*time.Millisecond)
	m.RecordToolCall(ctx, "brave_search", "brave_web_search", 10*time.Millisecond, nil)
	m.RecordToolCall(ctx, "hacker_news", "get_stories", 10*time.Millisecond,
		errors.New(errors.CodeToolFailure, "boom", nil))
	m.RecordDelegation(ctx, "specialist", 30*time.Millisecond, nil)
	m.RecordFault(ctx, "tool", errors.CodeToolFailure)
	m.RecordCircuitBreakerState(ctx, "github", 2)
	m.RecordHealthStatus(ctx, "manager", 2)
	m.RecordHTTPRequest(ctx, "POST", "/api/v1/trends", 200, 5*time.Millisecond)

	got := collect(t, reader)
	for _, name := range []string{
		"techpulse.requests.total",
		"techpulse.requests.duration",
		"techpulse.tool.calls.total",
		"techpulse.tool.calls.duration",
		"techpulse.delegations.total",
		"techpulse.faults.total",
		"techpulse.circuitbreaker.state",
		"techpulse.health.status",
		"techpulse.http.requests.total",
		"techpulse.http.requests.duration",
	} {
		assert.Contains(t, got, name)
	}

	sum, ok := got["techpulse.tool.calls.total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2, "ok and failed calls are separate series")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordRequest(ctx, "entry", nil, time.Second)
	m.RecordToolCall(ctx, "b", "t", time.Second, nil)
	m.RecordDelegation(ctx, "specialist", time.Second, nil)
	m.RecordFault(ctx, "tool", errors.CodeToolFailure)
	m.RecordCircuitBreakerState(ctx, "b", 0)
	m.RecordHealthStatus(ctx, "c", 0)
	m.RecordHTTPRequest(ctx, "GET", "/health", 200, time.Second)
}
