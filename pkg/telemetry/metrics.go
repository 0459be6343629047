// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/techpulse/pkg/errors"
)

// Metrics records orchestration counters and latencies on the global meter.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests        metric.Int64Counter
	requestLatency  metric.Float64Histogram
	toolCalls       metric.Int64Counter
	toolLatency     metric.Float64Histogram
	delegations     metric.Int64Counter
	delegLatency    metric.Float64Histogram
	faults          metric.Int64Counter
	breakerState    metric.Int64Gauge
	componentHealth metric.Int64Gauge
	httpRequests    metric.Int64Counter
	httpLatency     metric.Float64Histogram
}

// NewMetrics creates the orchestration instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("techpulse/orchestrator")
	m := &Metrics{}
	var err error

	if m.requests, err = meter.Int64Counter("techpulse.requests.total",
		metric.WithDescription("Requests executed by role and state")); err != nil {
		return nil, err
	}
	if m.requestLatency, err = meter.Float64Histogram("techpulse.requests.duration",
		metric.WithDescription("Request latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("techpulse.tool.calls.total",
		metric.WithDescription("Tool invocations by binding, tool and status")); err != nil {
		return nil, err
	}
	if m.toolLatency, err = meter.Float64Histogram("techpulse.tool.calls.duration",
		metric.WithDescription("Tool invocation latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.delegations, err = meter.Int64Counter("techpulse.delegations.total",
		metric.WithDescription("Delegations by target and status")); err != nil {
		return nil, err
	}
	if m.delegLatency, err = meter.Float64Histogram("techpulse.delegations.duration",
		metric.WithDescription("Delegation round-trip latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.faults, err = meter.Int64Counter("techpulse.faults.total",
		metric.WithDescription("Non-fatal faults recorded in outcomes by kind and code")); err != nil {
		return nil, err
	}
	if m.breakerState, err = meter.Int64Gauge("techpulse.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per binding (0=open, 1=half-open, 2=closed)")); err != nil {
		return nil, err
	}
	if m.componentHealth, err = meter.Int64Gauge("techpulse.health.status",
		metric.WithDescription("Component health status (0=unhealthy, 1=degraded, 2=healthy)")); err != nil {
		return nil, err
	}
	if m.httpRequests, err = meter.Int64Counter("techpulse.http.requests.total",
		metric.WithDescription("HTTP requests by method, route and status")); err != nil {
		return nil, err
	}
	if m.httpLatency, err = meter.Float64Histogram("techpulse.http.requests.duration",
		metric.WithDescription("HTTP request latency"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordRequest records one executed request.
func (m *Metrics) RecordRequest(ctx context.Context, role string, attrs []attribute.KeyValue, d time.Duration) {
	if m == nil {
		return
	}
	set := append([]attribute.KeyValue{attribute.String(AttrAgentRole, role)}, stateOnly(attrs)...)
	m.requests.Add(ctx, 1, metric.WithAttributes(set...))
	m.requestLatency.Record(ctx, d.Seconds(), metric.WithAttributes(set...))
}

// RecordToolCall records one tool invocation; err nil means success.
func (m *Metrics) RecordToolCall(ctx context.Context, binding, tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrBinding, binding),
		attribute.String(AttrToolName, tool),
		attribute.String(AttrToolStatus, status(err)),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolLatency.Record(ctx, d.Seconds(), attrs)
}

// RecordDelegation records one delegation round-trip.
func (m *Metrics) RecordDelegation(ctx context.Context, target string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrDelegationTarget, target),
		attribute.String(AttrDelegationStatus, status(err)),
	)
	m.delegations.Add(ctx, 1, attrs)
	m.delegLatency.Record(ctx, d.Seconds(), attrs)
}

// RecordFault counts a fault by kind and code.
func (m *Metrics) RecordFault(ctx context.Context, kind string, code errors.ErrorCode) {
	if m == nil {
		return
	}
	m.faults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String(AttrErrorCode, string(code)),
	))
}

// RecordCircuitBreakerState records the breaker state (0=open, 1=half-open, 2=closed).
func (m *Metrics) RecordCircuitBreakerState(ctx context.Context, binding string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String(AttrBinding, binding)))
}

// RecordHealthStatus records a component health status (0=unhealthy, 1=degraded, 2=healthy).
func (m *Metrics) RecordHealthStatus(ctx context.Context, component string, status int64) {
	if m == nil {
		return
	}
	m.componentHealth.Record(ctx, status, metric.WithAttributes(attribute.String(AttrComponent, component)))
}

// RecordHTTPRequest records one served HTTP request. route is the matched
// pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", statusCode),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpLatency.Record(ctx, d.Seconds(), attrs)
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errors.CodeOf(err))
}

// stateOnly keeps the low-cardinality outcome state out of a set of span attributes.
func stateOnly(attrs []attribute.KeyValue) []attribute.KeyValue {
	for _, a := range attrs {
		if a.Key == AttrOutcomeState {
			return []attribute.KeyValue{a}
		}
	}
	return nil
}
