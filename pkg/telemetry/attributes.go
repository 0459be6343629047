// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides logging, tracing and metrics for the
// orchestration layer.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for orchestration spans and metrics.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Agent attributes
	AttrAgentRole  = "techpulse.agent.role"
	AttrAgentModel = "techpulse.agent.model"
	AttrRunID      = "techpulse.run_id"

	// Request attributes
	AttrQuery        = "techpulse.request.query"
	AttrSources      = "techpulse.request.sources"
	AttrLimit        = "techpulse.request.limit"
	AttrItemCount    = "techpulse.outcome.items"
	AttrFaultCount   = "techpulse.outcome.faults"
	AttrOutcomeState = "techpulse.outcome.state"

	// Tool attributes
	AttrBinding    = "techpulse.tool.binding"
	AttrToolName   = "techpulse.tool.name"
	AttrToolSource = "techpulse.tool.source"
	AttrToolArgs   = "techpulse.tool.arguments"
	AttrToolStatus = "techpulse.tool.status"

	// Delegation attributes
	AttrDelegationTarget = "techpulse.delegation.target"
	AttrDelegationFrom   = "techpulse.delegation.from"
	AttrCorrelationID    = "techpulse.delegation.correlation_id"
	AttrDelegationStatus = "techpulse.delegation.status"
	AttrDelegationRemote = "techpulse.delegation.remote"

	// LLM attributes (standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"

	// Error attributes
	AttrErrorCode = "error.code"
	AttrComponent = "component"
)

// RequestAttributes returns attributes for a request span.
func RequestAttributes(role, runID, query string, sources []string, limit int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentRole, role),
		attribute.String(AttrQuery, truncate(query, 200)),
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	if len(sources) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrSources, sources))
	}
	if limit > 0 {
		attrs = append(attrs, attribute.Int(AttrLimit, limit))
	}
	return attrs
}

// OutcomeAttributes returns attributes summarizing an outcome.
func OutcomeAttributes(items, faults int, failed bool) []attribute.KeyValue {
	state := "ok"
	switch {
	case failed:
		state = "failed"
	case faults > 0:
		state = "partial"
	}
	return []attribute.KeyValue{
		attribute.Int(AttrItemCount, items),
		attribute.Int(AttrFaultCount, faults),
		attribute.String(AttrOutcomeState, state),
	}
}

// ToolCallAttributes returns attributes for a tool call span.
func ToolCallAttributes(binding, tool, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrBinding, binding),
		attribute.String(AttrToolName, tool),
		attribute.String(AttrToolSource, source),
	}
}

// ToolArgsAttribute returns the tool arguments attribute, truncated to maxLen.
func ToolArgsAttribute(args string, maxLen int) attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	return attribute.String(AttrToolArgs, truncate(args, maxLen))
}

// DelegationAttributes returns attributes for a delegation span.
func DelegationAttributes(from, target, correlationID string, remote bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrDelegationFrom, from),
		attribute.String(AttrDelegationTarget, target),
		attribute.String(AttrCorrelationID, correlationID),
		attribute.Bool(AttrDelegationRemote, remote),
	}
}

// LLMAttributes returns attributes for LLM call spans.
func LLMAttributes(model, provider string, msgCount int, toolCallCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if toolCallCount > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCallCount))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	return attrs
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
