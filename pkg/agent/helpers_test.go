// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/techpulse/pkg/config"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/llm"
	"github.com/jllopis/techpulse/pkg/mcp"
)

type funcCaller func(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error)

func (f funcCaller) CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	return f(ctx, name, args)
}

func jsonResult(t *testing.T, v any) *mcpgo.CallToolResult {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return mcpgo.NewToolResultText(string(raw))
}

// returning answers every call with v.
func returning(t *testing.T, v any) funcCaller {
	res := jsonResult(t, v)
	return func(context.Context, string, map[string]any) (*mcpgo.CallToolResult, error) { return res, nil }
}

func failing(err error) funcCaller {
	return func(context.Context, string, map[string]any) (*mcpgo.CallToolResult, error) { return nil, err }
}

func counting(n *atomic.Int32, next funcCaller) funcCaller {
	return func(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
		n.Add(1)
		return next(ctx, name, args)
	}
}

func newBinding(t *testing.T, name, source, tool string, caller funcCaller) *mcp.Binding {
	t.Helper()
	b, err := mcp.NewBinding(config.ToolConfig{Name: name, Source: source, Timeout: time.Second}, caller,
		[]mcpgo.Tool{mcpgo.NewTool(tool, mcpgo.WithDescription(tool), mcpgo.WithString("query", mcpgo.Required()))})
	require.NoError(t, err)
	return b
}

// planner returns calls whenever tools are offered and summary otherwise, so
// decide and summarize can run in any order.
func planner(summary string, calls ...llm.ToolCall) *llm.MockProvider {
	return &llm.MockProvider{
		ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
			if len(req.Tools) > 0 {
				return &llm.ChatResponse{Content: "draft", ToolCalls: calls}, nil
			}
			return &llm.ChatResponse{Content: summary}, nil
		},
	}
}

func call(name string, args map[string]any) llm.ToolCall {
	return llm.NewToolCall("call-"+name, name, args)
}

func offered(req llm.ChatRequest) []string {
	names := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		names = append(names, t.Function.Name)
	}
	return names
}

func hasDelegateTool(reqs []llm.ChatRequest) bool {
	for _, r := range reqs {
		for _, name := range offered(r) {
			if strings.HasPrefix(name, delegatePrefix) {
				return true
			}
		}
	}
	return false
}

func instance(t *testing.T, role core.AgentRole, p llm.Provider, bindings ...*mcp.Binding) *Instance {
	t.Helper()
	inst, err := NewFactory(WithProvider(p)).CreateAgent(role, "you are a test agent", bindings, ModelConfig{Model: "test"})
	require.NoError(t, err)
	return inst
}
