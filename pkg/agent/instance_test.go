// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/llm"
	"github.com/jllopis/techpulse/pkg/mcp"
)

func TestDecideParsesToolCallsAndDelegation(t *testing.T) {
	brave := newBinding(t, "brave", "search", "web_search", returning(t, []any{}))
	hn := newBinding(t, "hn", "discussion", "search_stories", returning(t, []any{}))

	p := llm.NewScriptedMockProvider()
	p.AddToolCalls("looking",
		call("brave__web_search", map[string]any{"query": "rust"}),
		call("search_stories", map[string]any{"query": "rust"}),
		call("brave__web_search", map[string]any{"query": "rust"}),
		call("nope__missing", nil),
		call("delegate_to_specialist", map[string]any{"task": "top rust repos"}),
		call("delegate_to_specialist", map[string]any{"task": "again"}),
		call("delegate_to_billing", map[string]any{"task": "x"}),
	)
	inst := instance(t, core.RoleEntry, p, brave, hn)

	d, err := inst.Decide(context.Background(), core.Request{Query: "rust"}, []core.AgentRole{core.RoleSpecialist})
	require.NoError(t, err)

	assert.Equal(t, "looking", d.DraftSummary)
	assert.Equal(t, []ToolCall{
		{Binding: "brave", Tool: "web_search", Args: map[string]any{"query": "rust"}},
		{Binding: "hn", Tool: "search_stories", Args: map[string]any{"query": "rust"}},
	}, d.ToolCalls)
	require.NotNil(t, d.Delegation)
	assert.Equal(t, Delegation{Target: core.RoleSpecialist, Task: "top rust repos"}, *d.Delegation)
}

func TestDecideOffersOnlyAllowedSources(t *testing.T) {
	brave := newBinding(t, "brave", "search", "web_search", returning(t, []any{}))
	hn := newBinding(t, "hn", "discussion", "search_stories", returning(t, []any{}))
	p := &llm.MockProvider{ChatFunc: func(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{ToolCalls: []llm.ToolCall{call("brave__web_search", map[string]any{"query": "q"})}}, nil
	}}
	inst := instance(t, core.RoleEntry, p, brave, hn)

	req := core.Request{Query: "q", Options: core.Options{Sources: []core.Source{core.SourceDiscussion}}}
	d, err := inst.Decide(context.Background(), req, nil)
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"hn__search_stories"}, offered(reqs[0]))
	assert.Empty(t, d.ToolCalls, "calls to disallowed bindings are dropped")
	assert.Contains(t, reqs[0].Messages[1].Content, "Only use these sources: discussion")
}

func TestDecideWithoutToolsSkipsModel(t *testing.T) {
	p := &llm.MockProvider{}
	inst := instance(t, core.RoleSpecialist, p)

	d, err := inst.Decide(context.Background(), core.Request{Query: "q"}, nil)
	require.NoError(t, err)
	assert.True(t, d.Empty())
	assert.Empty(t, p.Requests())
}

func TestDecideModelError(t *testing.T) {
	brave := newBinding(t, "brave", "search", "web_search", returning(t, []any{}))
	inst := instance(t, core.RoleEntry, &llm.FailingMockProvider{}, brave)

	_, err := inst.Decide(context.Background(), core.Request{Query: "q"}, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeLLMError))
}

func TestAmbiguousUnqualifiedToolIsDropped(t *testing.T) {
	a := newBinding(t, "brave", "search", "search", returning(t, []any{}))
	b := newBinding(t, "hn", "discussion", "search", returning(t, []any{}))

	_, _, ok := resolveTool("search", []*mcp.Binding{a, b})
	assert.False(t, ok)

	binding, tool, ok := resolveTool("hn__search", []*mcp.Binding{a, b})
	require.True(t, ok)
	assert.Equal(t, "hn", binding)
	assert.Equal(t, "search", tool)
}

func TestSummarize(t *testing.T) {
	p := &llm.MockProvider{Response: "  Rust async is consolidating around tokio.  "}
	inst := instance(t, core.RoleEntry, p)

	got, err := inst.Summarize(context.Background(), "rust", []core.TrendItem{{Title: "tokio", URL: "https://tokio.rs", Score: 1}})
	require.NoError(t, err)
	assert.Equal(t, "Rust async is consolidating around tokio.", got)
	assert.Contains(t, p.Requests()[0].Messages[1].Content, "1. [] tokio (https://tokio.rs)")

	_, err = instance(t, core.RoleEntry, &llm.MockProvider{Response: ""}).Summarize(context.Background(), "q", nil)
	assert.True(t, errors.HasCode(err, errors.CodeLLMError))
}
