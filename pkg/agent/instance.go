// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/llm"
	"github.com/jllopis/techpulse/pkg/mcp"
	"github.com/jllopis/techpulse/pkg/telemetry"
)

// delegatePrefix names the pseudo-tools offered to the model for delegation.
const delegatePrefix = "delegate_to_"

// ToolCall is one tool invocation chosen for a request.
type ToolCall struct {
	Binding string         `json:"binding"`
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
}

// Delegation asks another role to handle part of a request.
type Delegation struct {
	Target core.AgentRole `json:"target"`
	Task   string         `json:"task"`
}

// Decision is the plan the model chose for a request.
type Decision struct {
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	Delegation   *Delegation `json:"delegation,omitempty"`
	DraftSummary string      `json:"draft_summary,omitempty"`
}

// Empty reports whether the decision asks for no work at all.
func (d *Decision) Empty() bool {
	return d == nil || (len(d.ToolCalls) == 0 && d.Delegation == nil)
}

// Instance combines a role prompt, a model provider and the tool bindings
// the role may call. Instances are safe for concurrent use; nothing in them
// changes after construction.
type Instance struct {
	role     core.AgentRole
	prompt   string
	provider llm.Provider
	model    ModelConfig
	bindings []*mcp.Binding
	byName   map[string]*mcp.Binding
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Role returns the role the instance was built for.
func (i *Instance) Role() core.AgentRole { return i.role }

// Model returns the model configuration.
func (i *Instance) Model() ModelConfig { return i.model }

// Bindings returns the bound tool sources in declaration order.
func (i *Instance) Bindings() []*mcp.Binding {
	return append([]*mcp.Binding(nil), i.bindings...)
}

// Binding returns the binding named name.
func (i *Instance) Binding(name string) (*mcp.Binding, bool) {
	b, ok := i.byName[name]
	return b, ok
}

// allowed returns the bindings req permits, in declaration order.
func (i *Instance) allowed(req core.Request) []*mcp.Binding {
	out := make([]*mcp.Binding, 0, len(i.bindings))
	for _, b := range i.bindings {
		if req.AllowsSource(b.Source()) {
			out = append(out, b)
		}
	}
	return out
}

// Decide asks the model which tools to call and whether to delegate. Only
// tools of bindings allowed by the request and the given delegate roles are
// offered; calls outside that set are dropped. At most one delegation is
// kept.
func (i *Instance) Decide(ctx context.Context, req core.Request, delegates []core.AgentRole) (*Decision, error) {
	allowed := i.allowed(req)
	var tools []llm.Tool
	for _, b := range allowed {
		tools = append(tools, b.Definitions()...)
	}
	for _, role := range delegates {
		tools = append(tools, delegateTool(role))
	}
	if len(tools) == 0 {
		return &Decision{}, nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: i.prompt},
		{Role: llm.RoleUser, Content: renderRequest(req)},
	}
	resp, err := i.chat(ctx, "agent.decide", llm.ChatRequest{
		Model:       i.model.Model,
		Messages:    messages,
		Tools:       tools,
		Temperature: i.model.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return i.parseDecision(resp, allowed, delegates), nil
}

func (i *Instance) parseDecision(resp *llm.ChatResponse, allowed []*mcp.Binding, delegates []core.AgentRole) *Decision {
	d := &Decision{DraftSummary: strings.TrimSpace(resp.Content)}
	seen := make(map[string]bool)
	for _, tc := range resp.ToolCalls {
		name := tc.Function.Name
		args, err := tc.Function.DecodeArguments()
		if err != nil {
			i.logger.Warn("dropping tool call with invalid arguments", "tool", name, "error", err)
			continue
		}

		if target, ok := strings.CutPrefix(name, delegatePrefix); ok {
			role := core.AgentRole(target)
			if d.Delegation != nil || !containsRole(delegates, role) {
				i.logger.Debug("dropping delegation", "target", target)
				continue
			}
			task, _ := args["task"].(string)
			d.Delegation = &Delegation{Target: role, Task: strings.TrimSpace(task)}
			continue
		}

		binding, tool, ok := resolveTool(name, allowed)
		if !ok {
			i.logger.Debug("dropping call to unavailable tool", "tool", name)
			continue
		}
		key := binding + "\x00" + tool + "\x00" + tc.Function.Arguments
		if seen[key] {
			continue
		}
		seen[key] = true
		d.ToolCalls = append(d.ToolCalls, ToolCall{Binding: binding, Tool: tool, Args: args})
	}
	return d
}

// resolveTool maps a model-visible tool name to a binding and tool. An
// unqualified name is accepted when exactly one allowed binding publishes it.
func resolveTool(name string, allowed []*mcp.Binding) (binding, tool string, ok bool) {
	if b, t, qualified := mcp.SplitQualifiedName(name); qualified {
		for _, a := range allowed {
			if a.Name() == b && a.HasTool(t) {
				return b, t, true
			}
		}
		return "", "", false
	}
	var match *mcp.Binding
	for _, a := range allowed {
		if a.HasTool(name) {
			if match != nil {
				return "", "", false
			}
			match = a
		}
	}
	if match == nil {
		return "", "", false
	}
	return match.Name(), name, true
}

// Summarize asks the model for a short narrative over the ranked items.
func (i *Instance) Summarize(ctx context.Context, query string, items []core.TrendItem) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nRanked results:\n", query)
	for n, it := range items {
		fmt.Fprintf(&b, "%d. [%s] %s (%s) score=%.2f\n", n+1, it.Source, it.Title, it.URL, it.Score)
		if it.Summary != "" {
			fmt.Fprintf(&b, "   %s\n", it.Summary)
		}
	}
	b.WriteString("\nSummarize the main trends in a short paragraph. Only use the results above.")

	resp, err := i.chat(ctx, "agent.summarize", llm.ChatRequest{
		Model: i.model.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: i.prompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
		Temperature: i.model.Temperature,
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", errors.New(errors.CodeLLMError, "model returned an empty summary", nil)
	}
	return summary, nil
}

func (i *Instance) chat(ctx context.Context, op string, req llm.ChatRequest) (*llm.ChatResponse, error) {
	ctx, span := i.tracer.Start(ctx, op, trace.WithAttributes(
		telemetry.LLMAttributes(req.Model, i.model.Provider, len(req.Messages), 0)...,
	))
	defer span.End()

	resp, err := i.provider.Chat(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.New(errors.CodeLLMError, fmt.Sprintf("%s: model call failed", i.role), err).
			WithContext("role", string(i.role))
	}
	if resp == nil {
		span.SetStatus(codes.Error, "nil response")
		return nil, errors.New(errors.CodeLLMError, fmt.Sprintf("%s: model returned no response", i.role), nil)
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func delegateTool(role core.AgentRole) llm.Tool {
	return llm.NewFunctionTool(delegatePrefix+string(role),
		fmt.Sprintf("Delegate a narrower task to the %s agent. Use at most once.", role),
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task": map[string]any{"type": "string", "description": "What the other agent should find"},
			},
			"required": []string{"task"},
		})
}

func renderRequest(req core.Request) string {
	var b strings.Builder
	b.WriteString(req.Query)
	if len(req.Repositories) > 0 {
		fmt.Fprintf(&b, "\n\nRepositories: %s", strings.Join(req.Repositories, ", "))
	}
	if len(req.Options.Sources) > 0 {
		srcs := make([]string, len(req.Options.Sources))
		for n, s := range req.Options.Sources {
			srcs[n] = string(s)
		}
		fmt.Fprintf(&b, "\n\nOnly use these sources: %s", strings.Join(srcs, ", "))
	}
	return b.String()
}

func containsRole(roles []core.AgentRole, role core.AgentRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
