// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/techpulse/pkg/a2a"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/guardrails"
	"github.com/jllopis/techpulse/pkg/ranking"
	"github.com/jllopis/techpulse/pkg/telemetry"
)

// engine executes a plan for one role: decide, fan out, merge, summarize.
type engine struct {
	inst     *Instance
	settings Settings
	ranker   *ranking.Ranker
	guard    *guardrails.Guard
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

type delegationPlan struct {
	delegator a2a.Delegator
	targets   []DelegateTarget
}

func (p *delegationPlan) target(role core.AgentRole) (DelegateTarget, bool) {
	if p == nil {
		return DelegateTarget{}, false
	}
	for _, t := range p.targets {
		if t.Role == role {
			return t, true
		}
	}
	return DelegateTarget{}, false
}

// roles lists the targets the request allows.
func (p *delegationPlan) roles(req core.Request) []core.AgentRole {
	if p == nil {
		return nil
	}
	var out []core.AgentRole
	for _, t := range p.targets {
		if t.allowedBy(req) {
			out = append(out, t.Role)
		}
	}
	return out
}

// slot is the result of one tool or delegation call.
type slot struct {
	items  []core.TrendItem
	faults []core.Fault
	failed bool
}

func (e *engine) run(ctx context.Context, req core.Request, deleg *delegationPlan) (out *core.Outcome, err error) {
	start := time.Now()
	ctx, runID := core.EnsureRunID(ctx)
	limit := e.settings.limit(req)

	sources := make([]string, len(req.Options.Sources))
	for i, s := range req.Options.Sources {
		sources[i] = string(s)
	}
	attrs := telemetry.RequestAttributes(string(e.inst.role), runID, req.Query, sources, limit)
	ctx, span := e.tracer.Start(ctx, "agent.execute", trace.WithAttributes(attrs...))
	defer span.End()

	timeout := e.settings.RequestTimeout
	if req.Options.Timeout > 0 {
		timeout = req.Options.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := e.logger.With("run_id", runID)
	outcome := &core.Outcome{Items: []core.TrendItem{}, Errors: []core.Fault{}}

	allowedRoles := deleg.roles(req)
	decision, derr := e.inst.Decide(ctx, req, allowedRoles)
	if derr != nil {
		log.WarnContext(ctx, "model decision failed, using default plan", "error", derr)
		e.fault(ctx, outcome, core.NewFault(core.FaultDecision, derr))
		decision = &Decision{}
	}
	if decision.Empty() {
		draft := decision.DraftSummary
		decision = e.defaultPlan(req, deleg, allowedRoles)
		decision.DraftSummary = draft
	}

	slots := e.fanOut(ctx, req, decision, deleg, log)

	batches := make([][]core.TrendItem, 0, len(slots))
	failed := 0
	for _, s := range slots {
		batches = append(batches, s.items)
		for _, f := range s.faults {
			e.fault(ctx, outcome, f)
		}
		if s.failed {
			failed++
		}
	}

	items := e.ranker.Merge(batches...)
	items = ranking.FilterRecent(items, e.settings.MaxAge, e.now())
	outcome.Items = ranking.Truncate(items, limit)
	outcome.Summary = e.summarize(ctx, req, decision, outcome.Items, log)

	if len(slots) > 0 && failed == len(slots) {
		outcome.Failed = true
		err = errors.New(errors.CodeAllSourcesFailed,
			fmt.Sprintf("%s: all %d tool and delegation calls failed", e.inst.role, len(slots)), nil).
			WithContext("role", string(e.inst.role)).
			WithContext("run_id", runID)
	}

	outAttrs := telemetry.OutcomeAttributes(len(outcome.Items), len(outcome.Errors), outcome.Failed)
	span.SetAttributes(outAttrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WarnContext(ctx, "request failed", "faults", len(outcome.Errors), "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
		log.InfoContext(ctx, "request completed",
			"items", len(outcome.Items), "faults", len(outcome.Errors), "duration", time.Since(start))
	}
	e.metrics.RecordRequest(ctx, string(e.inst.role), outAttrs, time.Since(start))
	return outcome, err
}

// defaultPlan calls the default tool of every allowed binding with the query
// and delegates to the first allowed target.
func (e *engine) defaultPlan(req core.Request, deleg *delegationPlan, roles []core.AgentRole) *Decision {
	d := &Decision{}
	for _, b := range e.inst.allowed(req) {
		tool, args, ok := b.DefaultCall(req.Query)
		if !ok {
			continue
		}
		d.ToolCalls = append(d.ToolCalls, ToolCall{Binding: b.Name(), Tool: tool, Args: args})
	}
	if deleg != nil && len(roles) > 0 {
		d.Delegation = &Delegation{Target: roles[0], Task: req.Query}
	}
	return d
}

// fanOut runs every planned call concurrently, bounded by MaxParallel, and
// returns one slot per call in plan order. Calls never cancel each other.
func (e *engine) fanOut(ctx context.Context, req core.Request, d *Decision, deleg *delegationPlan, log *slog.Logger) []slot {
	n := len(d.ToolCalls)
	if d.Delegation != nil {
		n++
	}
	slots := make([]slot, n)

	var g errgroup.Group
	g.SetLimit(e.settings.MaxParallel)
	for i, call := range d.ToolCalls {
		g.Go(func() error {
			slots[i] = e.callTool(ctx, call)
			return nil
		})
	}
	if d.Delegation != nil {
		g.Go(func() error {
			slots[n-1] = e.delegate(ctx, req, *d.Delegation, deleg, log)
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

func (e *engine) callTool(ctx context.Context, call ToolCall) slot {
	b, ok := e.inst.Binding(call.Binding)
	if !ok {
		err := errors.Newf(errors.CodeNotFound, "binding %s is not bound to %s", call.Binding, e.inst.role)
		return failedSlot(core.FaultTool, err, call.Binding, call.Tool, "")
	}
	out, err := b.Invoke(ctx, call.Tool, call.Args)
	if err != nil {
		return failedSlot(core.FaultTool, err, call.Binding, call.Tool, "")
	}
	return slot{items: Extract(out, b)}
}

func (e *engine) delegate(ctx context.Context, req core.Request, d Delegation, deleg *delegationPlan, log *slog.Logger) slot {
	target, ok := deleg.target(d.Target)
	if !ok {
		err := errors.Newf(errors.CodeDelegationUnavailable, "%s may not delegate to %s", e.inst.role, d.Target)
		return failedSlot(core.FaultDelegation, err, "", "", d.Target)
	}
	sub := core.Request{
		Query:        req.Query,
		Repositories: req.Repositories,
		Options:      core.Options{Limit: req.Options.Limit},
	}
	if d.Task != "" {
		sub.Query = d.Task
	}

	resp, err := deleg.delegator.Send(ctx, target.Role, a2a.DelegationRequest{
		From:    e.inst.role,
		Task:    d.Task,
		Request: sub,
	}, target.Timeout)
	if err != nil {
		log.WarnContext(ctx, "delegation failed", "target", target.Role, "correlation_id", resp.CorrelationID, "error", err)
		return failedSlot(core.FaultDelegation, err, "", "", target.Role)
	}

	s := slot{items: resp.Outcome.Items}
	for _, f := range resp.Outcome.Errors {
		if f.Role == "" {
			f.Role = target.Role
		}
		s.faults = append(s.faults, f)
	}
	return s
}

func failedSlot(kind core.FaultKind, err error, binding, tool string, role core.AgentRole) slot {
	f := core.NewFault(kind, err)
	f.Binding = binding
	f.Tool = tool
	f.Role = role
	if f.Message == "" {
		f.Message = err.Error()
	}
	return slot{faults: []core.Fault{f}, failed: true}
}

func (e *engine) fault(ctx context.Context, o *core.Outcome, f core.Fault) {
	o.Errors = append(o.Errors, f)
	e.metrics.RecordFault(ctx, string(f.Kind), f.Code)
}

// summarize asks the model for a narrative. It falls back to the draft
// summary, then to a digest of the items. It never fails.
func (e *engine) summarize(ctx context.Context, req core.Request, d *Decision, items []core.TrendItem, log *slog.Logger) string {
	if len(items) > 0 && ctx.Err() == nil {
		summary, err := e.inst.Summarize(ctx, req.Query, items)
		if err == nil {
			return summary
		}
		log.DebugContext(ctx, "summary failed, using fallback", "error", err)
	}
	if d.DraftSummary != "" {
		return d.DraftSummary
	}
	return digest(req.Query, items)
}

func digest(query string, items []core.TrendItem) string {
	if len(items) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	top := items
	if len(top) > 3 {
		top = top[:3]
	}
	titles := make([]string, len(top))
	for i, it := range top {
		titles[i] = it.Title
	}
	return fmt.Sprintf("%d results for %q. Top: %s.", len(items), query, strings.Join(titles, "; "))
}
