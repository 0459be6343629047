// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jllopis/techpulse/pkg/a2a"
	"github.com/jllopis/techpulse/pkg/config"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/guardrails"
	"github.com/jllopis/techpulse/pkg/ranking"
	"github.com/jllopis/techpulse/pkg/telemetry"
)

// Service is one long-lived role. Every variant shares this capability set
// and is constructed around exactly one Instance.
type Service interface {
	Role() core.AgentRole
	Accepts(req core.Request) bool
	Execute(ctx context.Context, req core.Request) (*core.Outcome, error)
	RoleManifest() core.RoleManifest
	Ready() bool
}

// Settings bound the work a service does per request.
type Settings struct {
	RequestTimeout time.Duration
	MaxParallel    int
	DefaultLimit   int
	MaxLimit       int
	MaxAge         time.Duration
	// Priority lists binding names in declaration order for tie-breaking.
	Priority []string
}

// SettingsFrom derives service settings from configuration.
func SettingsFrom(cfg *config.Config) Settings {
	s := Settings{
		RequestTimeout: cfg.Orchestrator.RequestTimeout,
		MaxParallel:    cfg.Orchestrator.MaxParallel,
		DefaultLimit:   cfg.Orchestrator.DefaultLimit,
		MaxLimit:       cfg.Orchestrator.MaxLimit,
		MaxAge:         cfg.Orchestrator.MaxAge,
	}
	for _, t := range cfg.Tools {
		s.Priority = append(s.Priority, t.Name)
	}
	return s
}

func (s Settings) withDefaults() Settings {
	if s.MaxParallel <= 0 {
		s.MaxParallel = 8
	}
	if s.DefaultLimit <= 0 {
		s.DefaultLimit = 10
	}
	if s.MaxLimit <= 0 {
		s.MaxLimit = 50
	}
	if s.DefaultLimit > s.MaxLimit {
		s.DefaultLimit = s.MaxLimit
	}
	return s
}

// limit resolves the number of items a request may return.
func (s Settings) limit(req core.Request) int {
	switch {
	case req.Options.Limit <= 0:
		return s.DefaultLimit
	case req.Options.Limit > s.MaxLimit:
		return s.MaxLimit
	}
	return req.Options.Limit
}

// ServiceOption configures a service.
type ServiceOption func(*engine)

// WithSettings sets the per-request limits.
func WithSettings(s Settings) ServiceOption {
	return func(e *engine) { e.settings = s }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(e *engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records requests and faults on m.
func WithMetrics(m *telemetry.Metrics) ServiceOption {
	return func(e *engine) { e.metrics = m }
}

// WithClock replaces time.Now for the recency filter.
func WithClock(now func() time.Time) ServiceOption {
	return func(e *engine) { e.now = now }
}

// WithGuard screens every query before planning. Blocked queries fail with
// INVALID_INPUT and never reach the model or a tool.
func WithGuard(g *guardrails.Guard) ServiceOption {
	return func(e *engine) { e.guard = g }
}

// DelegateTarget describes a role the entry service may delegate to.
type DelegateTarget struct {
	Role core.AgentRole
	// Sources the target covers. A delegation is only planned when the
	// request allows one of them.
	Sources []core.Source
	Timeout time.Duration
}

func (t DelegateTarget) allowedBy(req core.Request) bool {
	if len(t.Sources) == 0 {
		return true
	}
	for _, s := range t.Sources {
		if req.AllowsSource(s) {
			return true
		}
	}
	return false
}

// EntryService interprets incoming queries. It calls its own tools and may
// delegate one narrower task per request.
type EntryService struct {
	*engine
	delegator a2a.Delegator
	targets   []DelegateTarget
}

// NewEntryService wraps inst. delegator may be nil, in which case the
// service never delegates.
func NewEntryService(inst *Instance, delegator a2a.Delegator, targets []DelegateTarget, opts ...ServiceOption) *EntryService {
	if delegator == nil {
		targets = nil
	}
	s := &EntryService{
		engine:    newEngine(inst, opts...),
		delegator: delegator,
		targets:   targets,
	}
	return s
}

// Accepts reports whether req carries a query.
func (s *EntryService) Accepts(req core.Request) bool {
	return strings.TrimSpace(req.Query) != "" && req.Options.Limit >= 0
}

// Execute runs req end to end.
func (s *EntryService) Execute(ctx context.Context, req core.Request) (*core.Outcome, error) {
	if !s.Accepts(req) {
		return nil, invalidRequest(s.inst.role, req)
	}
	if err := s.screen(ctx, req.Query); err != nil {
		return nil, err
	}
	return s.run(ctx, req, s.delegation())
}

func (s *EntryService) delegation() *delegationPlan {
	if s.delegator == nil || len(s.targets) == 0 {
		return nil
	}
	return &delegationPlan{delegator: s.delegator, targets: s.targets}
}

// RoleManifest describes the role.
func (s *EntryService) RoleManifest() core.RoleManifest {
	m := s.manifest("interprets queries, searches web and discussion sources, delegates repository analysis")
	for _, t := range s.targets {
		m.Delegates = append(m.Delegates, t.Role)
	}
	return m
}

// SpecialistService handles narrower tasks over its own tools. It is a leaf
// role: it holds no delegator and never delegates.
type SpecialistService struct {
	*engine
}

// NewSpecialistService wraps inst.
func NewSpecialistService(inst *Instance, opts ...ServiceOption) *SpecialistService {
	return &SpecialistService{engine: newEngine(inst, opts...)}
}

// Accepts reports whether req carries a query or repositories and the
// service has a binding the request allows.
func (s *SpecialistService) Accepts(req core.Request) bool {
	if strings.TrimSpace(req.Query) == "" && len(req.Repositories) == 0 {
		return false
	}
	if req.Options.Limit < 0 {
		return false
	}
	return len(s.inst.bindings) == 0 || len(s.inst.allowed(req)) > 0
}

// Execute runs req over the specialist's tools.
func (s *SpecialistService) Execute(ctx context.Context, req core.Request) (*core.Outcome, error) {
	if !s.Accepts(req) {
		return nil, invalidRequest(s.inst.role, req)
	}
	if strings.TrimSpace(req.Query) == "" {
		req.Query = strings.Join(req.Repositories, " ")
	}
	if err := s.screen(ctx, req.Query); err != nil {
		return nil, err
	}
	return s.run(ctx, req, nil)
}

// RoleManifest describes the role.
func (s *SpecialistService) RoleManifest() core.RoleManifest {
	return s.manifest("looks up source-hosting repositories and their activity")
}

func (e *engine) manifest(responsibility string) core.RoleManifest {
	m := core.RoleManifest{Role: e.inst.role, Responsibility: responsibility}
	for _, b := range e.inst.bindings {
		m.Bindings = append(m.Bindings, b.Name())
		m.Tools = append(m.Tools, b.ToolNames()...)
	}
	return m
}

// Ready reports whether the service can take requests.
func (e *engine) Ready() bool { return e.inst != nil }

// Role returns the service role.
func (e *engine) Role() core.AgentRole { return e.inst.role }

// Instance returns the wrapped agent instance.
func (e *engine) Instance() *Instance { return e.inst }

func newEngine(inst *Instance, opts ...ServiceOption) *engine {
	e := &engine{
		inst:   inst,
		logger: slog.Default(),
		now:    time.Now,
		tracer: otel.Tracer("techpulse/agent"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.settings = e.settings.withDefaults()
	e.ranker = ranking.NewRanker(e.settings.Priority)
	e.logger = e.logger.With("role", inst.role)
	return e
}

func (e *engine) screen(ctx context.Context, text string) error {
	res := e.guard.Check(ctx, text)
	if !res.Blocked {
		return nil
	}
	e.logger.WarnContext(ctx, "request rejected", "checker", res.Checker, "reason", res.Reason)
	return errors.Newf(errors.CodeInvalidInput, "%s: request rejected by guardrail", e.inst.role).
		WithContext("role", string(e.inst.role)).
		WithContext("guardrail", res.Checker)
}

func invalidRequest(role core.AgentRole, req core.Request) error {
	msg := "query is required"
	if req.Options.Limit < 0 {
		msg = "limit must not be negative"
	} else if role == core.RoleSpecialist && (strings.TrimSpace(req.Query) != "" || len(req.Repositories) > 0) {
		msg = "no tool source allowed by the request"
	}
	return errors.Newf(errors.CodeInvalidInput, "%s: %s", role, msg).WithContext("role", string(role))
}

var (
	_ Service     = (*EntryService)(nil)
	_ Service     = (*SpecialistService)(nil)
	_ a2a.Service = (*SpecialistService)(nil)
)
