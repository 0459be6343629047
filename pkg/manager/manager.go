// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager owns the agent services of the process. It builds them
// once in dependency order, routes queries to the entry role and releases
// tool and delegation resources on shutdown.
package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/techpulse/pkg/a2a"
	"github.com/jllopis/techpulse/pkg/agent"
	"github.com/jllopis/techpulse/pkg/config"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/guardrails"
	"github.com/jllopis/techpulse/pkg/mcp"
	"github.com/jllopis/techpulse/pkg/telemetry"
)

// State is the lifecycle state of a Manager.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateShuttingDown  State = "shutting_down"
	StateStopped       State = "stopped"
)

// Connector opens a tool binding. mcp.Connect is the default.
type Connector func(ctx context.Context, cfg config.ToolConfig, opts ...mcp.BindingOption) (*mcp.Binding, error)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger. It is handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records orchestration metrics on mt.
func WithMetrics(mt *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithConnector replaces how tool bindings are opened.
func WithConnector(c Connector) Option {
	return func(m *Manager) { m.connect = c }
}

// WithFactory replaces the agent factory.
func WithFactory(f *agent.Factory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithServiceOptions appends options applied to every agent service.
func WithServiceOptions(opts ...agent.ServiceOption) Option {
	return func(m *Manager) { m.serviceOpts = append(m.serviceOpts, opts...) }
}

// Manager is the registry and lifecycle owner of the agent services. It is
// the single entry point the transport layer calls.
type Manager struct {
	mu    sync.RWMutex
	state State

	cfg      *config.Config
	bindings []*mcp.Binding
	services map[core.AgentRole]agent.Service
	router   *a2a.Router
	health   *core.HealthRegistry

	connect     Connector
	factory     *agent.Factory
	serviceOpts []agent.ServiceOption
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	started     time.Time
}

// New creates an uninitialized manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		state:   StateUninitialized,
		connect: mcp.Connect,
		logger:  slog.Default(),
		tracer:  otel.Tracer("techpulse/manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Initialize constructs every service exactly once: tool bindings, then the
// factory, then the entry service, then the specialist service and finally
// the delegation routes. On failure every opened resource is released and
// the manager moves to Stopped. Calling Initialize on a ready manager is a
// no-op; any other state is rejected.
func (m *Manager) Initialize(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	switch m.state {
	case StateUninitialized:
		m.state = StateInitializing
	case StateReady:
		m.mu.Unlock()
		m.logger.Debug("manager already initialized")
		return nil
	default:
		state := m.state
		m.mu.Unlock()
		return errors.Newf(errors.CodeInitialization, "cannot initialize manager in state %s", state)
	}
	m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "manager.initialize")
	defer span.End()

	b, err := m.build(ctx, cfg)
	if err != nil {
		m.mu.Lock()
		m.state = StateStopped
		m.mu.Unlock()
		span.RecordError(err)
		m.logger.Error("manager initialization failed", "error", err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInitializing {
		// Shutdown ran while we were building.
		_ = b.close()
		return errors.Newf(errors.CodeInitialization, "manager was shut down during initialization")
	}
	m.cfg = cfg
	m.bindings = b.bindings
	m.services = b.services
	m.router = b.router
	m.health = b.health
	m.state = StateReady
	m.started = time.Now()
	m.logger.Info("manager ready", "bindings", len(b.bindings), "services", len(b.services))
	return nil
}

// built holds what build produced so a failed or abandoned initialization
// can release it.
type built struct {
	bindings []*mcp.Binding
	services map[core.AgentRole]agent.Service
	router   *a2a.Router
	health   *core.HealthRegistry
}

func (b *built) close() error {
	var errs []error
	if b.router != nil {
		if err := b.router.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, binding := range b.bindings {
		if err := binding.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", binding.Name(), err))
		}
	}
	return stderrors.Join(errs...)
}

func (m *Manager) build(ctx context.Context, cfg *config.Config) (_ *built, err error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInitialization, "configuration is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.CodeInitialization, "invalid configuration", err)
	}

	b := &built{services: make(map[core.AgentRole]agent.Service, len(core.Roles))}
	defer func() {
		if err != nil {
			_ = b.close()
		}
	}()

	// 1. Tool bindings, in declaration order.
	byName := make(map[string]*mcp.Binding, len(cfg.Tools))
	for _, tc := range cfg.Tools {
		binding, err := m.connect(ctx, tc, mcp.WithLogger(m.logger), mcp.WithMetrics(m.metrics))
		if err != nil {
			return nil, errors.New(errors.CodeInitialization, fmt.Sprintf("open tool binding %s", tc.Name), err).
				WithContext("binding", tc.Name)
		}
		m.logger.Info("tool binding ready", "binding", tc.Name, "source", tc.Source, "tools", binding.ToolNames())
		b.bindings = append(b.bindings, binding)
		byName[tc.Name] = binding
	}

	// 2. Factory.
	factory := m.factory
	if factory == nil {
		factory = agent.NewFactory(agent.WithFactoryLogger(m.logger))
	}
	b.router = a2a.NewRouter(a2a.WithLogger(m.logger), a2a.WithMetrics(m.metrics))

	settings := agent.SettingsFrom(cfg)
	opts := append([]agent.ServiceOption{
		agent.WithSettings(settings),
		agent.WithLogger(m.logger),
		agent.WithMetrics(m.metrics),
	}, m.serviceOpts...)
	if cfg.Guardrails.Enabled {
		guard, err := newGuard(cfg.Guardrails)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithGuard(guard))
	}

	entryBindings := bindingsFor(cfg, core.RoleEntry, b.bindings, byName)
	specialistBindings := bindingsFor(cfg, core.RoleSpecialist, b.bindings, byName)

	// 3. Entry service.
	entryInst, err := m.instance(factory, cfg, core.RoleEntry, entryBindings)
	if err != nil {
		return nil, err
	}
	target := agent.DelegateTarget{
		Role:    core.RoleSpecialist,
		Sources: sourcesOf(specialistBindings),
		Timeout: cfg.A2A.DelegationTimeout,
	}
	b.services[core.RoleEntry] = agent.NewEntryService(entryInst, b.router, []agent.DelegateTarget{target}, opts...)

	// 4. Specialist service.
	specialistInst, err := m.instance(factory, cfg, core.RoleSpecialist, specialistBindings)
	if err != nil {
		return nil, err
	}
	specialist := agent.NewSpecialistService(specialistInst, opts...)
	b.services[core.RoleSpecialist] = specialist

	// 5. Delegation routes.
	if url, ok := cfg.A2A.Peers[string(core.RoleSpecialist)]; ok {
		err = b.router.RegisterRemote(core.RoleSpecialist, url)
	} else {
		err = b.router.Register(specialist)
	}
	if err != nil {
		return nil, errors.New(errors.CodeInitialization, "register delegation target", err)
	}

	b.health = m.healthRegistry(b)
	return b, nil
}

func newGuard(gc config.GuardrailsConfig) (*guardrails.Guard, error) {
	detector, err := guardrails.NewInjectionDetector(
		guardrails.WithPatterns(gc.Patterns...),
		guardrails.WithMinMatches(gc.MinMatches),
	)
	if err != nil {
		return nil, errors.New(errors.CodeInitialization, "build guardrails", err)
	}
	return guardrails.New(detector), nil
}

func (m *Manager) instance(f *agent.Factory, cfg *config.Config, role core.AgentRole, bindings []*mcp.Binding) (*agent.Instance, error) {
	ac := cfg.Agents.For(role)
	inst, err := f.CreateAgent(role, ac.Prompt, bindings, ac.LLM.Merge(cfg.LLM))
	if err != nil {
		return nil, errors.New(errors.CodeInitialization, fmt.Sprintf("create %s agent", role), err).
			WithContext("role", string(role))
	}
	return inst, nil
}

// bindingsFor resolves the bindings of role. Without an explicit list the
// specialist takes the code bindings and the entry role everything else.
func bindingsFor(cfg *config.Config, role core.AgentRole, all []*mcp.Binding, byName map[string]*mcp.Binding) []*mcp.Binding {
	names := cfg.Agents.For(role).Tools
	if len(names) > 0 {
		out := make([]*mcp.Binding, 0, len(names))
		for _, n := range names {
			out = append(out, byName[n])
		}
		return out
	}
	var out []*mcp.Binding
	for _, b := range all {
		if (b.Source() == core.SourceCode) == (role == core.RoleSpecialist) {
			out = append(out, b)
		}
	}
	return out
}

func sourcesOf(bindings []*mcp.Binding) []core.Source {
	var out []core.Source
	seen := make(map[core.Source]bool)
	for _, b := range bindings {
		if !seen[b.Source()] {
			seen[b.Source()] = true
			out = append(out, b.Source())
		}
	}
	return out
}

// Execute runs a query through the entry service and returns its outcome
// unchanged.
func (m *Manager) Execute(ctx context.Context, req core.Request) (*core.Outcome, error) {
	return m.ExecuteRole(ctx, core.RoleEntry, req)
}

// ExecuteRole runs req directly on the service of role.
func (m *Manager) ExecuteRole(ctx context.Context, role core.AgentRole, req core.Request) (*core.Outcome, error) {
	svc, err := m.Service(role)
	if err != nil {
		return nil, err
	}
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := m.tracer.Start(ctx, "manager.execute", trace.WithAttributes(
		attribute.String(telemetry.AttrAgentRole, string(role)),
		attribute.String(telemetry.AttrRunID, runID),
	))
	defer span.End()
	return svc.Execute(ctx, req)
}

// Service returns the service of role. It fails with NOT_READY before the
// manager is ready.
func (m *Manager) Service(role core.AgentRole) (agent.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return nil, errors.New(errors.CodeNotReady, fmt.Sprintf("agent manager is %s", m.state), nil)
	}
	svc, ok := m.services[role]
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "no service for role %q", role)
	}
	return svc, nil
}

// Config returns the configuration the manager was initialized with.
func (m *Manager) Config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Shutdown releases tool bindings and delegation channels. It is valid in
// any state and idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateStopped || m.state == StateShuttingDown {
		m.mu.Unlock()
		return nil
	}
	prev := m.state
	m.state = StateShuttingDown
	b := &built{bindings: m.bindings, router: m.router}
	m.mu.Unlock()

	err := b.close()

	m.mu.Lock()
	m.state = StateStopped
	m.services = nil
	m.bindings = nil
	m.router = nil
	m.mu.Unlock()

	if err != nil {
		m.logger.WarnContext(ctx, "manager shutdown completed with errors", "error", err)
		return err
	}
	m.logger.InfoContext(ctx, "manager stopped", "previous_state", prev)
	return nil
}
