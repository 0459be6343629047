// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"context"
	"sort"
	"time"

	"github.com/jllopis/techpulse/pkg/a2a"
	"github.com/jllopis/techpulse/pkg/agent"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
)

// HealthReport is the aggregated health of the manager and its components.
type HealthReport struct {
	State      State               `json:"state"`
	Status     core.HealthStatus   `json:"status"`
	Uptime     string              `json:"uptime,omitempty"`
	Components []core.HealthResult `json:"components"`
}

// AgentStatus describes one role service.
type AgentStatus struct {
	Role     core.AgentRole    `json:"role"`
	Ready    bool              `json:"ready"`
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	Manifest core.RoleManifest `json:"manifest"`
}

// BindingStatus describes one tool binding.
type BindingStatus struct {
	Name      string      `json:"name"`
	Source    core.Source `json:"source"`
	Transport string      `json:"transport"`
	Tools     []string    `json:"tools"`
	Breaker   string      `json:"breaker"`
}

func (m *Manager) healthRegistry(b *built) *core.HealthRegistry {
	reg := core.NewHealthRegistry(5*time.Second, 2*time.Second)
	for _, binding := range b.bindings {
		reg.Register("mcp:"+binding.Name(), binding)
	}
	for role, svc := range b.services {
		reg.Register("agent:"+string(role), serviceChecker{svc: svc})
	}
	reg.Register("a2a", b.router)
	return reg
}

type serviceChecker struct {
	svc agent.Service
}

func (c serviceChecker) Check(context.Context) core.HealthResult {
	if c.svc.Ready() {
		return core.HealthResult{Status: core.HealthHealthy, LastCheck: time.Now()}
	}
	return core.HealthResult{Status: core.HealthUnhealthy, Message: "service not ready", LastCheck: time.Now()}
}

// Health checks every component. A manager that is not ready is unhealthy.
func (m *Manager) Health(ctx context.Context) HealthReport {
	m.mu.RLock()
	state, reg, started := m.state, m.health, m.started
	m.mu.RUnlock()

	report := HealthReport{State: state, Status: core.HealthUnhealthy, Components: []core.HealthResult{}}
	if state != StateReady || reg == nil {
		return report
	}
	report.Components, report.Status = reg.CheckAll(ctx)
	report.Uptime = time.Since(started).Round(time.Second).String()
	for _, c := range report.Components {
		m.metrics.RecordHealthStatus(ctx, c.Component, healthValue(c.Status))
	}
	return report
}

func healthValue(s core.HealthStatus) int64 {
	switch s {
	case core.HealthHealthy:
		return 2
	case core.HealthDegraded:
		return 1
	}
	return 0
}

// Agents reports the role services in role order.
func (m *Manager) Agents() ([]AgentStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return nil, errors.Newf(errors.CodeNotReady, "agent manager is %s", m.state)
	}
	out := make([]AgentStatus, 0, len(m.services))
	for _, role := range core.Roles {
		svc, ok := m.services[role]
		if !ok {
			continue
		}
		st := AgentStatus{Role: role, Manifest: svc.RoleManifest(), Ready: svc.Ready()}
		if inst, ok := svc.(interface{ Instance() *agent.Instance }); ok {
			mc := inst.Instance().Model()
			st.Provider, st.Model = mc.Provider, mc.Model
		}
		out = append(out, st)
	}
	return out, nil
}

// Bindings reports the tool bindings in declaration order.
func (m *Manager) Bindings() ([]BindingStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return nil, errors.Newf(errors.CodeNotReady, "agent manager is %s", m.state)
	}
	out := make([]BindingStatus, 0, len(m.bindings))
	for _, b := range m.bindings {
		tools := b.ToolNames()
		sort.Strings(tools)
		out = append(out, BindingStatus{
			Name:      b.Name(),
			Source:    b.Source(),
			Transport: b.Config().Transport,
			Tools:     tools,
			Breaker:   b.BreakerState().String(),
		})
	}
	return out, nil
}

// Peers reports the delegation routes.
func (m *Manager) Peers() ([]a2a.PeerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return nil, errors.Newf(errors.CodeNotReady, "agent manager is %s", m.state)
	}
	return m.router.Peers(), nil
}
