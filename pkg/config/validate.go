// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/governance"
)

// Validate checks the configuration and returns a CONFIGURATION_ERROR
// describing the first problem found.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Tools))
	for i, t := range c.Tools {
		if err := t.validate(); err != nil {
			return configErr(err).WithContext("tool_index", i)
		}
		if seen[t.Name] {
			return configErr(fmt.Errorf("duplicate tool binding %q", t.Name))
		}
		seen[t.Name] = true
	}

	for _, role := range core.Roles {
		agent := c.Agents.For(role)
		if strings.TrimSpace(agent.Prompt) == "" {
			return configErr(fmt.Errorf("agents.%s.prompt is empty", role))
		}
		for _, name := range agent.Tools {
			if !seen[name] {
				return configErr(fmt.Errorf("agents.%s references undeclared tool binding %q", role, name))
			}
		}
	}

	for role, peer := range c.A2A.Peers {
		if _, err := core.ParseRole(role); err != nil {
			return configErr(fmt.Errorf("a2a.peers: %w", err))
		}
		if _, err := url.ParseRequestURI(peer); err != nil {
			return configErr(fmt.Errorf("a2a.peers.%s: invalid url: %w", role, err))
		}
	}
	if c.A2A.DelegationTimeout <= 0 {
		return configErr(fmt.Errorf("a2a.delegation_timeout must be positive"))
	}

	o := c.Orchestrator
	if o.RequestTimeout <= 0 {
		return configErr(fmt.Errorf("orchestrator.request_timeout must be positive"))
	}
	if o.MaxParallel <= 0 {
		return configErr(fmt.Errorf("orchestrator.max_parallel must be positive"))
	}
	if o.DefaultLimit <= 0 || o.MaxLimit < o.DefaultLimit {
		return configErr(fmt.Errorf("orchestrator limits invalid: default=%d max=%d", o.DefaultLimit, o.MaxLimit))
	}
	if o.MaxAge < 0 {
		return configErr(fmt.Errorf("orchestrator.max_age must not be negative"))
	}
	for _, p := range c.Guardrails.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return configErr(fmt.Errorf("guardrails.patterns: %w", err))
		}
	}
	return nil
}

func (t ToolConfig) validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool binding without name")
	}
	if _, err := core.ParseSource(t.Source); err != nil {
		return fmt.Errorf("tool %q: %w", t.Name, err)
	}
	switch t.Transport {
	case "http":
		u, err := url.ParseRequestURI(t.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("tool %q: invalid url %q", t.Name, t.URL)
		}
	case "stdio":
		if t.Command == "" {
			return fmt.Errorf("tool %q: stdio transport requires command", t.Name)
		}
	default:
		return fmt.Errorf("tool %q: unknown transport %q", t.Name, t.Transport)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("tool %q: timeout must be positive", t.Name)
	}
	if t.Retries < 0 || t.Burst < 0 || t.RateLimit < 0 || t.BreakerFailures < 0 {
		return fmt.Errorf("tool %q: negative resilience settings", t.Name)
	}
	for _, p := range append(append([]string(nil), t.AllowTools...), t.DenyTools...) {
		if err := governance.ValidatePattern(p); err != nil {
			return fmt.Errorf("tool %q: %w", t.Name, err)
		}
	}
	return nil
}

func configErr(err error) *errors.Error {
	return errors.New(errors.CodeConfiguration, "invalid configuration", err)
}
