// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance decides which tools published by an MCP server an
// agent may see and call.
package governance

import (
	"fmt"
	"path"
	"strings"
)

// Decision is the outcome of a filter check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// Rule is the pattern that decided, empty for the default.
	Rule string `json:"rule,omitempty"`
}

// ToolFilter allows or denies tool names by exact name or glob pattern.
// Deny rules win over allow rules. A non-empty allowlist denies everything
// it does not match.
type ToolFilter struct {
	allow []string
	deny  []string
}

// ToolFilterOption configures a ToolFilter.
type ToolFilterOption func(*ToolFilter)

// WithAllowlist adds permitted names or patterns.
func WithAllowlist(patterns []string) ToolFilterOption {
	return func(tf *ToolFilter) { tf.allow = appendPatterns(tf.allow, patterns) }
}

// WithDenylist adds forbidden names or patterns.
func WithDenylist(patterns []string) ToolFilterOption {
	return func(tf *ToolFilter) { tf.deny = appendPatterns(tf.deny, patterns) }
}

// NewToolFilter creates a filter. It fails when a pattern is malformed.
func NewToolFilter(opts ...ToolFilterOption) (*ToolFilter, error) {
	tf := &ToolFilter{}
	for _, opt := range opts {
		opt(tf)
	}
	for _, p := range append(append([]string(nil), tf.allow...), tf.deny...) {
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
	}
	return tf, nil
}

// ValidatePattern reports whether p is a usable glob.
func ValidatePattern(p string) error {
	if _, err := path.Match(p, ""); err != nil {
		return fmt.Errorf("tool pattern %q: %w", p, err)
	}
	return nil
}

// Empty reports whether the filter allows everything.
func (tf *ToolFilter) Empty() bool {
	return tf == nil || (len(tf.allow) == 0 && len(tf.deny) == 0)
}

// IsAllowed checks one tool name. A nil filter allows everything.
func (tf *ToolFilter) IsAllowed(name string) Decision {
	if tf == nil {
		return Decision{Allowed: true}
	}
	if p, ok := match(name, tf.deny); ok {
		return Decision{Reason: "tool is in denylist", Rule: p}
	}
	if len(tf.allow) > 0 {
		p, ok := match(name, tf.allow)
		if !ok {
			return Decision{Reason: "tool is not in allowlist"}
		}
		return Decision{Allowed: true, Rule: p}
	}
	return Decision{Allowed: true}
}

// Filter returns the names that pass, in order, and the ones dropped.
func (tf *ToolFilter) Filter(names []string) (kept, dropped []string) {
	if tf.Empty() {
		return names, nil
	}
	kept = make([]string, 0, len(names))
	for _, n := range names {
		if tf.IsAllowed(n).Allowed {
			kept = append(kept, n)
		} else {
			dropped = append(dropped, n)
		}
	}
	return kept, dropped
}

func match(name string, patterns []string) (string, bool) {
	for _, p := range patterns {
		if p == name {
			return p, true
		}
		if ok, err := path.Match(p, name); err == nil && ok {
			return p, true
		}
	}
	return "", false
}

func appendPatterns(dst, patterns []string) []string {
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			dst = append(dst, p)
		}
	}
	return dst
}
