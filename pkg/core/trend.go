// SPDX-License-Identifier: Apache-2.0

// Package core holds the shared domain types of the orchestration layer:
// roles, requests, ranked trend items, outcomes and faults.
package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/techpulse/pkg/errors"
)

// Source classifies the kind of back-end a tool binding talks to.
type Source string

const (
	SourceSearch     Source = "search"
	SourceDiscussion Source = "discussion"
	SourceCode       Source = "code"
)

// Sources lists the known sources in default priority order.
var Sources = []Source{SourceSearch, SourceDiscussion, SourceCode}

// ParseSource converts a string into a known Source.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	switch src {
	case SourceSearch, SourceDiscussion, SourceCode:
		return src, nil
	case "forum", "discussion-forum":
		return SourceDiscussion, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// TrendItem is one ranked result.
type TrendItem struct {
	Title     string            `json:"title"`
	Source    Source            `json:"source"`
	Binding   string            `json:"binding,omitempty"`
	URL       string            `json:"url"`
	Score     float64           `json:"score"`
	Summary   string            `json:"summary"`
	Published *time.Time        `json:"published,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Options narrows a request.
type Options struct {
	// Sources restricts which bindings may be called. Empty means all.
	Sources []Source `json:"sources,omitempty"`
	// Limit caps the number of ranked items. Zero means the configured default.
	Limit int `json:"limit,omitempty"`
	// Timeout overrides the request-level timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Request is the decoded query handed to an agent service.
type Request struct {
	Query        string   `json:"query"`
	Options      Options  `json:"options"`
	Repositories []string `json:"repositories,omitempty"`
}

// AllowsSource reports whether the request permits calling a binding of src.
func (r Request) AllowsSource(src Source) bool {
	if len(r.Options.Sources) == 0 {
		return true
	}
	for _, s := range r.Options.Sources {
		if s == src {
			return true
		}
	}
	return false
}

// FaultKind tells which kind of call produced a fault.
type FaultKind string

const (
	FaultTool       FaultKind = "tool"
	FaultDelegation FaultKind = "delegation"
	FaultDecision   FaultKind = "decision"
)

// Fault is a non-fatal failure recorded in an outcome.
type Fault struct {
	Kind    FaultKind        `json:"kind"`
	Binding string           `json:"binding,omitempty"`
	Tool    string           `json:"tool,omitempty"`
	Role    AgentRole        `json:"role,omitempty"`
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// Error implements error.
func (f Fault) Error() string {
	switch f.Kind {
	case FaultTool:
		return fmt.Sprintf("%s %s/%s: [%s] %s", f.Kind, f.Binding, f.Tool, f.Code, f.Message)
	case FaultDelegation:
		return fmt.Sprintf("%s to %s: [%s] %s", f.Kind, f.Role, f.Code, f.Message)
	default:
		return fmt.Sprintf("%s: [%s] %s", f.Kind, f.Code, f.Message)
	}
}

// NewFault builds a fault of kind from err, taking the code from the error chain.
func NewFault(kind FaultKind, err error) Fault {
	f := Fault{Kind: kind, Code: errors.CodeOf(err)}
	if e := errors.As(err); e != nil {
		f.Message = e.Message
		if e.Err != nil {
			f.Message += ": " + e.Err.Error()
		}
	}
	return f
}

// Outcome is the result of executing a request.
type Outcome struct {
	Items   []TrendItem `json:"items"`
	Summary string      `json:"summary"`
	Errors  []Fault     `json:"errors"`
	// Failed is set when every tool and delegation call failed.
	Failed bool `json:"failed"`
}

// HasFault reports whether the outcome carries a fault with code.
func (o *Outcome) HasFault(code errors.ErrorCode) bool {
	for _, f := range o.Errors {
		if f.Code == code {
			return true
		}
	}
	return false
}
