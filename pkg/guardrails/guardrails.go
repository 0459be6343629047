// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails screens text before it reaches a model.
//
// Queries and delegated tasks are both checked: a task is written by a model
// that has read untrusted tool output, so it gets the same treatment as user
// input.
//
//	guard := guardrails.New(guardrails.NewInjectionDetector())
//	if res := guard.Check(ctx, req.Query); res.Blocked {
//	    return res.Reason
//	}
package guardrails

import (
	"context"
)

// Result is the outcome of a check.
type Result struct {
	Blocked bool     `json:"blocked"`
	Reason  string   `json:"reason,omitempty"`
	Checker string   `json:"checker,omitempty"`
	Matches []string `json:"matches,omitempty"`
}

// Checker inspects one piece of text.
type Checker interface {
	ID() string
	Check(ctx context.Context, text string) Result
}

// Guard runs checkers in order and stops at the first block. A nil *Guard
// allows everything. Text still unchecked when ctx is done is blocked.
type Guard struct {
	checkers []Checker
}

// New creates a Guard over checkers.
func New(checkers ...Checker) *Guard {
	return &Guard{checkers: checkers}
}

// Check returns the first blocking result, or an allowing one.
func (g *Guard) Check(ctx context.Context, text string) Result {
	if g == nil || text == "" {
		return Result{}
	}
	for _, c := range g.checkers {
		if ctx.Err() != nil {
			return Result{Blocked: true, Reason: "check cancelled", Checker: "guard"}
		}
		res := c.Check(ctx, text)
		if res.Blocked {
			res.Checker = c.ID()
			return res
		}
	}
	return Result{}
}

// Len reports the number of checkers.
func (g *Guard) Len() int {
	if g == nil {
		return 0
	}
	return len(g.checkers)
}
